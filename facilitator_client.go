package x402

import "context"

// LocalFacilitator is the in-process facilitator surface the local
// client adapts. *X402Facilitator satisfies it directly, as do wrappers
// around one such as the idempotency extension's.
type LocalFacilitator interface {
	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error)
	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error)
	GetSupported() SupportedResponse
}

// LocalFacilitatorClient presents an in-process facilitator through the
// FacilitatorClient interface, so a resource service can settle its own
// payments without an HTTP hop. Single-binary deployments register it
// with WithFacilitatorClient exactly like a remote facilitator.
type LocalFacilitatorClient struct {
	facilitator LocalFacilitator
	identifier  string
}

var _ FacilitatorClient = (*LocalFacilitatorClient)(nil)

// NewLocalFacilitatorClient wraps an in-process facilitator.
func NewLocalFacilitatorClient(facilitator LocalFacilitator) *LocalFacilitatorClient {
	return &LocalFacilitatorClient{
		facilitator: facilitator,
		identifier:  "local",
	}
}

// Verify delegates to the wrapped facilitator.
func (c *LocalFacilitatorClient) Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	return c.facilitator.Verify(ctx, payload, requirements)
}

// Settle delegates to the wrapped facilitator.
func (c *LocalFacilitatorClient) Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	return c.facilitator.Settle(ctx, payload, requirements)
}

// GetSupported reports the wrapped facilitator's capabilities.
func (c *LocalFacilitatorClient) GetSupported(_ context.Context) (SupportedResponse, error) {
	return c.facilitator.GetSupported(), nil
}

// Identifier distinguishes this client in routing and capability caches.
func (c *LocalFacilitatorClient) Identifier() string {
	return c.identifier
}
