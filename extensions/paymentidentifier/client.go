package paymentidentifier

import (
	"context"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// ClientExtension attaches a payment identifier to outgoing payloads
// whenever the 402 body declares the extension. A payload that already
// carries an identifier keeps it, so retries of the same attempt reuse
// the same ID.
//
// Register it on a payment client:
//
//	client := x402.NewX402Client(
//	    x402.WithClientExtension(paymentidentifier.NewClientExtension()),
//	)
type ClientExtension struct {
	prefix    string
	generator func() string
}

var _ x402.ClientExtension = (*ClientExtension)(nil)

// ClientOption configures a ClientExtension.
type ClientOption func(*ClientExtension)

// WithPrefix replaces the default "pay_" ID prefix.
func WithPrefix(prefix string) ClientOption {
	return func(e *ClientExtension) {
		e.prefix = prefix
	}
}

// WithIDGenerator replaces the UUID-based ID generator. Generated IDs
// must satisfy IsValidPaymentID.
func WithIDGenerator(generator func() string) ClientOption {
	return func(e *ClientExtension) {
		e.generator = generator
	}
}

// NewClientExtension creates the client side of the extension.
func NewClientExtension(opts ...ClientOption) *ClientExtension {
	extension := &ClientExtension{}
	for _, opt := range opts {
		opt(extension)
	}
	if extension.generator == nil {
		prefix := extension.prefix
		extension.generator = func() string {
			return GeneratePaymentID(prefix)
		}
	}
	return extension
}

// Key returns the extension identifier.
func (e *ClientExtension) Key() string {
	return ExtensionKey
}

// EnrichPaymentPayload attaches a fresh identifier when the 402 declares
// the extension and the payload does not already carry one. Version 1
// payloads have no extensions map and pass through unchanged.
func (e *ClientExtension) EnrichPaymentPayload(_ context.Context, payload x402.PaymentPayload, required x402.PaymentRequired) (x402.PaymentPayload, error) {
	if payload.X402Version == 1 {
		return payload, nil
	}
	if !DeclaredIn(required) {
		return payload, nil
	}

	existing, err := ExtractID(payload, true)
	if err != nil {
		return payload, err
	}
	if existing != "" {
		return payload, nil
	}

	declaration := Declaration{Info: &Info{ID: e.generator()}}
	return x402.SetPayloadExtension(payload, ExtensionKey, declaration), nil
}
