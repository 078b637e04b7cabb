// Package evm implements the exact payment scheme on EVM networks.
// Payments ride EIP-3009 transferWithAuthorization for native
// stablecoins like USDC, or Permit2 with the x402 proxy for arbitrary
// ERC-20 tokens. Smart wallet signatures are supported via EIP-1271 and
// ERC-6492, including counterfactual wallets deployed at settle time.
package evm

import (
	"context"
	"fmt"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// Register wires EVM exact scheme support into whichever of client and
// facilitator are non-nil, based on the interfaces the signer
// implements. An empty network list means every configured network.
func Register(
	client *x402.X402Client,
	facilitator *x402.X402Facilitator,
	signer interface{},
	networks ...string,
) error {
	clientSigner, _ := signer.(ClientEvmSigner)
	facilitatorSigner, _ := signer.(FacilitatorEvmSigner)
	if clientSigner == nil && facilitatorSigner == nil {
		return fmt.Errorf("signer implements neither ClientEvmSigner nor FacilitatorEvmSigner")
	}

	if len(networks) == 0 {
		for network := range NetworkConfigs {
			networks = append(networks, network)
		}
	}

	if client != nil && clientSigner != nil {
		registerClientNetworks(client, NewExactEvmClient(clientSigner), networks)
	}

	if facilitator != nil && facilitatorSigner != nil {
		evmFacilitator := NewExactEvmFacilitator(facilitatorSigner)
		for _, network := range networks {
			if IsValidNetwork(network) {
				facilitator.Register(x402.Network(network), evmFacilitator)
			}
		}
	}

	return nil
}

// RegisterClient registers the EVM exact scheme handler on a client for
// the given networks, covering both protocol versions.
func RegisterClient(client *x402.X402Client, signer ClientEvmSigner, networks ...string) error {
	return Register(client, nil, signer, networks...)
}

// RegisterFacilitator registers the EVM exact scheme handler on a
// facilitator for the given networks.
func RegisterFacilitator(facilitator *x402.X402Facilitator, signer FacilitatorEvmSigner, networks ...string) error {
	return Register(nil, facilitator, signer, networks...)
}

// RegisterService returns resource service options that register the
// EVM exact scheme handler for the given networks.
func RegisterService(networks ...string) []x402.ResourceServiceOption {
	evmService := NewExactEvmService()

	if len(networks) == 0 {
		for network := range NetworkConfigs {
			networks = append(networks, network)
		}
	}

	opts := []x402.ResourceServiceOption{}
	for _, network := range networks {
		if IsValidNetwork(network) {
			opts = append(opts, x402.WithSchemeServer(x402.Network(network), evmService))
		}
	}
	return opts
}

func registerClientNetworks(client *x402.X402Client, handler x402.SchemeNetworkClient, networks []string) {
	for _, network := range networks {
		if !IsValidNetwork(network) {
			continue
		}
		normalized := x402.NormalizeNetwork(x402.Network(network))
		client.RegisterScheme(normalized, handler)
		// Networks with a v1 short name also serve protocol v1 under it.
		if alias := x402.NetworkToV1(normalized); alias != normalized {
			client.RegisterSchemeForVersion(1, alias, handler)
		}
	}
}

// CreateExactPayload signs a payment for the given requirements without
// constructing a full client. The returned payload carries the complete
// protocol envelope.
func CreateExactPayload(
	ctx context.Context,
	signer ClientEvmSigner,
	requirements x402.PaymentRequirements,
	version int,
) (x402.PaymentPayload, error) {
	payload, err := NewExactEvmClient(signer).CreatePaymentPayload(ctx, version, requirements)
	if err != nil {
		return x402.PaymentPayload{}, err
	}
	payload.Scheme = SchemeExact
	payload.Network = requirements.Network
	return payload, nil
}

// VerifyExactPayload verifies a payment payload without constructing a
// full facilitator.
func VerifyExactPayload(
	ctx context.Context,
	signer FacilitatorEvmSigner,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
) (x402.VerifyResponse, error) {
	return NewExactEvmFacilitator(signer).Verify(ctx, payload, requirements)
}

// SettleExactPayload settles a payment payload without constructing a
// full facilitator.
func SettleExactPayload(
	ctx context.Context,
	signer FacilitatorEvmSigner,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
) (x402.SettleResponse, error) {
	return NewExactEvmFacilitator(signer).Settle(ctx, payload, requirements)
}
