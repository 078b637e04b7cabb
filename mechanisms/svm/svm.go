// Package svm implements the exact payment scheme on Solana clusters.
// The client builds and partially signs an SPL transferChecked
// transaction with the facilitator as fee payer; the facilitator
// inspects the instruction layout, simulates the transaction against
// the cluster, then co-signs and submits it at settle time. Swig smart
// wallet transactions are recognized and attributed to the wallet PDA.
package svm

import (
	"context"
	"fmt"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// Register wires Solana exact scheme support into whichever of client
// and facilitator are non-nil, based on the interfaces the signer
// implements. An empty network list means every configured network.
func Register(
	client *x402.X402Client,
	facilitator *x402.X402Facilitator,
	signer interface{},
	networks ...string,
) error {
	clientSigner, _ := signer.(ClientSvmSigner)
	facilitatorSigner, _ := signer.(FacilitatorSvmSigner)
	if clientSigner == nil && facilitatorSigner == nil {
		return fmt.Errorf("signer implements neither ClientSvmSigner nor FacilitatorSvmSigner")
	}

	if len(networks) == 0 {
		for network := range NetworkConfigs {
			networks = append(networks, network)
		}
	}

	if client != nil && clientSigner != nil {
		registerClientNetworks(client, NewExactSvmClient(clientSigner), networks)
	}

	if facilitator != nil && facilitatorSigner != nil {
		svmFacilitator := NewExactSvmFacilitator(facilitatorSigner)
		for _, network := range networks {
			if IsValidNetwork(network) {
				facilitator.Register(x402.Network(network), svmFacilitator)
			}
		}
	}

	return nil
}

// RegisterClient registers the Solana exact scheme handler on a client
// for the given networks, covering both protocol versions.
func RegisterClient(client *x402.X402Client, signer ClientSvmSigner, networks ...string) error {
	return Register(client, nil, signer, networks...)
}

// RegisterFacilitator registers the Solana exact scheme handler on a
// facilitator for the given networks.
func RegisterFacilitator(facilitator *x402.X402Facilitator, signer FacilitatorSvmSigner, networks ...string) error {
	return Register(nil, facilitator, signer, networks...)
}

// RegisterService returns resource service options that register the
// Solana exact scheme handler for the given networks.
func RegisterService(networks ...string) []x402.ResourceServiceOption {
	svmService := NewExactSvmService()

	if len(networks) == 0 {
		for network := range NetworkConfigs {
			networks = append(networks, network)
		}
	}

	opts := []x402.ResourceServiceOption{}
	for _, network := range networks {
		if IsValidNetwork(network) {
			opts = append(opts, x402.WithSchemeServer(x402.Network(network), svmService))
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
	signer ClientSvmSigner,
	requirements x402.PaymentRequirements,
	version int,
) (x402.PaymentPayload, error) {
	payload, err := NewExactSvmClient(signer).CreatePaymentPayload(ctx, version, requirements)
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
	signer FacilitatorSvmSigner,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
) (x402.VerifyResponse, error) {
	return NewExactSvmFacilitator(signer).Verify(ctx, payload, requirements)
}

// SettleExactPayload settles a payment payload without constructing a
// full facilitator.
func SettleExactPayload(
	ctx context.Context,
	signer FacilitatorSvmSigner,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
) (x402.SettleResponse, error) {
	return NewExactSvmFacilitator(signer).Settle(ctx, payload, requirements)
}
