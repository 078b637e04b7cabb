package evm

import (
	x402 "github.com/x402-foundation/x402-go/v2"
)

// V1Networks are the short network names protocol v1 servers may quote
// in their payment requirements.
var V1Networks = []string{
	"abstract",
	"abstract-testnet",
	"base-sepolia",
	"base",
	"avalanche-fuji",
	"avalanche",
	"iotex",
	"sei",
	"sei-testnet",
	"polygon",
	"polygon-amoy",
	"peaq",
	"story",
	"educhain",
	"skale-base-sepolia",
}

// EvmClientConfig configures NewEvmClient.
type EvmClientConfig struct {
	// Signer creates and signs payment authorizations.
	Signer ClientEvmSigner
	// PaymentRequirementsSelector overrides the default first-match
	// selection among accepted requirements. Optional.
	PaymentRequirementsSelector x402.PaymentRequirementsSelector
	// Policies veto candidate requirements before signing. Optional.
	Policies []x402.PaymentPolicy
}

// NewEvmClient builds an x402 client ready for EVM payments: the exact
// scheme handler answers any eip155 network at protocol v2 and the
// known v1 network names at protocol v1.
func NewEvmClient(config EvmClientConfig) *x402.X402Client {
	opts := []x402.ClientOption{}
	if config.PaymentRequirementsSelector != nil {
		opts = append(opts, x402.WithPaymentSelector(config.PaymentRequirementsSelector))
	}
	for _, policy := range config.Policies {
		opts = append(opts, x402.WithPaymentPolicy(policy))
	}

	client := x402.NewX402Client(opts...)

	evmClient := NewExactEvmClient(config.Signer)
	client.RegisterScheme("eip155:*", evmClient)
	for _, network := range V1Networks {
		client.RegisterSchemeForVersion(1, x402.Network(network), evmClient)
	}

	return client
}
