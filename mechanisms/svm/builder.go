package svm

import (
	x402 "github.com/x402-foundation/x402-go/v2"
)

// V1Networks are the short network names protocol v1 servers may quote
// in their payment requirements.
var V1Networks = []string{
	"solana",
	"solana-devnet",
	"solana-testnet",
}

// SvmClientConfig configures NewSvmClient.
type SvmClientConfig struct {
	// Signer builds and partially signs payment transactions.
	Signer ClientSvmSigner
	// PaymentRequirementsSelector overrides the default first-match
	// selection among accepted requirements. Optional.
	PaymentRequirementsSelector x402.PaymentRequirementsSelector
	// Policies veto candidate requirements before signing. Optional.
	Policies []x402.PaymentPolicy
	// ClientConfig overrides the default cluster RPC endpoint. Optional.
	ClientConfig *ClientConfig
}

// NewSvmClient builds an x402 client ready for Solana payments: the
// exact scheme handler answers any solana cluster at protocol v2 and
// the known v1 network names at protocol v1.
func NewSvmClient(config SvmClientConfig) *x402.X402Client {
	opts := []x402.ClientOption{}
	if config.PaymentRequirementsSelector != nil {
		opts = append(opts, x402.WithPaymentSelector(config.PaymentRequirementsSelector))
	}
	for _, policy := range config.Policies {
		opts = append(opts, x402.WithPaymentPolicy(policy))
	}

	client := x402.NewX402Client(opts...)

	var svmClient *ExactSvmClient
	if config.ClientConfig != nil {
		svmClient = NewExactSvmClient(config.Signer, config.ClientConfig)
	} else {
		svmClient = NewExactSvmClient(config.Signer)
	}
	client.RegisterScheme("solana:*", svmClient)
	for _, network := range V1Networks {
		client.RegisterSchemeForVersion(1, x402.Network(network), svmClient)
	}

	return client
}
