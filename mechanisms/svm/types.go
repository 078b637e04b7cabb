package svm

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
)

// ExactSvmPayload is the exact scheme payload for SVM networks: a
// base64-encoded transaction, partially signed by the payer, that the
// facilitator co-signs as fee payer and submits.
type ExactSvmPayload struct {
	Transaction string `json:"transaction"`
}

// ToMap converts the payload into the generic scheme payload map.
func (p *ExactSvmPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"transaction": p.Transaction,
	}
}

// PayloadFromMap parses a generic scheme payload map into an
// ExactSvmPayload.
func PayloadFromMap(data map[string]interface{}) (*ExactSvmPayload, error) {
	transaction, ok := data["transaction"].(string)
	if !ok || transaction == "" {
		return nil, fmt.Errorf("payload missing transaction field")
	}
	return &ExactSvmPayload{Transaction: transaction}, nil
}

// ClientConfig carries optional client-side overrides.
type ClientConfig struct {
	// RPCURL overrides the network's default RPC endpoint.
	RPCURL string
}

// AssetInfo describes an SPL token mint.
type AssetInfo struct {
	Address  string
	Decimals int
}

// NetworkConfig describes a supported Solana cluster.
type NetworkConfig struct {
	CAIP2           string
	RPCURL          string
	DefaultAsset    AssetInfo
	SupportedAssets map[string]AssetInfo
}

// ClientSvmSigner signs transactions on behalf of the payer. The
// transaction is only partially signed: the fee payer's slot is left
// for the facilitator.
type ClientSvmSigner interface {
	// Address returns the payer's public key.
	Address() solana.PublicKey

	// SignTransaction adds the payer's signature in place.
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// FacilitatorSvmSigner is the facilitator's cluster access: fee-payer
// signing, simulation, submission and confirmation.
type FacilitatorSvmSigner interface {
	// GetAddresses returns the fee-payer public keys available for the
	// network.
	GetAddresses(network string) []solana.PublicKey

	// SignTransaction adds the fee payer's signature in place. It
	// fails when the fee payer is not one of the signer's keys.
	SignTransaction(ctx context.Context, tx *solana.Transaction, feePayer solana.PublicKey, network string) error

	// SimulateTransaction runs the transaction against the cluster
	// without submitting it.
	SimulateTransaction(ctx context.Context, tx *solana.Transaction, network string) error

	// SendTransaction submits the transaction and returns its
	// signature.
	SendTransaction(ctx context.Context, tx *solana.Transaction, network string) (solana.Signature, error)

	// ConfirmTransaction blocks until the signature is confirmed or
	// the attempt budget is exhausted.
	ConfirmTransaction(ctx context.Context, signature solana.Signature, network string) error
}
