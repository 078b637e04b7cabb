// Package svm provides ready-made signer implementations for the
// Solana payment mechanism. ClientSigner partially signs payment
// transactions as the payer; FacilitatorSigner co-signs as the fee
// payer and talks to the cluster over RPC.
package svm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	solana "github.com/gagliardetto/solana-go"

	x402svm "github.com/x402-foundation/x402-go/v2/mechanisms/svm"
)

// SignTransactionFunc is the callback a ClientSigner uses to sign
// transactions. Implementations that wrap hardware or remote wallets
// plug in here.
type SignTransactionFunc func(ctx context.Context, tx *solana.Transaction) error

// ClientSigner implements x402svm.ClientSvmSigner with a public key
// and a signing callback.
type ClientSigner struct {
	publicKey       solana.PublicKey
	signTransaction SignTransactionFunc
}

var _ x402svm.ClientSvmSigner = (*ClientSigner)(nil)

// NewClientSigner creates a client signer from a public key and a
// signing callback.
func NewClientSigner(publicKey solana.PublicKey, signFunc SignTransactionFunc) (*ClientSigner, error) {
	if publicKey.IsZero() {
		return nil, fmt.Errorf("public key is required")
	}
	if signFunc == nil {
		return nil, fmt.Errorf("sign callback is required")
	}
	return &ClientSigner{
		publicKey:       publicKey,
		signTransaction: signFunc,
	}, nil
}

// NewClientSignerFromPrivateKey creates a client signer from a base58
// encoded private key.
//
// Example:
//
//	signer, err := svm.NewClientSignerFromPrivateKey(os.Getenv("SOLANA_PRIVATE_KEY"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := svc.NewSvmClient(signer)
func NewClientSignerFromPrivateKey(privateKeyBase58 string) (*ClientSigner, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	signFunc := func(ctx context.Context, tx *solana.Transaction) error {
		return partialSign(privateKey, tx)
	}
	return NewClientSigner(privateKey.PublicKey(), signFunc)
}

// NewClientSignerFromKeygenFile creates a client signer from a Solana
// CLI keygen file (a JSON array of 64 key bytes).
func NewClientSignerFromKeygenFile(path string) (*ClientSigner, error) {
	privateKey, err := readKeygenFile(path)
	if err != nil {
		return nil, err
	}

	signFunc := func(ctx context.Context, tx *solana.Transaction) error {
		return partialSign(privateKey, tx)
	}
	return NewClientSigner(privateKey.PublicKey(), signFunc)
}

// Address returns the payer public key.
func (s *ClientSigner) Address() solana.PublicKey {
	return s.publicKey
}

// SignTransaction adds the payer's signature in place, leaving the fee
// payer slot for the facilitator.
func (s *ClientSigner) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	return s.signTransaction(ctx, tx)
}

// partialSign signs the transaction message and places the signature
// at the key's account index, growing the signature list as needed.
func partialSign(privateKey solana.PrivateKey, tx *solana.Transaction) error {
	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	signature, err := privateKey.Sign(messageBytes)
	if err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}

	accountIndex, err := tx.GetAccountIndex(privateKey.PublicKey())
	if err != nil {
		return fmt.Errorf("failed to get account index: %w", err)
	}

	if len(tx.Signatures) <= int(accountIndex) {
		newSignatures := make([]solana.Signature, accountIndex+1)
		copy(newSignatures, tx.Signatures)
		tx.Signatures = newSignatures
	}
	tx.Signatures[accountIndex] = signature
	return nil
}

func readKeygenFile(path string) (solana.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keygen file: %w", err)
	}

	var keyBytes []byte
	if err := json.Unmarshal(data, &keyBytes); err != nil {
		return nil, fmt.Errorf("invalid keygen file %s: %w", path, err)
	}
	if len(keyBytes) != 64 {
		return nil, fmt.Errorf("invalid keygen file %s: want 64 key bytes, have %d", path, len(keyBytes))
	}
	return solana.PrivateKey(keyBytes), nil
}
