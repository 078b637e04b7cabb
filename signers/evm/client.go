// Package evm provides ready-made signer implementations for the EVM
// payment mechanisms. ClientSigner holds the payer's key and signs
// EIP-712 authorizations; FacilitatorSigner holds a settlement key and
// talks to a chain over an RPC endpoint.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	x402evm "github.com/x402-foundation/x402-go/v2/mechanisms/evm"
)

// ClientSigner implements x402evm.ClientEvmSigner with a local ECDSA
// private key.
type ClientSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

var _ x402evm.ClientEvmSigner = (*ClientSigner)(nil)

// NewClientSigner creates a client signer from a hex-encoded private
// key. The 0x prefix is optional.
//
// Example:
//
//	signer, err := evm.NewClientSigner(os.Getenv("PRIVATE_KEY"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := svc.NewEvmClient(signer)
func NewClientSigner(privateKeyHex string) (*ClientSigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewClientSignerFromKey(privateKey), nil
}

// NewClientSignerFromKey creates a client signer from an existing key.
func NewClientSignerFromKey(privateKey *ecdsa.PrivateKey) *ClientSigner {
	return &ClientSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

// Address returns the checksummed address of the signing key.
func (s *ClientSigner) Address() string {
	return s.address.Hex()
}

// SignTypedData signs the EIP-712 digest of the given typed data and
// returns the 65-byte signature with v in the Ethereum 27/28 range.
func (s *ClientSigner) SignTypedData(
	_ context.Context,
	domain x402evm.TypedDataDomain,
	types map[string][]x402evm.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	digest, err := x402evm.HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}

	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign typed data: %w", err)
	}

	// crypto.Sign returns the recovery id as 0 or 1.
	signature[64] += 27
	return signature, nil
}
