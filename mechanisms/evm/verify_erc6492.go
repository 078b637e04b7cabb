package evm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// IsERC6492Signature reports whether a signature carries the ERC-6492
// wrapper, recognized by its trailing 32-byte magic value.
func IsERC6492Signature(signature []byte) bool {
	if len(signature) < 32 {
		return false
	}
	suffix := BytesToHex(signature[len(signature)-32:])
	return strings.EqualFold(suffix, ERC6492MagicValue)
}

// ParseERC6492Signature unwraps an ERC-6492 signature into its factory
// address, deployment calldata, and inner signature. Unwrapped
// signatures come back unchanged in InnerSignature with a zero factory.
func ParseERC6492Signature(signature []byte) (*ERC6492SignatureData, error) {
	if !IsERC6492Signature(signature) {
		return &ERC6492SignatureData{InnerSignature: signature}, nil
	}

	wrapped := signature[:len(signature)-32]

	addressType, err := abi.NewType("address", "", nil)
	if err != nil {
		return nil, err
	}
	bytesType, err := abi.NewType("bytes", "", nil)
	if err != nil {
		return nil, err
	}
	args := abi.Arguments{
		{Type: addressType},
		{Type: bytesType},
		{Type: bytesType},
	}

	values, err := args.Unpack(wrapped)
	if err != nil {
		return nil, fmt.Errorf("malformed erc6492 wrapper: %w", err)
	}
	if len(values) != 3 {
		return nil, fmt.Errorf("malformed erc6492 wrapper: %d values", len(values))
	}

	factory, ok := values[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("malformed erc6492 wrapper: bad factory")
	}
	calldata, ok := values[1].([]byte)
	if !ok {
		return nil, fmt.Errorf("malformed erc6492 wrapper: bad calldata")
	}
	inner, ok := values[2].([]byte)
	if !ok {
		return nil, fmt.Errorf("malformed erc6492 wrapper: bad inner signature")
	}

	data := &ERC6492SignatureData{
		FactoryCalldata: calldata,
		InnerSignature:  inner,
	}
	copy(data.Factory[:], factory.Bytes())
	return data, nil
}

// WrapERC6492Signature builds the counterfactual wrapper around an
// inner signature: abi(factory, calldata, signature) || magic.
func WrapERC6492Signature(factory string, factoryCalldata []byte, innerSignature []byte) ([]byte, error) {
	addressType, err := abi.NewType("address", "", nil)
	if err != nil {
		return nil, err
	}
	bytesType, err := abi.NewType("bytes", "", nil)
	if err != nil {
		return nil, err
	}
	args := abi.Arguments{
		{Type: addressType},
		{Type: bytesType},
		{Type: bytesType},
	}

	wrapped, err := args.Pack(common.HexToAddress(factory), factoryCalldata, innerSignature)
	if err != nil {
		return nil, err
	}

	magic, err := HexToBytes(ERC6492MagicValue)
	if err != nil {
		return nil, err
	}
	return append(wrapped, magic...), nil
}

// VerifyERC6492Signature validates a counterfactual signature through
// the UniversalSigValidator singleton via eth_call. The validator
// simulates the factory deployment, then runs the wallet's EIP-1271
// check, all without committing state.
func VerifyERC6492Signature(
	ctx context.Context,
	facilitatorSigner FacilitatorEvmSigner,
	signerAddress string,
	hash [32]byte,
	signature []byte,
) (bool, error) {
	result, err := facilitatorSigner.ReadContract(
		ctx,
		UniversalSigValidatorAddress,
		UniversalSigValidatorABI,
		"isValidSig",
		common.HexToAddress(signerAddress),
		hash,
		signature,
	)
	if err != nil {
		return false, err
	}
	valid, ok := result.(bool)
	if !ok {
		return false, nil
	}
	return valid, nil
}

// EnsureWalletDeployed deploys a counterfactual wallet through its
// factory when no code exists at the wallet address yet. Settlement
// needs the wallet on-chain before the token contract can consult its
// EIP-1271 validator.
func EnsureWalletDeployed(
	ctx context.Context,
	signer FacilitatorEvmSigner,
	wallet string,
	sigData *ERC6492SignatureData,
) error {
	code, err := signer.GetCode(ctx, wallet)
	if err != nil {
		return fmt.Errorf("failed to check wallet code: %w", err)
	}
	if len(code) > 0 {
		return nil
	}

	if len(sigData.FactoryCalldata) == 0 {
		return fmt.Errorf("wallet %s has no code and signature carries no deployment data", wallet)
	}

	txHash, err := signer.SendTransaction(ctx, BytesToHex(sigData.Factory[:]), sigData.FactoryCalldata)
	if err != nil {
		return fmt.Errorf("failed to deploy wallet: %w", err)
	}

	receipt, err := signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return fmt.Errorf("failed to confirm wallet deployment: %w", err)
	}
	if receipt.Status != TxStatusSuccess {
		return fmt.Errorf("wallet deployment transaction %s reverted", txHash)
	}
	return nil
}
