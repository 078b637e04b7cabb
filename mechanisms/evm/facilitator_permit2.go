package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// ABI tuple arguments for the proxy settle call. Field names must match
// the tuple component names in X402ExactPermit2ProxySettleABI.
type permit2PermitArg struct {
	Permitted permit2PermittedArg
	Nonce     *big.Int
	Deadline  *big.Int
}

type permit2PermittedArg struct {
	Token  common.Address
	Amount *big.Int
}

type permit2WitnessArg struct {
	To         common.Address
	ValidAfter *big.Int
	Extra      []byte
}

func (f *ExactEvmFacilitator) verifyPermit2(
	ctx context.Context,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
) (x402.VerifyResponse, error) {
	permitPayload, err := Permit2PayloadFromMap(payload.Payload)
	if err != nil {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: fmt.Sprintf("invalid payload: %v", err),
		}, nil
	}
	auth := permitPayload.Permit2Authorization

	if permitPayload.Signature == "" {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: ErrPermit2InvalidSignature,
		}, nil
	}

	if !IsValidAddress(auth.From) {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: ErrPermit2InvalidOwner,
		}, nil
	}

	// Only the x402 proxy may spend; any other spender could redirect
	// the witness-checked transfer.
	if !strings.EqualFold(auth.Spender, X402ExactPermit2ProxyAddress) {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: ErrPermit2InvalidSpender,
		}, nil
	}

	if !IsValidAddress(auth.Witness.To) {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: ErrPermit2InvalidDestination,
		}, nil
	}
	if !strings.EqualFold(auth.Witness.To, requirements.PayTo) {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: ErrPermit2RecipientMismatch,
		}, nil
	}

	networkStr := string(requirements.Network)
	config, err := GetNetworkConfig(networkStr)
	if err != nil {
		return x402.VerifyResponse{}, err
	}
	assetInfo, err := GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return x402.VerifyResponse{}, err
	}

	if !strings.EqualFold(auth.Permitted.Token, assetInfo.Address) {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: ErrPermit2TokenMismatch,
		}, nil
	}

	permittedAmount, ok := new(big.Int).SetString(auth.Permitted.Amount, 10)
	if !ok {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: ErrPermit2InsufficientAmount,
		}, nil
	}
	requiredValue, ok := new(big.Int).SetString(requirements.EffectiveAmount(), 10)
	if !ok {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: fmt.Sprintf("invalid required amount: %s", requirements.EffectiveAmount()),
		}, nil
	}
	if permittedAmount.Cmp(requiredValue) < 0 {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: ErrPermit2InsufficientAmount,
		}, nil
	}

	if _, ok := new(big.Int).SetString(auth.Nonce, 10); !ok {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: ErrPermit2InvalidNonce,
		}, nil
	}

	now := time.Now().Unix()
	deadline, ok := new(big.Int).SetString(auth.Deadline, 10)
	if !ok || deadline.Cmp(big.NewInt(now+ValidityCheckBuffer)) < 0 {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: ErrPermit2DeadlineExpired,
		}, nil
	}
	validAfter, ok := new(big.Int).SetString(auth.Witness.ValidAfter, 10)
	if !ok || validAfter.Cmp(big.NewInt(now)) > 0 {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: ErrPermit2NotYetValid,
		}, nil
	}

	// Permit2 transfers require a standing ERC-20 approval from the
	// owner to the Permit2 contract.
	allowance, err := f.checkPermit2Allowance(ctx, auth.From, assetInfo.Address)
	if err != nil {
		return x402.VerifyResponse{}, fmt.Errorf("failed to check allowance: %w", err)
	}
	if allowance.Cmp(permittedAmount) < 0 {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: ErrPermit2AllowanceRequired,
		}, nil
	}

	balance, err := f.signer.GetBalance(ctx, auth.From, assetInfo.Address)
	if err != nil {
		return x402.VerifyResponse{}, fmt.Errorf("failed to get balance: %w", err)
	}
	if balance.Cmp(requiredValue) < 0 {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: "insufficient balance",
		}, nil
	}

	signatureBytes, err := HexToBytes(permitPayload.Signature)
	if err != nil {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: ErrPermit2InvalidSignature,
		}, nil
	}

	domain, types, message, err := Permit2TypedData(auth, config.ChainID)
	if err != nil {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: fmt.Sprintf("invalid authorization: %v", err),
		}, nil
	}

	valid, err := f.verifyTypedSignature(ctx, auth.From, domain, types, "PermitWitnessTransferFrom", message, signatureBytes)
	if err != nil {
		return x402.VerifyResponse{}, fmt.Errorf("failed to verify signature: %w", err)
	}
	if !valid {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: ErrPermit2InvalidSignature,
		}, nil
	}

	return x402.VerifyResponse{
		IsValid: true,
		Payer:   auth.From,
	}, nil
}

func (f *ExactEvmFacilitator) settlePermit2(
	ctx context.Context,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
) (x402.SettleResponse, error) {
	permitPayload, err := Permit2PayloadFromMap(payload.Payload)
	if err != nil {
		return x402.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("invalid payload: %v", err),
			Network:     payload.Network,
		}, nil
	}
	auth := permitPayload.Permit2Authorization

	signatureBytes, err := HexToBytes(permitPayload.Signature)
	if err != nil {
		return x402.SettleResponse{
			Success:     false,
			ErrorReason: ErrPermit2InvalidSignature,
			Network:     payload.Network,
		}, nil
	}

	if IsERC6492Signature(signatureBytes) {
		sigData, err := ParseERC6492Signature(signatureBytes)
		if err != nil {
			return x402.SettleResponse{
				Success:     false,
				ErrorReason: ErrPermit2InvalidSignature,
				Network:     payload.Network,
			}, nil
		}
		if err := EnsureWalletDeployed(ctx, f.signer, auth.From, sigData); err != nil {
			return x402.SettleResponse{
				Success:     false,
				ErrorReason: ErrSmartWalletDeploymentFailed,
				Network:     payload.Network,
			}, nil
		}
		signatureBytes = sigData.InnerSignature
	}

	amount, _ := new(big.Int).SetString(auth.Permitted.Amount, 10)
	nonce, _ := new(big.Int).SetString(auth.Nonce, 10)
	deadline, _ := new(big.Int).SetString(auth.Deadline, 10)
	validAfter, _ := new(big.Int).SetString(auth.Witness.ValidAfter, 10)
	extraBytes, err := HexToBytes(auth.Witness.Extra)
	if err != nil {
		extraBytes = []byte{}
	}

	permit := permit2PermitArg{
		Permitted: permit2PermittedArg{
			Token:  common.HexToAddress(auth.Permitted.Token),
			Amount: amount,
		},
		Nonce:    nonce,
		Deadline: deadline,
	}
	witness := permit2WitnessArg{
		To:         common.HexToAddress(auth.Witness.To),
		ValidAfter: validAfter,
		Extra:      extraBytes,
	}

	txHash, err := f.signer.WriteContract(
		ctx,
		X402ExactPermit2ProxyAddress,
		X402ExactPermit2ProxySettleABI,
		FunctionSettle,
		permit,
		common.HexToAddress(auth.From),
		witness,
		signatureBytes,
	)
	if err != nil {
		return x402.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("failed to execute transfer: %v", err),
			Network:     payload.Network,
		}, nil
	}

	receipt, err := f.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return x402.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("failed to get receipt: %v", err),
			Transaction: txHash,
			Network:     payload.Network,
		}, nil
	}

	if receipt.Status != TxStatusSuccess {
		return x402.SettleResponse{
			Success:     false,
			ErrorReason: "transaction failed",
			Transaction: txHash,
			Network:     payload.Network,
		}, nil
	}

	return x402.SettleResponse{
		Success:     true,
		Transaction: txHash,
		Network:     payload.Network,
		Payer:       auth.From,
	}, nil
}

// checkPermit2Allowance reads the owner's ERC-20 approval toward the
// canonical Permit2 contract.
func (f *ExactEvmFacilitator) checkPermit2Allowance(ctx context.Context, owner string, tokenAddress string) (*big.Int, error) {
	result, err := f.signer.ReadContract(
		ctx,
		tokenAddress,
		ERC20AllowanceABI,
		"allowance",
		common.HexToAddress(owner),
		common.HexToAddress(PERMIT2Address),
	)
	if err != nil {
		return nil, err
	}

	allowance, ok := result.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from allowance")
	}
	return allowance, nil
}
