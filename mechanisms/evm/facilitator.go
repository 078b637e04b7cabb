package evm

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// ExactEvmFacilitator verifies and settles exact scheme payments on EVM
// networks. EIP-3009 and Permit2 payloads are told apart by shape, so a
// single handler registration covers both transfer methods.
type ExactEvmFacilitator struct {
	signer FacilitatorEvmSigner
}

// NewExactEvmFacilitator creates a facilitator-side exact scheme handler.
func NewExactEvmFacilitator(signer FacilitatorEvmSigner) *ExactEvmFacilitator {
	return &ExactEvmFacilitator{
		signer: signer,
	}
}

// Scheme returns the scheme identifier.
func (f *ExactEvmFacilitator) Scheme() string {
	return SchemeExact
}

// GetSigners reports the addresses settlement transactions may come from.
func (f *ExactEvmFacilitator) GetSigners(network x402.Network) []string {
	return f.signer.GetAddresses()
}

// Verify checks a payment payload against requirements without touching
// chain state. Chain reads (nonce, balance, signature validation) go
// through the signer; invalid payments produce a reason, not an error.
func (f *ExactEvmFacilitator) Verify(
	ctx context.Context,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
) (x402.VerifyResponse, error) {
	if !slices.Contains(x402.SupportedVersions, payload.X402Version) {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: fmt.Sprintf("unsupported x402 version: %d", payload.X402Version),
		}, nil
	}

	if payload.Scheme != SchemeExact {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: "invalid scheme",
		}, nil
	}

	if x402.NormalizeNetwork(payload.Network) != x402.NormalizeNetwork(requirements.Network) {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: "network mismatch",
		}, nil
	}

	switch {
	case IsPermit2Payload(payload.Payload):
		return f.verifyPermit2(ctx, payload, requirements)
	case IsEIP3009Payload(payload.Payload):
		return f.verifyEIP3009(ctx, payload, requirements)
	default:
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: ErrUnsupportedPayloadType,
		}, nil
	}
}

// Settle verifies the payment and then submits the transfer on-chain,
// blocking until the transaction is mined or ctx expires.
func (f *ExactEvmFacilitator) Settle(
	ctx context.Context,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
) (x402.SettleResponse, error) {
	verifyResp, err := f.Verify(ctx, payload, requirements)
	if err != nil {
		return x402.SettleResponse{}, err
	}
	if !verifyResp.IsValid {
		return x402.SettleResponse{
			Success:     false,
			ErrorReason: verifyResp.InvalidReason,
			Network:     payload.Network,
		}, nil
	}

	if IsPermit2Payload(payload.Payload) {
		return f.settlePermit2(ctx, payload, requirements)
	}
	return f.settleEIP3009(ctx, payload, requirements)
}

func (f *ExactEvmFacilitator) verifyEIP3009(
	ctx context.Context,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
) (x402.VerifyResponse, error) {
	evmPayload, err := PayloadFromMap(payload.Payload)
	if err != nil {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: fmt.Sprintf("invalid payload: %v", err),
		}, nil
	}

	if evmPayload.Signature == "" {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: "missing signature",
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

	if !strings.EqualFold(evmPayload.Authorization.To, requirements.PayTo) {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: "recipient mismatch",
		}, nil
	}

	authValue, ok := new(big.Int).SetString(evmPayload.Authorization.Value, 10)
	if !ok {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: "invalid authorization value",
		}, nil
	}

	requiredValue, ok := new(big.Int).SetString(requirements.EffectiveAmount(), 10)
	if !ok {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: fmt.Sprintf("invalid required amount: %s", requirements.EffectiveAmount()),
		}, nil
	}

	if authValue.Cmp(requiredValue) < 0 {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: "insufficient amount",
		}, nil
	}

	if reason := checkValidityWindow(evmPayload.Authorization.ValidAfter, evmPayload.Authorization.ValidBefore); reason != "" {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: reason,
		}, nil
	}

	nonceUsed, err := f.checkNonceUsed(ctx, evmPayload.Authorization.From, evmPayload.Authorization.Nonce, assetInfo.Address)
	if err != nil {
		return x402.VerifyResponse{}, fmt.Errorf("failed to check nonce: %w", err)
	}
	if nonceUsed {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: "nonce already used",
		}, nil
	}

	balance, err := f.signer.GetBalance(ctx, evmPayload.Authorization.From, assetInfo.Address)
	if err != nil {
		return x402.VerifyResponse{}, fmt.Errorf("failed to get balance: %w", err)
	}
	if balance.Cmp(authValue) < 0 {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: "insufficient balance",
		}, nil
	}

	tokenName, tokenVersion := tokenDomainFromRequirements(requirements, assetInfo)

	signatureBytes, err := HexToBytes(evmPayload.Signature)
	if err != nil {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: "invalid signature format",
		}, nil
	}

	domain, types, message, err := EIP3009TypedData(evmPayload.Authorization, config.ChainID, assetInfo.Address, tokenName, tokenVersion)
	if err != nil {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: fmt.Sprintf("invalid authorization: %v", err),
		}, nil
	}

	valid, err := f.verifyTypedSignature(ctx, evmPayload.Authorization.From, domain, types, "TransferWithAuthorization", message, signatureBytes)
	if err != nil {
		return x402.VerifyResponse{}, fmt.Errorf("failed to verify signature: %w", err)
	}
	if !valid {
		return x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: ErrInvalidSignature,
		}, nil
	}

	return x402.VerifyResponse{
		IsValid: true,
		Payer:   evmPayload.Authorization.From,
	}, nil
}

func (f *ExactEvmFacilitator) settleEIP3009(
	ctx context.Context,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
) (x402.SettleResponse, error) {
	evmPayload, err := PayloadFromMap(payload.Payload)
	if err != nil {
		return x402.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("invalid payload: %v", err),
			Network:     payload.Network,
		}, nil
	}

	networkStr := string(requirements.Network)
	assetInfo, err := GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return x402.SettleResponse{}, err
	}

	signatureBytes, err := HexToBytes(evmPayload.Signature)
	if err != nil {
		return x402.SettleResponse{
			Success:     false,
			ErrorReason: "invalid signature format",
			Network:     payload.Network,
		}, nil
	}

	// Counterfactual wallets must exist on-chain before the token
	// contract can run their EIP-1271 check.
	if IsERC6492Signature(signatureBytes) {
		sigData, err := ParseERC6492Signature(signatureBytes)
		if err != nil {
			return x402.SettleResponse{
				Success:     false,
				ErrorReason: "invalid signature format",
				Network:     payload.Network,
			}, nil
		}
		if err := EnsureWalletDeployed(ctx, f.signer, evmPayload.Authorization.From, sigData); err != nil {
			return x402.SettleResponse{
				Success:     false,
				ErrorReason: ErrSmartWalletDeploymentFailed,
				Network:     payload.Network,
			}, nil
		}
		signatureBytes = sigData.InnerSignature
	}

	value, _ := new(big.Int).SetString(evmPayload.Authorization.Value, 10)
	validAfter, _ := new(big.Int).SetString(evmPayload.Authorization.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(evmPayload.Authorization.ValidBefore, 10)
	nonceBytes, _ := HexToBytes(evmPayload.Authorization.Nonce)

	var txHash string
	if len(signatureBytes) == 65 {
		r := signatureBytes[0:32]
		s := signatureBytes[32:64]
		v := signatureBytes[64]

		txHash, err = f.signer.WriteContract(
			ctx,
			assetInfo.Address,
			TransferWithAuthorizationVRSABI,
			FunctionTransferWithAuthorization,
			common.HexToAddress(evmPayload.Authorization.From),
			common.HexToAddress(evmPayload.Authorization.To),
			value,
			validAfter,
			validBefore,
			[32]byte(nonceBytes),
			v,
			[32]byte(r),
			[32]byte(s),
		)
	} else {
		// Smart wallet signatures go through the bytes overload so the
		// token contract can call isValidSignature on the wallet.
		txHash, err = f.signer.WriteContract(
			ctx,
			assetInfo.Address,
			TransferWithAuthorizationBytesABI,
			FunctionTransferWithAuthorization,
			common.HexToAddress(evmPayload.Authorization.From),
			common.HexToAddress(evmPayload.Authorization.To),
			value,
			validAfter,
			validBefore,
			[32]byte(nonceBytes),
			signatureBytes,
		)
	}
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
		Payer:       evmPayload.Authorization.From,
	}, nil
}

// checkValidityWindow validates the authorization time bounds against
// the current clock, demanding enough remaining life to settle.
func checkValidityWindow(validAfterStr, validBeforeStr string) string {
	validAfter, ok := new(big.Int).SetString(validAfterStr, 10)
	if !ok {
		return "invalid validAfter"
	}
	validBefore, ok := new(big.Int).SetString(validBeforeStr, 10)
	if !ok {
		return "invalid validBefore"
	}

	now := time.Now().Unix()
	if validAfter.Cmp(big.NewInt(now)) > 0 {
		return "authorization not yet valid"
	}
	if validBefore.Cmp(big.NewInt(now+ValidityCheckBuffer)) < 0 {
		return "authorization expired"
	}
	return ""
}

// checkNonceUsed asks the token contract whether the authorization
// nonce has been consumed.
func (f *ExactEvmFacilitator) checkNonceUsed(ctx context.Context, from string, nonce string, tokenAddress string) (bool, error) {
	nonceBytes, err := HexToBytes(nonce)
	if err != nil {
		return false, err
	}
	if len(nonceBytes) != 32 {
		return false, fmt.Errorf("nonce must be 32 bytes, got %d", len(nonceBytes))
	}

	result, err := f.signer.ReadContract(
		ctx,
		tokenAddress,
		AuthorizationStateABI,
		FunctionAuthorizationState,
		common.HexToAddress(from),
		[32]byte(nonceBytes),
	)
	if err != nil {
		return false, err
	}

	used, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected result type from authorizationState")
	}
	return used, nil
}

// verifyTypedSignature validates a typed-data signature, routing
// ERC-6492 wrapped signatures through the universal validator and
// everything else through the signer.
func (f *ExactEvmFacilitator) verifyTypedSignature(
	ctx context.Context,
	signerAddress string,
	domain TypedDataDomain,
	types map[string][]TypedDataField,
	primaryType string,
	message map[string]interface{},
	signature []byte,
) (bool, error) {
	if IsERC6492Signature(signature) {
		hash, err := HashTypedData(domain, types, primaryType, message)
		if err != nil {
			return false, err
		}
		return VerifyERC6492Signature(ctx, f.signer, signerAddress, [32]byte(hash), signature)
	}
	return f.signer.VerifyTypedData(ctx, signerAddress, domain, types, primaryType, message, signature)
}
