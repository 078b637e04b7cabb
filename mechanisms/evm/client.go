package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// ExactEvmClient creates exact scheme payments on EVM networks. It
// signs EIP-3009 authorizations for compatible tokens and Permit2
// permits when the requirements ask for them; the core client stamps
// the protocol envelope (version, scheme, network) on the result.
type ExactEvmClient struct {
	signer ClientEvmSigner
}

// NewExactEvmClient creates a client-side exact scheme handler.
func NewExactEvmClient(signer ClientEvmSigner) *ExactEvmClient {
	return &ExactEvmClient{
		signer: signer,
	}
}

// Scheme returns the scheme identifier.
func (c *ExactEvmClient) Scheme() string {
	return SchemeExact
}

// TransferMethodFromRequirements reads extra.assetTransferMethod,
// defaulting to EIP-3009 when absent or unrecognized.
func TransferMethodFromRequirements(requirements x402.PaymentRequirements) AssetTransferMethod {
	if requirements.Extra != nil {
		if method, ok := requirements.Extra["assetTransferMethod"].(string); ok {
			if AssetTransferMethod(method) == AssetTransferMethodPermit2 {
				return AssetTransferMethodPermit2
			}
		}
	}
	return AssetTransferMethodEIP3009
}

// CreatePaymentPayload signs a payment authorization for the selected
// requirements and returns it as a scheme payload map.
func (c *ExactEvmClient) CreatePaymentPayload(
	ctx context.Context,
	version int,
	requirements x402.PaymentRequirements,
) (x402.PaymentPayload, error) {
	networkStr := string(requirements.Network)
	config, err := GetNetworkConfig(networkStr)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	assetInfo, err := GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	value, ok := new(big.Int).SetString(requirements.EffectiveAmount(), 10)
	if !ok {
		return x402.PaymentPayload{}, fmt.Errorf("invalid amount: %s", requirements.EffectiveAmount())
	}

	validFor := time.Duration(DefaultValidityPeriod) * time.Second
	if requirements.MaxTimeoutSeconds > 0 {
		validFor = time.Duration(requirements.MaxTimeoutSeconds) * time.Second
	}

	if TransferMethodFromRequirements(requirements) == AssetTransferMethodPermit2 {
		return c.createPermit2Payload(ctx, version, requirements, config, assetInfo, value, validFor)
	}
	return c.createEIP3009Payload(ctx, version, requirements, config, assetInfo, value, validFor)
}

func (c *ExactEvmClient) createEIP3009Payload(
	ctx context.Context,
	version int,
	requirements x402.PaymentRequirements,
	config *NetworkConfig,
	assetInfo *AssetInfo,
	value *big.Int,
	validFor time.Duration,
) (x402.PaymentPayload, error) {
	nonce, err := CreateNonce()
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	validAfter, validBefore := CreateValidityWindow(validFor)

	// The token's EIP-712 domain comes from the asset table unless the
	// resource server pinned exact values in extra.
	tokenName, tokenVersion := tokenDomainFromRequirements(requirements, assetInfo)

	authorization := ExactEIP3009Authorization{
		From:        c.signer.Address(),
		To:          requirements.PayTo,
		Value:       value.String(),
		ValidAfter:  validAfter.String(),
		ValidBefore: validBefore.String(),
		Nonce:       nonce,
	}

	domain, types, message, err := EIP3009TypedData(authorization, config.ChainID, assetInfo.Address, tokenName, tokenVersion)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	signature, err := c.signer.SignTypedData(ctx, domain, types, "TransferWithAuthorization", message)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to sign authorization: %w", err)
	}

	evmPayload := &ExactEIP3009Payload{
		Signature:     BytesToHex(signature),
		Authorization: authorization,
	}

	return x402.PaymentPayload{
		X402Version: version,
		Payload:     evmPayload.ToMap(),
	}, nil
}

func (c *ExactEvmClient) createPermit2Payload(
	ctx context.Context,
	version int,
	requirements x402.PaymentRequirements,
	config *NetworkConfig,
	assetInfo *AssetInfo,
	value *big.Int,
	validFor time.Duration,
) (x402.PaymentPayload, error) {
	nonce, err := CreatePermit2Nonce()
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	validAfter, deadline := CreateValidityWindow(validFor)

	authorization := Permit2Authorization{
		From: c.signer.Address(),
		Permitted: Permit2TokenPermissions{
			Token:  assetInfo.Address,
			Amount: value.String(),
		},
		Spender:  X402ExactPermit2ProxyAddress,
		Nonce:    nonce,
		Deadline: deadline.String(),
		Witness: Permit2Witness{
			To:         requirements.PayTo,
			ValidAfter: validAfter.String(),
			Extra:      "0x",
		},
	}

	domain, types, message, err := Permit2TypedData(authorization, config.ChainID)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	signature, err := c.signer.SignTypedData(ctx, domain, types, "PermitWitnessTransferFrom", message)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to sign permit: %w", err)
	}

	permitPayload := &ExactPermit2Payload{
		Signature:            BytesToHex(signature),
		Permit2Authorization: authorization,
	}

	return x402.PaymentPayload{
		X402Version: version,
		Payload:     permitPayload.ToMap(),
	}, nil
}

// tokenDomainFromRequirements resolves the EIP-712 domain name and
// version of the payment token.
func tokenDomainFromRequirements(requirements x402.PaymentRequirements, assetInfo *AssetInfo) (string, string) {
	tokenName := assetInfo.Name
	tokenVersion := assetInfo.Version
	if requirements.Extra != nil {
		if name, ok := requirements.Extra["name"].(string); ok {
			tokenName = name
		}
		if version, ok := requirements.Extra["version"].(string); ok {
			tokenVersion = version
		}
	}
	return tokenName, tokenVersion
}
