package evm

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// ExactEvmService is the resource server side of the exact scheme on
// EVM networks: it prices resources in the network's default stablecoin
// and decorates payment requirements with EIP-712 signing metadata.
type ExactEvmService struct{}

// NewExactEvmService creates a server-side exact scheme handler.
func NewExactEvmService() *ExactEvmService {
	return &ExactEvmService{}
}

// Scheme returns the scheme identifier.
func (s *ExactEvmService) Scheme() string {
	return SchemeExact
}

// ParsePrice converts a human price into atomic units of the network's
// default asset. Accepted forms: "$1.50", "1.50 USD", "1.50 USDC",
// bare decimals, integers already in atomic units, numbers, and
// pre-parsed asset amounts.
func (s *ExactEvmService) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	switch v := price.(type) {
	case x402.AssetAmount:
		return v, nil
	case map[string]interface{}:
		if amount, ok := v["amount"].(string); ok {
			asset, _ := v["asset"].(string)
			return x402.AssetAmount{Asset: asset, Amount: amount}, nil
		}
	}

	priceStr := stringifyPrice(price)
	priceStr = strings.TrimSpace(priceStr)
	priceStr = strings.TrimPrefix(priceStr, "$")
	priceStr = strings.TrimSuffix(priceStr, " USD")
	priceStr = strings.TrimSuffix(priceStr, " USDC")
	priceStr = strings.TrimSpace(priceStr)

	config, err := GetNetworkConfig(string(network))
	if err != nil {
		return x402.AssetAmount{}, err
	}

	if strings.Contains(priceStr, ".") {
		amount, err := ParseAmount(priceStr, config.DefaultAsset.Decimals)
		if err != nil {
			return x402.AssetAmount{}, fmt.Errorf("failed to parse decimal price: %w", err)
		}
		return x402.AssetAmount{
			Asset:  config.DefaultAsset.Address,
			Amount: amount.String(),
		}, nil
	}

	amount, ok := new(big.Int).SetString(priceStr, 10)
	if !ok {
		return x402.AssetAmount{}, fmt.Errorf("invalid price format: %v", price)
	}

	// Integers at or above one whole token are taken as atomic units
	// ("1000000" is $1), anything smaller as whole dollars ("1" is $1).
	oneUnit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(config.DefaultAsset.Decimals)), nil)
	if amount.Cmp(oneUnit) >= 0 {
		return x402.AssetAmount{
			Asset:  config.DefaultAsset.Address,
			Amount: amount.String(),
		}, nil
	}

	amount.Mul(amount, oneUnit)
	return x402.AssetAmount{
		Asset:  config.DefaultAsset.Address,
		Amount: amount.String(),
	}, nil
}

func stringifyPrice(price x402.Price) string {
	switch v := price.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", price)
	}
}

// EnhancePaymentRequirements fills in the default asset, normalizes
// decimal amounts to atomic units, and attaches the token's EIP-712
// domain plus any facilitator extension metadata named in extensionKeys.
func (s *ExactEvmService) EnhancePaymentRequirements(
	ctx context.Context,
	requirements x402.PaymentRequirements,
	supportedKind x402.SupportedKind,
	extensionKeys []string,
) (x402.PaymentRequirements, error) {
	networkStr := string(requirements.Network)

	var assetInfo *AssetInfo
	var err error
	if requirements.Asset != "" {
		assetInfo, err = GetAssetInfo(networkStr, requirements.Asset)
		if err != nil {
			return requirements, err
		}
	} else {
		config, err := GetNetworkConfig(networkStr)
		if err != nil {
			return requirements, err
		}
		assetInfo = &config.DefaultAsset
		requirements.Asset = assetInfo.Address
	}

	// A decimal amount slipped past price parsing; convert in place.
	if requirements.Amount != "" && strings.Contains(requirements.Amount, ".") {
		amount, err := ParseAmount(requirements.Amount, assetInfo.Decimals)
		if err != nil {
			return requirements, fmt.Errorf("failed to parse amount: %w", err)
		}
		requirements.Amount = amount.String()
	}
	if requirements.MaxAmountRequired != "" && strings.Contains(requirements.MaxAmountRequired, ".") {
		amount, err := ParseAmount(requirements.MaxAmountRequired, assetInfo.Decimals)
		if err != nil {
			return requirements, fmt.Errorf("failed to parse amount: %w", err)
		}
		requirements.MaxAmountRequired = amount.String()
	}

	if requirements.Extra == nil {
		requirements.Extra = make(map[string]interface{})
	}

	// EIP-712 domain for the client's signer. Only filled when absent:
	// the resource config may pin exact values.
	if _, ok := requirements.Extra["name"]; !ok {
		requirements.Extra["name"] = assetInfo.Name
	}
	if _, ok := requirements.Extra["version"]; !ok {
		requirements.Extra["version"] = assetInfo.Version
	}

	if supportedKind.Extra != nil {
		for _, key := range extensionKeys {
			if val, ok := supportedKind.Extra[key]; ok {
				requirements.Extra[key] = val
			}
		}
	}

	return requirements, nil
}

// GetDisplayAmount renders an atomic amount as a dollar string for
// paywalls and logs.
func (s *ExactEvmService) GetDisplayAmount(amount string, network string, asset string) (string, error) {
	assetInfo, err := GetAssetInfo(network, asset)
	if err != nil {
		return "", err
	}

	amountBig, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return "", fmt.Errorf("invalid amount: %s", amount)
	}

	return "$" + FormatAmount(amountBig, assetInfo.Decimals) + " USDC", nil
}

// ValidatePaymentRequirements checks that requirements are complete and
// settleable on a configured network.
func (s *ExactEvmService) ValidatePaymentRequirements(requirements x402.PaymentRequirements) error {
	networkStr := string(requirements.Network)
	if !IsValidNetwork(networkStr) {
		return fmt.Errorf("unsupported network: %s", requirements.Network)
	}

	if !IsValidAddress(requirements.PayTo) {
		return fmt.Errorf("invalid payTo address: %s", requirements.PayTo)
	}

	effective := requirements.EffectiveAmount()
	if effective == "" {
		return fmt.Errorf("amount is required")
	}
	amount, ok := new(big.Int).SetString(effective, 10)
	if !ok || amount.Sign() <= 0 {
		return fmt.Errorf("invalid amount: %s", effective)
	}

	if requirements.Asset != "" {
		if _, err := GetAssetInfo(networkStr, requirements.Asset); err != nil {
			return fmt.Errorf("invalid asset: %s", requirements.Asset)
		}
	}

	return nil
}

// ConvertToTokenAmount converts a decimal amount into atomic units of
// the network's default asset.
func (s *ExactEvmService) ConvertToTokenAmount(decimalAmount string, network string) (string, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return "", err
	}

	amount, err := ParseAmount(decimalAmount, config.DefaultAsset.Decimals)
	if err != nil {
		return "", err
	}
	return amount.String(), nil
}

// ConvertFromTokenAmount converts atomic units of the network's default
// asset back into a decimal string.
func (s *ExactEvmService) ConvertFromTokenAmount(tokenAmount string, network string) (string, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return "", err
	}

	amount, ok := new(big.Int).SetString(tokenAmount, 10)
	if !ok {
		return "", fmt.Errorf("invalid token amount: %s", tokenAmount)
	}
	return FormatAmount(amount, config.DefaultAsset.Decimals), nil
}

// GetSupportedNetworks lists the configured network identifiers.
func (s *ExactEvmService) GetSupportedNetworks() []string {
	networks := make([]string, 0, len(NetworkConfigs))
	for network := range NetworkConfigs {
		networks = append(networks, network)
	}
	return networks
}

// GetSupportedAssets lists the known asset symbols and addresses for a
// network.
func (s *ExactEvmService) GetSupportedAssets(network string) ([]string, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}

	assets := make([]string, 0, 2*len(config.SupportedAssets))
	for symbol := range config.SupportedAssets {
		assets = append(assets, symbol)
	}
	for _, asset := range config.SupportedAssets {
		assets = append(assets, asset.Address)
	}
	return assets, nil
}
