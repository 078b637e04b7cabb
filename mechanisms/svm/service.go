package svm

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// ExactSvmService implements x402.SchemeNetworkServer for the exact
// scheme on Solana clusters.
type ExactSvmService struct{}

// NewExactSvmService creates a server-side exact scheme handler.
func NewExactSvmService() *ExactSvmService {
	return &ExactSvmService{}
}

// Scheme returns the scheme identifier.
func (s *ExactSvmService) Scheme() string {
	return SchemeExact
}

// ParsePrice converts a price into an asset amount in the mint's
// smallest unit. Strings accept "$0.10", "0.10" and "0.10 USDC" forms;
// numbers are read as whole dollars.
func (s *ExactSvmService) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	config, err := GetNetworkConfig(string(network))
	if err != nil {
		return x402.AssetAmount{}, err
	}

	switch v := price.(type) {
	case x402.AssetAmount:
		return v, nil
	case map[string]interface{}:
		if amountStr, ok := v["amount"].(string); ok {
			asset := config.DefaultAsset.Address
			if assetStr, ok := v["asset"].(string); ok && assetStr != "" {
				asset = assetStr
			}
			extra, _ := v["extra"].(map[string]interface{})
			return x402.AssetAmount{Amount: amountStr, Asset: asset, Extra: extra}, nil
		}
		return x402.AssetAmount{}, fmt.Errorf("price map missing amount field")
	case string:
		return s.parseStringPrice(v, config)
	case float64:
		return s.parseStringPrice(strconv.FormatFloat(v, 'f', -1, 64), config)
	case int:
		return s.parseStringPrice(strconv.Itoa(v), config)
	case int64:
		return s.parseStringPrice(strconv.FormatInt(v, 10), config)
	}

	return x402.AssetAmount{}, fmt.Errorf("invalid price format: %v", price)
}

func (s *ExactSvmService) parseStringPrice(priceStr string, config *NetworkConfig) (x402.AssetAmount, error) {
	cleanPrice := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(priceStr), "$"))
	parts := strings.Fields(cleanPrice)

	switch len(parts) {
	case 1:
		amount, err := ParseAmount(parts[0], config.DefaultAsset.Decimals)
		if err != nil {
			return x402.AssetAmount{}, err
		}
		return x402.AssetAmount{
			Amount: strconv.FormatUint(amount, 10),
			Asset:  config.DefaultAsset.Address,
		}, nil

	case 2:
		// "0.10 USDC" form.
		symbol := strings.ToUpper(parts[1])
		var assetInfo *AssetInfo
		if symbol == "USDC" || symbol == "USD" {
			info := config.DefaultAsset
			assetInfo = &info
		} else {
			info, err := GetAssetInfo(config.CAIP2, symbol)
			if err != nil {
				return x402.AssetAmount{}, fmt.Errorf("unsupported asset: %s on network %s", symbol, config.CAIP2)
			}
			assetInfo = info
		}

		amount, err := ParseAmount(parts[0], assetInfo.Decimals)
		if err != nil {
			return x402.AssetAmount{}, err
		}
		return x402.AssetAmount{
			Amount: strconv.FormatUint(amount, 10),
			Asset:  assetInfo.Address,
		}, nil
	}

	return x402.AssetAmount{}, fmt.Errorf("invalid price format: %s", priceStr)
}

// EnhancePaymentRequirements fills in the default mint, normalizes
// decimal amounts to smallest units, and passes the facilitator's fee
// payer through to the client.
func (s *ExactSvmService) EnhancePaymentRequirements(
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

	if requirements.Amount != "" && strings.Contains(requirements.Amount, ".") {
		amount, err := ParseAmount(requirements.Amount, assetInfo.Decimals)
		if err != nil {
			return requirements, fmt.Errorf("failed to parse amount: %w", err)
		}
		requirements.Amount = strconv.FormatUint(amount, 10)
	}
	if requirements.MaxAmountRequired != "" && strings.Contains(requirements.MaxAmountRequired, ".") {
		amount, err := ParseAmount(requirements.MaxAmountRequired, assetInfo.Decimals)
		if err != nil {
			return requirements, fmt.Errorf("failed to parse amount: %w", err)
		}
		requirements.MaxAmountRequired = strconv.FormatUint(amount, 10)
	}

	if requirements.Extra == nil {
		requirements.Extra = make(map[string]interface{})
	}

	// The facilitator advertises its fee payer through supported
	// kinds; clients need it to build the transaction.
	if supportedKind.Extra != nil {
		if feePayer, ok := supportedKind.Extra["feePayer"]; ok {
			if _, set := requirements.Extra["feePayer"]; !set {
				requirements.Extra["feePayer"] = feePayer
			}
		}
		for _, key := range extensionKeys {
			if val, ok := supportedKind.Extra[key]; ok {
				requirements.Extra[key] = val
			}
		}
	}

	return requirements, nil
}

// ValidatePaymentRequirements checks that requirements are complete
// and settleable on a configured cluster.
func (s *ExactSvmService) ValidatePaymentRequirements(requirements x402.PaymentRequirements) error {
	networkStr := string(requirements.Network)
	if !IsValidNetwork(networkStr) {
		return fmt.Errorf("unsupported network: %s", networkStr)
	}

	if !IsValidAddress(requirements.PayTo) {
		return fmt.Errorf("invalid payTo address: %s", requirements.PayTo)
	}

	amount, err := strconv.ParseUint(requirements.EffectiveAmount(), 10, 64)
	if err != nil || amount == 0 {
		return fmt.Errorf("invalid amount: %s", requirements.EffectiveAmount())
	}

	if _, err := GetAssetInfo(networkStr, requirements.Asset); err != nil {
		return err
	}

	return nil
}
