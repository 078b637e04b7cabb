package svm

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// GetNetworkConfig resolves a network identifier (CAIP-2 or protocol
// v1 name) to its cluster configuration.
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	if config, ok := NetworkConfigs[network]; ok {
		return config, nil
	}
	normalized := string(x402.NormalizeNetwork(x402.Network(network)))
	if config, ok := NetworkConfigs[normalized]; ok {
		return config, nil
	}
	return nil, fmt.Errorf("unsupported network: %s", network)
}

// IsValidNetwork reports whether the network has a cluster
// configuration.
func IsValidNetwork(network string) bool {
	_, err := GetNetworkConfig(network)
	return err == nil
}

// IsValidAddress reports whether s is a well-formed base58 public key.
func IsValidAddress(s string) bool {
	_, err := solana.PublicKeyFromBase58(s)
	return err == nil
}

// GetAssetInfo resolves an asset reference (empty for the network
// default, a symbol like "USDC", or a mint address) on a network.
func GetAssetInfo(network string, asset string) (*AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}

	if asset == "" {
		info := config.DefaultAsset
		return &info, nil
	}

	if asset == config.DefaultAsset.Address {
		info := config.DefaultAsset
		return &info, nil
	}

	for symbol, info := range config.SupportedAssets {
		if strings.EqualFold(asset, symbol) || asset == info.Address {
			found := info
			return &found, nil
		}
	}

	// Unknown mints are accepted with the default precision; the
	// on-chain decimals are authoritative at transfer time.
	if IsValidAddress(asset) {
		return &AssetInfo{Address: asset, Decimals: DefaultDecimals}, nil
	}

	return nil, fmt.Errorf("unsupported asset: %s on network %s", asset, network)
}

// ParseAmount converts a decimal amount string into the token's
// smallest unit. Excess fractional digits are truncated.
func ParseAmount(amount string, decimals int) (uint64, error) {
	parts := strings.Split(amount, ".")
	if len(parts) > 2 {
		return 0, fmt.Errorf("invalid amount format: %s", amount)
	}

	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if len(frac) > decimals {
		frac = frac[:decimals]
	}
	for len(frac) < decimals {
		frac += "0"
	}

	combined := strings.TrimLeft(whole+frac, "0")
	if combined == "" {
		return 0, nil
	}

	value, err := strconv.ParseUint(combined, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount: %s", amount)
	}
	return value, nil
}

// FormatAmount renders a smallest-unit amount as a decimal string.
func FormatAmount(amount uint64, decimals int) string {
	s := strconv.FormatUint(amount, 10)
	if decimals == 0 {
		return s
	}
	for len(s) <= decimals {
		s = "0" + s
	}
	whole := s[:len(s)-decimals]
	frac := strings.TrimRight(s[len(s)-decimals:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// EncodeTransaction serializes a transaction to base64 for transport
// in the scheme payload.
func EncodeTransaction(tx *solana.Transaction) (string, error) {
	txBytes, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to marshal transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(txBytes), nil
}

// DecodeTransaction parses a base64-encoded transaction.
func DecodeTransaction(encoded string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize transaction: %w", err)
	}
	return tx, nil
}
