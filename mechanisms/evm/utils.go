package evm

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	x402 "github.com/x402-foundation/x402-go/v2"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// legacyNetworkNames maps network spellings that predate the v1 alias
// table onto their CAIP-2 identifiers.
var legacyNetworkNames = map[string]string{
	"base-mainnet": "eip155:8453",
}

// CreateNonce returns a random 32-byte nonce as a 0x-prefixed hex string,
// suitable for EIP-3009 authorizations.
func CreateNonce() (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return BytesToHex(nonce), nil
}

// CreatePermit2Nonce returns a random uint256 nonce as a decimal string.
// Permit2 tracks nonces in bitmaps, so any unused value works.
func CreatePermit2Nonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return new(big.Int).SetBytes(buf).String(), nil
}

// CreateValidityWindow returns (validAfter, validBefore) unix timestamps
// for an authorization valid from now until now+validFor.
func CreateValidityWindow(validFor time.Duration) (*big.Int, *big.Int) {
	now := time.Now()
	validAfter := big.NewInt(now.Unix())
	validBefore := big.NewInt(now.Add(validFor).Unix())
	return validAfter, validBefore
}

// BytesToHex encodes bytes as a 0x-prefixed hex string.
func BytesToHex(data []byte) string {
	return "0x" + hex.EncodeToString(data)
}

// HexToBytes decodes a hex string with or without a 0x prefix.
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 != 0 {
		s = "0" + s
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex string: %w", err)
	}
	return data, nil
}

// ParseAmount converts a decimal amount string ("1.5") into atomic units
// of a token with the given number of decimals. Fractional digits beyond
// the token's precision are truncated.
func ParseAmount(amount string, decimals int) (*big.Int, error) {
	parts := strings.Split(amount, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid amount: %s", amount)
	}

	whole := parts[0]
	if whole == "" {
		whole = "0"
	}
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

	value, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", amount)
	}
	return value, nil
}

// FormatAmount converts atomic units back into a decimal string,
// trimming trailing zeros. A nil amount formats as "0".
func FormatAmount(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}

	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(amount, divisor, new(big.Int))
	if frac.Sign() == 0 {
		return whole.String()
	}

	fracStr := frac.String()
	for len(fracStr) < decimals {
		fracStr = "0" + fracStr
	}
	fracStr = strings.TrimRight(fracStr, "0")
	return whole.String() + "." + fracStr
}

// IsValidNetwork reports whether the network maps to a configured EVM
// chain. Accepts CAIP-2 identifiers and v1 aliases.
func IsValidNetwork(network string) bool {
	_, err := GetNetworkConfig(network)
	return err == nil
}

// IsValidAddress reports whether s is a 20-byte 0x-prefixed hex address.
func IsValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// GetNetworkConfig resolves a network name to its chain configuration.
// The name may be a CAIP-2 identifier, a v1 alias, or a legacy spelling.
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	if config, ok := NetworkConfigs[network]; ok {
		return &config, nil
	}
	normalized := string(x402.NormalizeNetwork(x402.Network(network)))
	if config, ok := NetworkConfigs[normalized]; ok {
		return &config, nil
	}
	if caip2, ok := legacyNetworkNames[network]; ok {
		if config, ok := NetworkConfigs[caip2]; ok {
			return &config, nil
		}
	}
	return nil, fmt.Errorf("unsupported network: %s", network)
}

// GetAssetInfo resolves an asset reference on a network. The reference
// may be empty (default asset), a known symbol ("USDC"), or a token
// contract address. Unknown addresses are accepted with default decimals
// so arbitrary ERC-20s can be priced, but carry no EIP-712 metadata.
func GetAssetInfo(network string, asset string) (*AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}

	if asset == "" {
		info := config.DefaultAsset
		return &info, nil
	}
	if strings.EqualFold(asset, config.DefaultAsset.Address) {
		info := config.DefaultAsset
		return &info, nil
	}
	for symbol, info := range config.SupportedAssets {
		if strings.EqualFold(asset, symbol) || strings.EqualFold(asset, info.Address) {
			found := info
			return &found, nil
		}
	}
	if IsValidAddress(asset) {
		return &AssetInfo{Address: asset, Decimals: DefaultDecimals}, nil
	}
	return nil, fmt.Errorf("unknown asset %q on network %s", asset, network)
}

// GetEvmChainId returns the chain ID for a supported network.
func GetEvmChainId(network string) (*big.Int, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}
	return config.ChainID, nil
}
