package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Supported protocol versions, newest last.
var SupportedVersions = []int{1, 2}

// Network represents a blockchain network identifier in CAIP-2 format
// (namespace:reference, e.g. "eip155:8453"). Version 1 of the protocol
// used short aliases ("base-sepolia"); NormalizeNetwork maps those in.
type Network string

// Parse splits the network into namespace and reference components.
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.SplitN(string(n), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// Namespace returns the CAIP-2 namespace, or "" when the identifier is
// not namespaced (a v1 alias).
func (n Network) Namespace() string {
	ns, _, err := n.Parse()
	if err != nil {
		return ""
	}
	return ns
}

// Wildcard returns the wildcard pattern covering this network's
// namespace, e.g. "eip155:*" for "eip155:8453".
func (n Network) Wildcard() Network {
	ns := n.Namespace()
	if ns == "" {
		return ""
	}
	return Network(ns + ":*")
}

// IsWildcard reports whether the network is a registry pattern like "eip155:*".
func (n Network) IsWildcard() bool {
	return strings.HasSuffix(string(n), ":*")
}

// Match checks if this network matches a pattern. Patterns may carry a
// trailing wildcard ("eip155:*"); matching is bidirectional so either
// side of a comparison may hold the pattern.
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}

	nStr := string(n)
	patternStr := string(pattern)

	if strings.HasSuffix(patternStr, ":*") {
		prefix := strings.TrimSuffix(patternStr, "*")
		return strings.HasPrefix(nStr, prefix)
	}

	if strings.HasSuffix(nStr, ":*") {
		prefix := strings.TrimSuffix(nStr, "*")
		return strings.HasPrefix(patternStr, prefix)
	}

	return false
}

// v1NetworkAliases maps protocol v1 short network names onto their
// CAIP-2 identifiers.
var v1NetworkAliases = map[Network]Network{
	"base":           "eip155:8453",
	"base-sepolia":   "eip155:84532",
	"ethereum":       "eip155:1",
	"sepolia":        "eip155:11155111",
	"polygon":        "eip155:137",
	"polygon-amoy":   "eip155:80002",
	"avalanche":      "eip155:43114",
	"avalanche-fuji": "eip155:43113",
	"solana":         "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp",
	"solana-devnet":  "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1",
	"solana-testnet": "solana:4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z",
}

var caip2ToV1Alias = func() map[Network]Network {
	m := make(map[Network]Network, len(v1NetworkAliases))
	for alias, caip2 := range v1NetworkAliases {
		m[caip2] = alias
	}
	return m
}()

// NormalizeNetwork resolves a v1 alias to its CAIP-2 identifier.
// Identifiers that are already namespaced pass through unchanged, as do
// unknown aliases (the registry will reject them later).
func NormalizeNetwork(n Network) Network {
	if strings.Contains(string(n), ":") {
		return n
	}
	if caip2, ok := v1NetworkAliases[n]; ok {
		return caip2
	}
	return n
}

// NetworkToV1 returns the v1 short alias for a CAIP-2 identifier when
// one exists; otherwise the identifier itself.
func NetworkToV1(n Network) Network {
	if alias, ok := caip2ToV1Alias[n]; ok {
		return alias
	}
	return n
}

// NegotiateVersion returns the highest protocol version both sides
// support, or an error when the sets are disjoint.
func NegotiateVersion(serverVersions, clientVersions []int) (int, error) {
	best := 0
	for _, sv := range serverVersions {
		for _, cv := range clientVersions {
			if sv == cv && sv > best {
				best = sv
			}
		}
	}
	if best == 0 {
		return 0, fmt.Errorf("no shared x402 version: server %v, client %v", serverVersions, clientVersions)
	}
	return best, nil
}

// Price is a human-oriented price input: a string ("$0.001", "0.10 USDC"),
// a number, or a pre-parsed {amount, asset} map. ParsePrice converts it
// to an AssetAmount exactly once; the core never does float money math.
type Price interface{}

// AssetAmount is a price resolved to atomic units of a concrete asset.
type AssetAmount struct {
	Asset  string                 `json:"asset"`
	Amount string                 `json:"amount"`
	Extra  map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequirements describes one acceptable way to pay for a resource.
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           Network                `json:"network"`
	Asset             string                 `json:"asset"`
	Amount            string                 `json:"amount"`                      // v2 field, atomic units
	MaxAmountRequired string                 `json:"maxAmountRequired,omitempty"` // v1 compatibility field
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds"`
	Resource          string                 `json:"resource,omitempty"`
	Description       string                 `json:"description,omitempty"`
	MimeType          string                 `json:"mimeType,omitempty"`
	OutputSchema      json.RawMessage        `json:"outputSchema,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
	Extensions        map[string]interface{} `json:"extensions,omitempty"`
}

// EffectiveAmount returns the v2 amount, falling back to the v1
// maxAmountRequired field.
func (r PaymentRequirements) EffectiveAmount() string {
	if r.Amount != "" {
		return r.Amount
	}
	return r.MaxAmountRequired
}

// PaymentRequired is the 402 response body sent to clients.
type PaymentRequired struct {
	X402Version int                    `json:"x402Version"`
	Accepts     []PaymentRequirements  `json:"accepts"`
	Error       string                 `json:"error,omitempty"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// PaymentPayload is the client's signed payment authorization, carried
// base64-JSON-encoded in the X-PAYMENT header. The payload field is
// scheme-defined and opaque to the core.
type PaymentPayload struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     Network                `json:"network"`
	Payload     map[string]interface{} `json:"payload"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// VerifyRequest is the facilitator /verify wire body.
type VerifyRequest struct {
	X402Version         int                 `json:"x402Version,omitempty"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// VerifyResponse is the result of payment verification.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleRequest is the facilitator /settle wire body.
type SettleRequest struct {
	X402Version         int                 `json:"x402Version,omitempty"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// SettleResponse is the result of payment settlement. On success it is
// carried base64-JSON-encoded in the X-PAYMENT-RESPONSE header.
type SettleResponse struct {
	Success     bool    `json:"success"`
	ErrorReason string  `json:"errorReason,omitempty"`
	Payer       string  `json:"payer,omitempty"`
	Transaction string  `json:"transaction"`
	Network     Network `json:"network"`
}

// SupportedKind is one (version, scheme, network) tuple a facilitator
// can verify and settle, with optional handler metadata (fee payer,
// EIP-712 domain fields) in Extra.
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     Network                `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse describes what a facilitator supports.
type SupportedResponse struct {
	Kinds      []SupportedKind `json:"kinds"`
	Extensions []string        `json:"extensions"`
}

// ResourceInfo describes the protected resource in transport terms.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceConfig is the payment configuration for one protected resource.
type ResourceConfig struct {
	Scheme            string                 `json:"scheme"`
	PayTo             string                 `json:"payTo"`
	Price             Price                  `json:"price"`
	Network           Network                `json:"network"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds,omitempty"`
	Resource          string                 `json:"resource,omitempty"`
	Description       string                 `json:"description,omitempty"`
	MimeType          string                 `json:"mimeType,omitempty"`
	OutputSchema      json.RawMessage        `json:"outputSchema,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
	Extensions        map[string]interface{} `json:"extensions,omitempty"`
}

// DefaultMaxTimeoutSeconds applies when a resource does not set one.
const DefaultMaxTimeoutSeconds = 300

// ============================================================================
// Wire codecs
// ============================================================================

// EncodeToBase64 serializes the payload to base64(JSON) for the
// X-PAYMENT header.
func (p PaymentPayload) EncodeToBase64() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentPayloadFromBase64 parses an X-PAYMENT header value.
// It accepts both v2 payloads and v1 payloads with alias networks;
// the network is normalized to CAIP-2.
func DecodePaymentPayloadFromBase64(encoded string) (PaymentPayload, error) {
	var payload PaymentPayload
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return payload, fmt.Errorf("invalid base64 payment header: %w", err)
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("invalid payment payload JSON: %w", err)
	}
	payload.Network = NormalizeNetwork(payload.Network)
	return payload, nil
}

// EncodeToBase64 serializes the settlement receipt for the
// X-PAYMENT-RESPONSE header.
func (s SettleResponse) EncodeToBase64() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settle response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeSettleResponseFromBase64 parses an X-PAYMENT-RESPONSE header value.
func DecodeSettleResponseFromBase64(encoded string) (SettleResponse, error) {
	var resp SettleResponse
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return resp, fmt.Errorf("invalid base64 settle header: %w", err)
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return resp, fmt.Errorf("invalid settle response JSON: %w", err)
	}
	return resp, nil
}

// EncodeToBase64 serializes the 402 body for the PAYMENT-REQUIRED header
// used by header-based transports.
func (p PaymentRequired) EncodeToBase64() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment required: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentRequiredFromBase64 parses a PAYMENT-REQUIRED header value.
func DecodePaymentRequiredFromBase64(encoded string) (PaymentRequired, error) {
	var required PaymentRequired
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return required, fmt.Errorf("invalid base64 payment required header: %w", err)
	}
	if err := json.Unmarshal(data, &required); err != nil {
		return required, fmt.Errorf("invalid payment required JSON: %w", err)
	}
	return required, nil
}

// DeepEqual compares two values by their normalized JSON form. Used to
// match a payload's pinned requirements against the server's own
// enhanced set without relying on field ordering.
func DeepEqual(a, b interface{}) bool {
	aJSON, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bJSON, err := json.Marshal(b)
	if err != nil {
		return false
	}

	var aNorm, bNorm interface{}
	if err := json.Unmarshal(aJSON, &aNorm); err != nil {
		return false
	}
	if err := json.Unmarshal(bJSON, &bNorm); err != nil {
		return false
	}

	aNormJSON, _ := json.Marshal(aNorm)
	bNormJSON, _ := json.Marshal(bNorm)

	return string(aNormJSON) == string(bNormJSON)
}
