package x402

import "context"

// Extensions are declarative augmentations to payment requirements,
// identified by a stable string key and threaded through the 402 body's
// extensions maps. The core only carries descriptors and invokes
// registered extension hooks in registration order; semantics live in
// the extension packages.

// ClientExtension enriches outgoing payment payloads (idempotency keys,
// replay tokens, discovery hints).
type ClientExtension interface {
	Key() string
	EnrichPaymentPayload(ctx context.Context, payload PaymentPayload, required PaymentRequired) (PaymentPayload, error)
}

// ResourceServiceExtension decorates a route's extension declaration
// before it goes out in a 402 body. The transport context is whatever
// the adapter passes (an *http.Request for HTTP transports) and may be
// nil.
type ResourceServiceExtension interface {
	Key() string
	EnrichDeclaration(declaration interface{}, transportContext interface{}) interface{}
}

// ProtectedRequestInterceptor is optionally implemented by service
// extensions that take part in the pre-verification pipeline, such as
// replay caches that grant access without a fresh payment.
type ProtectedRequestInterceptor interface {
	OnProtectedRequest(ProtectedRequestContext) (*ProtectedRequestResult, error)
}

// SettlementObserver is optionally implemented by service extensions
// that consume settlement results, such as receipt stores.
type SettlementObserver interface {
	OnAfterSettle(SettleResultContext) error
}

// ExtensionDeclaration is the descriptor shape shared by the built-in
// extensions: a required flag plus free-form info.
type ExtensionDeclaration struct {
	Required bool                   `json:"required,omitempty"`
	Info     map[string]interface{} `json:"info,omitempty"`
}

// DeclaresRequired reports whether a requirement declares the given
// extension with required=true.
func DeclaresRequired(requirements PaymentRequirements, key string) bool {
	declaration, ok := requirements.Extensions[key]
	if !ok {
		return false
	}
	m, ok := declaration.(map[string]interface{})
	if !ok {
		return false
	}
	required, _ := m["required"].(bool)
	return required
}

// PayloadExtension reads an extension entry from a payment payload's
// extensions map.
func PayloadExtension(payload PaymentPayload, key string) (interface{}, bool) {
	if payload.Extensions == nil {
		return nil, false
	}
	value, ok := payload.Extensions[key]
	return value, ok
}

// SetPayloadExtension returns a copy of the payload with the extension
// entry set; the original's map is not mutated.
func SetPayloadExtension(payload PaymentPayload, key string, value interface{}) PaymentPayload {
	extensions := make(map[string]interface{}, len(payload.Extensions)+1)
	for k, v := range payload.Extensions {
		extensions[k] = v
	}
	extensions[key] = value
	payload.Extensions = extensions
	return payload
}
