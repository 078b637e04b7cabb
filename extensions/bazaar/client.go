package bazaar

import (
	"context"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// ClientExtension copies a server's discovery declaration from the 402
// response into the payment payload, which is how the declaration
// reaches the facilitator on verify.
type ClientExtension struct{}

var _ x402.ClientExtension = (*ClientExtension)(nil)

// NewClientExtension returns the discovery forwarding extension.
func NewClientExtension() *ClientExtension {
	return &ClientExtension{}
}

func (e *ClientExtension) Key() string {
	return ExtensionKey
}

// EnrichPaymentPayload forwards the declaration verbatim. Version 1
// payments carry discovery inside the requirements instead, so those
// pass through unchanged, as do responses that declare nothing.
func (e *ClientExtension) EnrichPaymentPayload(_ context.Context, payload x402.PaymentPayload, required x402.PaymentRequired) (x402.PaymentPayload, error) {
	if payload.X402Version < 2 {
		return payload, nil
	}
	declaration, ok := required.Extensions[ExtensionKey]
	if !ok {
		return payload, nil
	}
	return x402.SetPayloadExtension(payload, ExtensionKey, declaration), nil
}
