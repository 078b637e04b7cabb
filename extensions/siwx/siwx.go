// Package siwx implements the sign-in-with-x protocol extension:
// settled payments double as sign-ins. After a payment settles, both
// sides derive the same session token from the settlement receipt; the
// client replays it on later 402 challenges and the server grants
// access without a fresh payment until the session expires.
//
// The token never needs its own delivery channel. It is computed from
// the receipt that already travels in the settlement response header,
// so server and client agree on it without extra round trips.
//
// Tokens are bearer credentials. Anyone holding one can use the session
// it names, so they deserve the same care as any bearer token.
package siwx

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// ExtensionKey is the identifier under which session tokens travel in
// extensions maps.
const ExtensionKey = "siwx"

// Info is the payload-side wire form: the bearer token of an earlier
// settled payment.
type Info struct {
	Token string `json:"token,omitempty"`

	// SessionTTLSeconds is set in 402 declarations to tell clients how
	// long an issued session lasts.
	SessionTTLSeconds int `json:"sessionTtlSeconds,omitempty"`
}

// Declaration is the extension entry shape on both the 402 response and
// the payment payload.
type Declaration struct {
	Required bool  `json:"required,omitempty"`
	Info     *Info `json:"info,omitempty"`
}

// SessionToken derives the session token for a settlement receipt.
// Failed or incomplete receipts yield an empty token.
func SessionToken(receipt x402.SettleResponse) string {
	if !receipt.Success || receipt.Transaction == "" || receipt.Payer == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(string(receipt.Network) + ":" + receipt.Transaction + ":" + receipt.Payer))
	return "siwx_" + hex.EncodeToString(sum[:])
}

// TokenFromPayload reads the replayed session token out of a payment
// payload, or "" when the payload carries none.
func TokenFromPayload(payload x402.PaymentPayload) string {
	raw, ok := x402.PayloadExtension(payload, ExtensionKey)
	if !ok {
		return ""
	}
	declaration, err := decodeDeclaration(raw)
	if err != nil || declaration.Info == nil {
		return ""
	}
	return declaration.Info.Token
}

// DeclaredIn reports whether a 402 response offers sessions, and the
// declared session TTL in seconds when it does.
func DeclaredIn(required x402.PaymentRequired) (bool, int) {
	if required.X402Version < 2 || required.Extensions == nil {
		return false, 0
	}
	raw, ok := required.Extensions[ExtensionKey]
	if !ok {
		return false, 0
	}
	declaration, err := decodeDeclaration(raw)
	if err != nil {
		return true, 0
	}
	if declaration.Info == nil {
		return true, 0
	}
	return true, declaration.Info.SessionTTLSeconds
}

func decodeDeclaration(raw interface{}) (Declaration, error) {
	switch v := raw.(type) {
	case Declaration:
		return v, nil
	case *Declaration:
		return *v, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return Declaration{}, err
	}
	var declaration Declaration
	if err := json.Unmarshal(data, &declaration); err != nil {
		return Declaration{}, err
	}
	return declaration, nil
}
