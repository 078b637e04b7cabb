// Package paymentidentifier implements the payment-identifier protocol
// extension: client-attached idempotency keys threaded through payment
// payloads so servers and facilitators can recognize retries of the
// same logical payment.
//
// The extension travels in the extensions maps of PaymentRequired,
// PaymentRequirements and PaymentPayload under the "payment-identifier"
// key. Servers declare it (optionally with required set) to ask clients
// for an identifier; clients attach one per payment attempt and reuse
// it across retries of that attempt.
package paymentidentifier

import "regexp"

// ExtensionKey identifies the extension in extensions maps.
const ExtensionKey = "payment-identifier"

const (
	// MinIDLength and MaxIDLength bound accepted payment IDs.
	MinIDLength = 16
	MaxIDLength = 128
)

// idPattern matches the characters allowed in a payment ID.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Info carries the extension data attached by a client.
type Info struct {
	ID string `json:"id,omitempty"`
}

// Declaration is the wire form of the extension as it appears in
// extensions maps: a required flag on the server side, an info.id on
// the client side.
type Declaration struct {
	Required bool  `json:"required,omitempty"`
	Info     *Info `json:"info,omitempty"`
}

// ValidationResult reports declaration validation failures.
type ValidationResult struct {
	Valid  bool
	Errors []string
}
