package paymentidentifier

import (
	"strings"

	"github.com/google/uuid"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// GeneratePaymentID returns a fresh payment identifier: the prefix
// ("pay_" when empty) followed by a UUID v4 without hyphens.
//
// Example: "pay_7d5d747be160e280504c099d984bcfe0"
func GeneratePaymentID(prefix string) string {
	if prefix == "" {
		prefix = "pay_"
	}
	return prefix + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// PayloadFingerprint hashes the canonicalized payload. Two payloads
// carrying the same payment ID but different fingerprints are an ID
// reuse conflict.
func PayloadFingerprint(payload x402.PaymentPayload) (string, error) {
	return x402.GenerateSettlementKey(payload)
}

// IsValidPaymentID reports whether an ID is between MinIDLength and
// MaxIDLength characters of alphanumerics, hyphens and underscores.
func IsValidPaymentID(id string) bool {
	if len(id) < MinIDLength || len(id) > MaxIDLength {
		return false
	}
	return idPattern.MatchString(id)
}
