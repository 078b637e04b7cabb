package x402

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/xeipuuv/gojsonschema"
)

// ValidatePaymentPayload checks the transport-level shape of a payload
// before any scheme handler sees it.
func ValidatePaymentPayload(p PaymentPayload) error {
	if !versionSupported(p.X402Version) {
		return NewPaymentError(ErrInvalidPayload, fmt.Sprintf("unsupported x402 version: %d", p.X402Version), nil)
	}
	if p.Scheme == "" {
		return NewPaymentError(ErrInvalidPayload, "payment scheme is required", nil)
	}
	if p.Network == "" {
		return NewPaymentError(ErrInvalidPayload, "payment network is required", nil)
	}
	if p.Payload == nil {
		return NewPaymentError(ErrInvalidPayload, "payment payload is required", nil)
	}
	return nil
}

// ValidatePaymentRequirements checks the shape of requirements and that
// the amount, when set, is a nonnegative integer in atomic units.
func ValidatePaymentRequirements(r PaymentRequirements) error {
	if r.Scheme == "" {
		return NewPaymentError(ErrInvalidPaymentRequirements, "payment scheme is required", nil)
	}
	if r.Network == "" {
		return NewPaymentError(ErrInvalidPaymentRequirements, "payment network is required", nil)
	}
	if r.Asset == "" {
		return NewPaymentError(ErrInvalidPaymentRequirements, "payment asset is required", nil)
	}
	if r.PayTo == "" {
		return NewPaymentError(ErrInvalidPaymentRequirements, "payment recipient is required", nil)
	}
	if amount := r.EffectiveAmount(); amount != "" {
		if _, err := ParseAtomicAmount(amount); err != nil {
			return NewPaymentError(ErrInvalidPaymentRequirements, err.Error(), nil)
		}
	}
	return nil
}

// ParseAtomicAmount parses an amount string as a nonnegative base-10
// integer. Atomic amounts never carry decimals or sign.
func ParseAtomicAmount(amount string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a base-10 integer", amount)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("amount %q is negative", amount)
	}
	return v, nil
}

func versionSupported(version int) bool {
	for _, v := range SupportedVersions {
		if v == version {
			return true
		}
	}
	return false
}

// ValidateOutputSchema checks that a route's declared output schema is
// itself valid JSON Schema, so configuration mistakes surface at
// registration time rather than in client tooling.
func ValidateOutputSchema(schema json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}
	if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader([]byte(schema))); err != nil {
		return fmt.Errorf("invalid output schema: %w", err)
	}
	return nil
}

// CanonicalJSON re-marshals a JSON document with object keys sorted, so
// logically equal documents serialize byte-identically.
func CanonicalJSON(data []byte) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
