package paymentidentifier

import (
	"encoding/json"
	"fmt"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// decodeDeclaration coerces a raw extensions-map entry into the typed
// declaration via a JSON round trip.
func decodeDeclaration(extension interface{}) (Declaration, error) {
	raw, err := json.Marshal(extension)
	if err != nil {
		return Declaration{}, fmt.Errorf("failed to marshal extension: %w", err)
	}
	var declaration Declaration
	if err := json.Unmarshal(raw, &declaration); err != nil {
		return Declaration{}, fmt.Errorf("failed to unmarshal extension: %w", err)
	}
	return declaration, nil
}

func invalidIDMessage() string {
	return fmt.Sprintf("invalid payment ID format: must be %d-%d characters of alphanumerics, hyphens and underscores",
		MinIDLength, MaxIDLength)
}

// IsDeclaration reports whether a raw extensions-map entry has the
// payment-identifier declaration shape: an object carrying a required
// flag, an info block, or both. The ID format is not checked here.
func IsDeclaration(extension interface{}) bool {
	if extension == nil {
		return false
	}
	declaration, err := decodeDeclaration(extension)
	if err != nil {
		return false
	}
	return declaration.Required || declaration.Info != nil
}

// ValidateDeclaration checks a raw extensions-map entry: it must decode
// to the declaration shape, and a present ID must be well formed.
func ValidateDeclaration(extension interface{}) ValidationResult {
	if extension == nil {
		return ValidationResult{Valid: false, Errors: []string{"extension must be an object"}}
	}

	declaration, err := decodeDeclaration(extension)
	if err != nil {
		return ValidationResult{Valid: false, Errors: []string{err.Error()}}
	}

	if declaration.Info != nil && declaration.Info.ID != "" && !IsValidPaymentID(declaration.Info.ID) {
		return ValidationResult{Valid: false, Errors: []string{invalidIDMessage()}}
	}

	return ValidationResult{Valid: true}
}

// ExtractID returns the payment identifier carried in a payload, or ""
// when the payload does not carry one. With validate set, a malformed
// ID is an error instead of a result.
func ExtractID(payload x402.PaymentPayload, validate bool) (string, error) {
	extension, ok := x402.PayloadExtension(payload, ExtensionKey)
	if !ok {
		return "", nil
	}

	declaration, err := decodeDeclaration(extension)
	if err != nil {
		return "", err
	}
	if declaration.Info == nil || declaration.Info.ID == "" {
		return "", nil
	}

	if validate && !IsValidPaymentID(declaration.Info.ID) {
		return "", fmt.Errorf("%s", invalidIDMessage())
	}
	return declaration.Info.ID, nil
}

// ExtractIDFromBytes extracts the payment identifier from raw payload
// JSON, for callers holding the wire form. Version 1 payloads carry no
// extensions and always yield "".
func ExtractIDFromBytes(payloadBytes []byte, validate bool) (string, error) {
	var versionCheck struct {
		X402Version int `json:"x402Version"`
	}
	if err := json.Unmarshal(payloadBytes, &versionCheck); err != nil {
		return "", fmt.Errorf("failed to parse version: %w", err)
	}
	if versionCheck.X402Version == 1 {
		return "", nil
	}

	var payload x402.PaymentPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return "", fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return ExtractID(payload, validate)
}

// ExtractAndValidateID returns the payload's payment identifier together
// with a validation verdict. A payload without the extension is valid
// with an empty ID.
func ExtractAndValidateID(payload x402.PaymentPayload) (string, ValidationResult) {
	extension, ok := x402.PayloadExtension(payload, ExtensionKey)
	if !ok {
		return "", ValidationResult{Valid: true}
	}

	if validation := ValidateDeclaration(extension); !validation.Valid {
		return "", validation
	}

	declaration, err := decodeDeclaration(extension)
	if err != nil {
		return "", ValidationResult{Valid: false, Errors: []string{err.Error()}}
	}
	if declaration.Info == nil {
		return "", ValidationResult{Valid: true}
	}
	return declaration.Info.ID, ValidationResult{Valid: true}
}

// HasID reports whether a payload carries the extension at all.
func HasID(payload x402.PaymentPayload) bool {
	_, ok := x402.PayloadExtension(payload, ExtensionKey)
	return ok
}

// IsRequired reports whether a raw declaration sets the required flag.
func IsRequired(extension interface{}) bool {
	if extension == nil {
		return false
	}
	declaration, err := decodeDeclaration(extension)
	if err != nil {
		return false
	}
	return declaration.Required
}

// ValidateRequirement checks a payload against the server's required
// flag: when the server requires an identifier the payload must carry a
// well-formed one.
func ValidateRequirement(payload x402.PaymentPayload, serverRequired bool) ValidationResult {
	if !serverRequired {
		return ValidationResult{Valid: true}
	}

	id, err := ExtractID(payload, false)
	if err != nil {
		return ValidationResult{Valid: false, Errors: []string{fmt.Sprintf("failed to extract payment identifier: %v", err)}}
	}
	if id == "" {
		return ValidationResult{Valid: false, Errors: []string{"server requires a payment identifier but none was provided"}}
	}
	if !IsValidPaymentID(id) {
		return ValidationResult{Valid: false, Errors: []string{invalidIDMessage()}}
	}
	return ValidationResult{Valid: true}
}

// DeclaredIn reports whether a 402 body declares the extension, either
// at the top level or on any offered requirement.
func DeclaredIn(required x402.PaymentRequired) bool {
	if required.X402Version == 1 {
		return false
	}
	if _, ok := required.Extensions[ExtensionKey]; ok {
		return true
	}
	for _, req := range required.Accepts {
		if _, ok := req.Extensions[ExtensionKey]; ok {
			return true
		}
	}
	return false
}

// RequiredIn reports whether a 402 body declares the extension with the
// required flag set, at the top level or on any offered requirement.
func RequiredIn(required x402.PaymentRequired) bool {
	if required.X402Version == 1 {
		return false
	}
	if IsRequired(required.Extensions[ExtensionKey]) {
		return true
	}
	for _, req := range required.Accepts {
		if req.Extensions == nil {
			continue
		}
		if IsRequired(req.Extensions[ExtensionKey]) {
			return true
		}
	}
	return false
}

// RequiredInBytes reports whether a raw 402 body requires a payment
// identifier, for callers holding the wire form. Version 1 bodies carry
// no extensions and never require one.
func RequiredInBytes(paymentRequiredBytes []byte) (bool, error) {
	var versionCheck struct {
		X402Version int `json:"x402Version"`
	}
	if err := json.Unmarshal(paymentRequiredBytes, &versionCheck); err != nil {
		return false, fmt.Errorf("failed to parse version: %w", err)
	}
	if versionCheck.X402Version == 1 {
		return false, nil
	}

	var required x402.PaymentRequired
	if err := json.Unmarshal(paymentRequiredBytes, &required); err != nil {
		return false, fmt.Errorf("failed to unmarshal payment required: %w", err)
	}
	return RequiredIn(required), nil
}
