package paymentidentifier

import (
	"strings"
	"testing"

	x402 "github.com/x402-foundation/x402-go/v2"
)

func payloadWithID(id string) x402.PaymentPayload {
	payload := x402.PaymentPayload{
		X402Version: 2,
		Scheme:      "exact",
		Network:     "eip155:8453",
		Payload:     map[string]interface{}{"nonce": "0xabc123"},
	}
	if id != "" {
		payload.Extensions = map[string]interface{}{
			ExtensionKey: map[string]interface{}{
				"info": map[string]interface{}{"id": id},
			},
		}
	}
	return payload
}

func TestGeneratePaymentID(t *testing.T) {
	id := GeneratePaymentID("")
	if !strings.HasPrefix(id, "pay_") {
		t.Errorf("Expected pay_ prefix, got %s", id)
	}
	if len(id) != 36 {
		t.Errorf("Expected 36 chars (prefix + 32 hex), got %d", len(id))
	}
	if !IsValidPaymentID(id) {
		t.Errorf("Expected generated ID to be valid, got %s", id)
	}

	custom := GeneratePaymentID("ord_")
	if !strings.HasPrefix(custom, "ord_") {
		t.Errorf("Expected ord_ prefix, got %s", custom)
	}

	if GeneratePaymentID("") == GeneratePaymentID("") {
		t.Error("Expected distinct IDs per call")
	}
}

func TestIsValidPaymentID(t *testing.T) {
	cases := []struct {
		id    string
		valid bool
	}{
		{"pay_7d5d747be160e280504c099d984bcfe0", true},
		{strings.Repeat("a", 16), true},
		{strings.Repeat("a", 128), true},
		{strings.Repeat("a", 15), false},
		{strings.Repeat("a", 129), false},
		{"with-hyphen_and_underscore16", true},
		{"has spaces padded to length", false},
		{"exclamation!!!!!!", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsValidPaymentID(tc.id); got != tc.valid {
			t.Errorf("IsValidPaymentID(%q) = %v, want %v", tc.id, got, tc.valid)
		}
	}
}

func TestPayloadFingerprint(t *testing.T) {
	payload := payloadWithID("pay_7d5d747be160e280504c099d984bcfe0")

	fp1, err := PayloadFingerprint(payload)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	fp2, err := PayloadFingerprint(payload)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if fp1 != fp2 {
		t.Error("Expected deterministic fingerprint")
	}

	changed := payloadWithID("pay_7d5d747be160e280504c099d984bcfe0")
	changed.Payload["nonce"] = "0xdef456"
	fp3, err := PayloadFingerprint(changed)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if fp1 == fp3 {
		t.Error("Expected different payloads to have different fingerprints")
	}
}

func TestExtractID(t *testing.T) {
	id, err := ExtractID(payloadWithID(""), true)
	if err != nil || id != "" {
		t.Errorf("Expected empty ID without extension, got %q err %v", id, err)
	}

	want := "pay_7d5d747be160e280504c099d984bcfe0"
	id, err = ExtractID(payloadWithID(want), true)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if id != want {
		t.Errorf("Expected %s, got %s", want, id)
	}

	// A malformed ID passes through unvalidated and fails validated.
	id, err = ExtractID(payloadWithID("short"), false)
	if err != nil || id != "short" {
		t.Errorf("Expected raw ID without validation, got %q err %v", id, err)
	}
	if _, err = ExtractID(payloadWithID("short"), true); err == nil {
		t.Error("Expected validation error for malformed ID")
	}
}

func TestExtractIDFromBytes(t *testing.T) {
	v1 := []byte(`{"x402Version":1,"scheme":"exact","network":"base-sepolia","payload":{}}`)
	id, err := ExtractIDFromBytes(v1, true)
	if err != nil || id != "" {
		t.Errorf("Expected empty ID for v1 payload, got %q err %v", id, err)
	}

	v2 := []byte(`{"x402Version":2,"scheme":"exact","network":"eip155:8453","payload":{},` +
		`"extensions":{"payment-identifier":{"info":{"id":"pay_7d5d747be160e280504c099d984bcfe0"}}}}`)
	id, err = ExtractIDFromBytes(v2, true)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if id != "pay_7d5d747be160e280504c099d984bcfe0" {
		t.Errorf("Unexpected ID %q", id)
	}

	if _, err = ExtractIDFromBytes([]byte(`{not json`), true); err == nil {
		t.Error("Expected error for malformed JSON")
	}
}

func TestExtractAndValidateID(t *testing.T) {
	id, result := ExtractAndValidateID(payloadWithID(""))
	if !result.Valid || id != "" {
		t.Errorf("Expected valid empty result without extension, got %q %+v", id, result)
	}

	id, result = ExtractAndValidateID(payloadWithID("pay_7d5d747be160e280504c099d984bcfe0"))
	if !result.Valid {
		t.Fatalf("Expected valid result, got %+v", result)
	}
	if id != "pay_7d5d747be160e280504c099d984bcfe0" {
		t.Errorf("Unexpected ID %q", id)
	}

	_, result = ExtractAndValidateID(payloadWithID("short"))
	if result.Valid {
		t.Error("Expected invalid result for malformed ID")
	}
	if len(result.Errors) == 0 {
		t.Error("Expected validation errors")
	}
}

func TestIsDeclarationAndIsRequired(t *testing.T) {
	if IsDeclaration(nil) {
		t.Error("Expected nil not to be a declaration")
	}
	if IsDeclaration(map[string]interface{}{}) {
		t.Error("Expected empty object not to be a declaration")
	}
	if !IsDeclaration(map[string]interface{}{"required": true}) {
		t.Error("Expected required flag to qualify")
	}
	if !IsDeclaration(map[string]interface{}{"info": map[string]interface{}{"id": "x"}}) {
		t.Error("Expected info block to qualify")
	}

	if IsRequired(nil) {
		t.Error("Expected nil not to be required")
	}
	if IsRequired(map[string]interface{}{"info": map[string]interface{}{}}) {
		t.Error("Expected missing flag not to be required")
	}
	if !IsRequired(map[string]interface{}{"required": true}) {
		t.Error("Expected required flag to be honored")
	}
	if !IsRequired(Declaration{Required: true}) {
		t.Error("Expected typed declaration to be honored")
	}
}

func TestValidateDeclaration(t *testing.T) {
	if result := ValidateDeclaration(nil); result.Valid {
		t.Error("Expected nil declaration to be invalid")
	}

	result := ValidateDeclaration(map[string]interface{}{"required": true})
	if !result.Valid {
		t.Errorf("Expected flag-only declaration to be valid, got %+v", result)
	}

	result = ValidateDeclaration(map[string]interface{}{
		"info": map[string]interface{}{"id": "pay_7d5d747be160e280504c099d984bcfe0"},
	})
	if !result.Valid {
		t.Errorf("Expected declaration with valid ID to pass, got %+v", result)
	}

	result = ValidateDeclaration(map[string]interface{}{
		"info": map[string]interface{}{"id": "nope"},
	})
	if result.Valid {
		t.Error("Expected declaration with malformed ID to fail")
	}
}

func TestValidateRequirement(t *testing.T) {
	if result := ValidateRequirement(payloadWithID(""), false); !result.Valid {
		t.Errorf("Expected optional requirement to pass, got %+v", result)
	}

	if result := ValidateRequirement(payloadWithID(""), true); result.Valid {
		t.Error("Expected missing required ID to fail")
	}

	result := ValidateRequirement(payloadWithID("pay_7d5d747be160e280504c099d984bcfe0"), true)
	if !result.Valid {
		t.Errorf("Expected provided ID to satisfy requirement, got %+v", result)
	}

	if result := ValidateRequirement(payloadWithID("short"), true); result.Valid {
		t.Error("Expected malformed ID to fail requirement")
	}
}

func TestDeclaredInAndRequiredIn(t *testing.T) {
	topLevel := x402.PaymentRequired{
		X402Version: 2,
		Extensions: map[string]interface{}{
			ExtensionKey: map[string]interface{}{"required": true},
		},
	}
	if !DeclaredIn(topLevel) || !RequiredIn(topLevel) {
		t.Error("Expected top-level declaration to be seen")
	}

	perRequirement := x402.PaymentRequired{
		X402Version: 2,
		Accepts: []x402.PaymentRequirements{{
			Scheme:  "exact",
			Network: "eip155:8453",
			Extensions: map[string]interface{}{
				ExtensionKey: map[string]interface{}{"required": true},
			},
		}},
	}
	if !DeclaredIn(perRequirement) || !RequiredIn(perRequirement) {
		t.Error("Expected per-requirement declaration to be seen")
	}

	optional := x402.PaymentRequired{
		X402Version: 2,
		Extensions: map[string]interface{}{
			ExtensionKey: map[string]interface{}{"info": map[string]interface{}{}},
		},
	}
	if !DeclaredIn(optional) {
		t.Error("Expected optional declaration to be declared")
	}
	if RequiredIn(optional) {
		t.Error("Expected optional declaration not to be required")
	}

	v1 := x402.PaymentRequired{
		X402Version: 1,
		Extensions: map[string]interface{}{
			ExtensionKey: map[string]interface{}{"required": true},
		},
	}
	if DeclaredIn(v1) || RequiredIn(v1) {
		t.Error("Expected v1 bodies to carry no extensions")
	}

	undeclared := x402.PaymentRequired{X402Version: 2}
	if DeclaredIn(undeclared) || RequiredIn(undeclared) {
		t.Error("Expected undeclared body to report false")
	}
}

func TestRequiredInBytes(t *testing.T) {
	required, err := RequiredInBytes([]byte(`{"x402Version":1}`))
	if err != nil || required {
		t.Errorf("Expected v1 body not to require an ID, got %v err %v", required, err)
	}

	required, err = RequiredInBytes([]byte(`{"x402Version":2,"accepts":[],` +
		`"extensions":{"payment-identifier":{"required":true}}}`))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !required {
		t.Error("Expected required declaration to be seen")
	}

	if _, err = RequiredInBytes([]byte(`nope`)); err == nil {
		t.Error("Expected error for malformed JSON")
	}
}
