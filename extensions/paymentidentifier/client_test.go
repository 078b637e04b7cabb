package paymentidentifier

import (
	"context"
	"strings"
	"testing"

	x402 "github.com/x402-foundation/x402-go/v2"
)

func declaring402() x402.PaymentRequired {
	return x402.PaymentRequired{
		X402Version: 2,
		Accepts: []x402.PaymentRequirements{{
			Scheme:  "exact",
			Network: "eip155:8453",
			Amount:  "10000",
			Extensions: map[string]interface{}{
				ExtensionKey: map[string]interface{}{"required": true},
			},
		}},
	}
}

func TestClientExtensionKey(t *testing.T) {
	if NewClientExtension().Key() != ExtensionKey {
		t.Errorf("Expected key %s", ExtensionKey)
	}
}

func TestEnrichPaymentPayload_AttachesWhenDeclared(t *testing.T) {
	extension := NewClientExtension()
	payload := payloadWithID("")

	enriched, err := extension.EnrichPaymentPayload(context.Background(), payload, declaring402())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	id, err := ExtractID(enriched, true)
	if err != nil {
		t.Fatalf("Expected valid attached ID, got %v", err)
	}
	if !strings.HasPrefix(id, "pay_") {
		t.Errorf("Expected pay_ prefix, got %s", id)
	}

	// The original payload is not mutated.
	if payload.Extensions != nil {
		t.Error("Expected original payload to stay untouched")
	}
}

func TestEnrichPaymentPayload_SkipsWhenNotDeclared(t *testing.T) {
	extension := NewClientExtension()
	payload := payloadWithID("")

	undeclared := x402.PaymentRequired{
		X402Version: 2,
		Accepts: []x402.PaymentRequirements{{
			Scheme:  "exact",
			Network: "eip155:8453",
		}},
	}

	enriched, err := extension.EnrichPaymentPayload(context.Background(), payload, undeclared)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if HasID(enriched) {
		t.Error("Expected no ID when the 402 does not declare the extension")
	}
}

func TestEnrichPaymentPayload_KeepsExistingID(t *testing.T) {
	extension := NewClientExtension()
	payload := payloadWithID(testID)

	enriched, err := extension.EnrichPaymentPayload(context.Background(), payload, declaring402())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	id, err := ExtractID(enriched, true)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if id != testID {
		t.Errorf("Expected existing ID to be kept, got %s", id)
	}
}

func TestEnrichPaymentPayload_V1PassThrough(t *testing.T) {
	extension := NewClientExtension()
	payload := x402.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "base-sepolia",
		Payload:     map[string]interface{}{},
	}

	enriched, err := extension.EnrichPaymentPayload(context.Background(), payload, declaring402())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if enriched.Extensions != nil {
		t.Error("Expected v1 payload to pass through unchanged")
	}
}

func TestClientExtensionOptions(t *testing.T) {
	prefixed := NewClientExtension(WithPrefix("ord_"))
	enriched, err := prefixed.EnrichPaymentPayload(context.Background(), payloadWithID(""), declaring402())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	id, _ := ExtractID(enriched, false)
	if !strings.HasPrefix(id, "ord_") {
		t.Errorf("Expected ord_ prefix, got %s", id)
	}

	fixed := NewClientExtension(WithIDGenerator(func() string { return testID }))
	enriched, err = fixed.EnrichPaymentPayload(context.Background(), payloadWithID(""), declaring402())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	id, _ = ExtractID(enriched, false)
	if id != testID {
		t.Errorf("Expected fixed ID, got %s", id)
	}
}
