package paymentidentifier

import (
	"context"
	"net/http"
	"testing"
	"time"

	x402 "github.com/x402-foundation/x402-go/v2"
)

const testID = "pay_7d5d747be160e280504c099d984bcfe0"

func protectedRequest(payload *x402.PaymentPayload) x402.ProtectedRequestContext {
	return x402.ProtectedRequestContext{
		Ctx:     context.Background(),
		Method:  "GET",
		Path:    "/protected",
		Payload: payload,
	}
}

func settleResult(payload x402.PaymentPayload, success bool) x402.SettleResultContext {
	return x402.SettleResultContext{
		SettleContext: x402.SettleContext{
			Ctx:       context.Background(),
			Payload:   payload,
			Timestamp: time.Now(),
		},
		Result: x402.SettleResponse{
			Success:     success,
			Transaction: "0xsettled",
			Network:     "eip155:8453",
		},
	}
}

func TestServerExtensionKey(t *testing.T) {
	if NewServerExtension().Key() != ExtensionKey {
		t.Errorf("Expected key %s", ExtensionKey)
	}
}

func TestEnrichDeclaration(t *testing.T) {
	optional := NewServerExtension()
	declaration, ok := optional.EnrichDeclaration(map[string]interface{}{}, nil).(Declaration)
	if !ok {
		t.Fatal("Expected a Declaration")
	}
	if declaration.Required {
		t.Error("Expected optional declaration by default")
	}

	required := NewServerExtension(WithRequired(true))
	declaration = required.EnrichDeclaration(nil, nil).(Declaration)
	if !declaration.Required {
		t.Error("Expected required declaration")
	}

	// A route that already declares required keeps it.
	declaration = optional.EnrichDeclaration(map[string]interface{}{"required": true}, nil).(Declaration)
	if !declaration.Required {
		t.Error("Expected route-level required to be kept")
	}
}

func TestOnProtectedRequest_NoPayload(t *testing.T) {
	extension := NewServerExtension()

	result, err := extension.OnProtectedRequest(protectedRequest(nil))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result != nil {
		t.Error("Expected no intervention without a payload")
	}
}

func TestOnProtectedRequest_FirstUseProceeds(t *testing.T) {
	extension := NewServerExtension()
	payload := payloadWithID(testID)

	result, err := extension.OnProtectedRequest(protectedRequest(&payload))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result != nil {
		t.Errorf("Expected first use to proceed, got %+v", result)
	}
	if extension.Settled(testID) {
		t.Error("Expected identifier not to be settled yet")
	}
}

func TestOnProtectedRequest_ReplayAfterSettleGrantsAccess(t *testing.T) {
	extension := NewServerExtension()
	payload := payloadWithID(testID)

	if result, _ := extension.OnProtectedRequest(protectedRequest(&payload)); result != nil {
		t.Fatalf("Expected first request to proceed, got %+v", result)
	}
	if err := extension.OnAfterSettle(settleResult(payload, true)); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !extension.Settled(testID) {
		t.Fatal("Expected identifier to be settled")
	}

	result, err := extension.OnProtectedRequest(protectedRequest(&payload))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result == nil || !result.GrantAccess {
		t.Errorf("Expected replay to grant access, got %+v", result)
	}
}

func TestOnProtectedRequest_ConflictOnDifferentFingerprint(t *testing.T) {
	extension := NewServerExtension()
	payload := payloadWithID(testID)

	if result, _ := extension.OnProtectedRequest(protectedRequest(&payload)); result != nil {
		t.Fatalf("Expected first request to proceed, got %+v", result)
	}

	reused := payloadWithID(testID)
	reused.Payload["nonce"] = "0xdifferent"

	result, err := extension.OnProtectedRequest(protectedRequest(&reused))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result == nil || !result.Abort {
		t.Fatalf("Expected conflict abort, got %+v", result)
	}
	if result.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409, got %d", result.StatusCode)
	}
}

func TestOnProtectedRequest_PendingDuplicateProceeds(t *testing.T) {
	extension := NewServerExtension()
	payload := payloadWithID(testID)

	if result, _ := extension.OnProtectedRequest(protectedRequest(&payload)); result != nil {
		t.Fatalf("Expected first request to proceed, got %+v", result)
	}

	// Identical payload before settlement: the normal flow runs and
	// facilitator-side deduplication covers the duplicate.
	result, err := extension.OnProtectedRequest(protectedRequest(&payload))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result != nil {
		t.Errorf("Expected pending duplicate to proceed, got %+v", result)
	}
}

func TestOnProtectedRequest_RequiredMissing(t *testing.T) {
	extension := NewServerExtension(WithRequired(true))
	payload := payloadWithID("")

	result, err := extension.OnProtectedRequest(protectedRequest(&payload))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result == nil || !result.Abort {
		t.Fatalf("Expected abort for missing required ID, got %+v", result)
	}
	if result.StatusCode != 0 {
		t.Errorf("Expected default status, got %d", result.StatusCode)
	}
}

func TestOnProtectedRequest_MalformedID(t *testing.T) {
	extension := NewServerExtension()
	payload := payloadWithID("nope")

	result, err := extension.OnProtectedRequest(protectedRequest(&payload))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result == nil || !result.Abort {
		t.Errorf("Expected abort for malformed ID, got %+v", result)
	}
}

func TestOnAfterSettle_FailureNotRecorded(t *testing.T) {
	extension := NewServerExtension()
	payload := payloadWithID(testID)

	if err := extension.OnAfterSettle(settleResult(payload, false)); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if extension.Settled(testID) {
		t.Error("Expected failed settlement not to mark the identifier")
	}
}

func TestRecordExpiry(t *testing.T) {
	extension := NewServerExtension(WithRecordTTL(50 * time.Millisecond))
	payload := payloadWithID(testID)

	if result, _ := extension.OnProtectedRequest(protectedRequest(&payload)); result != nil {
		t.Fatalf("Expected first request to proceed, got %+v", result)
	}

	time.Sleep(60 * time.Millisecond)

	// The record has expired, so a different payload under the same
	// identifier is treated as fresh.
	reused := payloadWithID(testID)
	reused.Payload["nonce"] = "0xdifferent"
	result, err := extension.OnProtectedRequest(protectedRequest(&reused))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result != nil {
		t.Errorf("Expected expired record to be forgotten, got %+v", result)
	}
}
