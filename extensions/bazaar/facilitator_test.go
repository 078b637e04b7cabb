package bazaar

import (
	"encoding/json"
	"strings"
	"testing"

	x402 "github.com/x402-foundation/x402-go/v2"
)

func queryDeclaration() Declaration {
	return DeclareResource(DiscoveryInfo{
		Input: &RequestSpec{
			Type:        TransportHTTP,
			Method:      "GET",
			QueryParams: map[string]interface{}{"symbol": "ticker symbol to quote"},
		},
		Output: &ResponseSpec{
			Example: map[string]interface{}{"price": "42.10"},
		},
		Metadata: &ResourceMetadata{
			Name:     "Price feed",
			Category: "data",
			Provider: "Example Labs",
		},
	})
}

func discoveryRequirements() x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            "exact",
		Network:           "eip155:8453",
		Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Amount:            "10000",
		PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		MaxTimeoutSeconds: 60,
		Resource:          "https://api.example.com/price",
	}
}

func paymentWithDeclaration(declaration interface{}) x402.PaymentPayload {
	payload := x402.PaymentPayload{
		X402Version: 2,
		Scheme:      "exact",
		Network:     "eip155:8453",
		Payload:     map[string]interface{}{"nonce": "0xabc123"},
	}
	if declaration != nil {
		payload.Extensions = map[string]interface{}{ExtensionKey: declaration}
	}
	return payload
}

// declarationAsMap round-trips a declaration through JSON, producing
// the shape a decoded request would carry.
func declarationAsMap(t *testing.T, declaration Declaration) map[string]interface{} {
	t.Helper()
	data, err := json.Marshal(declaration)
	if err != nil {
		t.Fatalf("marshal declaration: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal declaration: %v", err)
	}
	return m
}

func TestValidateDeclaration_Valid(t *testing.T) {
	result := ValidateDeclaration(queryDeclaration())
	if !result.Valid {
		t.Fatalf("expected valid declaration, got errors: %v", result.Errors)
	}
}

func TestValidateDeclaration_MissingInput(t *testing.T) {
	result := ValidateDeclaration(Declaration{})
	if result.Valid {
		t.Fatal("expected declaration without input to fail validation")
	}
	if len(result.Errors) == 0 {
		t.Fatal("expected validation errors")
	}
}

func TestValidateDeclaration_CustomSchema(t *testing.T) {
	declaration := queryDeclaration()
	declaration.Schema = map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"input", "metadata"},
	}

	result := ValidateDeclaration(declaration)
	if !result.Valid {
		t.Fatalf("expected declaration with metadata to pass, got: %v", result.Errors)
	}

	declaration.Info.Metadata = nil
	result = ValidateDeclaration(declaration)
	if result.Valid {
		t.Fatal("expected declaration without metadata to fail the custom schema")
	}
}

func TestExtractDiscoveryInfo_V2(t *testing.T) {
	payload := paymentWithDeclaration(queryDeclaration())

	discovered, err := ExtractDiscoveryInfo(payload, discoveryRequirements(), true)
	if err != nil {
		t.Fatalf("ExtractDiscoveryInfo: %v", err)
	}
	if discovered == nil {
		t.Fatal("expected a discovered resource")
	}
	if discovered.Resource != "https://api.example.com/price" {
		t.Errorf("wrong resource: %s", discovered.Resource)
	}
	if discovered.Method != "GET" {
		t.Errorf("wrong method: %s", discovered.Method)
	}
	if discovered.X402Version != 2 {
		t.Errorf("wrong version: %d", discovered.X402Version)
	}
	if discovered.Info == nil || discovered.Info.Metadata == nil || discovered.Info.Metadata.Name != "Price feed" {
		t.Error("discovery info not carried through")
	}
}

func TestExtractDiscoveryInfo_V2MapDeclaration(t *testing.T) {
	payload := paymentWithDeclaration(declarationAsMap(t, queryDeclaration()))

	discovered, err := ExtractDiscoveryInfo(payload, discoveryRequirements(), true)
	if err != nil {
		t.Fatalf("ExtractDiscoveryInfo: %v", err)
	}
	if discovered == nil || discovered.Method != "GET" {
		t.Fatal("expected the decoded declaration to extract")
	}
}

func TestExtractDiscoveryInfo_NoDeclaration(t *testing.T) {
	payload := paymentWithDeclaration(nil)

	discovered, err := ExtractDiscoveryInfo(payload, discoveryRequirements(), true)
	if err != nil {
		t.Fatalf("ExtractDiscoveryInfo: %v", err)
	}
	if discovered != nil {
		t.Fatal("expected nil for a payload without the extension")
	}
}

func TestExtractDiscoveryInfo_ValidationGate(t *testing.T) {
	declaration := queryDeclaration()
	declaration.Schema = map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"nope"},
	}
	payload := paymentWithDeclaration(declaration)

	if _, err := ExtractDiscoveryInfo(payload, discoveryRequirements(), true); err == nil {
		t.Fatal("expected validation failure with validate=true")
	}

	discovered, err := ExtractDiscoveryInfo(payload, discoveryRequirements(), false)
	if err != nil {
		t.Fatalf("validate=false should skip the schema: %v", err)
	}
	if discovered == nil || discovered.Method != "GET" {
		t.Fatal("expected extraction to proceed without validation")
	}
}

func TestExtractDiscoveryInfo_MethodMissing(t *testing.T) {
	declaration := DeclareResource(DiscoveryInfo{
		Input: &RequestSpec{Type: TransportHTTP},
	})
	payload := paymentWithDeclaration(declaration)

	_, err := ExtractDiscoveryInfo(payload, discoveryRequirements(), true)
	if err == nil {
		t.Fatal("expected an error when no method is declared")
	}
	if !strings.Contains(err.Error(), "method") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestExtractDiscoveryInfo_V1Discoverable(t *testing.T) {
	requirements := discoveryRequirements()
	requirements.OutputSchema = json.RawMessage(`{
		"input": {
			"type": "http",
			"method": "POST",
			"discoverable": true,
			"discoveryInput": {
				"schema": {"symbol": {"type": "string"}}
			}
		},
		"discoveryOutput": {
			"example": {"price": "42.10"}
		},
		"metadata": {"name": "Price feed", "category": "data"}
	}`)
	payload := x402.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "base",
		Payload:     map[string]interface{}{"signature": "0xsig"},
	}

	discovered, err := ExtractDiscoveryInfo(payload, requirements, true)
	if err != nil {
		t.Fatalf("ExtractDiscoveryInfo: %v", err)
	}
	if discovered == nil {
		t.Fatal("expected a discovered resource from v1 outputSchema")
	}
	if discovered.Method != "POST" {
		t.Errorf("wrong method: %s", discovered.Method)
	}
	if discovered.X402Version != 1 {
		t.Errorf("wrong version: %d", discovered.X402Version)
	}
	input := discovered.Info.Input
	if input == nil || input.BodyType != "json" || input.Body == nil {
		t.Error("POST discovery input should map to a body spec")
	}
	if discovered.Info.Output == nil || discovered.Info.Output.Example == nil {
		t.Error("discoveryOutput not mapped")
	}
	if discovered.Info.Metadata == nil || discovered.Info.Metadata.Name != "Price feed" {
		t.Error("metadata not mapped")
	}
}

func TestExtractDiscoveryInfo_V1QueryInput(t *testing.T) {
	requirements := discoveryRequirements()
	requirements.OutputSchema = json.RawMessage(`{
		"input": {
			"method": "GET",
			"discoverable": true,
			"discoveryInput": {"schema": {"symbol": {"type": "string"}}}
		}
	}`)
	payload := x402.PaymentPayload{X402Version: 1, Scheme: "exact", Network: "base"}

	discovered, err := ExtractDiscoveryInfo(payload, requirements, true)
	if err != nil {
		t.Fatalf("ExtractDiscoveryInfo: %v", err)
	}
	if discovered == nil {
		t.Fatal("expected a discovered resource")
	}
	input := discovered.Info.Input
	if input.Type != TransportHTTP {
		t.Errorf("missing type should default to http, got %q", input.Type)
	}
	if input.QueryParams == nil || input.Body != nil {
		t.Error("GET discovery input should map to query params")
	}
}

func TestExtractDiscoveryInfo_V1NotDiscoverable(t *testing.T) {
	requirements := discoveryRequirements()
	requirements.OutputSchema = json.RawMessage(`{"input": {"type": "http", "method": "GET"}}`)
	payload := x402.PaymentPayload{X402Version: 1, Scheme: "exact", Network: "base"}

	discovered, err := ExtractDiscoveryInfo(payload, requirements, true)
	if err != nil {
		t.Fatalf("ExtractDiscoveryInfo: %v", err)
	}
	if discovered != nil {
		t.Fatal("undiscoverable v1 requirements should yield nil")
	}
}

func TestExtractDiscoveryInfo_V1NoOutputSchema(t *testing.T) {
	payload := x402.PaymentPayload{X402Version: 1, Scheme: "exact", Network: "base"}

	discovered, err := ExtractDiscoveryInfo(payload, discoveryRequirements(), true)
	if err != nil {
		t.Fatalf("ExtractDiscoveryInfo: %v", err)
	}
	if discovered != nil {
		t.Fatal("expected nil without an outputSchema")
	}
}

func TestExtractDiscoveryInfo_UnsupportedVersion(t *testing.T) {
	payload := x402.PaymentPayload{X402Version: 3, Scheme: "exact", Network: "eip155:8453"}

	if _, err := ExtractDiscoveryInfo(payload, discoveryRequirements(), true); err == nil {
		t.Fatal("expected an error for an unknown version")
	}
}

func TestExtractFromDeclaration(t *testing.T) {
	info, err := ExtractFromDeclaration(queryDeclaration(), true)
	if err != nil {
		t.Fatalf("ExtractFromDeclaration: %v", err)
	}
	if info == nil || info.Input == nil || info.Input.Method != "GET" {
		t.Fatal("info not extracted")
	}

	if _, err := ExtractFromDeclaration(Declaration{}, true); err == nil {
		t.Fatal("expected an invalid declaration to error")
	}
	if _, err := ExtractFromDeclaration(Declaration{}, false); err != nil {
		t.Fatalf("validate=false should not error: %v", err)
	}
}

func TestValidMethod(t *testing.T) {
	for _, method := range []string{"GET", "DELETE", "POST", "PUT", "PATCH"} {
		if !ValidMethod(method) {
			t.Errorf("%s should be valid", method)
		}
	}
	for _, method := range []string{"TRACE", "OPTIONS", "", "get"} {
		if ValidMethod(method) {
			t.Errorf("%s should not be valid", method)
		}
	}
}

func TestDeclareResource(t *testing.T) {
	declaration := DeclareResource(DiscoveryInfo{
		Input: &RequestSpec{Type: TransportHTTP, Method: "GET"},
	})
	if declaration.Schema == nil {
		t.Fatal("DeclareResource should attach the default schema")
	}
	if declaration.Info.Input == nil || declaration.Info.Input.Method != "GET" {
		t.Fatal("info not preserved")
	}
	if result := ValidateDeclaration(declaration); !result.Valid {
		t.Fatalf("declared resource should validate: %v", result.Errors)
	}
}
