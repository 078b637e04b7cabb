package mcp

import (
	"context"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	x402 "github.com/x402-foundation/x402-go/v2"
)

type stubFacilitator struct {
	verify    func(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error)
	settle    func(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error)
	supported func(ctx context.Context) (x402.SupportedResponse, error)
}

func (s *stubFacilitator) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	if s.verify != nil {
		return s.verify(ctx, payload, requirements)
	}
	return x402.VerifyResponse{IsValid: true, Payer: "0xpayer"}, nil
}

func (s *stubFacilitator) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	if s.settle != nil {
		return s.settle(ctx, payload, requirements)
	}
	return x402.SettleResponse{Success: true, Transaction: "0xtx", Network: requirements.Network}, nil
}

func (s *stubFacilitator) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	if s.supported != nil {
		return s.supported(ctx)
	}
	return x402.SupportedResponse{
		Kinds: []x402.SupportedKind{
			{X402Version: 1, Scheme: "exact", Network: "eip155:1"},
			{X402Version: 2, Scheme: "exact", Network: "eip155:1"},
		},
	}, nil
}

func (s *stubFacilitator) Identifier() string {
	return "stub"
}

type stubSchemeServer struct{}

func (s *stubSchemeServer) Scheme() string {
	return "exact"
}

func (s *stubSchemeServer) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	return x402.AssetAmount{
		Asset:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Amount: "1000000",
	}, nil
}

func (s *stubSchemeServer) EnhancePaymentRequirements(ctx context.Context, base x402.PaymentRequirements, supported x402.SupportedKind, extensions []string) (x402.PaymentRequirements, error) {
	return base, nil
}

func paidWrapper(facilitator *stubFacilitator) *PaymentWrapper {
	service := x402.NewX402ResourceService(
		x402.WithFacilitatorClient(facilitator),
		x402.WithSchemeServer("eip155:1", &stubSchemeServer{}),
	)
	return NewPaymentWrapper(service, ToolConfig{
		Scheme:  "exact",
		PayTo:   "0xtest",
		Price:   "$1.00",
		Network: "eip155:1",
	})
}

func toolRequest(meta mcpsdk.Meta) *mcpsdk.CallToolRequest {
	return &mcpsdk.CallToolRequest{
		Params: &mcpsdk.CallToolParamsRaw{
			Name: "get_weather",
			Meta: meta,
		},
	}
}

func paidToolRequest() *mcpsdk.CallToolRequest {
	return toolRequest(mcpsdk.Meta{MetaKeyPayment: x402.PaymentPayload{
		X402Version: 2,
		Scheme:      "exact",
		Network:     "eip155:1",
		Payload:     map[string]interface{}{"signature": "0xsig"},
	}})
}

func okHandler(text string) ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
		}, nil
	}
}

func TestNewPaymentWrapperPanicsWithoutPricing(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for unpriced tool config")
		}
	}()
	NewPaymentWrapper(x402.NewX402ResourceService(), ToolConfig{Scheme: "exact"})
}

func TestWrapChallenge(t *testing.T) {
	wrapped := paidWrapper(&stubFacilitator{}).Wrap(func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		t.Error("Handler should not run without payment")
		return nil, nil
	})

	result, err := wrapped(context.Background(), toolRequest(nil))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("Expected error result for unpaid call")
	}

	required, ok := PaymentRequiredFromResult(result)
	if !ok {
		t.Fatal("Expected decodable challenge in result")
	}
	if len(required.Accepts) == 0 {
		t.Fatal("Expected accepts in challenge")
	}
	if required.Accepts[0].Amount != "1000000" {
		t.Errorf("Expected parsed amount, got %s", required.Accepts[0].Amount)
	}
	if required.Accepts[0].Resource != "mcp://tool/get_weather" {
		t.Errorf("Expected resource defaulted to tool URL, got %s", required.Accepts[0].Resource)
	}
}

func TestWrapUndecodablePayment(t *testing.T) {
	wrapped := paidWrapper(&stubFacilitator{}).Wrap(func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		t.Error("Handler should not run for undecodable payment")
		return nil, nil
	})

	result, err := wrapped(context.Background(), toolRequest(mcpsdk.Meta{MetaKeyPayment: "garbage!!!"}))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	required, ok := PaymentRequiredFromResult(result)
	if !ok {
		t.Fatalf("Expected challenge for undecodable payment, got %+v", result)
	}
	if required.Error != "invalid_payload" {
		t.Errorf("Expected invalid_payload, got %s", required.Error)
	}
}

func TestWrapVerificationFailure(t *testing.T) {
	facilitator := &stubFacilitator{
		verify: func(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
			return x402.VerifyResponse{IsValid: false, InvalidReason: "invalid_signature"}, nil
		},
	}

	wrapped := paidWrapper(facilitator).Wrap(func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		t.Error("Handler should not run for invalid payment")
		return nil, nil
	})

	result, err := wrapped(context.Background(), paidToolRequest())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	required, ok := PaymentRequiredFromResult(result)
	if !ok {
		t.Fatal("Expected challenge for invalid payment")
	}
	if required.Error != "invalid_signature" {
		t.Errorf("Expected verification reason, got %s", required.Error)
	}
}

func TestWrapSettlesAfterHandler(t *testing.T) {
	var events []string
	facilitator := &stubFacilitator{
		settle: func(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
			events = append(events, "settle")
			return x402.SettleResponse{Success: true, Transaction: "0xtx", Network: "eip155:1", Payer: "0xpayer"}, nil
		},
	}

	wrapped := paidWrapper(facilitator).Wrap(func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		events = append(events, "handler")
		if _, ok := PaymentFromContext(ctx); !ok {
			t.Error("Expected payment payload in handler context")
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "sunny"}},
		}, nil
	})

	result, err := wrapped(context.Background(), paidToolRequest())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("Unexpected error result %+v", result)
	}
	if len(events) != 2 || events[0] != "handler" || events[1] != "settle" {
		t.Errorf("Expected handler before settle, got %v", events)
	}

	receipt, ok := ReceiptFromMeta(map[string]interface{}(result.Meta))
	if !ok {
		t.Fatal("Expected receipt in result meta")
	}
	if !receipt.Success || receipt.Transaction != "0xtx" {
		t.Errorf("Unexpected receipt %+v", receipt)
	}
}

func TestWrapHandlerErrorSkipsSettlement(t *testing.T) {
	settled := false
	facilitator := &stubFacilitator{
		settle: func(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
			settled = true
			return x402.SettleResponse{Success: true}, nil
		},
	}

	wrapped := paidWrapper(facilitator).Wrap(func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return nil, context.DeadlineExceeded
	})

	if _, err := wrapped(context.Background(), paidToolRequest()); err == nil {
		t.Fatal("Expected handler error passthrough")
	}
	if settled {
		t.Error("Settlement must not run for failed handlers")
	}
}

func TestWrapToolErrorSkipsSettlement(t *testing.T) {
	settled := false
	facilitator := &stubFacilitator{
		settle: func(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
			settled = true
			return x402.SettleResponse{Success: true}, nil
		},
	}

	wrapped := paidWrapper(facilitator).Wrap(func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return &mcpsdk.CallToolResult{
			IsError: true,
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "tool exploded"}},
		}, nil
	})

	result, err := wrapped(context.Background(), paidToolRequest())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("Expected tool error to pass through")
	}
	if settled {
		t.Error("Settlement must not run for tool errors")
	}
	if _, ok := ReceiptFromMeta(map[string]interface{}(result.Meta)); ok {
		t.Error("No receipt expected for tool errors")
	}
}

func TestWrapSettleFailureKeepsResult(t *testing.T) {
	facilitator := &stubFacilitator{
		settle: func(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
			return x402.SettleResponse{Success: false, ErrorReason: "insufficient_balance", Network: "eip155:1"}, nil
		},
	}

	wrapped := paidWrapper(facilitator).Wrap(okHandler("sunny"))

	result, err := wrapped(context.Background(), paidToolRequest())

	// The handler already did the work, so the call succeeds and the
	// failure rides the receipt.
	if err != nil {
		t.Fatalf("Settle failure must not fail the call: %v", err)
	}
	if result.IsError {
		t.Fatalf("Unexpected error result %+v", result)
	}

	receipt, ok := ReceiptFromMeta(map[string]interface{}(result.Meta))
	if !ok {
		t.Fatal("Expected receipt in result meta")
	}
	if receipt.Success {
		t.Error("Expected success false in receipt")
	}
	if receipt.ErrorReason != "insufficient_balance" {
		t.Errorf("Expected insufficient_balance, got %s", receipt.ErrorReason)
	}
}

func TestWrapCustomResource(t *testing.T) {
	service := x402.NewX402ResourceService(
		x402.WithFacilitatorClient(&stubFacilitator{}),
		x402.WithSchemeServer("eip155:1", &stubSchemeServer{}),
	)
	wrapper := NewPaymentWrapper(service, ToolConfig{
		Scheme:   "exact",
		PayTo:    "0xtest",
		Price:    "$1.00",
		Network:  "eip155:1",
		Resource: "https://api.example.com/weather",
	})

	result, err := wrapper.Wrap(okHandler("sunny"))(context.Background(), toolRequest(nil))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	required, ok := PaymentRequiredFromResult(result)
	if !ok {
		t.Fatal("Expected challenge")
	}
	if required.Accepts[0].Resource != "https://api.example.com/weather" {
		t.Errorf("Expected configured resource, got %s", required.Accepts[0].Resource)
	}
}

func TestPaymentFromContext(t *testing.T) {
	payload := &x402.PaymentPayload{X402Version: 2, Scheme: "exact"}
	ctx := context.WithValue(context.Background(), PaymentContextKey, payload)

	got, ok := PaymentFromContext(ctx)
	if !ok || got != payload {
		t.Errorf("Expected payload from context, got %v, %v", got, ok)
	}

	if _, ok := PaymentFromContext(context.Background()); ok {
		t.Error("Expected no payload without wrapper")
	}
}
