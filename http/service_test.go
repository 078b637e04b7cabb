package http

import (
	"context"
	"strings"
	"testing"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// Mock HTTP adapter for testing
type mockHTTPAdapter struct {
	headers map[string]string
	method  string
	path    string
	url     string
	accept  string
	agent   string
}

func (m *mockHTTPAdapter) GetHeader(name string) string {
	if m.headers == nil {
		return ""
	}
	return m.headers[name]
}

func (m *mockHTTPAdapter) GetMethod() string {
	return m.method
}

func (m *mockHTTPAdapter) GetPath() string {
	return m.path
}

func (m *mockHTTPAdapter) GetURL() string {
	return m.url
}

func (m *mockHTTPAdapter) GetAcceptHeader() string {
	return m.accept
}

func (m *mockHTTPAdapter) GetUserAgent() string {
	return m.agent
}

func TestNewX402HTTPResourceService(t *testing.T) {
	routes := RoutesConfig{
		"GET /api": RouteConfig{
			Scheme:  "exact",
			PayTo:   "0xtest",
			Price:   "$1.00",
			Network: "eip155:1",
		},
	}

	service := NewX402HTTPResourceService(routes)
	if service == nil {
		t.Fatal("Expected service to be created")
	}
	if service.X402ResourceService == nil {
		t.Fatal("Expected embedded resource service")
	}
	if len(service.compiledRoutes) != 1 {
		t.Fatal("Expected 1 compiled route")
	}
}

func TestProcessHTTPRequestNoPaymentRequired(t *testing.T) {
	ctx := context.Background()

	routes := RoutesConfig{
		"GET /api": RouteConfig{
			Scheme:  "exact",
			PayTo:   "0xtest",
			Price:   "$1.00",
			Network: "eip155:1",
		},
	}

	service := NewX402HTTPResourceService(routes)

	// Request to non-protected path
	adapter := &mockHTTPAdapter{
		method: "GET",
		path:   "/public",
		url:    "http://example.com/public",
	}

	reqCtx := HTTPRequestContext{
		Adapter: adapter,
		Path:    "/public",
		Method:  "GET",
	}

	result := service.ProcessHTTPRequest(ctx, reqCtx, nil)

	if result.Type != ResultNoPaymentRequired {
		t.Errorf("Expected no payment required, got %s", result.Type)
	}
}

func TestProcessHTTPRequestPaymentRequired(t *testing.T) {
	ctx := context.Background()

	routes := RoutesConfig{
		"GET /api": RouteConfig{
			Scheme:      "exact",
			PayTo:       "0xtest",
			Price:       "$1.00",
			Network:     "eip155:1",
			Description: "API access",
		},
	}

	mockServer := &mockSchemeServer{
		scheme: "exact",
		parsePrice: func(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
			return x402.AssetAmount{
				Asset:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
				Amount: "1000000",
			}, nil
		},
	}

	mockClient := &mockFacilitatorClient{
		supported: func(ctx context.Context) (x402.SupportedResponse, error) {
			return x402.SupportedResponse{
				Kinds: []x402.SupportedKind{
					{
						X402Version: 2,
						Scheme:      "exact",
						Network:     "eip155:1",
					},
				},
			}, nil
		},
	}

	service := NewX402HTTPResourceService(
		routes,
		x402.WithFacilitatorClient(mockClient),
		x402.WithSchemeServer("eip155:1", mockServer),
	)
	if err := service.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	// Request to protected path without payment
	adapter := &mockHTTPAdapter{
		method: "GET",
		path:   "/api",
		url:    "http://example.com/api",
		accept: "application/json",
	}

	reqCtx := HTTPRequestContext{
		Adapter: adapter,
		Path:    "/api",
		Method:  "GET",
	}

	result := service.ProcessHTTPRequest(ctx, reqCtx, nil)

	if result.Type != ResultPaymentError {
		t.Errorf("Expected payment error, got %s", result.Type)
	}
	if result.Response == nil {
		t.Fatal("Expected response instructions")
	}
	if result.Response.Status != 402 {
		t.Errorf("Expected status 402, got %d", result.Response.Status)
	}
	if result.Response.Headers["Content-Type"] != "application/json" {
		t.Errorf("Expected application/json content type, got %s", result.Response.Headers["Content-Type"])
	}

	required, ok := result.Response.Body.(x402.PaymentRequired)
	if !ok {
		t.Fatalf("Expected PaymentRequired body, got %T", result.Response.Body)
	}
	if required.X402Version != 2 {
		t.Errorf("Expected x402Version 2, got %d", required.X402Version)
	}
	if len(required.Accepts) != 1 {
		t.Fatalf("Expected 1 accepted requirement, got %d", len(required.Accepts))
	}
	if required.Accepts[0].Scheme != "exact" {
		t.Errorf("Expected scheme exact, got %s", required.Accepts[0].Scheme)
	}
	if required.Accepts[0].Amount != "1000000" {
		t.Errorf("Expected amount 1000000, got %s", required.Accepts[0].Amount)
	}
}

func TestProcessHTTPRequestWithBrowser(t *testing.T) {
	ctx := context.Background()

	routes := RoutesConfig{
		"*": RouteConfig{
			Scheme:      "exact",
			PayTo:       "0xtest",
			Price:       "$5.00",
			Network:     "eip155:1",
			Description: "Premium content",
		},
	}

	mockServer := &mockSchemeServer{scheme: "exact"}
	mockClient := &mockFacilitatorClient{}

	service := NewX402HTTPResourceService(
		routes,
		x402.WithFacilitatorClient(mockClient),
		x402.WithSchemeServer("eip155:1", mockServer),
	)
	if err := service.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	// Browser request without payment
	adapter := &mockHTTPAdapter{
		method: "GET",
		path:   "/content",
		url:    "http://example.com/content",
		accept: "text/html,application/xhtml+xml",
		agent:  "Mozilla/5.0",
	}

	reqCtx := HTTPRequestContext{
		Adapter: adapter,
		Path:    "/content",
		Method:  "GET",
	}

	paywallConfig := &PaywallConfig{
		AppName:      "Test App",
		CDPClientKey: "test-key",
	}

	result := service.ProcessHTTPRequest(ctx, reqCtx, paywallConfig)

	if result.Type != ResultPaymentError {
		t.Errorf("Expected payment error, got %s", result.Type)
	}
	if result.Response == nil {
		t.Fatal("Expected response instructions")
	}
	if !result.Response.IsHTML {
		t.Error("Expected HTML response")
	}
	if !strings.HasPrefix(result.Response.Headers["Content-Type"], "text/html") {
		t.Error("Expected text/html content type")
	}

	// Check HTML contains expected elements
	html := result.Response.Body.(string)
	if !strings.Contains(html, "Payment Required") {
		t.Error("Expected 'Payment Required' in HTML")
	}
	if !strings.Contains(html, "Test App") {
		t.Error("Expected app name in HTML")
	}
	if !strings.Contains(html, "test-key") {
		t.Error("Expected CDP client key in HTML")
	}
}

func TestProcessHTTPRequestWithPaymentVerified(t *testing.T) {
	ctx := context.Background()

	routes := RoutesConfig{
		"POST /api": RouteConfig{
			Scheme:  "exact",
			PayTo:   "0xtest",
			Price:   "$1.00",
			Network: "eip155:1",
		},
	}

	mockServer := &mockSchemeServer{scheme: "exact"}
	mockClient := &mockFacilitatorClient{
		verify: func(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
			return x402.VerifyResponse{
				IsValid: true,
				Payer:   "0xpayer",
			}, nil
		},
	}

	service := NewX402HTTPResourceService(
		routes,
		x402.WithFacilitatorClient(mockClient),
		x402.WithSchemeServer("eip155:1", mockServer),
	)
	if err := service.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	paymentPayload := x402.PaymentPayload{
		X402Version: 2,
		Scheme:      "exact",
		Network:     "eip155:1",
		Payload:     map[string]interface{}{"signature": "0xsig"},
	}

	encoded, err := paymentPayload.EncodeToBase64()
	if err != nil {
		t.Fatalf("Failed to encode payload: %v", err)
	}

	// Request with payment on the canonical header
	adapter := &mockHTTPAdapter{
		method: "POST",
		path:   "/api",
		url:    "http://example.com/api",
		headers: map[string]string{
			HeaderPayment: encoded,
		},
	}

	reqCtx := HTTPRequestContext{
		Adapter: adapter,
		Path:    "/api",
		Method:  "POST",
	}

	result := service.ProcessHTTPRequest(ctx, reqCtx, nil)

	if result.Type != ResultPaymentVerified {
		t.Errorf("Expected payment verified, got %s", result.Type)
	}
	if result.PaymentPayload == nil {
		t.Error("Expected payment payload")
	}
	if result.PaymentRequirements == nil {
		t.Error("Expected payment requirements")
	}
}

func TestProcessHTTPRequestPaymentSignatureAlias(t *testing.T) {
	ctx := context.Background()

	routes := RoutesConfig{
		"POST /api": RouteConfig{
			Scheme:  "exact",
			PayTo:   "0xtest",
			Price:   "$1.00",
			Network: "eip155:1",
		},
	}

	mockServer := &mockSchemeServer{scheme: "exact"}
	mockClient := &mockFacilitatorClient{}

	service := NewX402HTTPResourceService(
		routes,
		x402.WithFacilitatorClient(mockClient),
		x402.WithSchemeServer("eip155:1", mockServer),
	)
	if err := service.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	paymentPayload := x402.PaymentPayload{
		X402Version: 2,
		Scheme:      "exact",
		Network:     "eip155:1",
		Payload:     map[string]interface{}{"signature": "0xsig"},
	}
	encoded, _ := paymentPayload.EncodeToBase64()

	// Payment on the legacy alias header only
	adapter := &mockHTTPAdapter{
		method: "POST",
		path:   "/api",
		url:    "http://example.com/api",
		headers: map[string]string{
			HeaderPaymentAlias: encoded,
		},
	}

	reqCtx := HTTPRequestContext{
		Adapter: adapter,
		Path:    "/api",
		Method:  "POST",
	}

	result := service.ProcessHTTPRequest(ctx, reqCtx, nil)

	if result.Type != ResultPaymentVerified {
		t.Errorf("Expected payment verified via alias header, got %s", result.Type)
	}
}

func TestProcessHTTPRequestGrantAccess(t *testing.T) {
	ctx := context.Background()

	routes := RoutesConfig{
		"GET /api": RouteConfig{
			Scheme:  "exact",
			PayTo:   "0xtest",
			Price:   "$1.00",
			Network: "eip155:1",
		},
	}

	service := NewX402HTTPResourceService(
		routes,
		x402.WithFacilitatorClient(&mockFacilitatorClient{}),
		x402.WithSchemeServer("eip155:1", &mockSchemeServer{scheme: "exact"}),
	)
	service.OnProtectedRequest(func(pctx x402.ProtectedRequestContext) (*x402.ProtectedRequestResult, error) {
		return &x402.ProtectedRequestResult{GrantAccess: true}, nil
	})

	adapter := &mockHTTPAdapter{
		method: "GET",
		path:   "/api",
		url:    "http://example.com/api",
	}

	result := service.ProcessHTTPRequest(ctx, HTTPRequestContext{
		Adapter: adapter,
		Path:    "/api",
		Method:  "GET",
	}, nil)

	if result.Type != ResultNoPaymentRequired {
		t.Errorf("Expected granted access to skip payment, got %s", result.Type)
	}
}

func TestProcessHTTPRequestAbort(t *testing.T) {
	ctx := context.Background()

	routes := RoutesConfig{
		"GET /api": RouteConfig{
			Scheme:  "exact",
			PayTo:   "0xtest",
			Price:   "$1.00",
			Network: "eip155:1",
		},
	}

	service := NewX402HTTPResourceService(
		routes,
		x402.WithFacilitatorClient(&mockFacilitatorClient{}),
		x402.WithSchemeServer("eip155:1", &mockSchemeServer{scheme: "exact"}),
	)
	service.OnProtectedRequest(func(pctx x402.ProtectedRequestContext) (*x402.ProtectedRequestResult, error) {
		return &x402.ProtectedRequestResult{Abort: true, Reason: "blocked", StatusCode: 403}, nil
	})

	adapter := &mockHTTPAdapter{
		method: "GET",
		path:   "/api",
		url:    "http://example.com/api",
	}

	result := service.ProcessHTTPRequest(ctx, HTTPRequestContext{
		Adapter: adapter,
		Path:    "/api",
		Method:  "GET",
	}, nil)

	if result.Type != ResultPaymentError {
		t.Fatalf("Expected payment error, got %s", result.Type)
	}
	if result.Response.Status != 403 {
		t.Errorf("Expected status 403, got %d", result.Response.Status)
	}
}

func TestProcessSettlement(t *testing.T) {
	ctx := context.Background()

	mockClient := &mockFacilitatorClient{
		settle: func(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
			return x402.SettleResponse{
				Success:     true,
				Transaction: "0xtx",
				Payer:       "0xpayer",
				Network:     "eip155:1",
			}, nil
		},
	}

	service := NewX402HTTPResourceService(
		RoutesConfig{},
		x402.WithFacilitatorClient(mockClient),
	)
	if err := service.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	payload := x402.PaymentPayload{
		X402Version: 2,
		Scheme:      "exact",
		Network:     "eip155:1",
		Payload:     map[string]interface{}{},
	}

	requirements := x402.PaymentRequirements{
		Scheme:  "exact",
		Network: "eip155:1",
		Asset:   "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Amount:  "1000000",
		PayTo:   "0xtest",
	}

	// Test successful response (should settle)
	headers, err := service.ProcessSettlement(ctx, payload, requirements, 200)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if headers == nil {
		t.Fatal("Expected settlement headers")
	}
	if headers[HeaderPaymentResponse] == "" {
		t.Error("Expected X-PAYMENT-RESPONSE header")
	}

	decoded, err := x402.DecodeSettleResponseFromBase64(headers[HeaderPaymentResponse])
	if err != nil {
		t.Fatalf("Failed to decode settlement header: %v", err)
	}
	if decoded.Transaction != "0xtx" {
		t.Errorf("Expected transaction 0xtx, got %s", decoded.Transaction)
	}

	// Test failed response (should not settle)
	headers, err = service.ProcessSettlement(ctx, payload, requirements, 400)
	if err != nil {
		t.Fatalf("Unexpected error for 400: %v", err)
	}
	if headers != nil {
		t.Error("Expected no headers for failed response")
	}
}

func TestProcessSettlementFailureCarriesReceipt(t *testing.T) {
	ctx := context.Background()

	mockClient := &mockFacilitatorClient{
		settle: func(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
			return x402.SettleResponse{
				Success:     false,
				ErrorReason: "insufficient_balance",
				Network:     "eip155:1",
			}, nil
		},
	}

	service := NewX402HTTPResourceService(
		RoutesConfig{},
		x402.WithFacilitatorClient(mockClient),
	)
	if err := service.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	payload := x402.PaymentPayload{
		X402Version: 2,
		Scheme:      "exact",
		Network:     "eip155:1",
		Payload:     map[string]interface{}{},
	}
	requirements := x402.PaymentRequirements{
		Scheme:  "exact",
		Network: "eip155:1",
		Asset:   "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Amount:  "1000000",
		PayTo:   "0xtest",
	}

	// The response was already rendered, so the failure rides the
	// receipt header instead of rewriting the body.
	headers, err := service.ProcessSettlement(ctx, payload, requirements, 200)
	if err == nil {
		t.Fatal("Expected settlement error")
	}
	if headers == nil {
		t.Fatal("Expected failure receipt headers")
	}

	decoded, decodeErr := x402.DecodeSettleResponseFromBase64(headers[HeaderPaymentResponse])
	if decodeErr != nil {
		t.Fatalf("Failed to decode settlement header: %v", decodeErr)
	}
	if decoded.Success {
		t.Error("Expected success false in receipt")
	}
	if decoded.ErrorReason != "insufficient_balance" {
		t.Errorf("Expected insufficient_balance, got %s", decoded.ErrorReason)
	}
}

func TestExtractPaymentHeader(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		expected string
	}{
		{
			name:     "canonical header",
			headers:  map[string]string{HeaderPayment: "abc"},
			expected: "abc",
		},
		{
			name:     "alias header",
			headers:  map[string]string{HeaderPaymentAlias: "def"},
			expected: "def",
		},
		{
			name: "canonical wins over alias",
			headers: map[string]string{
				HeaderPayment:      "abc",
				HeaderPaymentAlias: "def",
			},
			expected: "abc",
		},
		{
			name:     "no headers",
			headers:  map[string]string{},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := &mockHTTPAdapter{headers: tt.headers}
			if got := ExtractPaymentHeader(adapter); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestParseRoutePattern(t *testing.T) {
	tests := []struct {
		pattern     string
		expectVerb  string
		testPath    string
		shouldMatch bool
	}{
		{
			pattern:     "GET /api",
			expectVerb:  "GET",
			testPath:    "/api",
			shouldMatch: true,
		},
		{
			pattern:     "POST /api/*",
			expectVerb:  "POST",
			testPath:    "/api/users",
			shouldMatch: true,
		},
		{
			pattern:     "/public",
			expectVerb:  "*",
			testPath:    "/public",
			shouldMatch: true,
		},
		{
			pattern:     "*",
			expectVerb:  "*",
			testPath:    "/anything",
			shouldMatch: true,
		},
		{
			pattern:     "GET /api/[id]",
			expectVerb:  "GET",
			testPath:    "/api/123",
			shouldMatch: true,
		},
		{
			pattern:     "GET /api",
			expectVerb:  "GET",
			testPath:    "/other",
			shouldMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			verb, regex := parseRoutePattern(tt.pattern)

			if verb != tt.expectVerb {
				t.Errorf("Expected verb %s, got %s", tt.expectVerb, verb)
			}

			normalized := normalizePath(tt.testPath)
			if regex.MatchString(normalized) != tt.shouldMatch {
				t.Errorf("Expected match=%v for path %s", tt.shouldMatch, tt.testPath)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/api", "/api"},
		{"/api/", "/api"},
		{"/api//users", "/api/users"},
		{"/api?query=1", "/api"},
		{"/api#fragment", "/api"},
		{"/api%20space", "/api space"},
		{"", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := normalizePath(tt.input)
			if result != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, result)
			}
		})
	}
}

func TestFormatDisplayAmount(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		expected string
	}{
		{
			name:     "USDC with 6 decimals",
			amount:   "5000000",
			expected: "$5.00",
		},
		{
			name:     "small amount",
			amount:   "100000",
			expected: "$0.10",
		},
		{
			name:     "non-numeric amount passes through",
			amount:   "not-a-number",
			expected: "not-a-number",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatDisplayAmount(tt.amount); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

// Mock scheme server for testing
type mockSchemeServer struct {
	scheme      string
	parsePrice  func(price x402.Price, network x402.Network) (x402.AssetAmount, error)
	enhanceReqs func(ctx context.Context, base x402.PaymentRequirements, supported x402.SupportedKind, extensions []string) (x402.PaymentRequirements, error)
}

func (m *mockSchemeServer) Scheme() string {
	return m.scheme
}

func (m *mockSchemeServer) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	if m.parsePrice != nil {
		return m.parsePrice(price, network)
	}
	return x402.AssetAmount{
		Asset:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Amount: "1000000",
	}, nil
}

func (m *mockSchemeServer) EnhancePaymentRequirements(ctx context.Context, base x402.PaymentRequirements, supported x402.SupportedKind, extensions []string) (x402.PaymentRequirements, error) {
	if m.enhanceReqs != nil {
		return m.enhanceReqs(ctx, base, supported, extensions)
	}
	return base, nil
}

// Mock facilitator client
type mockFacilitatorClient struct {
	verify    func(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error)
	settle    func(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error)
	supported func(ctx context.Context) (x402.SupportedResponse, error)
}

func (m *mockFacilitatorClient) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	if m.verify != nil {
		return m.verify(ctx, payload, requirements)
	}
	return x402.VerifyResponse{IsValid: true}, nil
}

func (m *mockFacilitatorClient) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	if m.settle != nil {
		return m.settle(ctx, payload, requirements)
	}
	return x402.SettleResponse{Success: true}, nil
}

func (m *mockFacilitatorClient) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	if m.supported != nil {
		return m.supported(ctx)
	}
	return x402.SupportedResponse{
		Kinds: []x402.SupportedKind{
			{X402Version: 1, Scheme: "exact", Network: "base"},
			{X402Version: 2, Scheme: "exact", Network: "eip155:1"},
		},
	}, nil
}

func (m *mockFacilitatorClient) Identifier() string {
	return "mock"
}
