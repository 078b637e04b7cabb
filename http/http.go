// Package http binds the x402 payment protocol to HTTP: the X-PAYMENT
// request header, the 402 challenge body, the X-PAYMENT-RESPONSE
// settlement header, paying round trippers for clients and a
// transport-agnostic request processor for resource servers.
package http

import (
	"context"
	"net/http"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// Wire header names. X-PAYMENT is canonical for every protocol version;
// Payment-Signature is read as a legacy alias on ingest only.
const (
	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentAlias    = "Payment-Signature"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
	HeaderPaymentRequired = "Payment-Required"
)

// ============================================================================
// Re-export main types for convenience
// ============================================================================

type (
	// HTTPClient is an alias for X402HTTPClient.
	HTTPClient = X402HTTPClient

	// HTTPService is an alias for X402HTTPResourceService.
	HTTPService = X402HTTPResourceService
)

// ============================================================================
// Constructor functions with simpler names
// ============================================================================

// NewClient creates a new HTTP-aware x402 client from client options.
func NewClient(opts ...x402.ClientOption) *X402HTTPClient {
	return NewX402HTTPClient(x402.NewX402Client(opts...))
}

// NewService creates a new HTTP resource service.
func NewService(routes RoutesConfig, opts ...x402.ResourceServiceOption) *X402HTTPResourceService {
	return NewX402HTTPResourceService(routes, opts...)
}

// NewFacilitatorClient creates a new HTTP facilitator client.
func NewFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	return NewHTTPFacilitatorClient(config)
}

// ============================================================================
// Convenience functions
// ============================================================================

// WrapClient wraps a standard HTTP client with x402 payment handling.
func WrapClient(client *http.Client, x402Client *X402HTTPClient) *http.Client {
	return WrapHTTPClientWithPayment(client, x402Client)
}

// Get performs a GET request with automatic payment handling.
func Get(ctx context.Context, url string, x402Client *X402HTTPClient) (*http.Response, error) {
	return x402Client.GetWithPayment(ctx, url)
}

// Post performs a POST request with automatic payment handling.
func Post(ctx context.Context, url string, contentType string, body []byte, x402Client *X402HTTPClient) (*http.Response, error) {
	return x402Client.PostWithPayment(ctx, url, contentType, body)
}

// Do performs an HTTP request with automatic payment handling.
func Do(ctx context.Context, req *http.Request, x402Client *X402HTTPClient) (*http.Response, error) {
	return x402Client.DoWithPayment(ctx, req)
}
