package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// ============================================================================
// HTTP Facilitator Client
// ============================================================================

// HTTPFacilitatorClient communicates with a remote facilitator service
// over HTTP. Implements the FacilitatorClient interface.
type HTTPFacilitatorClient struct {
	url          string
	httpClient   *http.Client
	authProvider AuthProvider
	identifier   string
}

// AuthProvider generates authentication headers for facilitator requests
type AuthProvider interface {
	// GetAuthHeaders returns authentication headers for each endpoint
	GetAuthHeaders(ctx context.Context) (AuthHeaders, error)
}

// AuthHeaders contains authentication headers for facilitator endpoints
type AuthHeaders struct {
	Verify    map[string]string
	Settle    map[string]string
	Supported map[string]string
}

// FacilitatorConfig configures the HTTP facilitator client
type FacilitatorConfig struct {
	// URL is the base URL of the facilitator service
	URL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// AuthProvider provides authentication headers (optional)
	AuthProvider AuthProvider

	// Timeout for requests (optional, defaults to 30s)
	Timeout time.Duration

	// Identifier for this facilitator (optional)
	Identifier string
}

// DefaultFacilitatorURL is the default public facilitator
const DefaultFacilitatorURL = "https://x402.org/facilitator"

// getSupportedRetries is the number of retry attempts for GetSupported on 429 rate limit errors
const getSupportedRetries = 3

// getSupportedRetryBaseDelay is the base delay for exponential backoff on retries
const getSupportedRetryBaseDelay = 1 * time.Second

// NewHTTPFacilitatorClient creates a new HTTP facilitator client
func NewHTTPFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	if config == nil {
		config = &FacilitatorConfig{}
	}

	url := config.URL
	if url == "" {
		url = DefaultFacilitatorURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}

	identifier := config.Identifier
	if identifier == "" {
		identifier = url
	}

	return &HTTPFacilitatorClient{
		url:          url,
		httpClient:   httpClient,
		authProvider: config.AuthProvider,
		identifier:   identifier,
	}
}

// Identifier names this facilitator for logs and supported-cache keys.
func (c *HTTPFacilitatorClient) Identifier() string {
	return c.identifier
}

// URL returns the facilitator base URL.
func (c *HTTPFacilitatorClient) URL() string {
	return c.url
}

// ============================================================================
// FacilitatorClient Implementation
// ============================================================================

// Verify checks if a payment is valid by POSTing to /verify.
func (c *HTTPFacilitatorClient) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	request := x402.VerifyRequest{
		X402Version:         payload.X402Version,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	}

	body, err := json.Marshal(request)
	if err != nil {
		return x402.VerifyResponse{}, fmt.Errorf("failed to marshal verify request: %w", err)
	}

	responseBody, statusCode, err := c.post(ctx, "/verify", body, func(h AuthHeaders) map[string]string { return h.Verify })
	if err != nil {
		return x402.VerifyResponse{}, err
	}

	var verifyResponse x402.VerifyResponse
	if err := json.Unmarshal(responseBody, &verifyResponse); err != nil {
		return x402.VerifyResponse{}, x402.NewVerifyError(
			x402.ErrUnexpectedVerifyError,
			fmt.Sprintf("failed to decode verify response: %s", err.Error()),
		)
	}

	// Non-200 responses still carry a usable reason when the facilitator
	// rejected the payment rather than erroring.
	if statusCode != http.StatusOK {
		if verifyResponse.InvalidReason != "" {
			return x402.VerifyResponse{}, x402.NewVerifyError(verifyResponse.InvalidReason, fmt.Sprintf("facilitator returned %d", statusCode))
		}
		return x402.VerifyResponse{}, fmt.Errorf("facilitator verify failed (%d): %s", statusCode, string(responseBody))
	}

	return verifyResponse, nil
}

// Settle executes a payment by POSTing to /settle.
func (c *HTTPFacilitatorClient) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	request := x402.SettleRequest{
		X402Version:         payload.X402Version,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	}

	body, err := json.Marshal(request)
	if err != nil {
		return x402.SettleResponse{}, fmt.Errorf("failed to marshal settle request: %w", err)
	}

	responseBody, statusCode, err := c.post(ctx, "/settle", body, func(h AuthHeaders) map[string]string { return h.Settle })
	if err != nil {
		return x402.SettleResponse{}, err
	}

	var settleResponse x402.SettleResponse
	if err := json.Unmarshal(responseBody, &settleResponse); err != nil {
		return x402.SettleResponse{}, fmt.Errorf("facilitator settle failed (%d): %s", statusCode, string(responseBody))
	}

	if statusCode != http.StatusOK {
		if settleResponse.ErrorReason != "" {
			return x402.SettleResponse{}, x402.NewSettleError(settleResponse.ErrorReason, fmt.Sprintf("facilitator returned %d", statusCode))
		}
		return x402.SettleResponse{}, fmt.Errorf("facilitator settle failed (%d): %s", statusCode, string(responseBody))
	}

	return settleResponse, nil
}

// GetSupported gets supported payment kinds from GET /supported.
// Retries up to 3 times with exponential backoff on 429 rate limit errors.
func (c *HTTPFacilitatorClient) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	var lastErr error

	for attempt := range getSupportedRetries {
		req, err := http.NewRequestWithContext(ctx, "GET", c.url+"/supported", nil)
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("failed to create supported request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")

		if c.authProvider != nil {
			authHeaders, err := c.authProvider.GetAuthHeaders(ctx)
			if err != nil {
				return x402.SupportedResponse{}, fmt.Errorf("failed to get auth headers: %w", err)
			}
			for k, v := range authHeaders.Supported {
				req.Header.Set(k, v)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("supported request failed: %w", err)
		}

		responseBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			var supportedResponse x402.SupportedResponse
			if err := json.Unmarshal(responseBody, &supportedResponse); err != nil {
				return x402.SupportedResponse{}, fmt.Errorf("failed to decode supported response: %w", err)
			}
			return supportedResponse, nil
		}

		lastErr = fmt.Errorf("facilitator supported failed (%d): %s", resp.StatusCode, string(responseBody))

		// Retry on 429 with exponential backoff, except on the last attempt
		if resp.StatusCode == http.StatusTooManyRequests && attempt < getSupportedRetries-1 {
			delay := getSupportedRetryBaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return x402.SupportedResponse{}, ctx.Err()
			}
		}

		// Non-429 errors or last attempt: return immediately
		return x402.SupportedResponse{}, lastErr
	}

	return x402.SupportedResponse{}, lastErr
}

// ============================================================================
// Internal HTTP Methods
// ============================================================================

func (c *HTTPFacilitatorClient) post(ctx context.Context, path string, body []byte, selectHeaders func(AuthHeaders) map[string]string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.url+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create %s request: %w", path, err)
	}

	req.Header.Set("Content-Type", "application/json")

	if c.authProvider != nil {
		authHeaders, err := c.authProvider.GetAuthHeaders(ctx)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to get auth headers: %w", err)
		}
		for k, v := range selectHeaders(authHeaders) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	return responseBody, resp.StatusCode, nil
}
