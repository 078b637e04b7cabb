package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// ============================================================================
// X402HTTPClient - HTTP-aware payment client
// ============================================================================

// X402HTTPClient wraps X402Client with HTTP-specific payment handling:
// decoding 402 challenge bodies, encoding the X-PAYMENT request header and
// decoding the X-PAYMENT-RESPONSE settlement header.
type X402HTTPClient struct {
	client *x402.X402Client
}

// NewX402HTTPClient creates a new HTTP-aware x402 client.
func NewX402HTTPClient(client *x402.X402Client) *X402HTTPClient {
	return &X402HTTPClient{
		client: client,
	}
}

// Client returns the underlying payment client.
func (c *X402HTTPClient) Client() *x402.X402Client {
	return c.client
}

// ============================================================================
// Header Encoding/Decoding
// ============================================================================

// EncodePaymentHeaders encodes a payment payload into request headers.
// X-PAYMENT is the canonical header for every protocol version.
func (c *X402HTTPClient) EncodePaymentHeaders(payload x402.PaymentPayload) (map[string]string, error) {
	encoded, err := payload.EncodeToBase64()
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment payload: %w", err)
	}
	return map[string]string{HeaderPayment: encoded}, nil
}

// GetPaymentRequiredResponse extracts the payment challenge from a 402
// response. The challenge is carried in the JSON body; a base64-encoded
// Payment-Required header is accepted as a fallback for older servers.
func (c *X402HTTPClient) GetPaymentRequiredResponse(headers map[string]string, body []byte) (x402.PaymentRequired, error) {
	if len(body) > 0 {
		var required x402.PaymentRequired
		if err := json.Unmarshal(body, &required); err == nil && len(required.Accepts) > 0 {
			return required, nil
		}
	}

	if header := lookupHeader(headers, HeaderPaymentRequired); header != "" {
		return decodePaymentRequiredHeader(header)
	}

	return x402.PaymentRequired{}, fmt.Errorf("no payment required information found in response")
}

// GetPaymentSettleResponse extracts the settlement response from response headers.
func (c *X402HTTPClient) GetPaymentSettleResponse(headers map[string]string) (x402.SettleResponse, error) {
	if header := lookupHeader(headers, HeaderPaymentResponse); header != "" {
		return decodePaymentResponseHeader(header)
	}
	return x402.SettleResponse{}, fmt.Errorf("payment response header not found")
}

// lookupHeader finds a header value case-insensitively.
func lookupHeader(headers map[string]string, name string) string {
	for k, v := range headers {
		if http.CanonicalHeaderKey(k) == http.CanonicalHeaderKey(name) {
			return v
		}
	}
	return ""
}

// ============================================================================
// HTTP Client Wrapper
// ============================================================================

// WrapHTTPClientWithPayment wraps a standard HTTP client with x402 payment
// handling. Requests that draw a 402 are retried once with a signed
// X-PAYMENT header; everything else passes through untouched.
func WrapHTTPClientWithPayment(client *http.Client, x402Client *X402HTTPClient) *http.Client {
	if client == nil {
		client = &http.Client{}
	}

	originalTransport := client.Transport
	if originalTransport == nil {
		originalTransport = http.DefaultTransport
	}

	client.Transport = &PaymentRoundTripper{
		Transport:  originalTransport,
		x402Client: x402Client,
		retryCount: &sync.Map{},
	}

	return client
}

// PaymentRoundTripper implements http.RoundTripper with x402 payment handling.
type PaymentRoundTripper struct {
	Transport  http.RoundTripper
	x402Client *X402HTTPClient
	retryCount *sync.Map // retry count per request, prevents payment loops
}

// RoundTrip implements http.RoundTripper.
func (t *PaymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	requestID := fmt.Sprintf("%p", req)
	count, _ := t.retryCount.LoadOrStore(requestID, 0)
	retries := count.(int)

	if retries > 1 {
		t.retryCount.Delete(requestID)
		return nil, fmt.Errorf("payment retry limit exceeded")
	}

	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		t.retryCount.Delete(requestID)
		return nil, err
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		t.retryCount.Delete(requestID)
		return resp, nil
	}

	t.retryCount.Store(requestID, retries+1)

	headers := make(map[string]string)
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	var body []byte
	if resp.Body != nil {
		body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			t.retryCount.Delete(requestID)
			return nil, fmt.Errorf("failed to read 402 response body: %w", err)
		}
	}

	paymentRequired, err := t.x402Client.GetPaymentRequiredResponse(headers, body)
	if err != nil {
		t.retryCount.Delete(requestID)
		return nil, fmt.Errorf("failed to parse payment requirements: %w", err)
	}

	ctx := req.Context()

	payload, err := t.x402Client.client.CreatePaymentForRequired(ctx, paymentRequired)
	if err != nil {
		t.retryCount.Delete(requestID)
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	paymentReq := req.Clone(ctx)
	if req.GetBody != nil {
		paymentReq.Body, err = req.GetBody()
		if err != nil {
			t.retryCount.Delete(requestID)
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
	}

	paymentHeaders, err := t.x402Client.EncodePaymentHeaders(payload)
	if err != nil {
		t.retryCount.Delete(requestID)
		return nil, err
	}
	for k, v := range paymentHeaders {
		paymentReq.Header.Set(k, v)
	}

	newResp, err := t.Transport.RoundTrip(paymentReq)
	t.retryCount.Delete(requestID)

	if err == nil {
		t.runAfterPaymentHooks(ctx, payload, paymentRequired, newResp)
	}
	return newResp, err
}

// runAfterPaymentHooks surfaces the settlement outcome to registered
// onAfterPayment hooks once the paid retry completes.
func (t *PaymentRoundTripper) runAfterPaymentHooks(ctx context.Context, payload x402.PaymentPayload, required x402.PaymentRequired, resp *http.Response) {
	actx := x402.AfterPaymentContext{
		Ctx:        ctx,
		Payload:    payload,
		StatusCode: resp.StatusCode,
		Success:    resp.StatusCode < 400,
	}
	if selected := matchRequirement(required.Accepts, payload); selected != nil {
		actx.Selected = *selected
	}
	if header := resp.Header.Get(HeaderPaymentResponse); header != "" {
		if settle, err := decodePaymentResponseHeader(header); err == nil {
			actx.Settlement = &settle
			actx.Success = actx.Success && settle.Success
		}
	}
	t.x402Client.client.RunAfterPaymentHooks(actx)
}

func matchRequirement(accepts []x402.PaymentRequirements, payload x402.PaymentPayload) *x402.PaymentRequirements {
	for i := range accepts {
		if accepts[i].Scheme == payload.Scheme && x402.NormalizeNetwork(accepts[i].Network) == x402.NormalizeNetwork(payload.Network) {
			return &accepts[i]
		}
	}
	return nil
}

// ============================================================================
// Convenience Methods
// ============================================================================

// DoWithPayment performs an HTTP request with automatic payment handling.
func (c *X402HTTPClient) DoWithPayment(ctx context.Context, req *http.Request) (*http.Response, error) {
	client := &http.Client{
		Transport: &PaymentRoundTripper{
			Transport:  http.DefaultTransport,
			x402Client: c,
			retryCount: &sync.Map{},
		},
	}

	return client.Do(req.WithContext(ctx))
}

// GetWithPayment performs a GET request with automatic payment handling.
func (c *X402HTTPClient) GetWithPayment(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.DoWithPayment(ctx, req)
}

// PostWithPayment performs a POST request with automatic payment handling.
func (c *X402HTTPClient) PostWithPayment(ctx context.Context, url string, contentType string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.DoWithPayment(ctx, req)
}

// ============================================================================
// Header Codec Helpers
// ============================================================================

// decodePaymentSignatureHeader decodes a base64 payment header into a payload.
func decodePaymentSignatureHeader(header string) (x402.PaymentPayload, error) {
	return x402.DecodePaymentPayloadFromBase64(header)
}

// decodePaymentRequiredHeader decodes a base64 payment required header.
func decodePaymentRequiredHeader(header string) (x402.PaymentRequired, error) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return x402.PaymentRequired{}, fmt.Errorf("invalid base64 encoding: %w", err)
	}

	var required x402.PaymentRequired
	if err := json.Unmarshal(data, &required); err != nil {
		return x402.PaymentRequired{}, fmt.Errorf("invalid payment required JSON: %w", err)
	}

	return required, nil
}

// encodePaymentResponseHeader encodes a settlement response as base64.
func encodePaymentResponseHeader(response x402.SettleResponse) (string, error) {
	return response.EncodeToBase64()
}

// decodePaymentResponseHeader decodes a base64 payment response header.
func decodePaymentResponseHeader(header string) (x402.SettleResponse, error) {
	return x402.DecodeSettleResponseFromBase64(header)
}
