// Package stdlib adapts the x402 payment flow to net/http. The
// middleware wraps handlers with payment gating and intercepts the
// response at the moment of commitment: settlement runs when the
// handler decides its status code, so the receipt header is attached
// before the first byte of the body reaches the wire and failed
// responses are never charged.
package stdlib

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	x402 "github.com/x402-foundation/x402-go/v2"
	x402http "github.com/x402-foundation/x402-go/v2/http"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// PaymentContextKey is the context key under which the verified payment
// payload is stored for handler access.
const PaymentContextKey = contextKey("x402_payment")

// PaymentFromContext returns the verified payment payload attached by
// the middleware, if any.
func PaymentFromContext(ctx context.Context) (*x402.PaymentPayload, bool) {
	payload, ok := ctx.Value(PaymentContextKey).(*x402.PaymentPayload)
	return payload, ok
}

// ============================================================================
// Request Adapter
// ============================================================================

// RequestAdapter implements x402http.HTTPAdapter over *http.Request.
type RequestAdapter struct {
	r *http.Request
}

// NewRequestAdapter creates an adapter for a request.
func NewRequestAdapter(r *http.Request) *RequestAdapter {
	return &RequestAdapter{r: r}
}

// GetHeader gets a request header.
func (a *RequestAdapter) GetHeader(name string) string {
	return a.r.Header.Get(name)
}

// GetMethod gets the HTTP method.
func (a *RequestAdapter) GetMethod() string {
	return a.r.Method
}

// GetPath gets the request path.
func (a *RequestAdapter) GetPath() string {
	return a.r.URL.Path
}

// GetURL gets the full request URL.
func (a *RequestAdapter) GetURL() string {
	scheme := "http"
	if a.r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, a.r.Host, a.r.URL.Path)
}

// GetAcceptHeader gets the Accept header.
func (a *RequestAdapter) GetAcceptHeader() string {
	return a.r.Header.Get("Accept")
}

// GetUserAgent gets the User-Agent header.
func (a *RequestAdapter) GetUserAgent() string {
	return a.r.Header.Get("User-Agent")
}

// ============================================================================
// Middleware Configuration
// ============================================================================

// MiddlewareConfig configures the payment middleware.
type MiddlewareConfig struct {
	// Routes configuration
	Routes x402http.RoutesConfig

	// Facilitator client(s)
	FacilitatorClients []x402.FacilitatorClient

	// Scheme registrations
	Schemes []SchemeRegistration

	// Resource service extensions (discovery, sign-in sessions, ...)
	Extensions []x402.ResourceServiceExtension

	// Paywall configuration
	PaywallConfig *x402http.PaywallConfig

	// Initialize on startup
	InitializeOnStart bool

	// Logger for payment flow events
	Logger *slog.Logger

	// Context timeout for payment operations
	Timeout time.Duration
}

// SchemeRegistration registers a scheme handler with the service.
type SchemeRegistration struct {
	Network x402.Network
	Server  x402.SchemeNetworkServer
}

// MiddlewareOption configures the middleware.
type MiddlewareOption func(*MiddlewareConfig)

// WithFacilitatorClient adds a facilitator client.
func WithFacilitatorClient(client x402.FacilitatorClient) MiddlewareOption {
	return func(c *MiddlewareConfig) {
		c.FacilitatorClients = append(c.FacilitatorClients, client)
	}
}

// WithScheme registers a local scheme handler.
func WithScheme(network x402.Network, server x402.SchemeNetworkServer) MiddlewareOption {
	return func(c *MiddlewareConfig) {
		c.Schemes = append(c.Schemes, SchemeRegistration{
			Network: network,
			Server:  server,
		})
	}
}

// WithExtension registers a resource service extension.
func WithExtension(extension x402.ResourceServiceExtension) MiddlewareOption {
	return func(c *MiddlewareConfig) {
		c.Extensions = append(c.Extensions, extension)
	}
}

// WithPaywallConfig sets the paywall configuration.
func WithPaywallConfig(config *x402http.PaywallConfig) MiddlewareOption {
	return func(c *MiddlewareConfig) {
		c.PaywallConfig = config
	}
}

// WithInitializeOnStart sets whether to initialize on startup.
func WithInitializeOnStart(initialize bool) MiddlewareOption {
	return func(c *MiddlewareConfig) {
		c.InitializeOnStart = initialize
	}
}

// WithLogger sets the logger for payment flow events.
func WithLogger(logger *slog.Logger) MiddlewareOption {
	return func(c *MiddlewareConfig) {
		c.Logger = logger
	}
}

// WithTimeout sets the context timeout for payment operations.
func WithTimeout(timeout time.Duration) MiddlewareOption {
	return func(c *MiddlewareConfig) {
		c.Timeout = timeout
	}
}

// ============================================================================
// Payment Middleware
// ============================================================================

// PaymentMiddleware creates net/http middleware for x402 payment
// handling. Routes map patterns ("GET /api/*", "/premium/[id]") to
// payment configuration; requests that match no route pass through
// untouched.
func PaymentMiddleware(routes x402http.RoutesConfig, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	config := &MiddlewareConfig{
		Routes:            routes,
		InitializeOnStart: true,
		Timeout:           30 * time.Second,
	}

	for _, opt := range opts {
		opt(config)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	serviceOpts := []x402.ResourceServiceOption{
		x402.WithServiceLogger(logger),
	}
	for _, client := range config.FacilitatorClients {
		serviceOpts = append(serviceOpts, x402.WithFacilitatorClient(client))
	}

	service := x402http.NewX402HTTPResourceService(config.Routes, serviceOpts...)

	for _, scheme := range config.Schemes {
		service.RegisterScheme(scheme.Network, scheme.Server)
	}
	for _, extension := range config.Extensions {
		service.RegisterExtension(extension)
	}

	if config.InitializeOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
		defer cancel()

		// The facilitator may come online later; requests initialize
		// lazily on first use.
		if err := service.Initialize(ctx); err != nil {
			logger.Warn("x402 service initialization failed", "error", err)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), config.Timeout)
			defer cancel()

			adapter := NewRequestAdapter(r)
			reqCtx := x402http.HTTPRequestContext{
				Adapter: adapter,
				Path:    r.URL.Path,
				Method:  r.Method,
			}

			result := service.ProcessHTTPRequest(ctx, reqCtx, config.PaywallConfig)

			switch result.Type {
			case x402http.ResultNoPaymentRequired:
				next.ServeHTTP(w, r)

			case x402http.ResultPaymentError:
				writeInstructions(w, result.Response)

			case x402http.ResultPaymentVerified:
				r = r.WithContext(context.WithValue(r.Context(), PaymentContextKey, result.PaymentPayload))

				interceptor := &settlementInterceptor{
					w: w,
					settle: func(statusCode int) {
						headers, err := service.ProcessSettlement(
							ctx,
							*result.PaymentPayload,
							*result.PaymentRequirements,
							statusCode,
						)
						if err != nil {
							// The handler committed its response; the
							// failure rides the receipt header instead
							// of rewriting the body.
							logger.Warn("settlement failed",
								"path", r.URL.Path,
								"status", statusCode,
								"error", err)
						}
						for key, value := range headers {
							w.Header().Set(key, value)
						}
					},
				}
				next.ServeHTTP(interceptor, r)
				interceptor.finish()
			}
		})
	}
}

// writeInstructions renders response instructions (402 challenge or
// paywall).
func writeInstructions(w http.ResponseWriter, response *x402http.HTTPResponseInstructions) {
	for key, value := range response.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(response.Status)

	if response.IsHTML {
		if html, ok := response.Body.(string); ok {
			w.Write([]byte(html))
		}
		return
	}
	if response.Body != nil {
		json.NewEncoder(w).Encode(response.Body)
	}
}

// ============================================================================
// Settlement Interceptor
// ============================================================================

// settlementInterceptor wraps the ResponseWriter to intercept the
// moment of commitment. Settlement runs when the handler first decides
// its status code: before that commits, the receipt header can still
// be attached, and error statuses skip settlement entirely. The body
// streams straight through afterwards.
type settlementInterceptor struct {
	w         http.ResponseWriter
	settle    func(statusCode int)
	committed bool
}

func (i *settlementInterceptor) Header() http.Header {
	return i.w.Header()
}

func (i *settlementInterceptor) Write(b []byte) (int, error) {
	// A Write without WriteHeader implies 200 OK.
	if !i.committed {
		i.WriteHeader(http.StatusOK)
	}
	return i.w.Write(b)
}

func (i *settlementInterceptor) WriteHeader(statusCode int) {
	if i.committed {
		return
	}
	i.committed = true

	i.settle(statusCode)
	i.w.WriteHeader(statusCode)
}

// finish commits a 200 for handlers that never wrote anything.
func (i *settlementInterceptor) finish() {
	if !i.committed {
		i.WriteHeader(http.StatusOK)
	}
}

// Flush implements http.Flusher to support streaming responses.
func (i *settlementInterceptor) Flush() {
	if !i.committed {
		i.WriteHeader(http.StatusOK)
	}
	if flusher, ok := i.w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack implements http.Hijacker to support connection hijacking.
func (i *settlementInterceptor) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := i.w.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, errors.New("hijacking not supported")
}

// Push implements http.Pusher to support HTTP/2 server push.
func (i *settlementInterceptor) Push(target string, opts *http.PushOptions) error {
	if pusher, ok := i.w.(http.Pusher); ok {
		return pusher.Push(target, opts)
	}
	return http.ErrNotSupported
}

// ============================================================================
// Convenience Functions
// ============================================================================

// SimplePaymentMiddleware charges one price for every route through a
// remote facilitator.
func SimplePaymentMiddleware(payTo string, price x402.Price, network x402.Network, facilitatorURL string) func(http.Handler) http.Handler {
	facilitator := x402http.NewHTTPFacilitatorClient(&x402http.FacilitatorConfig{
		URL: facilitatorURL,
	})

	routes := x402http.RoutesConfig{
		"*": x402http.RouteConfig{
			Scheme:  "exact",
			PayTo:   payTo,
			Price:   price,
			Network: network,
		},
	}

	return PaymentMiddleware(routes,
		WithFacilitatorClient(facilitator),
	)
}
