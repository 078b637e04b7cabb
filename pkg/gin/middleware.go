// Package gin adapts the x402 payment flow to the Gin framework. The
// middleware is a thin translator onto the HTTP resource service: route
// matching, verification and settlement all happen there, while this
// package bridges gin.Context to the HTTPAdapter interface and
// intercepts the response so settlement runs only after the handler
// succeeded.
package gin

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	x402 "github.com/x402-foundation/x402-go/v2"
	x402http "github.com/x402-foundation/x402-go/v2/http"
)

// PaymentContextKey is the gin context key under which the verified
// payment payload is stored for downstream handlers.
const PaymentContextKey = "x402_payment"

// ============================================================================
// Gin Adapter Implementation
// ============================================================================

// GinAdapter implements x402http.HTTPAdapter for Gin.
type GinAdapter struct {
	ctx *gin.Context
}

// NewGinAdapter creates a new Gin adapter.
func NewGinAdapter(ctx *gin.Context) *GinAdapter {
	return &GinAdapter{ctx: ctx}
}

// GetHeader gets a request header.
func (a *GinAdapter) GetHeader(name string) string {
	return a.ctx.GetHeader(name)
}

// GetMethod gets the HTTP method.
func (a *GinAdapter) GetMethod() string {
	return a.ctx.Request.Method
}

// GetPath gets the request path.
func (a *GinAdapter) GetPath() string {
	return a.ctx.Request.URL.Path
}

// GetURL gets the full request URL.
func (a *GinAdapter) GetURL() string {
	scheme := "http"
	if a.ctx.Request.TLS != nil {
		scheme = "https"
	}
	host := a.ctx.Request.Host
	if host == "" {
		host = a.ctx.GetHeader("Host")
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, a.ctx.Request.URL.Path)
}

// GetAcceptHeader gets the Accept header.
func (a *GinAdapter) GetAcceptHeader() string {
	return a.ctx.GetHeader("Accept")
}

// GetUserAgent gets the User-Agent header.
func (a *GinAdapter) GetUserAgent() string {
	return a.ctx.GetHeader("User-Agent")
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

	// Observes settlement errors. The original handler response is
	// still written; the error never rewrites the body.
	ErrorHandler func(*gin.Context, error)

	// Observes successful settlements after the receipt header is set.
	SettlementHandler func(*gin.Context, x402.SettleResponse)

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

// WithErrorHandler sets a settlement error observer.
func WithErrorHandler(handler func(*gin.Context, error)) MiddlewareOption {
	return func(c *MiddlewareConfig) {
		c.ErrorHandler = handler
	}
}

// WithSettlementHandler sets a settlement receipt observer.
func WithSettlementHandler(handler func(*gin.Context, x402.SettleResponse)) MiddlewareOption {
	return func(c *MiddlewareConfig) {
		c.SettlementHandler = handler
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

// PaymentMiddleware creates Gin middleware for x402 payment handling.
// Routes map patterns ("GET /api/*", "/premium/[id]") to payment
// configuration; requests that match no route pass through untouched.
func PaymentMiddleware(routes x402http.RoutesConfig, opts ...MiddlewareOption) gin.HandlerFunc {
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

	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), config.Timeout)
		defer cancel()

		adapter := NewGinAdapter(c)
		reqCtx := x402http.HTTPRequestContext{
			Adapter: adapter,
			Path:    c.Request.URL.Path,
			Method:  c.Request.Method,
		}

		result := service.ProcessHTTPRequest(ctx, reqCtx, config.PaywallConfig)

		switch result.Type {
		case x402http.ResultNoPaymentRequired:
			c.Next()

		case x402http.ResultPaymentError:
			writeInstructions(c, result.Response)

		case x402http.ResultPaymentVerified:
			settleAfterHandler(c, service, ctx, result, config, logger)
		}
	}
}

// writeInstructions renders response instructions (402 challenge or
// paywall) and aborts the chain.
func writeInstructions(c *gin.Context, response *x402http.HTTPResponseInstructions) {
	for key, value := range response.Headers {
		c.Header(key, value)
	}

	if response.IsHTML {
		c.Data(response.Status, "text/html; charset=utf-8", []byte(response.Body.(string)))
	} else {
		c.JSON(response.Status, response.Body)
	}

	c.Abort()
}

// settleAfterHandler runs the protected handler with the response
// captured, then settles. The capture keeps the body unflushed so the
// receipt header can still be attached once settlement resolves, and so
// a failed handler response skips settlement entirely.
func settleAfterHandler(c *gin.Context, service *x402http.X402HTTPResourceService, ctx context.Context, result x402http.HTTPProcessResult, config *MiddlewareConfig, logger *slog.Logger) {
	writer := &responseCapture{
		ResponseWriter: c.Writer,
		body:           &bytes.Buffer{},
		statusCode:     http.StatusOK,
	}
	c.Writer = writer

	if result.PaymentPayload != nil {
		c.Set(PaymentContextKey, result.PaymentPayload)
	}

	c.Next()

	c.Writer = writer.ResponseWriter

	if c.IsAborted() {
		flushCapture(c, writer)
		return
	}

	settlementHeaders, err := service.ProcessSettlement(
		ctx,
		*result.PaymentPayload,
		*result.PaymentRequirements,
		writer.statusCode,
	)
	if err != nil {
		// The handler response was already rendered; the failure rides
		// the receipt header instead of rewriting the body.
		logger.Warn("settlement failed",
			"path", c.Request.URL.Path,
			"status", writer.statusCode,
			"error", err)
		if config.ErrorHandler != nil {
			config.ErrorHandler(c, fmt.Errorf("settlement failed: %w", err))
		}
	}

	for key, value := range settlementHeaders {
		c.Header(key, value)
	}

	if err == nil && config.SettlementHandler != nil && settlementHeaders != nil {
		if receipt, decodeErr := x402.DecodeSettleResponseFromBase64(settlementHeaders[x402http.HeaderPaymentResponse]); decodeErr == nil {
			config.SettlementHandler(c, receipt)
		}
	}

	flushCapture(c, writer)
}

// flushCapture writes the captured status and body to the real writer.
func flushCapture(c *gin.Context, writer *responseCapture) {
	c.Writer.WriteHeader(writer.statusCode)
	c.Writer.Write(writer.body.Bytes())
}

// ============================================================================
// Response Capture
// ============================================================================

// responseCapture buffers the handler response so settlement can run
// before anything reaches the wire.
type responseCapture struct {
	gin.ResponseWriter
	body       *bytes.Buffer
	statusCode int
	written    bool
	mu         sync.Mutex
}

// WriteHeader captures the status code.
func (w *responseCapture) WriteHeader(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writeHeaderLocked(code)
}

func (w *responseCapture) writeHeaderLocked(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
}

// Write captures the response body.
func (w *responseCapture) Write(data []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.written {
		w.writeHeaderLocked(http.StatusOK)
	}
	return w.body.Write(data)
}

// WriteString captures string responses.
func (w *responseCapture) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// Status reports the captured status code.
func (w *responseCapture) Status() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.statusCode
}

// ============================================================================
// Convenience Functions
// ============================================================================

// SimplePaymentMiddleware charges one price for every route through a
// remote facilitator.
func SimplePaymentMiddleware(payTo string, price x402.Price, network x402.Network, facilitatorURL string) gin.HandlerFunc {
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
