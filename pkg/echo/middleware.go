// Package echo adapts the x402 payment flow to the Echo framework. The
// middleware is a thin translator onto the HTTP resource service, using
// echo's response Before hook as the moment of commitment: settlement
// runs when the handler's status code is decided, before the response
// commits, so the receipt header always precedes the body and failed
// responses are never charged.
package echo

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	x402 "github.com/x402-foundation/x402-go/v2"
	x402http "github.com/x402-foundation/x402-go/v2/http"
)

// PaymentContextKey is the echo context key under which the verified
// payment payload is stored for downstream handlers.
const PaymentContextKey = "x402_payment"

// PaymentFrom returns the verified payment payload attached by the
// middleware, if any.
func PaymentFrom(c echo.Context) (*x402.PaymentPayload, bool) {
	payload, ok := c.Get(PaymentContextKey).(*x402.PaymentPayload)
	return payload, ok
}

// ============================================================================
// Echo Adapter Implementation
// ============================================================================

// EchoAdapter implements x402http.HTTPAdapter for Echo.
type EchoAdapter struct {
	ctx echo.Context
}

// NewEchoAdapter creates a new Echo adapter.
func NewEchoAdapter(ctx echo.Context) *EchoAdapter {
	return &EchoAdapter{ctx: ctx}
}

// GetHeader gets a request header.
func (a *EchoAdapter) GetHeader(name string) string {
	return a.ctx.Request().Header.Get(name)
}

// GetMethod gets the HTTP method.
func (a *EchoAdapter) GetMethod() string {
	return a.ctx.Request().Method
}

// GetPath gets the request path.
func (a *EchoAdapter) GetPath() string {
	return a.ctx.Request().URL.Path
}

// GetURL gets the full request URL. Echo's scheme detection respects
// X-Forwarded-Proto, so paywall and resource URLs survive proxies.
func (a *EchoAdapter) GetURL() string {
	return fmt.Sprintf("%s://%s%s", a.ctx.Scheme(), a.ctx.Request().Host, a.ctx.Request().URL.Path)
}

// GetAcceptHeader gets the Accept header.
func (a *EchoAdapter) GetAcceptHeader() string {
	return a.ctx.Request().Header.Get("Accept")
}

// GetUserAgent gets the User-Agent header.
func (a *EchoAdapter) GetUserAgent() string {
	return a.ctx.Request().Header.Get("User-Agent")
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

// PaymentMiddleware creates Echo middleware for x402 payment handling.
// Routes map patterns ("GET /api/*", "/premium/[id]") to payment
// configuration; requests that match no route pass through untouched.
func PaymentMiddleware(routes x402http.RoutesConfig, opts ...MiddlewareOption) echo.MiddlewareFunc {
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

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), config.Timeout)
			defer cancel()

			adapter := NewEchoAdapter(c)
			reqCtx := x402http.HTTPRequestContext{
				Adapter: adapter,
				Path:    c.Request().URL.Path,
				Method:  c.Request().Method,
			}

			result := service.ProcessHTTPRequest(ctx, reqCtx, config.PaywallConfig)

			switch result.Type {
			case x402http.ResultPaymentError:
				return writeInstructions(c, result.Response)

			case x402http.ResultPaymentVerified:
				c.Set(PaymentContextKey, result.PaymentPayload)

				// Echo runs Before hooks when the handler decides its
				// status, before the response commits. Settlement lands
				// there so the receipt header still makes the wire.
				c.Response().Before(func() {
					headers, err := service.ProcessSettlement(
						ctx,
						*result.PaymentPayload,
						*result.PaymentRequirements,
						c.Response().Status,
					)
					if err != nil {
						logger.Warn("settlement failed",
							"path", c.Request().URL.Path,
							"status", c.Response().Status,
							"error", err)
					}
					for key, value := range headers {
						c.Response().Header().Set(key, value)
					}
				})

				err := next(c)
				if err == nil && !c.Response().Committed {
					// Commit the implied 200 while the payment context
					// is still alive.
					c.Response().WriteHeader(http.StatusOK)
				}
				return err
			}

			return next(c)
		}
	}
}

// writeInstructions renders response instructions (402 challenge or
// paywall).
func writeInstructions(c echo.Context, response *x402http.HTTPResponseInstructions) error {
	for key, value := range response.Headers {
		c.Response().Header().Set(key, value)
	}

	if response.IsHTML {
		if html, ok := response.Body.(string); ok {
			return c.HTML(response.Status, html)
		}
		return c.NoContent(response.Status)
	}
	return c.JSON(response.Status, response.Body)
}

// ============================================================================
// Convenience Functions
// ============================================================================

// SimplePaymentMiddleware charges one price for every route through a
// remote facilitator.
func SimplePaymentMiddleware(payTo string, price x402.Price, network x402.Network, facilitatorURL string) echo.MiddlewareFunc {
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
