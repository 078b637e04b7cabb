// Package grpcx adapts the x402 payment flow to gRPC. The interceptors
// gate configured methods: a request without a valid payment is
// rejected with a ResourceExhausted status whose message carries the
// base64 requirements, a verified payment runs the handler, and the
// settlement receipt travels back in a response trailer. Verification
// and settlement happen in the core resource service; this package only
// translates metadata and status codes.
package grpcx

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	x402 "github.com/x402-foundation/x402-go/v2"
	x402http "github.com/x402-foundation/x402-go/v2/http"
)

type contextKey string

// PaymentContextKey is the context key under which the verified payment
// payload is stored for downstream handlers.
const PaymentContextKey = contextKey("x402_payment")

// ============================================================================
// Method Configuration
// ============================================================================

// MethodConfig prices one gRPC method.
type MethodConfig struct {
	Scheme            string
	PayTo             string
	Price             x402.Price
	Network           x402.Network
	MaxTimeoutSeconds int

	// Resource names the thing being sold; defaults to the full
	// method name.
	Resource     string
	Description  string
	MimeType     string
	OutputSchema []byte
	Extra        map[string]interface{}
	Extensions   map[string]interface{}
}

// MethodsConfig maps full method names ("/pkg.Service/Method") to
// payment configuration. A trailing "/*" prices every method of a
// service; "*" prices everything.
type MethodsConfig map[string]MethodConfig

// resourceConfig projects a priced method into a core resource config.
func (m MethodConfig) resourceConfig(fullMethod string) x402.ResourceConfig {
	resource := m.Resource
	if resource == "" {
		resource = fullMethod
	}
	return x402.ResourceConfig{
		Scheme:            m.Scheme,
		PayTo:             m.PayTo,
		Price:             m.Price,
		Network:           m.Network,
		MaxTimeoutSeconds: m.MaxTimeoutSeconds,
		Resource:          resource,
		Description:       m.Description,
		MimeType:          m.MimeType,
		OutputSchema:      m.OutputSchema,
		Extra:             m.Extra,
	}
}

// ============================================================================
// Interceptor Configuration
// ============================================================================

// InterceptorConfig configures the payment interceptors.
type InterceptorConfig struct {
	// Methods configuration
	Methods MethodsConfig

	// Facilitator client(s)
	FacilitatorClients []x402.FacilitatorClient

	// Scheme registrations
	Schemes []SchemeRegistration

	// Resource service extensions (discovery, sign-in sessions, ...)
	Extensions []x402.ResourceServiceExtension

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

// InterceptorOption configures the interceptors.
type InterceptorOption func(*InterceptorConfig)

// WithFacilitatorClient adds a facilitator client.
func WithFacilitatorClient(client x402.FacilitatorClient) InterceptorOption {
	return func(c *InterceptorConfig) {
		c.FacilitatorClients = append(c.FacilitatorClients, client)
	}
}

// WithScheme registers a local scheme handler.
func WithScheme(network x402.Network, server x402.SchemeNetworkServer) InterceptorOption {
	return func(c *InterceptorConfig) {
		c.Schemes = append(c.Schemes, SchemeRegistration{
			Network: network,
			Server:  server,
		})
	}
}

// WithExtension registers a resource service extension.
func WithExtension(extension x402.ResourceServiceExtension) InterceptorOption {
	return func(c *InterceptorConfig) {
		c.Extensions = append(c.Extensions, extension)
	}
}

// WithInitializeOnStart sets whether to initialize on startup.
func WithInitializeOnStart(initialize bool) InterceptorOption {
	return func(c *InterceptorConfig) {
		c.InitializeOnStart = initialize
	}
}

// WithLogger sets the logger for payment flow events.
func WithLogger(logger *slog.Logger) InterceptorOption {
	return func(c *InterceptorConfig) {
		c.Logger = logger
	}
}

// WithTimeout sets the context timeout for payment operations.
func WithTimeout(timeout time.Duration) InterceptorOption {
	return func(c *InterceptorConfig) {
		c.Timeout = timeout
	}
}

// ============================================================================
// Payment Gate
// ============================================================================

// paymentGate holds the shared state behind the unary and stream
// interceptors.
type paymentGate struct {
	service *x402.X402ResourceService
	methods MethodsConfig
	timeout time.Duration
	logger  *slog.Logger
}

func newPaymentGate(methods MethodsConfig, opts ...InterceptorOption) *paymentGate {
	config := &InterceptorConfig{
		Methods:           methods,
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

	service := x402.NewX402ResourceService(serviceOpts...)

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

	return &paymentGate{
		service: service,
		methods: config.Methods,
		timeout: config.Timeout,
		logger:  logger,
	}
}

// match resolves the payment configuration for a full method name.
// Exact entries win, then the longest matching wildcard pattern.
func (g *paymentGate) match(fullMethod string) (*MethodConfig, bool) {
	if config, ok := g.methods[fullMethod]; ok {
		return &config, true
	}

	var bestPattern string
	var best *MethodConfig
	for pattern, config := range g.methods {
		if !matchMethod(fullMethod, pattern) || len(pattern) <= len(bestPattern) {
			continue
		}
		bestPattern = pattern
		matched := config
		best = &matched
	}
	return best, best != nil
}

func matchMethod(fullMethod, pattern string) bool {
	if pattern == "*" || pattern == fullMethod {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		return strings.HasPrefix(fullMethod, strings.TrimSuffix(pattern, "*"))
	}
	return false
}

// authorizedPayment is a verified payment waiting for settlement.
type authorizedPayment struct {
	payload      x402.PaymentPayload
	requirements x402.PaymentRequirements
	v2           bool
}

// methodRequestContext is the transport context handed to extension
// enrichment. gRPC calls ride HTTP/2 POSTs, so that is what discovery
// metadata reports.
type methodRequestContext struct {
	fullMethod string
}

func (c methodRequestContext) TransportMethod() string {
	return "POST"
}

// authorize runs the pre-handler leg for a priced method: extract the
// payment from metadata, verify it, and produce the challenge error
// when the client still has to pay.
func (g *paymentGate) authorize(ctx context.Context, fullMethod string, method MethodConfig) (*authorizedPayment, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	payload, v2, err := ExtractPayment(md)

	config := method.resourceConfig(fullMethod)
	extensions := g.service.EnrichExtensions(method.Extensions, methodRequestContext{fullMethod: fullMethod})
	config.Extensions = extensions
	configs := []x402.ResourceConfig{config}

	if err != nil {
		g.logger.Debug("rejecting undecodable payment metadata", "method", fullMethod, "error", err)
		return nil, g.challenge(ctx, configs, extensions, x402.ErrInvalidPayload)
	}

	result, err := g.service.ProcessPaymentRequest(ctx, payload, configs, extensions)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "payment verification error: %v", err)
	}
	if !result.Success {
		encoded, encErr := result.RequiresPayment.EncodeToBase64()
		if encErr != nil {
			return nil, status.Errorf(codes.Internal, "failed to encode payment requirements: %v", encErr)
		}
		return nil, status.Error(codes.ResourceExhausted, encoded)
	}

	return &authorizedPayment{
		payload:      *payload,
		requirements: *result.SelectedRequirements,
		v2:           v2,
	}, nil
}

// challenge builds the payment-required error for requests rejected
// before verification.
func (g *paymentGate) challenge(ctx context.Context, configs []x402.ResourceConfig, extensions map[string]interface{}, reason string) error {
	version := x402.SupportedVersions[len(x402.SupportedVersions)-1]
	requirements, err := g.service.BuildPaymentRequirements(ctx, configs, version)
	if err != nil {
		return status.Errorf(codes.Internal, "failed to build payment requirements: %v", err)
	}

	required := g.service.CreatePaymentRequiredResponse(version, requirements, reason, extensions)
	encoded, err := required.EncodeToBase64()
	if err != nil {
		return status.Errorf(codes.Internal, "failed to encode payment requirements: %v", err)
	}
	return status.Error(codes.ResourceExhausted, encoded)
}

// settle runs after the handler succeeded and returns the receipt
// trailer. A settlement failure never fails the call; the handler
// already did the work, so the failure rides the receipt with success
// false.
func (g *paymentGate) settle(ctx context.Context, fullMethod string, payment *authorizedPayment) metadata.MD {
	receipt, err := g.service.SettlePayment(ctx, payment.payload, payment.requirements)
	if err == nil && !receipt.Success {
		err = x402.NewSettleError(receipt.ErrorReason, "settlement failed")
	}
	if err != nil {
		receipt.Success = false
		if receipt.ErrorReason == "" {
			receipt.ErrorReason = x402.ErrUnexpectedSettleError
		}
		if receipt.Network == "" {
			receipt.Network = payment.requirements.Network
		}
		g.logger.Warn("payment settlement failed", "method", fullMethod, "error", err)
	}

	trailer, encErr := receiptTrailer(receipt, payment.v2)
	if encErr != nil {
		g.logger.Warn("failed to encode settlement receipt", "method", fullMethod, "error", encErr)
		return nil
	}
	return trailer
}

// ============================================================================
// Unary Interceptor
// ============================================================================

// UnaryServerInterceptor returns an interceptor that charges for the
// configured methods. Requests for unpriced methods pass through
// untouched.
func UnaryServerInterceptor(methods MethodsConfig, opts ...InterceptorOption) grpc.UnaryServerInterceptor {
	gate := newPaymentGate(methods, opts...)

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		method, ok := gate.match(info.FullMethod)
		if !ok {
			return handler(ctx, req)
		}

		payCtx, cancel := context.WithTimeout(ctx, gate.timeout)
		payment, err := gate.authorize(payCtx, info.FullMethod, *method)
		cancel()
		if err != nil {
			return nil, err
		}

		resp, err := handler(context.WithValue(ctx, PaymentContextKey, &payment.payload), req)
		if err != nil {
			// Handler errors skip settlement, the way failed HTTP
			// responses do.
			return nil, err
		}

		settleCtx, cancel := context.WithTimeout(ctx, gate.timeout)
		defer cancel()
		if trailer := gate.settle(settleCtx, info.FullMethod, payment); trailer != nil {
			if err := grpc.SetTrailer(ctx, trailer); err != nil {
				gate.logger.Warn("failed to set settlement trailer", "method", info.FullMethod, "error", err)
			}
		}

		return resp, nil
	}
}

// ============================================================================
// Context Helpers
// ============================================================================

// PaymentFromContext returns the verified payment payload the
// interceptor attached for the handler.
func PaymentFromContext(ctx context.Context) (*x402.PaymentPayload, bool) {
	payload, ok := ctx.Value(PaymentContextKey).(*x402.PaymentPayload)
	return payload, ok
}

// RequirePayment returns the verified payment, or a ResourceExhausted
// error for handlers that must not run unpaid.
func RequirePayment(ctx context.Context) (*x402.PaymentPayload, error) {
	payload, ok := PaymentFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.ResourceExhausted, "payment required")
	}
	return payload, nil
}

// PaymentRequiredFromError decodes the requirements carried by a
// challenge error. Clients use it to discover what to pay after a
// ResourceExhausted rejection.
func PaymentRequiredFromError(err error) (*x402.PaymentRequired, bool) {
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.ResourceExhausted {
		return nil, false
	}
	required, decodeErr := x402.DecodePaymentRequiredFromBase64(st.Message())
	if decodeErr != nil {
		return nil, false
	}
	return &required, true
}

// ============================================================================
// Convenience Functions
// ============================================================================

// SimpleUnaryInterceptor charges one price for every method through a
// remote facilitator.
func SimpleUnaryInterceptor(payTo string, price x402.Price, network x402.Network, facilitatorURL string) grpc.UnaryServerInterceptor {
	facilitator := x402http.NewHTTPFacilitatorClient(&x402http.FacilitatorConfig{
		URL: facilitatorURL,
	})

	methods := MethodsConfig{
		"*": MethodConfig{
			Scheme:  "exact",
			PayTo:   payTo,
			Price:   price,
			Network: network,
		},
	}

	return UnaryServerInterceptor(methods,
		WithFacilitatorClient(facilitator),
	)
}
