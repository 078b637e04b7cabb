package http

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// ============================================================================
// HTTP Adapter Interface
// ============================================================================

// HTTPAdapter provides framework-agnostic HTTP operations.
// Implement this for each web framework (Gin, Echo, net/http, etc.).
type HTTPAdapter interface {
	GetHeader(name string) string
	GetMethod() string
	GetPath() string
	GetURL() string
	GetAcceptHeader() string
	GetUserAgent() string
}

// ============================================================================
// Configuration Types
// ============================================================================

// PaywallConfig configures the HTML paywall shown to browsers.
type PaywallConfig struct {
	AppName              string `json:"appName,omitempty"`
	AppLogo              string `json:"appLogo,omitempty"`
	CDPClientKey         string `json:"cdpClientKey,omitempty"`
	SessionTokenEndpoint string `json:"sessionTokenEndpoint,omitempty"`
	CurrentURL           string `json:"currentUrl,omitempty"`
	Testnet              bool   `json:"testnet,omitempty"`
}

// RouteConfig defines payment configuration for an HTTP endpoint.
type RouteConfig struct {
	// Payment configuration
	Scheme            string                 `json:"scheme"`
	PayTo             string                 `json:"payTo"`
	Price             x402.Price             `json:"price"`
	Network           x402.Network           `json:"network"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`

	// HTTP-specific metadata
	Resource          string                 `json:"resource,omitempty"`
	Description       string                 `json:"description,omitempty"`
	MimeType          string                 `json:"mimeType,omitempty"`
	OutputSchema      []byte                 `json:"outputSchema,omitempty"`
	CustomPaywallHTML string                 `json:"customPaywallHtml,omitempty"`
	Discoverable      bool                   `json:"discoverable,omitempty"`
	Extensions        map[string]interface{} `json:"extensions,omitempty"`
}

// RoutesConfig maps route patterns ("GET /api/*", "/premium/[id]") to
// configurations.
type RoutesConfig map[string]RouteConfig

// CompiledRoute is a parsed route ready for matching.
type CompiledRoute struct {
	Verb   string
	Regex  *regexp.Regexp
	Config RouteConfig
}

// ============================================================================
// Request/Response Types
// ============================================================================

// HTTPRequestContext encapsulates an HTTP request during payment
// processing. It is handed to protected-request hooks and extension
// enrichment as the transport context.
type HTTPRequestContext struct {
	Adapter       HTTPAdapter
	Path          string
	Method        string
	PaymentHeader string
}

// TransportMethod reports the HTTP verb. Extensions that shape their
// declarations per transport (e.g. discovery) use this.
func (c HTTPRequestContext) TransportMethod() string {
	return c.Method
}

// HTTPResponseInstructions tells the framework how to respond.
type HTTPResponseInstructions struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    interface{}       `json:"body,omitempty"`
	IsHTML  bool              `json:"isHtml,omitempty"`
}

// HTTPProcessResult indicates the result of processing a payment request.
type HTTPProcessResult struct {
	Type                string
	Response            *HTTPResponseInstructions
	PaymentPayload      *x402.PaymentPayload
	PaymentRequirements *x402.PaymentRequirements
}

// Result type constants.
const (
	ResultNoPaymentRequired = "no-payment-required"
	ResultPaymentVerified   = "payment-verified"
	ResultPaymentError      = "payment-error"
)

// ============================================================================
// X402HTTPResourceService
// ============================================================================

// X402HTTPResourceService provides HTTP-specific payment handling on top
// of the transport-agnostic resource service: route matching, header
// extraction, 402 bodies, and settlement headers.
type X402HTTPResourceService struct {
	*x402.X402ResourceService
	compiledRoutes []CompiledRoute
	paywall        PaywallProvider
}

// NewX402HTTPResourceService creates a new HTTP resource service.
func NewX402HTTPResourceService(routes RoutesConfig, opts ...x402.ResourceServiceOption) *X402HTTPResourceService {
	service := &X402HTTPResourceService{
		X402ResourceService: x402.NewX402ResourceService(opts...),
		compiledRoutes:      []CompiledRoute{},
		paywall:             DefaultPaywallProvider(),
	}

	for pattern, config := range routes {
		verb, regex := parseRoutePattern(pattern)
		service.compiledRoutes = append(service.compiledRoutes, CompiledRoute{
			Verb:   verb,
			Regex:  regex,
			Config: config,
		})
	}

	return service
}

// SetPaywallProvider replaces the HTML paywall renderer.
func (s *X402HTTPResourceService) SetPaywallProvider(provider PaywallProvider) *X402HTTPResourceService {
	if provider != nil {
		s.paywall = provider
	}
	return s
}

// Routes returns the compiled route table.
func (s *X402HTTPResourceService) Routes() []CompiledRoute {
	return s.compiledRoutes
}

// ProcessHTTPRequest runs the pre-handler half of the payment flow for
// one request: route matching, protected-request hooks, requirement
// construction, payload matching and verification. The caller invokes
// the downstream handler only on ResultPaymentVerified or
// ResultNoPaymentRequired, and then calls ProcessSettlement.
func (s *X402HTTPResourceService) ProcessHTTPRequest(ctx context.Context, reqCtx HTTPRequestContext, paywallConfig *PaywallConfig) HTTPProcessResult {
	routeConfig := s.getRouteConfig(reqCtx.Path, reqCtx.Method)
	if routeConfig == nil {
		return HTTPProcessResult{Type: ResultNoPaymentRequired}
	}

	if reqCtx.PaymentHeader == "" {
		reqCtx.PaymentHeader = ExtractPaymentHeader(reqCtx.Adapter)
	}

	var payload *x402.PaymentPayload
	if reqCtx.PaymentHeader != "" {
		decoded, err := decodePaymentSignatureHeader(reqCtx.PaymentHeader)
		if err == nil {
			payload = &decoded
		}
	}

	config := s.resourceConfig(reqCtx, *routeConfig)
	extensions := s.EnrichExtensions(routeConfig.Extensions, reqCtx)
	config.Extensions = extensions

	if hookResult := s.RunProtectedRequestHooks(x402.ProtectedRequestContext{
		Ctx:           ctx,
		Method:        reqCtx.Method,
		Path:          reqCtx.Path,
		PaymentHeader: reqCtx.PaymentHeader,
		Payload:       payload,
	}); hookResult != nil {
		if hookResult.GrantAccess {
			return HTTPProcessResult{Type: ResultNoPaymentRequired, PaymentPayload: payload}
		}
		status := hookResult.StatusCode
		if status == 0 {
			status = 402
		}
		return HTTPProcessResult{
			Type: ResultPaymentError,
			Response: &HTTPResponseInstructions{
				Status:  status,
				Headers: map[string]string{"Content-Type": "application/json"},
				Body:    map[string]string{"error": hookResult.Reason},
			},
		}
	}

	result, err := s.ProcessPaymentRequest(ctx, payload, []x402.ResourceConfig{config}, extensions)
	if err != nil {
		return HTTPProcessResult{
			Type: ResultPaymentError,
			Response: &HTTPResponseInstructions{
				Status:  500,
				Headers: map[string]string{"Content-Type": "application/json"},
				Body:    map[string]string{"error": err.Error()},
			},
		}
	}

	if result.Success {
		return HTTPProcessResult{
			Type:                ResultPaymentVerified,
			PaymentPayload:      payload,
			PaymentRequirements: result.SelectedRequirements,
		}
	}

	// Browsers with no payment attached get the paywall; everyone else
	// gets the JSON challenge body.
	showPaywall := payload == nil && isWebBrowser(reqCtx.Adapter)
	return HTTPProcessResult{
		Type:     ResultPaymentError,
		Response: s.createHTTPResponse(*result.RequiresPayment, showPaywall, paywallConfig, routeConfig.CustomPaywallHTML),
	}
}

// ProcessSettlement runs the post-handler half of the flow. Settlement
// is skipped entirely when the handler response failed; a nil header map
// with nil error means nothing to attach. When settlement itself fails
// the handler response has already been rendered, so the headers still
// carry a receipt with success false alongside the error; the caller
// attaches them and leaves the response body alone.
func (s *X402HTTPResourceService) ProcessSettlement(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements, responseStatus int) (map[string]string, error) {
	if responseStatus >= 400 {
		return nil, nil
	}

	settleResult, err := s.SettlePayment(ctx, payload, requirements)
	if err != nil || !settleResult.Success {
		if err == nil {
			err = x402.NewSettleError(settleResult.ErrorReason, "settlement failed")
		}
		settleResult.Success = false
		if settleResult.ErrorReason == "" {
			settleResult.ErrorReason = x402.ErrUnexpectedSettleError
		}
		if settleResult.Network == "" {
			settleResult.Network = requirements.Network
		}
		headers, encodeErr := s.createSettlementHeaders(settleResult)
		if encodeErr != nil {
			return nil, err
		}
		return headers, err
	}

	return s.createSettlementHeaders(settleResult)
}

// ============================================================================
// Helper Methods
// ============================================================================

// getRouteConfig finds the first matching route configuration.
func (s *X402HTTPResourceService) getRouteConfig(path, method string) *RouteConfig {
	normalizedPath := normalizePath(path)
	upperMethod := strings.ToUpper(method)

	for _, route := range s.compiledRoutes {
		if route.Regex.MatchString(normalizedPath) &&
			(route.Verb == "*" || route.Verb == upperMethod) {
			config := route.Config
			return &config
		}
	}

	return nil
}

// resourceConfig projects a matched route into a core resource config,
// defaulting the resource URL to the request URL.
func (s *X402HTTPResourceService) resourceConfig(reqCtx HTTPRequestContext, route RouteConfig) x402.ResourceConfig {
	resource := route.Resource
	if resource == "" && reqCtx.Adapter != nil {
		resource = reqCtx.Adapter.GetURL()
	}
	return x402.ResourceConfig{
		Scheme:            route.Scheme,
		PayTo:             route.PayTo,
		Price:             route.Price,
		Network:           route.Network,
		MaxTimeoutSeconds: route.MaxTimeoutSeconds,
		Resource:          resource,
		Description:       route.Description,
		MimeType:          route.MimeType,
		OutputSchema:      route.OutputSchema,
		Extra:             route.Extra,
	}
}

// ExtractPaymentHeader reads the payment header off a request, preferring
// X-PAYMENT and accepting the Payment-Signature alias.
func ExtractPaymentHeader(adapter HTTPAdapter) string {
	if adapter == nil {
		return ""
	}
	if header := adapter.GetHeader(HeaderPayment); header != "" {
		return header
	}
	return adapter.GetHeader(HeaderPaymentAlias)
}

// isWebBrowser checks if a request came from an interactive browser.
func isWebBrowser(adapter HTTPAdapter) bool {
	if adapter == nil {
		return false
	}
	accept := adapter.GetAcceptHeader()
	userAgent := adapter.GetUserAgent()
	return strings.Contains(accept, "text/html") && strings.Contains(userAgent, "Mozilla")
}

// createHTTPResponse builds 402 response instructions: an HTML paywall
// for browsers, otherwise the JSON challenge body.
func (s *X402HTTPResourceService) createHTTPResponse(paymentRequired x402.PaymentRequired, showPaywall bool, paywallConfig *PaywallConfig, customHTML string) *HTTPResponseInstructions {
	if showPaywall {
		html := customHTML
		if html == "" {
			html = s.paywall.GenerateHTML(paymentRequired, paywallConfig)
		}
		return &HTTPResponseInstructions{
			Status: 402,
			Headers: map[string]string{
				"Content-Type": "text/html; charset=utf-8",
			},
			Body:   html,
			IsHTML: true,
		}
	}

	return &HTTPResponseInstructions{
		Status: 402,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: paymentRequired,
	}
}

// createSettlementHeaders encodes a settlement receipt for the response.
func (s *X402HTTPResourceService) createSettlementHeaders(response x402.SettleResponse) (map[string]string, error) {
	encoded, err := encodePaymentResponseHeader(response)
	if err != nil {
		return nil, err
	}
	return map[string]string{HeaderPaymentResponse: encoded}, nil
}

// ============================================================================
// Utility Functions
// ============================================================================

// parseRoutePattern parses a route pattern like "GET /api/*" into a verb
// and a path regex. Patterns without a verb match every method. "*"
// segments match greedily; "[param]" segments match one path element.
func parseRoutePattern(pattern string) (string, *regexp.Regexp) {
	parts := strings.Fields(pattern)

	var verb, path string
	if len(parts) == 2 {
		verb = strings.ToUpper(parts[0])
		path = parts[1]
	} else {
		verb = "*"
		path = pattern
	}

	regexPattern := "^" + regexp.QuoteMeta(path)
	regexPattern = strings.ReplaceAll(regexPattern, `\*`, `.*?`)
	paramRegex := regexp.MustCompile(`\\\[([^\]]+)\\\]`)
	regexPattern = paramRegex.ReplaceAllString(regexPattern, `[^/]+`)
	regexPattern += "$"

	return verb, regexp.MustCompile(regexPattern)
}

// normalizePath normalizes a URL path for matching.
func normalizePath(path string) string {
	if idx := strings.IndexAny(path, "?#"); idx >= 0 {
		path = path[:idx]
	}

	if decoded, err := url.PathUnescape(path); err == nil {
		path = decoded
	}

	path = strings.ReplaceAll(path, `\`, `/`)
	multiSlash := regexp.MustCompile(`/+`)
	path = multiSlash.ReplaceAllString(path, `/`)
	path = strings.TrimSuffix(path, `/`)

	if path == "" {
		path = "/"
	}

	return path
}
