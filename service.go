package x402

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// X402ResourceService is the payment side of a resource server: it owns
// the scheme registry used for pricing, the facilitator client set, and
// the hook pipelines. Transport adapters (HTTP middleware, gRPC
// interceptors, MCP tools) layer route matching on top and call into
// ProcessPaymentRequest / SettlePayment.
type X402ResourceService struct {
	mu sync.RWMutex

	registry       *SchemeRegistry[SchemeNetworkServer]
	moneyParsers   []MoneyParser
	facilitators   []FacilitatorClient
	extensions     map[string]ResourceServiceExtension
	extensionOrder []string

	supportedCache *SupportedCache
	routing        map[int]*SchemeRegistry[FacilitatorClient]
	initialized    bool

	logger *slog.Logger

	onProtectedRequestHooks []OnProtectedRequestHook
	beforeVerifyHooks       []BeforeVerifyHook
	afterVerifyHooks        []AfterVerifyHook
	onVerifyFailureHooks    []OnVerifyFailureHook
	beforeSettleHooks       []BeforeSettleHook
	afterSettleHooks        []AfterSettleHook
	onSettleFailureHooks    []OnSettleFailureHook
}

// SupportedCache holds facilitator capability responses, keyed by
// facilitator identifier, for a TTL.
type SupportedCache struct {
	mu     sync.RWMutex
	data   map[string]SupportedResponse
	expiry map[string]time.Time
	ttl    time.Duration
}

// ResourceServiceOption configures the service.
type ResourceServiceOption func(*X402ResourceService)

// WithFacilitatorClient adds a facilitator client. Order matters:
// earlier facilitators win when several support the same payment kind.
func WithFacilitatorClient(client FacilitatorClient) ResourceServiceOption {
	return func(s *X402ResourceService) {
		s.facilitators = append(s.facilitators, client)
	}
}

// WithSchemeServer registers a scheme handler for pricing and
// requirement enhancement.
func WithSchemeServer(network Network, handler SchemeNetworkServer) ResourceServiceOption {
	return func(s *X402ResourceService) {
		s.RegisterScheme(network, handler)
	}
}

// WithMoneyParser prepends a custom price parser. Parsers run in
// registration order before the scheme handler's own ParsePrice.
func WithMoneyParser(parser MoneyParser) ResourceServiceOption {
	return func(s *X402ResourceService) {
		s.moneyParsers = append(s.moneyParsers, parser)
	}
}

// WithCacheTTL sets how long facilitator capabilities are cached.
func WithCacheTTL(ttl time.Duration) ResourceServiceOption {
	return func(s *X402ResourceService) {
		s.supportedCache.ttl = ttl
	}
}

// WithServiceLogger routes the service's structured logs.
func WithServiceLogger(logger *slog.Logger) ResourceServiceOption {
	return func(s *X402ResourceService) {
		s.logger = logger
	}
}

func NewX402ResourceService(opts ...ResourceServiceOption) *X402ResourceService {
	s := &X402ResourceService{
		registry:   NewSchemeRegistry[SchemeNetworkServer](),
		extensions: make(map[string]ResourceServiceExtension),
		supportedCache: &SupportedCache{
			data:   make(map[string]SupportedResponse),
			expiry: make(map[string]time.Time),
			ttl:    5 * time.Minute,
		},
		routing: make(map[int]*SchemeRegistry[FacilitatorClient]),
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if len(s.facilitators) == 0 {
		s.logger.Warn("resource service constructed without facilitator clients")
	}

	return s
}

// Initialize probes every configured facilitator's capabilities, filling
// the supported cache and the version/scheme/network routing table.
// Callers may invoke it at startup to fail fast on misconfiguration;
// otherwise it runs lazily on first use.
func (s *X402ResourceService) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initializeLocked(ctx)
}

func (s *X402ResourceService) initializeLocked(ctx context.Context) error {
	s.routing = make(map[int]*SchemeRegistry[FacilitatorClient])

	var lastErr error
	probed := 0

	for _, client := range s.facilitators {
		supported, err := client.GetSupported(ctx)
		if err != nil {
			lastErr = fmt.Errorf("facilitator %s: %w", client.Identifier(), err)
			s.logger.Warn("facilitator probe failed", "facilitator", client.Identifier(), "error", err)
			continue
		}

		s.supportedCache.Set(client.Identifier(), supported)
		probed++

		for _, kind := range supported.Kinds {
			routes := s.routing[kind.X402Version]
			if routes == nil {
				routes = NewSchemeRegistry[FacilitatorClient]()
				s.routing[kind.X402Version] = routes
			}
			// First facilitator to claim a kind keeps it.
			if !routes.Contains(kind.Scheme, kind.Network) {
				routes.Register(kind.Scheme, kind.Network, client)
			}
		}
	}

	if probed == 0 && lastErr != nil {
		return fmt.Errorf("failed to initialize any facilitators: %w", lastErr)
	}

	s.initialized = true
	return nil
}

func (s *X402ResourceService) ensureInitialized(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return
	}
	if err := s.initializeLocked(ctx); err != nil {
		s.logger.Warn("lazy facilitator initialization failed", "error", err)
	}
}

// RegisterScheme binds a scheme handler to a network or network pattern.
func (s *X402ResourceService) RegisterScheme(network Network, handler SchemeNetworkServer) *X402ResourceService {
	s.registry.Register(handler.Scheme(), network, handler)
	return s
}

// RegisterMoneyParser appends a custom price parser to the chain.
func (s *X402ResourceService) RegisterMoneyParser(parser MoneyParser) *X402ResourceService {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moneyParsers = append(s.moneyParsers, parser)
	return s
}

// RegisterExtension attaches a service extension. Extensions that
// implement ProtectedRequestInterceptor or SettlementObserver are also
// wired into the corresponding hook pipelines, in registration order.
// Registering a key twice is a no-op.
func (s *X402ResourceService) RegisterExtension(extension ResourceServiceExtension) *X402ResourceService {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := extension.Key()
	if _, exists := s.extensions[key]; exists {
		return s
	}
	s.extensions[key] = extension
	s.extensionOrder = append(s.extensionOrder, key)

	if interceptor, ok := extension.(ProtectedRequestInterceptor); ok {
		s.onProtectedRequestHooks = append(s.onProtectedRequestHooks, interceptor.OnProtectedRequest)
	}
	if observer, ok := extension.(SettlementObserver); ok {
		s.afterSettleHooks = append(s.afterSettleHooks, observer.OnAfterSettle)
	}
	return s
}

// ============================================================================
// Hook Registration Methods (Chainable)
// ============================================================================

func (s *X402ResourceService) OnProtectedRequest(hook OnProtectedRequestHook) *X402ResourceService {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onProtectedRequestHooks = append(s.onProtectedRequestHooks, hook)
	return s
}

func (s *X402ResourceService) OnBeforeVerify(hook BeforeVerifyHook) *X402ResourceService {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeVerifyHooks = append(s.beforeVerifyHooks, hook)
	return s
}

func (s *X402ResourceService) OnAfterVerify(hook AfterVerifyHook) *X402ResourceService {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterVerifyHooks = append(s.afterVerifyHooks, hook)
	return s
}

func (s *X402ResourceService) OnVerifyFailure(hook OnVerifyFailureHook) *X402ResourceService {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onVerifyFailureHooks = append(s.onVerifyFailureHooks, hook)
	return s
}

func (s *X402ResourceService) OnBeforeSettle(hook BeforeSettleHook) *X402ResourceService {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeSettleHooks = append(s.beforeSettleHooks, hook)
	return s
}

func (s *X402ResourceService) OnAfterSettle(hook AfterSettleHook) *X402ResourceService {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterSettleHooks = append(s.afterSettleHooks, hook)
	return s
}

func (s *X402ResourceService) OnSettleFailure(hook OnSettleFailureHook) *X402ResourceService {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSettleFailureHooks = append(s.onSettleFailureHooks, hook)
	return s
}

// RunProtectedRequestHooks executes the pre-verification pipeline.
// The first hook to grant access or abort short-circuits; hook errors
// are logged and skipped.
func (s *X402ResourceService) RunProtectedRequestHooks(pctx ProtectedRequestContext) *ProtectedRequestResult {
	s.mu.RLock()
	hooks := s.onProtectedRequestHooks
	s.mu.RUnlock()

	for _, hook := range hooks {
		result, err := hook(pctx)
		if err != nil {
			s.logger.Warn("protected request hook errored", "error", err)
			continue
		}
		if result != nil && (result.GrantAccess || result.Abort) {
			return result
		}
	}
	return nil
}

// EnrichExtensions runs route-declared extension descriptors through the
// registered extensions; unregistered keys pass through unchanged.
func (s *X402ResourceService) EnrichExtensions(declared map[string]interface{}, transportContext interface{}) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if declared == nil {
		return nil
	}
	enriched := make(map[string]interface{}, len(declared))
	for key, declaration := range declared {
		if extension, ok := s.extensions[key]; ok {
			enriched[key] = extension.EnrichDeclaration(declaration, transportContext)
		} else {
			enriched[key] = declaration
		}
	}
	return enriched
}

// ============================================================================
// Requirement Construction
// ============================================================================

// BuildPaymentRequirements turns resource configs into the accepts list
// for a 402 at the given protocol version. For every config, each
// facilitator that supports the (scheme, network) kind contributes one
// enhanced requirement, in facilitator registration order.
func (s *X402ResourceService) BuildPaymentRequirements(ctx context.Context, configs []ResourceConfig, version int) ([]PaymentRequirements, error) {
	s.ensureInitialized(ctx)

	var out []PaymentRequirements
	var firstErr error

	for _, config := range configs {
		requirements, err := s.buildForConfig(ctx, config, version)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			s.logger.Debug("skipping payment config", "scheme", config.Scheme, "network", config.Network, "error", err)
			continue
		}
		for _, req := range requirements {
			if !containsRequirement(out, req) {
				out = append(out, req)
			}
		}
	}

	if len(out) == 0 {
		if firstErr != nil {
			return nil, firstErr
		}
		return nil, NewPaymentError(ErrUnsupportedScheme, "no payment requirements could be built", nil)
	}
	return out, nil
}

func (s *X402ResourceService) buildForConfig(ctx context.Context, config ResourceConfig, version int) ([]PaymentRequirements, error) {
	handler, ok := s.registry.Lookup(config.Scheme, config.Network)
	if !ok {
		return nil, NewPaymentError(ErrUnsupportedScheme,
			fmt.Sprintf("no handler registered for scheme %s on network %s", config.Scheme, config.Network), nil)
	}

	if err := ValidateOutputSchema(config.OutputSchema); err != nil {
		return nil, err
	}

	assetAmount, err := s.parsePrice(handler, config.Price, config.Network)
	if err != nil {
		return nil, fmt.Errorf("failed to parse price: %w", err)
	}

	var out []PaymentRequirements
	for _, client := range s.facilitators {
		kind, extensionKeys := s.findSupportedKind(client.Identifier(), version, config.Network, config.Scheme)
		if kind == nil {
			continue
		}

		base := s.baseRequirements(config, *assetAmount, version)
		enhanced, err := handler.EnhancePaymentRequirements(ctx, base, *kind, extensionKeys)
		if err != nil {
			return nil, fmt.Errorf("failed to enhance payment requirements: %w", err)
		}
		out = append(out, enhanced)
	}

	if len(out) == 0 {
		return nil, NewPaymentError(ErrUnsupportedNetwork,
			fmt.Sprintf("no facilitator supports %s on %s at version %d", config.Scheme, config.Network, version),
			map[string]interface{}{"hint": "call Initialize() to refresh facilitator capabilities"})
	}
	return out, nil
}

// parsePrice runs the custom parser chain, falling back to the scheme
// handler. The first parser to return a non-nil amount wins.
func (s *X402ResourceService) parsePrice(handler SchemeNetworkServer, price Price, network Network) (*AssetAmount, error) {
	s.mu.RLock()
	parsers := s.moneyParsers
	s.mu.RUnlock()

	for _, parser := range parsers {
		amount, err := parser(price, network)
		if err != nil {
			return nil, err
		}
		if amount != nil {
			return amount, nil
		}
	}

	amount, err := handler.ParsePrice(price, network)
	if err != nil {
		return nil, err
	}
	return &amount, nil
}

func (s *X402ResourceService) baseRequirements(config ResourceConfig, assetAmount AssetAmount, version int) PaymentRequirements {
	base := PaymentRequirements{
		Scheme:            config.Scheme,
		Asset:             assetAmount.Asset,
		PayTo:             config.PayTo,
		MaxTimeoutSeconds: config.MaxTimeoutSeconds,
		Resource:          config.Resource,
		Description:       config.Description,
		MimeType:          config.MimeType,
		OutputSchema:      config.OutputSchema,
		Extensions:        config.Extensions,
	}

	if version == 1 {
		base.Network = NetworkToV1(NormalizeNetwork(config.Network))
		base.MaxAmountRequired = assetAmount.Amount
	} else {
		base.Network = NormalizeNetwork(config.Network)
		base.Amount = assetAmount.Amount
	}

	if base.MaxTimeoutSeconds == 0 {
		base.MaxTimeoutSeconds = DefaultMaxTimeoutSeconds
	}

	if len(assetAmount.Extra) > 0 || len(config.Extra) > 0 {
		extra := make(map[string]interface{}, len(assetAmount.Extra)+len(config.Extra))
		for k, v := range assetAmount.Extra {
			extra[k] = v
		}
		for k, v := range config.Extra {
			extra[k] = v
		}
		base.Extra = extra
	}

	return base
}

func containsRequirement(list []PaymentRequirements, req PaymentRequirements) bool {
	for _, existing := range list {
		if DeepEqual(existing, req) {
			return true
		}
	}
	return false
}

// CreatePaymentRequiredResponse assembles a 402 body.
func (s *X402ResourceService) CreatePaymentRequiredResponse(version int, requirements []PaymentRequirements, errorMsg string, extensions map[string]interface{}) PaymentRequired {
	if errorMsg == "" {
		errorMsg = "payment required"
	}
	return PaymentRequired{
		X402Version: version,
		Accepts:     requirements,
		Error:       errorMsg,
		Extensions:  extensions,
	}
}

// ============================================================================
// Verification and Settlement
// ============================================================================

// VerifyPayment routes a payment to the first facilitator supporting its
// kind and runs the verify hook pipeline around the call.
func (s *X402ResourceService) VerifyPayment(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	s.ensureInitialized(ctx)
	started := time.Now()
	hookCtx := VerifyContext{
		Ctx:          ctx,
		Payload:      payload,
		Requirements: requirements,
		Timestamp:    started,
	}

	s.mu.RLock()
	beforeHooks := s.beforeVerifyHooks
	s.mu.RUnlock()

	for _, hook := range beforeHooks {
		result, err := hook(hookCtx)
		if err != nil {
			s.logger.Warn("before verify hook errored", "error", err)
			continue
		}
		if result != nil && result.Abort {
			return VerifyResponse{IsValid: false, InvalidReason: result.Reason}, nil
		}
	}

	result, err := s.dispatchVerify(ctx, payload, requirements)
	if err != nil {
		failureCtx := VerifyFailureContext{VerifyContext: hookCtx, Error: err, Duration: time.Since(started)}

		s.mu.RLock()
		failureHooks := s.onVerifyFailureHooks
		s.mu.RUnlock()

		for _, hook := range failureHooks {
			recovery, hookErr := hook(failureCtx)
			if hookErr != nil {
				s.logger.Warn("verify failure hook errored", "error", hookErr)
				continue
			}
			if recovery != nil && recovery.Recovered {
				return recovery.Result, nil
			}
		}
		return result, err
	}

	resultCtx := VerifyResultContext{VerifyContext: hookCtx, Result: result, Duration: time.Since(started)}

	s.mu.RLock()
	afterHooks := s.afterVerifyHooks
	s.mu.RUnlock()

	for _, hook := range afterHooks {
		if hookErr := hook(resultCtx); hookErr != nil {
			s.logger.Warn("after verify hook errored", "error", hookErr)
		}
	}

	return result, nil
}

func (s *X402ResourceService) dispatchVerify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	if client := s.facilitatorFor(payload.X402Version, requirements.Scheme, requirements.Network); client != nil {
		return client.Verify(ctx, payload, requirements)
	}

	// No routed facilitator; fall back to trying each in order.
	for _, client := range s.facilitators {
		resp, err := client.Verify(ctx, payload, requirements)
		if err == nil {
			return resp, nil
		}
		s.logger.Debug("fallback verify failed", "facilitator", client.Identifier(), "error", err)
	}

	return VerifyResponse{IsValid: false, InvalidReason: ErrUnsupportedScheme},
		NewPaymentError(ErrUnsupportedScheme, "no facilitator supports this payment kind", nil)
}

// SettlePayment routes a payment to the facilitator that verified its
// kind and runs the settle hook pipeline around the call.
func (s *X402ResourceService) SettlePayment(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	s.ensureInitialized(ctx)
	started := time.Now()
	hookCtx := SettleContext{
		Ctx:          ctx,
		Payload:      payload,
		Requirements: requirements,
		Timestamp:    started,
	}

	s.mu.RLock()
	beforeHooks := s.beforeSettleHooks
	s.mu.RUnlock()

	for _, hook := range beforeHooks {
		result, err := hook(hookCtx)
		if err != nil {
			s.logger.Warn("before settle hook errored", "error", err)
			continue
		}
		if result != nil && result.Abort {
			return SettleResponse{Success: false, ErrorReason: result.Reason, Network: requirements.Network},
				fmt.Errorf("settlement aborted: %s", result.Reason)
		}
	}

	result, err := s.dispatchSettle(ctx, payload, requirements)
	if err != nil {
		failureCtx := SettleFailureContext{SettleContext: hookCtx, Error: err, Duration: time.Since(started)}

		s.mu.RLock()
		failureHooks := s.onSettleFailureHooks
		s.mu.RUnlock()

		for _, hook := range failureHooks {
			recovery, hookErr := hook(failureCtx)
			if hookErr != nil {
				s.logger.Warn("settle failure hook errored", "error", hookErr)
				continue
			}
			if recovery != nil && recovery.Recovered {
				return recovery.Result, nil
			}
		}
		return result, err
	}

	resultCtx := SettleResultContext{SettleContext: hookCtx, Result: result, Duration: time.Since(started)}

	s.mu.RLock()
	afterHooks := s.afterSettleHooks
	s.mu.RUnlock()

	for _, hook := range afterHooks {
		if hookErr := hook(resultCtx); hookErr != nil {
			s.logger.Warn("after settle hook errored", "error", hookErr)
		}
	}

	return result, nil
}

func (s *X402ResourceService) dispatchSettle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	if client := s.facilitatorFor(payload.X402Version, requirements.Scheme, requirements.Network); client != nil {
		return client.Settle(ctx, payload, requirements)
	}

	for _, client := range s.facilitators {
		resp, err := client.Settle(ctx, payload, requirements)
		if err == nil {
			return resp, nil
		}
		s.logger.Debug("fallback settle failed", "facilitator", client.Identifier(), "error", err)
	}

	return SettleResponse{Success: false, ErrorReason: ErrUnsupportedScheme, Network: requirements.Network},
		NewPaymentError(ErrUnsupportedScheme, "no facilitator supports this payment kind", nil)
}

// FindMatchingRequirements returns the first requirement the payload's
// pinned (scheme, network) satisfies, or nil.
func (s *X402ResourceService) FindMatchingRequirements(available []PaymentRequirements, payload PaymentPayload) *PaymentRequirements {
	payloadNetwork := NormalizeNetwork(payload.Network)
	for _, req := range available {
		if req.Scheme == payload.Scheme && payloadNetwork.Match(NormalizeNetwork(req.Network)) {
			match := req
			return &match
		}
	}
	return nil
}

// ============================================================================
// End-to-End Processing
// ============================================================================

// ProcessResult is the outcome of processing one payment request.
type ProcessResult struct {
	Success              bool
	RequiresPayment      *PaymentRequired
	SelectedRequirements *PaymentRequirements
	VerificationResult   *VerifyResponse
	SettlementResult     *SettleResponse
	Error                string
}

// ProcessPaymentRequest drives the full pre-settlement flow: build the
// accepts list, match the payload against it, and verify. A nil payload
// or a failed match produces the 402 body to send; a verified payment
// returns the matched requirement for later settlement.
func (s *X402ResourceService) ProcessPaymentRequest(ctx context.Context, payload *PaymentPayload, configs []ResourceConfig, extensions map[string]interface{}) (*ProcessResult, error) {
	version := SupportedVersions[len(SupportedVersions)-1]
	if payload != nil {
		negotiated, err := NegotiateVersion(SupportedVersions, []int{payload.X402Version})
		if err == nil {
			version = negotiated
		}
		// Unsupported versions keep the server default; the rebuilt 402
		// tells the client what we can accept.
	}

	requirements, err := s.BuildPaymentRequirements(ctx, configs, version)
	if err != nil {
		return nil, err
	}

	if payload == nil {
		return &ProcessResult{
			Success:         false,
			RequiresPayment: s.paymentRequired(version, requirements, "", extensions),
		}, nil
	}

	if !versionSupported(payload.X402Version) {
		return &ProcessResult{
			Success:         false,
			Error:           ErrInvalidPayload,
			RequiresPayment: s.paymentRequired(version, requirements, fmt.Sprintf("unsupported x402 version: %d", payload.X402Version), extensions),
		}, nil
	}

	matched := s.FindMatchingRequirements(requirements, *payload)
	if matched == nil {
		return &ProcessResult{
			Success:         false,
			Error:           ErrUnsupportedScheme,
			RequiresPayment: s.paymentRequired(version, requirements, "no matching payment requirements found", extensions),
		}, nil
	}

	verification, err := s.VerifyPayment(ctx, *payload, *matched)
	if err != nil {
		return nil, err
	}

	if !verification.IsValid {
		return &ProcessResult{
			Success:            false,
			Error:              verification.InvalidReason,
			VerificationResult: &verification,
			RequiresPayment:    s.paymentRequired(version, requirements, verification.InvalidReason, extensions),
		}, nil
	}

	return &ProcessResult{
		Success:              true,
		SelectedRequirements: matched,
		VerificationResult:   &verification,
	}, nil
}

func (s *X402ResourceService) paymentRequired(version int, requirements []PaymentRequirements, errorMsg string, extensions map[string]interface{}) *PaymentRequired {
	response := s.CreatePaymentRequiredResponse(version, requirements, errorMsg, extensions)
	return &response
}

// ============================================================================
// Facilitator Capability Lookups
// ============================================================================

// findSupportedKind returns the cached kind one facilitator advertises
// for (version, network, scheme), plus its advertised extension keys.
func (s *X402ResourceService) findSupportedKind(identifier string, version int, network Network, scheme string) (*SupportedKind, []string) {
	supported, ok := s.supportedCache.Get(identifier)
	if !ok {
		return nil, nil
	}

	target := NormalizeNetwork(network)
	for _, kind := range supported.Kinds {
		if kind.X402Version != version || kind.Scheme != scheme {
			continue
		}
		if NormalizeNetwork(kind.Network).Match(target) {
			found := kind
			return &found, supported.Extensions
		}
	}
	return nil, nil
}

// facilitatorFor resolves the facilitator routed for a payment kind.
func (s *X402ResourceService) facilitatorFor(version int, scheme string, network Network) FacilitatorClient {
	s.mu.RLock()
	routes := s.routing[version]
	s.mu.RUnlock()

	if routes == nil {
		return nil
	}
	client, ok := routes.Lookup(scheme, network)
	if !ok {
		return nil
	}
	return client
}

// ============================================================================
// SupportedCache
// ============================================================================

// Set stores a capability response under a facilitator identifier.
func (c *SupportedCache) Set(key string, value SupportedResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	c.expiry[key] = time.Now().Add(c.ttl)
}

// Get returns an unexpired capability response.
func (c *SupportedCache) Get(key string) (SupportedResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	expiry, ok := c.expiry[key]
	if !ok || time.Now().After(expiry) {
		return SupportedResponse{}, false
	}
	value, ok := c.data[key]
	return value, ok
}

// Clear drops all cached responses.
func (c *SupportedCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]SupportedResponse)
	c.expiry = make(map[string]time.Time)
}
