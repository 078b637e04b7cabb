package x402

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// X402Client creates signed payment payloads in response to 402
// challenges. It holds one scheme registry per protocol version, a
// selector for choosing among a challenge's accepts, and a policy chain
// that can veto payments before signing. Transports wrap it to drive the
// actual request/retry cycle.
type X402Client struct {
	mu sync.RWMutex

	registries map[int]*SchemeRegistry[SchemeNetworkClient]
	selector   PaymentRequirementsSelector
	policies   []PaymentPolicy

	extensions     map[string]ClientExtension
	extensionOrder []string

	logger *slog.Logger

	onPaymentRequiredHooks []OnPaymentRequiredHook
	onBeforePaymentHooks   []OnBeforePaymentHook
	onAfterPaymentHooks    []OnAfterPaymentHook
}

// PaymentRequirementsSelector chooses which of the affordable
// requirements to pay. It is only ever called with a nonempty slice.
type PaymentRequirementsSelector func(version int, requirements []PaymentRequirements) PaymentRequirements

// PaymentPolicy can veto a candidate requirement before signing by
// returning a non-nil error. Policies run against every candidate; a
// candidate surviving all policies stays eligible for selection.
type PaymentPolicy func(version int, candidate PaymentRequirements) error

// ClientOption configures the client.
type ClientOption func(*X402Client)

// WithPaymentSelector overrides the default first-match selector.
func WithPaymentSelector(selector PaymentRequirementsSelector) ClientOption {
	return func(c *X402Client) {
		c.selector = selector
	}
}

// WithPaymentPolicy appends a veto policy to the chain.
func WithPaymentPolicy(policy PaymentPolicy) ClientOption {
	return func(c *X402Client) {
		c.policies = append(c.policies, policy)
	}
}

// WithScheme registers a payment handler for a protocol version at
// construction time.
func WithScheme(version int, network Network, handler SchemeNetworkClient) ClientOption {
	return func(c *X402Client) {
		c.registerScheme(version, network, handler)
	}
}

// WithClientExtension registers a client extension at construction time.
func WithClientExtension(extension ClientExtension) ClientOption {
	return func(c *X402Client) {
		c.RegisterExtension(extension)
	}
}

// WithClientLogger routes the client's structured logs.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *X402Client) {
		c.logger = logger
	}
}

func NewX402Client(opts ...ClientOption) *X402Client {
	c := &X402Client{
		registries: make(map[int]*SchemeRegistry[SchemeNetworkClient]),
		selector:   FirstRequirementSelector,
		extensions: make(map[string]ClientExtension),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FirstRequirementSelector takes the server's priority hint at face
// value: the first affordable requirement wins.
func FirstRequirementSelector(version int, requirements []PaymentRequirements) PaymentRequirements {
	return requirements[0]
}

// PreferNetworkSelector picks the first requirement on any of the given
// networks, falling back to the server's first choice.
func PreferNetworkSelector(networks ...Network) PaymentRequirementsSelector {
	return func(version int, requirements []PaymentRequirements) PaymentRequirements {
		for _, preferred := range networks {
			target := NormalizeNetwork(preferred)
			for _, req := range requirements {
				if NormalizeNetwork(req.Network).Match(target) {
					return req
				}
			}
		}
		return requirements[0]
	}
}

// CheapestSelector picks the requirement with the smallest atomic
// amount. Amounts are only comparable within one asset; across assets
// the earlier requirement wins ties and unparseable amounts lose.
func CheapestSelector(version int, requirements []PaymentRequirements) PaymentRequirements {
	best := requirements[0]
	bestAmount, bestErr := ParseAtomicAmount(best.EffectiveAmount())
	for _, req := range requirements[1:] {
		amount, err := ParseAtomicAmount(req.EffectiveAmount())
		if err != nil {
			continue
		}
		if bestErr != nil || (req.Asset == best.Asset && amount.Cmp(bestAmount) < 0) {
			best, bestAmount, bestErr = req, amount, nil
		}
	}
	return best
}

// MaxAmountPolicy vetoes any requirement whose atomic amount exceeds
// limit. Use it to cap client spend per request.
func MaxAmountPolicy(limit string) PaymentPolicy {
	return func(version int, candidate PaymentRequirements) error {
		max, err := ParseAtomicAmount(limit)
		if err != nil {
			return fmt.Errorf("invalid policy limit: %w", err)
		}
		amount, err := ParseAtomicAmount(candidate.EffectiveAmount())
		if err != nil {
			return fmt.Errorf("unparseable amount %q", candidate.EffectiveAmount())
		}
		if amount.Cmp(max) > 0 {
			return fmt.Errorf("amount %s exceeds policy limit %s", candidate.EffectiveAmount(), limit)
		}
		return nil
	}
}

// ============================================================================
// Registration
// ============================================================================

// RegisterScheme registers a payment handler for the latest protocol
// version.
func (c *X402Client) RegisterScheme(network Network, handler SchemeNetworkClient) *X402Client {
	return c.registerScheme(SupportedVersions[len(SupportedVersions)-1], network, handler)
}

// RegisterSchemeForVersion registers a payment handler for a specific
// protocol version.
func (c *X402Client) RegisterSchemeForVersion(version int, network Network, handler SchemeNetworkClient) *X402Client {
	return c.registerScheme(version, network, handler)
}

func (c *X402Client) registerScheme(version int, network Network, handler SchemeNetworkClient) *X402Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	registry := c.registries[version]
	if registry == nil {
		registry = NewSchemeRegistry[SchemeNetworkClient]()
		c.registries[version] = registry
	}
	registry.Register(handler.Scheme(), network, handler)
	return c
}

// RegisterExtension attaches a client extension; its enrichment runs on
// every created payload in registration order.
func (c *X402Client) RegisterExtension(extension ClientExtension) *X402Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := extension.Key()
	if _, exists := c.extensions[key]; !exists {
		c.extensionOrder = append(c.extensionOrder, key)
	}
	c.extensions[key] = extension
	return c
}

// RegisterPolicy appends a veto policy to the chain.
func (c *X402Client) RegisterPolicy(policy PaymentPolicy) *X402Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policies = append(c.policies, policy)
	return c
}

// RegisteredVersions lists protocol versions with at least one handler,
// ascending.
func (c *X402Client) RegisteredVersions() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	versions := make([]int, 0, len(c.registries))
	for version, registry := range c.registries {
		if registry.Len() > 0 {
			versions = append(versions, version)
		}
	}
	sort.Ints(versions)
	return versions
}

// ============================================================================
// Selection
// ============================================================================

// SelectPaymentRequirements filters a challenge's accepts down to those
// with a registered handler that every policy approves, then applies the
// selector.
func (c *X402Client) SelectPaymentRequirements(version int, requirements []PaymentRequirements) (PaymentRequirements, error) {
	c.mu.RLock()
	registry := c.registries[version]
	policies := c.policies
	selector := c.selector
	c.mu.RUnlock()

	if registry == nil {
		return PaymentRequirements{}, NewPaymentError(ErrUnsupportedScheme,
			fmt.Sprintf("no schemes registered for x402 version %d", version), nil)
	}

	var supported []PaymentRequirements
	var vetoed error
	for _, req := range requirements {
		if _, ok := registry.Lookup(req.Scheme, req.Network); !ok {
			continue
		}
		if err := c.applyPolicies(policies, version, req); err != nil {
			vetoed = err
			continue
		}
		supported = append(supported, req)
	}

	if len(supported) == 0 {
		if vetoed != nil {
			return PaymentRequirements{}, fmt.Errorf("all payment options vetoed by policy: %w", vetoed)
		}
		return PaymentRequirements{}, NewPaymentError(ErrUnsupportedScheme,
			"no supported payment schemes available", map[string]interface{}{"version": version})
	}

	return selector(version, supported), nil
}

func (c *X402Client) applyPolicies(policies []PaymentPolicy, version int, candidate PaymentRequirements) error {
	for _, policy := range policies {
		if err := policy(version, candidate); err != nil {
			return err
		}
	}
	return nil
}

// CanPay reports whether any of the requirements is payable.
func (c *X402Client) CanPay(version int, requirements []PaymentRequirements) bool {
	_, err := c.SelectPaymentRequirements(version, requirements)
	return err == nil
}

// ============================================================================
// Payment Creation
// ============================================================================

// CreatePaymentPayload signs one requirement at the given protocol
// version. The returned payload pins the requirement's scheme and
// network, with the network in the version's wire form (alias for v1,
// CAIP-2 otherwise).
func (c *X402Client) CreatePaymentPayload(ctx context.Context, version int, requirements PaymentRequirements) (PaymentPayload, error) {
	if err := ValidatePaymentRequirements(requirements); err != nil {
		return PaymentPayload{}, fmt.Errorf("invalid payment requirements: %w", err)
	}

	c.mu.RLock()
	registry := c.registries[version]
	c.mu.RUnlock()

	if registry == nil {
		return PaymentPayload{}, NewPaymentError(ErrUnsupportedScheme,
			fmt.Sprintf("no schemes registered for x402 version %d", version), nil)
	}

	handler, ok := registry.Lookup(requirements.Scheme, requirements.Network)
	if !ok {
		return PaymentPayload{}, NewPaymentError(ErrUnsupportedScheme,
			fmt.Sprintf("no handler for scheme %s on network %s at version %d", requirements.Scheme, requirements.Network, version), nil)
	}

	payload, err := handler.CreatePaymentPayload(ctx, version, requirements)
	if err != nil {
		return PaymentPayload{}, fmt.Errorf("failed to create payment payload: %w", err)
	}

	payload.X402Version = version
	payload.Scheme = requirements.Scheme
	if version == 1 {
		payload.Network = NetworkToV1(NormalizeNetwork(requirements.Network))
	} else {
		payload.Network = NormalizeNetwork(requirements.Network)
	}

	if err := ValidatePaymentPayload(payload); err != nil {
		return PaymentPayload{}, fmt.Errorf("handler produced invalid payload: %w", err)
	}
	return payload, nil
}

// CreatePaymentForRequired answers a 402 challenge: run the
// onPaymentRequired hooks (which may substitute a cached payment or give
// up), negotiate the protocol version, select a requirement, run the
// onBeforePayment hooks, sign, and enrich through registered extensions.
func (c *X402Client) CreatePaymentForRequired(ctx context.Context, required PaymentRequired) (PaymentPayload, error) {
	hookCtx := PaymentRequiredContext{Ctx: ctx, Required: required}

	c.mu.RLock()
	requiredHooks := c.onPaymentRequiredHooks
	beforeHooks := c.onBeforePaymentHooks
	c.mu.RUnlock()

	for _, hook := range requiredHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return PaymentPayload{}, err
		}
		if result == nil {
			continue
		}
		if result.Abort {
			return PaymentPayload{}, fmt.Errorf("payment aborted: %s", result.Reason)
		}
		if result.Payment != nil {
			return *result.Payment, nil
		}
	}

	version, err := c.negotiateVersion(required.X402Version)
	if err != nil {
		return PaymentPayload{}, err
	}

	selected, err := c.SelectPaymentRequirements(version, required.Accepts)
	if err != nil {
		return PaymentPayload{}, err
	}

	beforeCtx := BeforePaymentContext{Ctx: ctx, Version: version, Selected: selected, Required: required}
	for _, hook := range beforeHooks {
		result, err := hook(beforeCtx)
		if err != nil {
			return PaymentPayload{}, err
		}
		if result != nil && result.Abort {
			return PaymentPayload{}, fmt.Errorf("payment aborted: %s", result.Reason)
		}
	}

	payload, err := c.CreatePaymentPayload(ctx, version, selected)
	if err != nil {
		return PaymentPayload{}, err
	}

	return c.enrichPayload(ctx, payload, required)
}

// negotiateVersion picks the highest registered version no newer than
// the challenge's.
func (c *X402Client) negotiateVersion(challengeVersion int) (int, error) {
	offered := make([]int, 0, len(SupportedVersions))
	for _, v := range SupportedVersions {
		if v <= challengeVersion {
			offered = append(offered, v)
		}
	}
	if len(offered) == 0 {
		offered = SupportedVersions
	}
	return NegotiateVersion(offered, c.RegisteredVersions())
}

func (c *X402Client) enrichPayload(ctx context.Context, payload PaymentPayload, required PaymentRequired) (PaymentPayload, error) {
	c.mu.RLock()
	order := c.extensionOrder
	extensions := c.extensions
	c.mu.RUnlock()

	for _, key := range order {
		extension := extensions[key]
		enriched, err := extension.EnrichPaymentPayload(ctx, payload, required)
		if err != nil {
			return PaymentPayload{}, fmt.Errorf("extension %s failed: %w", key, err)
		}
		payload = enriched
	}
	return payload, nil
}

// ============================================================================
// Transport Integration
// ============================================================================

// RunAfterPaymentHooks reports a payment outcome to the observers.
// Transport adapters call this after the retried request completes.
func (c *X402Client) RunAfterPaymentHooks(actx AfterPaymentContext) {
	c.mu.RLock()
	hooks := c.onAfterPaymentHooks
	c.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(actx); err != nil {
			c.logger.Warn("after payment hook errored", "error", err)
		}
	}
}
