package x402

import (
	"context"
	"log/slog"
	"time"
)

// maxHandlerTimeout caps the deadline derived from a requirement's
// maxTimeoutSeconds for any single verify or settle call.
const maxHandlerTimeout = 10 * time.Minute

// X402Facilitator dispatches verify and settle calls to registered
// scheme handlers. The dispatcher itself is stateless beyond its
// registry: chain access, nonce bookkeeping and replay protection are
// handler concerns, and settlement is never retried here.
type X402Facilitator struct {
	registry   *SchemeRegistry[SchemeNetworkFacilitator]
	extensions []string
	logger     *slog.Logger

	beforeVerifyHooks    []FacilitatorBeforeVerifyHook
	afterVerifyHooks     []FacilitatorAfterVerifyHook
	onVerifyFailureHooks []FacilitatorOnVerifyFailureHook
	beforeSettleHooks    []FacilitatorBeforeSettleHook
	afterSettleHooks     []FacilitatorAfterSettleHook
	onSettleFailureHooks []FacilitatorOnSettleFailureHook
}

// FacilitatorOption configures a facilitator.
type FacilitatorOption func(*X402Facilitator)

// WithFacilitatorLogger routes the facilitator's structured logs.
func WithFacilitatorLogger(logger *slog.Logger) FacilitatorOption {
	return func(f *X402Facilitator) {
		f.logger = logger
	}
}

// WithFacilitatorScheme registers a scheme handler at construction time.
func WithFacilitatorScheme(network Network, handler SchemeNetworkFacilitator) FacilitatorOption {
	return func(f *X402Facilitator) {
		f.Register(network, handler)
	}
}

func NewX402Facilitator(opts ...FacilitatorOption) *X402Facilitator {
	f := &X402Facilitator{
		registry:   NewSchemeRegistry[SchemeNetworkFacilitator](),
		extensions: []string{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Register binds a scheme handler to a network or network pattern.
func (f *X402Facilitator) Register(network Network, handler SchemeNetworkFacilitator) *X402Facilitator {
	f.registry.Register(handler.Scheme(), network, handler)
	return f
}

// RegisterExtension advertises a protocol extension in supported().
func (f *X402Facilitator) RegisterExtension(key string) *X402Facilitator {
	for _, existing := range f.extensions {
		if existing == key {
			return f
		}
	}
	f.extensions = append(f.extensions, key)
	return f
}

// ============================================================================
// Hook Registration Methods
// ============================================================================

func (f *X402Facilitator) OnBeforeVerify(hook FacilitatorBeforeVerifyHook) *X402Facilitator {
	f.beforeVerifyHooks = append(f.beforeVerifyHooks, hook)
	return f
}

func (f *X402Facilitator) OnAfterVerify(hook FacilitatorAfterVerifyHook) *X402Facilitator {
	f.afterVerifyHooks = append(f.afterVerifyHooks, hook)
	return f
}

func (f *X402Facilitator) OnVerifyFailure(hook FacilitatorOnVerifyFailureHook) *X402Facilitator {
	f.onVerifyFailureHooks = append(f.onVerifyFailureHooks, hook)
	return f
}

func (f *X402Facilitator) OnBeforeSettle(hook FacilitatorBeforeSettleHook) *X402Facilitator {
	f.beforeSettleHooks = append(f.beforeSettleHooks, hook)
	return f
}

func (f *X402Facilitator) OnAfterSettle(hook FacilitatorAfterSettleHook) *X402Facilitator {
	f.afterSettleHooks = append(f.afterSettleHooks, hook)
	return f
}

func (f *X402Facilitator) OnSettleFailure(hook FacilitatorOnSettleFailureHook) *X402Facilitator {
	f.onSettleFailureHooks = append(f.onSettleFailureHooks, hook)
	return f
}

// ============================================================================
// Core Payment Operations
// ============================================================================

// Verify checks a payment against requirements without touching funds.
// Protocol-level rejections come back as an invalid VerifyResponse with
// a nil error; a non-nil error means the handler itself failed, in which
// case the response carries the classified reason.
func (f *X402Facilitator) Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	started := time.Now()
	hookCtx := FacilitatorVerifyContext{
		Ctx:          ctx,
		Payload:      payload,
		Requirements: requirements,
		Timestamp:    started,
	}

	for _, hook := range f.beforeVerifyHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return VerifyResponse{IsValid: false, InvalidReason: ErrUnexpectedVerifyError}, err
		}
		if result != nil && result.Abort {
			return VerifyResponse{IsValid: false, InvalidReason: result.Reason}, nil
		}
	}

	result, err := f.verify(ctx, payload, requirements)
	if err != nil {
		failureCtx := FacilitatorVerifyFailureContext{
			FacilitatorVerifyContext: hookCtx,
			Error:                    err,
			Duration:                 time.Since(started),
		}
		for _, hook := range f.onVerifyFailureHooks {
			recovery, hookErr := hook(failureCtx)
			if hookErr != nil {
				f.logger.Warn("verify failure hook errored", "error", hookErr)
				continue
			}
			if recovery != nil && recovery.Recovered {
				return recovery.Result, nil
			}
		}
		return result, err
	}

	resultCtx := FacilitatorVerifyResultContext{
		FacilitatorVerifyContext: hookCtx,
		Result:                   result,
		Duration:                 time.Since(started),
	}
	for _, hook := range f.afterVerifyHooks {
		if hookErr := hook(resultCtx); hookErr != nil {
			f.logger.Warn("after verify hook errored", "error", hookErr)
		}
	}

	return result, nil
}

func (f *X402Facilitator) verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	if err := ValidatePaymentPayload(payload); err != nil {
		f.logger.Debug("rejecting malformed payload", "error", err)
		return VerifyResponse{IsValid: false, InvalidReason: ErrInvalidPayload}, nil
	}
	if err := ValidatePaymentRequirements(requirements); err != nil {
		f.logger.Debug("rejecting malformed requirements", "error", err)
		return VerifyResponse{IsValid: false, InvalidReason: ErrInvalidPaymentRequirements}, nil
	}
	if payload.Scheme != requirements.Scheme {
		return VerifyResponse{IsValid: false, InvalidReason: ErrInvalidScheme}, nil
	}
	if !NormalizeNetwork(payload.Network).Match(NormalizeNetwork(requirements.Network)) {
		return VerifyResponse{IsValid: false, InvalidReason: ErrInvalidNetwork}, nil
	}

	handler, ok := f.registry.Lookup(requirements.Scheme, requirements.Network)
	if !ok {
		return VerifyResponse{IsValid: false, InvalidReason: ErrUnsupportedScheme}, nil
	}

	verifyCtx, cancel := context.WithTimeout(ctx, handlerTimeout(requirements))
	defer cancel()

	result, err := handler.Verify(verifyCtx, payload, requirements)
	if err != nil {
		return VerifyResponse{IsValid: false, InvalidReason: VerifyReason(err)}, err
	}
	return result, nil
}

// Settle executes a verified payment. Once settlement starts it runs to
// completion even if the caller disconnects: the payer's authorization
// is already signed and could be replayed, so abandoning mid-flight
// would leave the outcome unknown. Only the requirement-derived deadline
// applies.
func (f *X402Facilitator) Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	started := time.Now()
	hookCtx := FacilitatorSettleContext{
		Ctx:          ctx,
		Payload:      payload,
		Requirements: requirements,
		Timestamp:    started,
	}

	for _, hook := range f.beforeSettleHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return SettleResponse{Success: false, ErrorReason: ErrUnexpectedSettleError, Network: requirements.Network}, err
		}
		if result != nil && result.Abort {
			return SettleResponse{Success: false, ErrorReason: result.Reason, Network: requirements.Network},
				NewSettleError(ErrUnexpectedSettleError, "settlement aborted: "+result.Reason)
		}
	}

	result, err := f.settle(ctx, payload, requirements)
	if err != nil {
		failureCtx := FacilitatorSettleFailureContext{
			FacilitatorSettleContext: hookCtx,
			Error:                    err,
			Duration:                 time.Since(started),
		}
		for _, hook := range f.onSettleFailureHooks {
			recovery, hookErr := hook(failureCtx)
			if hookErr != nil {
				f.logger.Warn("settle failure hook errored", "error", hookErr)
				continue
			}
			if recovery != nil && recovery.Recovered {
				return recovery.Result, nil
			}
		}
		return result, err
	}

	resultCtx := FacilitatorSettleResultContext{
		FacilitatorSettleContext: hookCtx,
		Result:                   result,
		Duration:                 time.Since(started),
	}
	for _, hook := range f.afterSettleHooks {
		if hookErr := hook(resultCtx); hookErr != nil {
			f.logger.Warn("after settle hook errored", "error", hookErr)
		}
	}

	return result, nil
}

func (f *X402Facilitator) settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	if err := ValidatePaymentPayload(payload); err != nil {
		return SettleResponse{Success: false, ErrorReason: ErrUnexpectedSettleError, Network: requirements.Network}, err
	}
	if err := ValidatePaymentRequirements(requirements); err != nil {
		return SettleResponse{Success: false, ErrorReason: ErrUnexpectedSettleError, Network: requirements.Network}, err
	}
	if payload.Scheme != requirements.Scheme {
		return SettleResponse{Success: false, ErrorReason: ErrUnexpectedSettleError, Network: requirements.Network},
			NewSettleError(ErrUnexpectedSettleError, "payload scheme does not match requirements")
	}
	if !NormalizeNetwork(payload.Network).Match(NormalizeNetwork(requirements.Network)) {
		return SettleResponse{Success: false, ErrorReason: ErrUnexpectedSettleError, Network: requirements.Network},
			NewSettleError(ErrUnexpectedSettleError, "payload network does not match requirements")
	}

	handler, ok := f.registry.Lookup(requirements.Scheme, requirements.Network)
	if !ok {
		return SettleResponse{Success: false, ErrorReason: ErrUnsupportedScheme, Network: requirements.Network},
			NewPaymentError(ErrUnsupportedScheme, "no handler for "+requirements.Scheme+" on "+string(requirements.Network), nil)
	}

	// Detach from caller cancellation; see Settle.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handlerTimeout(requirements))
	defer cancel()

	result, err := handler.Settle(settleCtx, payload, requirements)
	if err != nil {
		return SettleResponse{Success: false, ErrorReason: SettleReason(err), Network: requirements.Network}, err
	}
	return result, nil
}

// handlerTimeout derives the deadline for one handler call from the
// requirement, clamped to a process-wide ceiling.
func handlerTimeout(requirements PaymentRequirements) time.Duration {
	secs := requirements.MaxTimeoutSeconds
	if secs <= 0 {
		secs = DefaultMaxTimeoutSeconds
	}
	d := time.Duration(secs) * time.Second
	if d > maxHandlerTimeout {
		d = maxHandlerTimeout
	}
	return d
}

// ============================================================================
// Capability Discovery
// ============================================================================

// GetSupported assembles the facilitator's advertised kinds from the
// registered handlers. Networks with a v1 alias are advertised for both
// protocol versions, the v1 kind under its alias name.
func (f *X402Facilitator) GetSupported() SupportedResponse {
	kinds := []SupportedKind{}
	for _, key := range f.registry.List() {
		handler, ok := f.registry.Lookup(key.Scheme, key.Network)
		if !ok {
			continue
		}

		var extra map[string]interface{}
		if provider, ok := handler.(ExtraProvider); ok {
			extra = provider.GetExtra(key.Network)
		}

		if alias := NetworkToV1(key.Network); alias != key.Network {
			kinds = append(kinds, SupportedKind{
				X402Version: 1,
				Scheme:      key.Scheme,
				Network:     alias,
				Extra:       extra,
			})
		}
		kinds = append(kinds, SupportedKind{
			X402Version: 2,
			Scheme:      key.Scheme,
			Network:     key.Network,
			Extra:       extra,
		})
	}

	return SupportedResponse{
		Kinds:      kinds,
		Extensions: f.extensions,
	}
}

// Signers returns the settlement signer addresses handlers advertise for
// a network, deduplicated across schemes.
func (f *X402Facilitator) Signers(network Network) []string {
	seen := make(map[string]bool)
	signers := []string{}
	for _, key := range f.registry.List() {
		if !NormalizeNetwork(network).Match(key.Network) {
			continue
		}
		handler, ok := f.registry.Lookup(key.Scheme, key.Network)
		if !ok {
			continue
		}
		provider, ok := handler.(SignerProvider)
		if !ok {
			continue
		}
		for _, signer := range provider.GetSigners(key.Network) {
			if !seen[signer] {
				seen[signer] = true
				signers = append(signers, signer)
			}
		}
	}
	return signers
}
