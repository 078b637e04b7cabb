package x402

import (
	"context"
	"time"
)

// ============================================================================
// Resource Service Hook Context Types
// ============================================================================

// ProtectedRequestContext describes a request that hit a protected route,
// before any verification. Payload is nil when no payment header was
// presented or it failed to decode.
type ProtectedRequestContext struct {
	Ctx           context.Context
	Method        string
	Path          string
	PaymentHeader string
	Payload       *PaymentPayload
	Accepts       []PaymentRequirements
	Metadata      map[string]interface{}
}

// ProtectedRequestResult short-circuits request processing. GrantAccess
// skips verification and settlement entirely (replay tokens, idempotency
// caches). Abort rejects the request with Reason; StatusCode overrides
// the default 402 when nonzero.
type ProtectedRequestResult struct {
	GrantAccess bool
	Abort       bool
	Reason      string
	StatusCode  int
}

// OnProtectedRequestHook runs before verification on protected routes.
// Hooks run in registration order; the first to grant or abort wins.
type OnProtectedRequestHook func(ProtectedRequestContext) (*ProtectedRequestResult, error)

// VerifyContext is passed to resource-service verify hooks.
type VerifyContext struct {
	Ctx          context.Context
	Payload      PaymentPayload
	Requirements PaymentRequirements
	Timestamp    time.Time
	Metadata     map[string]interface{}
}

// VerifyResultContext carries a completed verify result.
type VerifyResultContext struct {
	VerifyContext
	Result   VerifyResponse
	Duration time.Duration
}

// VerifyFailureContext carries a failed verify call.
type VerifyFailureContext struct {
	VerifyContext
	Error    error
	Duration time.Duration
}

// SettleContext is passed to resource-service settle hooks.
type SettleContext struct {
	Ctx          context.Context
	Payload      PaymentPayload
	Requirements PaymentRequirements
	Timestamp    time.Time
	Metadata     map[string]interface{}
}

// SettleResultContext carries a completed settle result.
type SettleResultContext struct {
	SettleContext
	Result   SettleResponse
	Duration time.Duration
}

// SettleFailureContext carries a failed settle call.
type SettleFailureContext struct {
	SettleContext
	Error    error
	Duration time.Duration
}

// ============================================================================
// Resource Service Hook Result Types
// ============================================================================

// BeforeHookResult aborts the operation when Abort is set; Reason becomes
// the response's invalidReason or errorReason.
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

// VerifyFailureHookResult substitutes Result for the failure when
// Recovered is set.
type VerifyFailureHookResult struct {
	Recovered bool
	Result    VerifyResponse
}

// SettleFailureHookResult substitutes Result for the failure when
// Recovered is set.
type SettleFailureHookResult struct {
	Recovered bool
	Result    SettleResponse
}

// ============================================================================
// Resource Service Hook Function Types
// ============================================================================

// BeforeVerifyHook runs before the facilitator is asked to verify.
type BeforeVerifyHook func(VerifyContext) (*BeforeHookResult, error)

// AfterVerifyHook runs after verification completes. Errors are logged
// and do not affect the result.
type AfterVerifyHook func(VerifyResultContext) error

// OnVerifyFailureHook runs when verification fails with an error. A
// recovered result replaces the failure.
type OnVerifyFailureHook func(VerifyFailureContext) (*VerifyFailureHookResult, error)

// BeforeSettleHook runs before the facilitator is asked to settle.
type BeforeSettleHook func(SettleContext) (*BeforeHookResult, error)

// AfterSettleHook runs after settlement completes. Errors are logged and
// do not affect the result.
type AfterSettleHook func(SettleResultContext) error

// OnSettleFailureHook runs when settlement fails with an error. A
// recovered result replaces the failure.
type OnSettleFailureHook func(SettleFailureContext) (*SettleFailureHookResult, error)

// ============================================================================
// Resource Service Hook Registration Options
// ============================================================================

// WithOnProtectedRequestHook registers a pre-verification hook.
func WithOnProtectedRequestHook(hook OnProtectedRequestHook) ResourceServiceOption {
	return func(s *X402ResourceService) {
		s.onProtectedRequestHooks = append(s.onProtectedRequestHooks, hook)
	}
}

// WithBeforeVerifyHook registers a hook to run before verification.
func WithBeforeVerifyHook(hook BeforeVerifyHook) ResourceServiceOption {
	return func(s *X402ResourceService) {
		s.beforeVerifyHooks = append(s.beforeVerifyHooks, hook)
	}
}

// WithAfterVerifyHook registers a hook to run after verification.
func WithAfterVerifyHook(hook AfterVerifyHook) ResourceServiceOption {
	return func(s *X402ResourceService) {
		s.afterVerifyHooks = append(s.afterVerifyHooks, hook)
	}
}

// WithOnVerifyFailureHook registers a hook to run when verification fails.
func WithOnVerifyFailureHook(hook OnVerifyFailureHook) ResourceServiceOption {
	return func(s *X402ResourceService) {
		s.onVerifyFailureHooks = append(s.onVerifyFailureHooks, hook)
	}
}

// WithBeforeSettleHook registers a hook to run before settlement.
func WithBeforeSettleHook(hook BeforeSettleHook) ResourceServiceOption {
	return func(s *X402ResourceService) {
		s.beforeSettleHooks = append(s.beforeSettleHooks, hook)
	}
}

// WithAfterSettleHook registers a hook to run after settlement.
func WithAfterSettleHook(hook AfterSettleHook) ResourceServiceOption {
	return func(s *X402ResourceService) {
		s.afterSettleHooks = append(s.afterSettleHooks, hook)
	}
}

// WithOnSettleFailureHook registers a hook to run when settlement fails.
func WithOnSettleFailureHook(hook OnSettleFailureHook) ResourceServiceOption {
	return func(s *X402ResourceService) {
		s.onSettleFailureHooks = append(s.onSettleFailureHooks, hook)
	}
}
