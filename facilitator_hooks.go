package x402

import (
	"context"
	"time"
)

// ============================================================================
// Facilitator Hook Context Types
// ============================================================================

// FacilitatorVerifyContext is passed to facilitator verify hooks.
// Contexts are passed by value; hooks must not retain them past return.
type FacilitatorVerifyContext struct {
	Ctx          context.Context
	Payload      PaymentPayload
	Requirements PaymentRequirements
	Timestamp    time.Time
	Metadata     map[string]interface{}
}

// FacilitatorVerifyResultContext carries a completed verify result.
type FacilitatorVerifyResultContext struct {
	FacilitatorVerifyContext
	Result   VerifyResponse
	Duration time.Duration
}

// FacilitatorVerifyFailureContext carries a failed verify call.
type FacilitatorVerifyFailureContext struct {
	FacilitatorVerifyContext
	Error    error
	Duration time.Duration
}

// FacilitatorSettleContext is passed to facilitator settle hooks.
type FacilitatorSettleContext struct {
	Ctx          context.Context
	Payload      PaymentPayload
	Requirements PaymentRequirements
	Timestamp    time.Time
	Metadata     map[string]interface{}
}

// FacilitatorSettleResultContext carries a completed settle result.
type FacilitatorSettleResultContext struct {
	FacilitatorSettleContext
	Result   SettleResponse
	Duration time.Duration
}

// FacilitatorSettleFailureContext carries a failed settle call.
type FacilitatorSettleFailureContext struct {
	FacilitatorSettleContext
	Error    error
	Duration time.Duration
}

// ============================================================================
// Facilitator Hook Result Types
// ============================================================================

// FacilitatorBeforeHookResult aborts the operation when Abort is set.
// Reason becomes the response's invalidReason or errorReason.
type FacilitatorBeforeHookResult struct {
	Abort  bool
	Reason string
}

// FacilitatorVerifyFailureHookResult substitutes Result for the failure
// when Recovered is set.
type FacilitatorVerifyFailureHookResult struct {
	Recovered bool
	Result    VerifyResponse
}

// FacilitatorSettleFailureHookResult substitutes Result for the failure
// when Recovered is set.
type FacilitatorSettleFailureHookResult struct {
	Recovered bool
	Result    SettleResponse
}

// ============================================================================
// Facilitator Hook Function Types
// ============================================================================

// FacilitatorBeforeVerifyHook runs before payment verification. The first
// hook to abort short-circuits the pipeline; the payment is reported
// invalid with the hook's reason.
type FacilitatorBeforeVerifyHook func(FacilitatorVerifyContext) (*FacilitatorBeforeHookResult, error)

// FacilitatorAfterVerifyHook runs after verification completes. Errors
// are logged and do not affect the result.
type FacilitatorAfterVerifyHook func(FacilitatorVerifyResultContext) error

// FacilitatorOnVerifyFailureHook runs when verification fails with an
// error. A recovered result replaces the failure.
type FacilitatorOnVerifyFailureHook func(FacilitatorVerifyFailureContext) (*FacilitatorVerifyFailureHookResult, error)

// FacilitatorBeforeSettleHook runs before settlement. The first hook to
// abort short-circuits the pipeline and no transaction is submitted.
type FacilitatorBeforeSettleHook func(FacilitatorSettleContext) (*FacilitatorBeforeHookResult, error)

// FacilitatorAfterSettleHook runs after settlement completes. Errors are
// logged and do not affect the result.
type FacilitatorAfterSettleHook func(FacilitatorSettleResultContext) error

// FacilitatorOnSettleFailureHook runs when settlement fails with an
// error. A recovered result replaces the failure.
type FacilitatorOnSettleFailureHook func(FacilitatorSettleFailureContext) (*FacilitatorSettleFailureHookResult, error)
