package x402

import "context"

// ============================================================================
// Payment Client Hook Types
// ============================================================================

// PaymentRequiredContext is passed to onPaymentRequired hooks when a 402
// challenge arrives, before any requirement is selected.
type PaymentRequiredContext struct {
	Ctx      context.Context
	Required PaymentRequired
	Metadata map[string]interface{}
}

// PaymentRequiredResult short-circuits payment creation. Payment
// substitutes a previously created payload (cached payments, replay
// tokens); Abort gives up and surfaces the challenge to the caller.
type PaymentRequiredResult struct {
	Abort   bool
	Reason  string
	Payment *PaymentPayload
}

// OnPaymentRequiredHook runs when a 402 challenge arrives. Hooks run in
// registration order; the first to substitute or abort wins.
type OnPaymentRequiredHook func(PaymentRequiredContext) (*PaymentRequiredResult, error)

// BeforePaymentContext is passed to onBeforePayment hooks after a
// requirement has been selected but before the handler signs.
type BeforePaymentContext struct {
	Ctx      context.Context
	Version  int
	Selected PaymentRequirements
	Required PaymentRequired
}

// BeforePaymentResult aborts signing when Abort is set.
type BeforePaymentResult struct {
	Abort  bool
	Reason string
}

// OnBeforePaymentHook runs after selection, before signing. The first
// hook to abort stops the payment.
type OnBeforePaymentHook func(BeforePaymentContext) (*BeforePaymentResult, error)

// AfterPaymentContext is passed to onAfterPayment hooks once the retried
// request has completed, whether it succeeded or not. Settlement carries
// the decoded receipt when the server returned one.
type AfterPaymentContext struct {
	Ctx        context.Context
	Payload    PaymentPayload
	Selected   PaymentRequirements
	Settlement *SettleResponse
	StatusCode int
	Success    bool
}

// OnAfterPaymentHook observes the outcome of a payment attempt. Errors
// are logged and do not affect the response.
type OnAfterPaymentHook func(AfterPaymentContext) error

// ============================================================================
// Payment Client Hook Registration Options
// ============================================================================

// WithOnPaymentRequiredHook registers a challenge hook.
func WithOnPaymentRequiredHook(hook OnPaymentRequiredHook) ClientOption {
	return func(c *X402Client) {
		c.onPaymentRequiredHooks = append(c.onPaymentRequiredHooks, hook)
	}
}

// WithOnBeforePaymentHook registers a pre-signing hook.
func WithOnBeforePaymentHook(hook OnBeforePaymentHook) ClientOption {
	return func(c *X402Client) {
		c.onBeforePaymentHooks = append(c.onBeforePaymentHooks, hook)
	}
}

// WithOnAfterPaymentHook registers a payment outcome observer.
func WithOnAfterPaymentHook(hook OnAfterPaymentHook) ClientOption {
	return func(c *X402Client) {
		c.onAfterPaymentHooks = append(c.onAfterPaymentHooks, hook)
	}
}
