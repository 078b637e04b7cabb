package idempotency

import (
	"context"
	"time"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// IdempotentFacilitator wraps an X402Facilitator with settlement
// idempotency.
//
// Settle calls are deduplicated through a SettlementStore before any
// chain transaction is attempted, so client retries during the pending
// confirmation window cannot double-settle an authorization. Verify,
// GetSupported, registration and hooks delegate to the wrapped
// facilitator.
type IdempotentFacilitator struct {
	inner        *x402.X402Facilitator
	store        SettlementStore
	keyGenerator KeyGenerator
}

// Wrap adds settlement idempotency to a facilitator.
//
// The default configuration uses an InMemoryStore with a 10 minute TTL
// and the canonical payload hash as the deduplication key:
//
//	facilitator := idempotency.Wrap(base)
//
// Cluster deployments share the window through Redis:
//
//	facilitator := idempotency.Wrap(base,
//	    idempotency.WithStore(idempotency.NewRedisStore(client, 10*time.Minute)),
//	)
func Wrap(facilitator *x402.X402Facilitator, opts ...Option) *IdempotentFacilitator {
	cfg := &config{
		ttl:          10 * time.Minute,
		keyGenerator: DefaultKeyGenerator,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	store := cfg.store
	if store == nil {
		store = NewInMemoryStore(cfg.ttl)
	}

	return &IdempotentFacilitator{
		inner:        facilitator,
		store:        store,
		keyGenerator: cfg.keyGenerator,
	}
}

// Settle settles a payment at most once per deduplication key.
//
// A cached receipt is returned without touching the chain. When another
// request is already settling the same payload, the call waits for that
// attempt and shares its receipt. Failed settlements are not cached, so
// legitimate retries go through.
//
// Store errors disable deduplication for this call rather than failing
// it; scheme-level replay protection still holds once the transaction
// lands.
func (f *IdempotentFacilitator) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	key, err := f.keyGenerator(payload)
	if err != nil {
		// An unhashable payload cannot be deduplicated; the inner
		// facilitator produces the validation error.
		return f.inner.Settle(ctx, payload, requirements)
	}

	for {
		status, cached, done, err := f.store.CheckAndMark(ctx, key)
		if err != nil {
			return f.inner.Settle(ctx, payload, requirements)
		}

		switch status {
		case x402.StatusCached:
			return *cached, nil

		case x402.StatusInFlight:
			result, waitErr := f.store.WaitForResult(ctx, key, done)
			if waitErr != nil {
				return x402.SettleResponse{
					Success:     false,
					ErrorReason: x402.ErrUnexpectedSettleError,
					Network:     requirements.Network,
				}, waitErr
			}
			if result != nil {
				return *result, nil
			}
			// The other attempt failed; claim the slot on the next pass.
			continue

		case x402.StatusNotFound:
			// This call owns the in-flight slot.
		}

		result, settleErr := f.inner.Settle(ctx, payload, requirements)
		if settleErr != nil || !result.Success {
			_ = f.store.Fail(ctx, key, done)
			return result, settleErr
		}
		if completeErr := f.store.Complete(ctx, key, &result, done); completeErr != nil {
			// The receipt stands even when caching it failed; release
			// the slot so waiters and retries are not stranded.
			_ = f.store.Fail(ctx, key, done)
		}
		return result, nil
	}
}

// Verify delegates to the wrapped facilitator. Verification is
// read-only and needs no deduplication.
func (f *IdempotentFacilitator) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	return f.inner.Verify(ctx, payload, requirements)
}

// GetSupported delegates to the wrapped facilitator.
func (f *IdempotentFacilitator) GetSupported() x402.SupportedResponse {
	return f.inner.GetSupported()
}

// Inner returns the wrapped facilitator for direct access, e.g. to
// register schemes or hooks not mirrored here:
//
//	wrapped := idempotency.Wrap(base)
//	wrapped.Inner().Register("eip155:8453", scheme)
func (f *IdempotentFacilitator) Inner() *x402.X402Facilitator {
	return f.inner
}

// Register registers a scheme handler on the wrapped facilitator.
func (f *IdempotentFacilitator) Register(network x402.Network, handler x402.SchemeNetworkFacilitator) *IdempotentFacilitator {
	f.inner.Register(network, handler)
	return f
}

// RegisterExtension declares a protocol extension on the wrapped
// facilitator.
func (f *IdempotentFacilitator) RegisterExtension(key string) *IdempotentFacilitator {
	f.inner.RegisterExtension(key)
	return f
}

// OnBeforeVerify adds a before-verify hook on the wrapped facilitator.
func (f *IdempotentFacilitator) OnBeforeVerify(hook x402.FacilitatorBeforeVerifyHook) *IdempotentFacilitator {
	f.inner.OnBeforeVerify(hook)
	return f
}

// OnAfterVerify adds an after-verify hook on the wrapped facilitator.
func (f *IdempotentFacilitator) OnAfterVerify(hook x402.FacilitatorAfterVerifyHook) *IdempotentFacilitator {
	f.inner.OnAfterVerify(hook)
	return f
}

// OnVerifyFailure adds a verify-failure hook on the wrapped facilitator.
func (f *IdempotentFacilitator) OnVerifyFailure(hook x402.FacilitatorOnVerifyFailureHook) *IdempotentFacilitator {
	f.inner.OnVerifyFailure(hook)
	return f
}

// OnBeforeSettle adds a before-settle hook on the wrapped facilitator.
func (f *IdempotentFacilitator) OnBeforeSettle(hook x402.FacilitatorBeforeSettleHook) *IdempotentFacilitator {
	f.inner.OnBeforeSettle(hook)
	return f
}

// OnAfterSettle adds an after-settle hook on the wrapped facilitator.
// The hook fires only for settlements that reach the chain, not for
// cache hits.
func (f *IdempotentFacilitator) OnAfterSettle(hook x402.FacilitatorAfterSettleHook) *IdempotentFacilitator {
	f.inner.OnAfterSettle(hook)
	return f
}

// OnSettleFailure adds a settle-failure hook on the wrapped facilitator.
func (f *IdempotentFacilitator) OnSettleFailure(hook x402.FacilitatorOnSettleFailureHook) *IdempotentFacilitator {
	f.inner.OnSettleFailure(hook)
	return f
}
