package idempotency

import (
	"context"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// SettlementStore is the storage backend for settlement deduplication.
// Implementations must be safe for concurrent use.
//
// CheckAndMark reports one of the x402.SettlementStatus values:
//
//   - x402.StatusCached: a receipt exists, return it without settling
//   - x402.StatusInFlight: another attempt holds the slot, wait on it
//   - x402.StatusNotFound: the caller now owns the in-flight slot and
//     must release it with Complete or Fail
//
// In-process stores hand out a completion channel for waiters; stores
// backed by a shared service may return a nil channel, in which case
// WaitForResult is expected to poll the backend instead.
type SettlementStore interface {
	// CheckAndMark atomically checks for a receipt and claims the
	// in-flight slot when there is none.
	CheckAndMark(ctx context.Context, key string) (x402.SettlementStatus, *x402.SettleResponse, chan struct{}, error)

	// WaitForResult blocks until the in-flight attempt for key finishes
	// or ctx ends. A nil response with nil error means the attempt
	// failed and the caller may retry.
	WaitForResult(ctx context.Context, key string, done chan struct{}) (*x402.SettleResponse, error)

	// Complete caches the receipt and releases the in-flight slot. On
	// error the slot stays claimed; the caller releases it with Fail.
	Complete(ctx context.Context, key string, response *x402.SettleResponse, done chan struct{}) error

	// Fail releases the in-flight slot without caching, so the
	// settlement can be retried.
	Fail(ctx context.Context, key string, done chan struct{}) error
}

// KeyGenerator derives the deduplication key for a payment payload.
// Keys must uniquely identify a signed payment attempt; colliding keys
// would suppress legitimate settlements.
type KeyGenerator func(payload x402.PaymentPayload) (string, error)

// DefaultKeyGenerator hashes the canonicalized payload JSON with
// SHA-256. The payload carries the authorization signature and nonce,
// so the key is unique per signed payment.
func DefaultKeyGenerator(payload x402.PaymentPayload) (string, error) {
	return x402.GenerateSettlementKey(payload)
}
