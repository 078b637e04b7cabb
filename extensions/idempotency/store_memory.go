package idempotency

import (
	"context"
	"time"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// InMemoryStore backs settlement deduplication with an in-process
// x402.SettlementCache.
//
// Suitable for single-instance deployments where the deduplication
// window does not need to span processes. Load-balanced clusters should
// use RedisStore or another shared SettlementStore.
type InMemoryStore struct {
	cache *x402.SettlementCache
}

var _ SettlementStore = (*InMemoryStore)(nil)

// NewInMemoryStore creates an in-memory store. The TTL bounds how long
// successful receipts are kept; typical values are 5 to 15 minutes,
// trading deduplication window size against memory.
func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	return &InMemoryStore{cache: x402.NewSettlementCache(ttl)}
}

// CheckAndMark atomically checks for a receipt and claims the in-flight
// slot when there is none.
func (s *InMemoryStore) CheckAndMark(_ context.Context, key string) (x402.SettlementStatus, *x402.SettleResponse, chan struct{}, error) {
	status, result, done := s.cache.CheckAndMark(key)
	return status, result, done, nil
}

// WaitForResult blocks until the in-flight attempt finishes or ctx ends.
func (s *InMemoryStore) WaitForResult(ctx context.Context, key string, done chan struct{}) (*x402.SettleResponse, error) {
	return s.cache.WaitForResult(ctx, key, done)
}

// Complete caches the receipt and wakes waiters.
func (s *InMemoryStore) Complete(_ context.Context, key string, response *x402.SettleResponse, done chan struct{}) error {
	s.cache.Complete(key, response, done)
	return nil
}

// Fail releases the in-flight slot and wakes waiters.
func (s *InMemoryStore) Fail(_ context.Context, key string, done chan struct{}) error {
	s.cache.Fail(key, done)
	return nil
}
