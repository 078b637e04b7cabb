package x402

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// SettlementCache deduplicates settle calls at a transport boundary.
// Clients that time out waiting for a receipt retry the same signed
// payload; without deduplication the second attempt would race the first
// on chain. The cache tracks in-flight settlements and holds successful
// receipts for a TTL. The dispatcher itself never consults it; wiring it
// up is a boundary concern.
type SettlementCache struct {
	mu       sync.Mutex
	results  map[string]*SettleResponse
	expiry   map[string]time.Time
	inFlight map[string]chan struct{}
	ttl      time.Duration
}

// NewSettlementCache creates a settlement cache holding receipts for ttl.
func NewSettlementCache(ttl time.Duration) *SettlementCache {
	return &SettlementCache{
		results:  make(map[string]*SettleResponse),
		expiry:   make(map[string]time.Time),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
	}
}

// GenerateSettlementKey derives the deduplication key for a payload: a
// SHA-256 digest over its canonical JSON form, so key order on the wire
// does not matter. The payload embeds the authorization signature and
// nonce, making the key unique per payment attempt.
func GenerateSettlementKey(payload PaymentPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	canonical, err := CanonicalJSON(data)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(canonical)
	return hex.EncodeToString(hash[:]), nil
}

// SettlementStatus is the outcome of a cache check.
type SettlementStatus int

const (
	// StatusNotFound means no cached receipt and no in-flight attempt.
	StatusNotFound SettlementStatus = iota
	// StatusCached means a receipt is cached for this key.
	StatusCached
	// StatusInFlight means another attempt is settling this key now.
	StatusInFlight
)

// CheckAndMark atomically checks the cache and, when the key is unknown,
// marks it in-flight. It returns:
//   - StatusCached with the receipt,
//   - StatusInFlight with a channel to wait on, or
//   - StatusNotFound with the done channel this caller must later pass
//     to Complete or Fail.
func (c *SettlementCache) CheckAndMark(key string) (SettlementStatus, *SettleResponse, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, exists := c.expiry[key]; exists {
		if time.Now().Before(expiry) {
			if result, ok := c.results[key]; ok {
				return StatusCached, result, nil
			}
		}
		delete(c.results, key)
		delete(c.expiry, key)
	}

	if done, exists := c.inFlight[key]; exists {
		return StatusInFlight, nil, done
	}

	done := make(chan struct{})
	c.inFlight[key] = done
	return StatusNotFound, nil, done
}

// WaitForResult blocks until an in-flight attempt finishes or the context
// is cancelled. A nil receipt means the attempt failed without caching.
func (c *SettlementCache) WaitForResult(ctx context.Context, key string, done chan struct{}) (*SettleResponse, error) {
	select {
	case <-done:
		return c.Get(key), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns the cached receipt for a key, or nil when absent or expired.
func (c *SettlementCache) Get(key string) *SettleResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiry, exists := c.expiry[key]
	if !exists {
		return nil
	}
	if time.Now().After(expiry) {
		delete(c.results, key)
		delete(c.expiry, key)
		return nil
	}
	return c.results[key]
}

// Complete caches the receipt, clears the in-flight marker and wakes any
// waiters.
func (c *SettlementCache) Complete(key string, response *SettleResponse, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results[key] = response
	c.expiry[key] = time.Now().Add(c.ttl)
	delete(c.inFlight, key)
	close(done)

	c.cleanupExpiredLocked()
}

// Fail clears the in-flight marker without caching, so the settlement
// may be retried, and wakes any waiters.
func (c *SettlementCache) Fail(key string, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inFlight, key)
	close(done)
}

// Do runs settle at most once per key. Concurrent duplicates wait for
// the first attempt; later duplicates within the TTL get the cached
// receipt without settling again. Failed attempts are not cached and a
// waiting duplicate takes over the key.
func (c *SettlementCache) Do(ctx context.Context, key string, settle func() (SettleResponse, error)) (SettleResponse, error) {
	for {
		status, cached, done := c.CheckAndMark(key)
		switch status {
		case StatusCached:
			return *cached, nil
		case StatusInFlight:
			result, err := c.WaitForResult(ctx, key, done)
			if err != nil {
				return SettleResponse{}, err
			}
			if result != nil {
				return *result, nil
			}
			// The other attempt failed without caching; try again.
			continue
		}

		result, err := settle()
		if err != nil || !result.Success {
			c.Fail(key, done)
			return result, err
		}
		c.Complete(key, &result, done)
		return result, nil
	}
}

// cleanupExpiredLocked removes expired receipts. Caller holds the lock.
func (c *SettlementCache) cleanupExpiredLocked() {
	now := time.Now()
	for key, expiry := range c.expiry {
		if now.After(expiry) {
			delete(c.results, key)
			delete(c.expiry, key)
		}
	}
}
