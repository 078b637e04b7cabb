package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	x402 "github.com/x402-foundation/x402-go/v2"
)

const (
	defaultKeyPrefix    = "x402:settle:"
	defaultInFlightTTL  = 2 * time.Minute
	defaultPollInterval = 250 * time.Millisecond
)

// RedisStore backs settlement deduplication with Redis, sharing the
// deduplication window across facilitator instances.
//
// Receipts are stored as JSON under <prefix><key>; in-flight claims are
// a separate marker under <prefix><key>:inflight, taken with SETNX. The
// marker carries its own TTL so a crashed instance cannot block a
// settlement forever. Waiters poll Redis; the completion channel used
// by in-process stores is always nil here.
type RedisStore struct {
	client       redis.UniversalClient
	ttl          time.Duration
	keyPrefix    string
	inFlightTTL  time.Duration
	pollInterval time.Duration
}

var _ SettlementStore = (*RedisStore)(nil)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix overrides the default "x402:settle:" key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.keyPrefix = prefix
	}
}

// WithInFlightTTL bounds how long an in-flight claim blocks other
// instances. It must exceed the slowest expected settlement, including
// confirmation wait.
func WithInFlightTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.inFlightTTL = ttl
	}
}

// WithPollInterval sets how often waiters re-check Redis for the
// in-flight attempt's outcome.
func WithPollInterval(interval time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.pollInterval = interval
	}
}

// NewRedisStore creates a Redis-backed store. The TTL bounds how long
// successful receipts are kept.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client:       client,
		ttl:          ttl,
		keyPrefix:    defaultKeyPrefix,
		inFlightTTL:  defaultInFlightTTL,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// CheckAndMark checks for a receipt and claims the in-flight marker
// when there is none. The returned channel is always nil.
func (s *RedisStore) CheckAndMark(ctx context.Context, key string) (x402.SettlementStatus, *x402.SettleResponse, chan struct{}, error) {
	cached, err := s.getResult(ctx, key)
	if err != nil {
		return x402.StatusNotFound, nil, nil, err
	}
	if cached != nil {
		return x402.StatusCached, cached, nil, nil
	}

	claimed, err := s.client.SetNX(ctx, s.inFlightKey(key), "1", s.inFlightTTL).Result()
	if err != nil {
		return x402.StatusNotFound, nil, nil, fmt.Errorf("failed to claim in-flight marker: %w", err)
	}
	if !claimed {
		return x402.StatusInFlight, nil, nil, nil
	}
	return x402.StatusNotFound, nil, nil, nil
}

// WaitForResult polls until a receipt appears, the in-flight marker
// disappears, or ctx ends. A nil response with nil error means the
// other attempt failed and the caller may retry.
func (s *RedisStore) WaitForResult(ctx context.Context, key string, _ chan struct{}) (*x402.SettleResponse, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		cached, err := s.getResult(ctx, key)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			return cached, nil
		}

		held, err := s.client.Exists(ctx, s.inFlightKey(key)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to check in-flight marker: %w", err)
		}
		if held == 0 {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Complete stores the receipt under the result key and drops the
// in-flight marker.
func (s *RedisStore) Complete(ctx context.Context, key string, response *x402.SettleResponse, _ chan struct{}) error {
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to encode settle response: %w", err)
	}
	if err := s.client.Set(ctx, s.resultKey(key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store settle response: %w", err)
	}
	return s.client.Del(ctx, s.inFlightKey(key)).Err()
}

// Fail drops the in-flight marker without caching, so the settlement
// can be retried.
func (s *RedisStore) Fail(ctx context.Context, key string, _ chan struct{}) error {
	return s.client.Del(ctx, s.inFlightKey(key)).Err()
}

func (s *RedisStore) resultKey(key string) string {
	return s.keyPrefix + key
}

func (s *RedisStore) inFlightKey(key string) string {
	return s.keyPrefix + key + ":inflight"
}

func (s *RedisStore) getResult(ctx context.Context, key string) (*x402.SettleResponse, error) {
	data, err := s.client.Get(ctx, s.resultKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settle response: %w", err)
	}

	var response x402.SettleResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("failed to decode settle response: %w", err)
	}
	return &response, nil
}
