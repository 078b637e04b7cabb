package idempotency

import "time"

// config collects the Wrap options.
type config struct {
	ttl          time.Duration
	store        SettlementStore
	keyGenerator KeyGenerator
}

// Option configures an IdempotentFacilitator.
type Option func(*config)

// WithTTL sets the receipt cache TTL for the default InMemoryStore.
// Ignored when WithStore is given; configure TTL on the store instead.
//
// Default: 10 minutes.
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.ttl = ttl
	}
}

// WithStore sets the SettlementStore backend. Use RedisStore or a
// custom implementation when the deduplication window must be shared
// across instances.
func WithStore(store SettlementStore) Option {
	return func(c *config) {
		c.store = store
	}
}

// WithKeyGenerator replaces the default SHA-256 payload hash. Custom
// generators can fold in extra context or shorten keys, but must keep
// one key per signed payment attempt.
func WithKeyGenerator(gen KeyGenerator) Option {
	return func(c *config) {
		c.keyGenerator = gen
	}
}
