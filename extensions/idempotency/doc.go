// Package idempotency provides settlement idempotency as an opt-in wrapper
// around an x402 facilitator.
//
// # Overview
//
// The wrapper deduplicates Settle calls so that client retries during the
// pending confirmation window cannot produce duplicate chain transactions.
// Scheme-level replay protection only activates once a transaction lands;
// this closes the gap before that.
//
// # Why a Wrapper?
//
// The core facilitator is stateless, which keeps it deployable everywhere:
// serverless functions with cold starts, load-balanced clusters, single
// binaries. Idempotency needs state, so it is layered on only where the
// deployment wants it, with a store matching the deployment model.
//
// # Usage
//
// Default in-memory deduplication:
//
//	base := x402.NewX402Facilitator()
//	base.Register("eip155:8453", evmScheme)
//
//	facilitator := idempotency.Wrap(base)
//
// Custom window:
//
//	facilitator := idempotency.Wrap(base,
//	    idempotency.WithTTL(30*time.Minute),
//	)
//
// Shared window across a cluster:
//
//	store := idempotency.NewRedisStore(redisClient, 10*time.Minute)
//	facilitator := idempotency.Wrap(base,
//	    idempotency.WithStore(store),
//	)
//
// # How It Works
//
// Settle derives a key from the payment payload (SHA-256 over the
// canonicalized JSON by default), then asks the store to atomically check
// for a cached receipt or claim the in-flight slot. A cached receipt is
// returned without touching the chain; an in-flight claim held elsewhere
// makes the call wait for that attempt and share its receipt; otherwise
// the call settles and caches the result.
//
// Failed settlements are not cached, so legitimate retries go through.
// Store errors disable deduplication for the call instead of failing it.
package idempotency
