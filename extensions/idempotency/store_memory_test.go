package idempotency

import (
	"context"
	"sync"
	"testing"
	"time"

	x402 "github.com/x402-foundation/x402-go/v2"
)

func TestDefaultKeyGenerator(t *testing.T) {
	payload1 := testPayload()
	payload2 := testPayload()
	payload2.Payload["nonce"] = "0xdef456"

	key1, err := DefaultKeyGenerator(payload1)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	key2, err := DefaultKeyGenerator(payload2)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	key3, err := DefaultKeyGenerator(payload1)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if key1 != key3 {
		t.Errorf("Expected same payload to produce same key, got %s and %s", key1, key3)
	}
	if key1 == key2 {
		t.Error("Expected different nonces to produce different keys")
	}
	if len(key1) != 64 {
		t.Errorf("Expected key to be 64 hex chars, got %d", len(key1))
	}
}

func TestInMemoryStore_CheckAndMark_Cached(t *testing.T) {
	store := NewInMemoryStore(5 * time.Minute)
	ctx := context.Background()
	key := "test-key"
	response := &x402.SettleResponse{
		Success:     true,
		Transaction: "0x123",
		Payer:       "0xabc",
		Network:     "eip155:8453",
	}

	status, result, done, err := store.CheckAndMark(ctx, key)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if status != x402.StatusNotFound {
		t.Errorf("Expected StatusNotFound, got %v", status)
	}
	if result != nil {
		t.Error("Expected nil result for NotFound")
	}

	if err := store.Complete(ctx, key, response, done); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	status, result, _, err = store.CheckAndMark(ctx, key)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if status != x402.StatusCached {
		t.Errorf("Expected StatusCached, got %v", status)
	}
	if result == nil || result.Transaction != "0x123" {
		t.Error("Expected cached result with transaction 0x123")
	}
}

func TestInMemoryStore_CheckAndMark_InFlight(t *testing.T) {
	store := NewInMemoryStore(5 * time.Minute)
	ctx := context.Background()
	key := "inflight-test"

	status1, _, done1, _ := store.CheckAndMark(ctx, key)
	if status1 != x402.StatusNotFound {
		t.Errorf("Expected StatusNotFound, got %v", status1)
	}

	status2, _, done2, _ := store.CheckAndMark(ctx, key)
	if status2 != x402.StatusInFlight {
		t.Errorf("Expected StatusInFlight, got %v", status2)
	}

	if done1 != done2 {
		t.Error("Expected same done channel for in-flight requests")
	}
}

func TestInMemoryStore_Expiry(t *testing.T) {
	store := NewInMemoryStore(50 * time.Millisecond)
	ctx := context.Background()
	key := "expiry-test"
	response := &x402.SettleResponse{Success: true, Transaction: "0x999"}

	status, _, done, _ := store.CheckAndMark(ctx, key)
	if status != x402.StatusNotFound {
		t.Fatalf("Expected StatusNotFound, got %v", status)
	}
	_ = store.Complete(ctx, key, response, done)

	status, result, _, _ := store.CheckAndMark(ctx, key)
	if status != x402.StatusCached {
		t.Error("Expected StatusCached immediately after complete")
	}
	if result == nil {
		t.Error("Expected non-nil result")
	}

	time.Sleep(60 * time.Millisecond)

	status, _, done, _ = store.CheckAndMark(ctx, key)
	if status != x402.StatusNotFound {
		t.Errorf("Expected StatusNotFound after expiry, got %v", status)
	}
	_ = store.Fail(ctx, key, done)
}

func TestInMemoryStore_Fail(t *testing.T) {
	store := NewInMemoryStore(5 * time.Minute)
	ctx := context.Background()
	key := "fail-test"

	status, _, done, _ := store.CheckAndMark(ctx, key)
	if status != x402.StatusNotFound {
		t.Fatalf("Expected StatusNotFound, got %v", status)
	}

	if err := store.Fail(ctx, key, done); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	status, _, done2, _ := store.CheckAndMark(ctx, key)
	if status != x402.StatusNotFound {
		t.Errorf("Expected StatusNotFound after fail, got %v", status)
	}
	_ = store.Fail(ctx, key, done2)
}

func TestInMemoryStore_WaitForResult_Success(t *testing.T) {
	store := NewInMemoryStore(5 * time.Minute)
	ctx := context.Background()
	key := "wait-test"
	response := &x402.SettleResponse{Success: true, Transaction: "0xwaited"}

	_, _, done, _ := store.CheckAndMark(ctx, key)

	var wg sync.WaitGroup
	var waitResult *x402.SettleResponse
	var waitErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		waitResult, waitErr = store.WaitForResult(ctx, key, done)
	}()

	time.Sleep(10 * time.Millisecond)
	_ = store.Complete(ctx, key, response, done)
	wg.Wait()

	if waitErr != nil {
		t.Errorf("Expected no error, got %v", waitErr)
	}
	if waitResult == nil || waitResult.Transaction != "0xwaited" {
		t.Errorf("Expected result with transaction 0xwaited, got %v", waitResult)
	}
}

func TestInMemoryStore_WaitForResult_ContextCancelled(t *testing.T) {
	store := NewInMemoryStore(5 * time.Minute)
	key := "cancel-test"

	_, _, done, _ := store.CheckAndMark(context.Background(), key)

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	var waitErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, waitErr = store.WaitForResult(ctx, key, done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	wg.Wait()

	if waitErr != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", waitErr)
	}

	_ = store.Fail(context.Background(), key, done)
}

func TestInMemoryStore_ConcurrentWaiters(t *testing.T) {
	store := NewInMemoryStore(5 * time.Minute)
	ctx := context.Background()
	key := "concurrent-test"

	status, _, done, _ := store.CheckAndMark(ctx, key)
	if status != x402.StatusNotFound {
		t.Fatalf("Expected StatusNotFound, got %v", status)
	}

	var wg sync.WaitGroup
	results := make([]*x402.SettleResponse, 3)
	errs := make([]error, 3)

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx], errs[idx] = store.WaitForResult(ctx, key, done)
		}(i)
	}

	time.Sleep(10 * time.Millisecond)

	response := &x402.SettleResponse{Success: true, Transaction: "0xshared"}
	_ = store.Complete(ctx, key, response, done)
	wg.Wait()

	for i := 0; i < 3; i++ {
		if errs[i] != nil {
			t.Errorf("Goroutine %d got error: %v", i, errs[i])
			continue
		}
		if results[i] == nil {
			t.Errorf("Goroutine %d got nil result", i)
			continue
		}
		if results[i].Transaction != "0xshared" {
			t.Errorf("Goroutine %d got wrong transaction: %s", i, results[i].Transaction)
		}
	}
}

func TestInMemoryStore_AtomicCheckAndMark(t *testing.T) {
	store := NewInMemoryStore(5 * time.Minute)
	ctx := context.Background()
	key := "atomic-test"

	var wg sync.WaitGroup
	notFoundCount := 0
	inFlightCount := 0
	var mu sync.Mutex

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, _, _, _ := store.CheckAndMark(ctx, key)
			mu.Lock()
			switch status {
			case x402.StatusNotFound:
				notFoundCount++
			case x402.StatusInFlight:
				inFlightCount++
			}
			mu.Unlock()
		}()
	}

	wg.Wait()

	if notFoundCount != 1 {
		t.Errorf("Expected exactly 1 NotFound, got %d", notFoundCount)
	}
	if inFlightCount != 9 {
		t.Errorf("Expected 9 InFlight, got %d", inFlightCount)
	}
}
