package x402

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGenerateSettlementKey(t *testing.T) {
	payload := facilitatorPayload()
	other := facilitatorPayload()
	other.Payload = map[string]interface{}{"signature": "0xother"}

	key1, err := GenerateSettlementKey(payload)
	if err != nil {
		t.Fatalf("GenerateSettlementKey failed: %v", err)
	}
	key2, err := GenerateSettlementKey(payload)
	if err != nil {
		t.Fatalf("GenerateSettlementKey failed: %v", err)
	}
	key3, err := GenerateSettlementKey(other)
	if err != nil {
		t.Fatalf("GenerateSettlementKey failed: %v", err)
	}

	if key1 != key2 {
		t.Errorf("Expected a stable key, got %s and %s", key1, key2)
	}
	if key1 == key3 {
		t.Error("Expected distinct payloads to produce distinct keys")
	}
	if len(key1) != 64 {
		t.Errorf("Expected a 64 char sha256 hex key, got %d chars", len(key1))
	}
}

func TestSettlementCacheCachesReceipt(t *testing.T) {
	cache := NewSettlementCache(5 * time.Minute)
	key := "payment-1"
	response := &SettleResponse{Success: true, Transaction: "0x123", Payer: "0xabc", Network: "eip155:84532"}

	status, result, done := cache.CheckAndMark(key)
	if status != StatusNotFound {
		t.Fatalf("Expected StatusNotFound, got %v", status)
	}
	if result != nil {
		t.Fatal("Expected no receipt before completion")
	}

	cache.Complete(key, response, done)

	status, result, _ = cache.CheckAndMark(key)
	if status != StatusCached {
		t.Fatalf("Expected StatusCached, got %v", status)
	}
	if result == nil || result.Transaction != "0x123" {
		t.Fatalf("Expected the cached receipt, got %+v", result)
	}
}

func TestSettlementCacheInFlightSharesChannel(t *testing.T) {
	cache := NewSettlementCache(5 * time.Minute)
	key := "payment-2"

	status1, _, done1 := cache.CheckAndMark(key)
	if status1 != StatusNotFound {
		t.Fatalf("Expected StatusNotFound, got %v", status1)
	}

	status2, _, done2 := cache.CheckAndMark(key)
	if status2 != StatusInFlight {
		t.Fatalf("Expected StatusInFlight, got %v", status2)
	}
	if done1 != done2 {
		t.Fatal("Expected duplicates to share the owner's done channel")
	}
}

func TestSettlementCacheExpiry(t *testing.T) {
	cache := NewSettlementCache(50 * time.Millisecond)
	key := "payment-3"

	_, _, done := cache.CheckAndMark(key)
	cache.Complete(key, &SettleResponse{Success: true, Transaction: "0x999"}, done)

	status, result, _ := cache.CheckAndMark(key)
	if status != StatusCached || result == nil {
		t.Fatal("Expected the receipt to be served before expiry")
	}

	time.Sleep(80 * time.Millisecond)

	status, _, done = cache.CheckAndMark(key)
	if status != StatusNotFound {
		t.Fatalf("Expected StatusNotFound after expiry, got %v", status)
	}
	cache.Fail(key, done)
}

func TestSettlementCacheFailAllowsRetry(t *testing.T) {
	cache := NewSettlementCache(5 * time.Minute)
	key := "payment-4"

	_, _, done := cache.CheckAndMark(key)
	cache.Fail(key, done)

	status, _, done2 := cache.CheckAndMark(key)
	if status != StatusNotFound {
		t.Fatalf("Expected a failed settlement to be retryable, got %v", status)
	}
	cache.Fail(key, done2)
}

func TestWaitForResult(t *testing.T) {
	cache := NewSettlementCache(5 * time.Minute)
	key := "payment-5"

	_, _, done := cache.CheckAndMark(key)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cache.Complete(key, &SettleResponse{Success: true, Transaction: "0xwaited"}, done)
	}()

	result, err := cache.WaitForResult(context.Background(), key, done)
	if err != nil {
		t.Fatalf("WaitForResult failed: %v", err)
	}
	if result == nil || result.Transaction != "0xwaited" {
		t.Fatalf("Expected the completed receipt, got %+v", result)
	}
}

func TestWaitForResultContextCancelled(t *testing.T) {
	cache := NewSettlementCache(5 * time.Minute)
	key := "payment-6"

	_, _, done := cache.CheckAndMark(key)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cache.WaitForResult(ctx, key, done)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	cache.Fail(key, done)
}

func TestSettlementCacheConcurrentWaiters(t *testing.T) {
	cache := NewSettlementCache(5 * time.Minute)
	key := "payment-7"

	_, _, done := cache.CheckAndMark(key)

	var wg sync.WaitGroup
	results := make([]*SettleResponse, 3)
	waitErrs := make([]error, 3)

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx], waitErrs[idx] = cache.WaitForResult(context.Background(), key, done)
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	cache.Complete(key, &SettleResponse{Success: true, Transaction: "0xshared"}, done)
	wg.Wait()

	for i := 0; i < 3; i++ {
		if waitErrs[i] != nil {
			t.Errorf("Waiter %d failed: %v", i, waitErrs[i])
			continue
		}
		if results[i] == nil || results[i].Transaction != "0xshared" {
			t.Errorf("Waiter %d got %+v", i, results[i])
		}
	}
}

func TestCheckAndMarkAtomicity(t *testing.T) {
	cache := NewSettlementCache(5 * time.Minute)
	key := "payment-8"

	var wg sync.WaitGroup
	var notFound, inFlight int32

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, _, _ := cache.CheckAndMark(key)
			switch status {
			case StatusNotFound:
				atomic.AddInt32(&notFound, 1)
			case StatusInFlight:
				atomic.AddInt32(&inFlight, 1)
			}
		}()
	}
	wg.Wait()

	if notFound != 1 {
		t.Errorf("Expected exactly one owner, got %d", notFound)
	}
	if inFlight != 9 {
		t.Errorf("Expected 9 duplicates to see in-flight, got %d", inFlight)
	}
}

func TestSettlementCacheDo(t *testing.T) {
	cache := NewSettlementCache(5 * time.Minute)
	calls := 0
	settle := func() (SettleResponse, error) {
		calls++
		return SettleResponse{Success: true, Transaction: "0xonce", Network: "eip155:84532"}, nil
	}

	result, err := cache.Do(context.Background(), "payment-9", settle)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if !result.Success || result.Transaction != "0xonce" {
		t.Fatalf("Expected the settlement receipt, got %+v", result)
	}

	// A retry within the TTL is served from cache.
	result, err = cache.Do(context.Background(), "payment-9", settle)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if result.Transaction != "0xonce" {
		t.Fatalf("Expected the cached receipt, got %+v", result)
	}
	if calls != 1 {
		t.Fatalf("Expected one settlement, got %d", calls)
	}
}

func TestSettlementCacheDoConcurrent(t *testing.T) {
	cache := NewSettlementCache(5 * time.Minute)
	var calls int32
	settle := func() (SettleResponse, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return SettleResponse{Success: true, Transaction: "0xracefree", Network: "eip155:84532"}, nil
	}

	var wg sync.WaitGroup
	transactions := make([]string, 5)
	doErrs := make([]error, 5)

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			result, err := cache.Do(context.Background(), "payment-10", settle)
			transactions[idx] = result.Transaction
			doErrs[idx] = err
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("Expected a single settlement across duplicates, got %d", got)
	}
	for i := 0; i < 5; i++ {
		if doErrs[i] != nil {
			t.Errorf("Caller %d failed: %v", i, doErrs[i])
		}
		if transactions[i] != "0xracefree" {
			t.Errorf("Caller %d got transaction %q", i, transactions[i])
		}
	}
}

func TestSettlementCacheDoErrorNotCached(t *testing.T) {
	cache := NewSettlementCache(5 * time.Minute)
	calls := 0

	_, err := cache.Do(context.Background(), "payment-11", func() (SettleResponse, error) {
		calls++
		return SettleResponse{}, errors.New("rpc unreachable")
	})
	if err == nil {
		t.Fatal("Expected the settlement error to surface")
	}

	result, err := cache.Do(context.Background(), "payment-11", func() (SettleResponse, error) {
		calls++
		return SettleResponse{Success: true, Transaction: "0xretry", Network: "eip155:84532"}, nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if result.Transaction != "0xretry" {
		t.Fatalf("Expected the retry to settle, got %+v", result)
	}
	if calls != 2 {
		t.Fatalf("Expected the failure to leave the key retryable, got %d calls", calls)
	}
}

func TestSettlementCacheDoRejectionNotCached(t *testing.T) {
	cache := NewSettlementCache(5 * time.Minute)
	calls := 0
	settle := func() (SettleResponse, error) {
		calls++
		return SettleResponse{Success: false, ErrorReason: ErrInsufficientBalance, Network: "eip155:84532"}, nil
	}

	result, err := cache.Do(context.Background(), "payment-12", settle)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if result.Success {
		t.Fatal("Expected the rejection to be returned")
	}

	// Rejections are not receipts; the next attempt settles again.
	if _, err := cache.Do(context.Background(), "payment-12", settle); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if calls != 2 {
		t.Fatalf("Expected rejections to stay uncached, got %d calls", calls)
	}
}

func TestSettlementCacheDoWaiterTakesOver(t *testing.T) {
	cache := NewSettlementCache(5 * time.Minute)
	started := make(chan struct{})
	var calls int32

	settle := func() (SettleResponse, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
			time.Sleep(20 * time.Millisecond)
			return SettleResponse{}, errors.New("nonce too low")
		}
		return SettleResponse{Success: true, Transaction: "0xsecond", Network: "eip155:84532"}, nil
	}

	var ownerErr error
	ownerDone := make(chan struct{})
	go func() {
		defer close(ownerDone)
		_, ownerErr = cache.Do(context.Background(), "payment-13", settle)
	}()

	// Join once the owner's attempt is underway.
	<-started
	result, err := cache.Do(context.Background(), "payment-13", settle)
	<-ownerDone

	if ownerErr == nil {
		t.Fatal("Expected the first attempt to fail")
	}
	if err != nil {
		t.Fatalf("Expected the waiter to take over and settle, got %v", err)
	}
	if result.Transaction != "0xsecond" {
		t.Fatalf("Expected the second attempt's receipt, got %+v", result)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("Expected two attempts, got %d", got)
	}
}
