package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =========================================================================
// Fixed window
// =========================================================================

func TestCheck_AdmitsUpToLimit(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := l.Check(ctx, "user-1", 3, time.Minute)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("call %d should be allowed", i)
		}
		if res.Remaining != 3-i {
			t.Errorf("call %d: remaining %d, want %d", i, res.Remaining, 3-i)
		}
	}
	res, _ := l.Check(ctx, "user-1", 3, time.Minute)
	if res.Allowed {
		t.Error("fourth call should be rejected")
	}
	if res.Remaining != 0 {
		t.Errorf("remaining after limit: got %d", res.Remaining)
	}

	other, _ := l.Check(ctx, "user-2", 3, time.Minute)
	if !other.Allowed {
		t.Error("buckets must be per identity")
	}
}

func TestCheck_ResetsAtWindowEnd(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	l := New(store)
	ctx := context.Background()

	first, _ := l.Check(ctx, "k", 1, time.Minute)
	if !first.Allowed || !first.ResetAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("first: %+v", first)
	}
	if res, _ := l.Check(ctx, "k", 1, time.Minute); res.Allowed {
		t.Fatal("second call inside window should be rejected")
	}

	now = now.Add(time.Minute)
	if res, _ := l.Check(ctx, "k", 1, time.Minute); !res.Allowed {
		t.Error("call at reset time should be allowed")
	}
}

func TestCheck_Disabled(t *testing.T) {
	l := New(NewMemoryStore(), Disabled(true))
	for i := 0; i < 10; i++ {
		res, _ := l.Check(context.Background(), "k", 1, time.Minute)
		if !res.Allowed {
			t.Fatalf("disabled limiter rejected call %d", i)
		}
	}
}

func TestCheck_InvalidWindow(t *testing.T) {
	l := New(NewMemoryStore())
	if _, err := l.Check(context.Background(), "k", 1, 0); err == nil {
		t.Error("expected error for zero window")
	}
}

// =========================================================================
// Concurrency
// =========================================================================

func TestCheck_ConcurrentAdmitsExactlyLimit(t *testing.T) {
	l := New(NewMemoryStore())
	const limit = 5
	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Check(context.Background(), "shared", limit, time.Minute)
			if err == nil && res.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := admitted.Load(); got != limit {
		t.Errorf("admitted %d, want exactly %d", got, limit)
	}
}

// =========================================================================
// Classes and failures
// =========================================================================

type failingStore struct{}

func (failingStore) Incr(context.Context, string, time.Duration) (int, time.Time, error) {
	return 0, time.Time{}, errors.New("connection refused")
}

func TestCheck_StoreFailureFailsOpen(t *testing.T) {
	l := New(failingStore{})
	res, err := l.Check(context.Background(), "k", 1, time.Minute)
	if err != nil || !res.Allowed {
		t.Errorf("expected fail-open allow, got %+v, %v", res, err)
	}
}

func TestAllow_UsesClassRule(t *testing.T) {
	l := New(NewMemoryStore(), WithRule(ClassRefund, 1, time.Minute))
	ctx := context.Background()

	if res, _ := l.Allow(ctx, ClassRefund, "asker"); !res.Allowed {
		t.Fatal("first refund should pass")
	}
	if res, _ := l.Allow(ctx, ClassRefund, "asker"); res.Allowed {
		t.Error("second refund should be limited")
	}
	if res, _ := l.Allow(ctx, ClassAccept, "asker"); !res.Allowed {
		t.Error("accept uses its own bucket")
	}
	if res, _ := l.Allow(ctx, Class("unknown"), "asker"); !res.Allowed {
		t.Error("unknown class should not be limited")
	}
}

func TestMemoryStore_GCDropsExpiredBuckets(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	store.Incr(ctx, "a", time.Second)
	store.Incr(ctx, "b", time.Second)
	now = now.Add(2 * time.Second)
	store.Incr(ctx, "c", time.Second)

	if n := store.Len(); n != 1 {
		t.Errorf("expected 1 live bucket after gc, got %d", n)
	}
}
