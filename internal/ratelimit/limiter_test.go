package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *time.Time) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := New(client, cfg)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	return limiter, &now
}

func TestCostGrowsWithUploadSize(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{Capacity: 5, Window: time.Minute, CostUnit: 1000})

	cases := []struct {
		size int64
		want int64
	}{
		{size: -1, want: 1},
		{size: 0, want: 1},
		{size: 1, want: 2},
		{size: 1000, want: 2},
		{size: 1001, want: 3},
		{size: 1 << 30, want: 5},
	}
	for _, tc := range cases {
		if got := limiter.Cost(tc.size); got != tc.want {
			t.Fatalf("expected cost %d for %d bytes, got %d", tc.want, tc.size, got)
		}
	}
}

func TestChargeExhaustsCapacity(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{Capacity: 2, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		decision, err := limiter.Charge(ctx, "10.0.0.1", 0)
		if err != nil {
			t.Fatalf("charge: %v", err)
		}
		if !decision.Allowed {
			t.Fatalf("expected request %d to be allowed", i+1)
		}
	}

	decision, err := limiter.Charge(ctx, "10.0.0.1", 0)
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected third request to be rejected")
	}
	if decision.RetryAfter <= 0 {
		t.Fatalf("expected positive retry-after, got %s", decision.RetryAfter)
	}

	other, err := limiter.Charge(ctx, "10.0.0.2", 0)
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if !other.Allowed {
		t.Fatal("expected a different subject to have its own bucket")
	}
}

func TestLargeCaptureDrainsMoreBudget(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{Capacity: 10, Window: time.Minute, CostUnit: 1 << 20})
	ctx := context.Background()

	big, err := limiter.Charge(ctx, "a", 4<<20)
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if !big.Allowed || big.Cost != 5 || big.Remaining != 5 || big.Limit != 10 {
		t.Fatalf("unexpected decision %+v", big)
	}

	small, err := limiter.Charge(ctx, "b", 100)
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if small.Cost != 2 || small.Remaining != 8 {
		t.Fatalf("unexpected decision %+v", small)
	}

	again, err := limiter.Charge(ctx, "a", 6<<20)
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if again.Allowed {
		t.Fatalf("expected second large capture to be rejected, got %+v", again)
	}
	if again.Remaining != 5 {
		t.Fatalf("expected a rejected charge to leave the bucket untouched, got %d", again.Remaining)
	}
}

func TestChargeRefillsOverTime(t *testing.T) {
	limiter, now := newTestLimiter(t, Config{Capacity: 1, Window: time.Second})
	ctx := context.Background()

	if d, _ := limiter.Charge(ctx, "a", 0); !d.Allowed {
		t.Fatal("expected first request to be allowed")
	}
	if d, _ := limiter.Charge(ctx, "a", 0); d.Allowed {
		t.Fatal("expected second request to be rejected")
	}

	*now = now.Add(time.Second)
	if d, _ := limiter.Charge(ctx, "a", 0); !d.Allowed {
		t.Fatal("expected request after a full window to be allowed")
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(nil, Config{Capacity: 1, Window: time.Second}); err == nil {
		t.Fatal("expected nil client to be rejected")
	}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	if _, err := New(client, Config{Window: time.Second}); err == nil {
		t.Fatal("expected zero capacity to be rejected")
	}
	if _, err := New(client, Config{Capacity: 1}); err == nil {
		t.Fatal("expected zero window to be rejected")
	}
}
