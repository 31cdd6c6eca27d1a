package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestFixedWindowLimiterCountsPerKey(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(mr.Addr(), "", "test:ratelimit", 2, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	defer limiter.Close()
	if limiter.Limit() != 2 {
		t.Fatalf("limit = %d", limiter.Limit())
	}

	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(ctx, "bid:user-1")
		if err != nil || !d.Allowed {
			t.Fatalf("hit %d should pass: %+v err=%v", i+1, d, err)
		}
	}
	d, err := limiter.Allow(ctx, "bid:user-1")
	if err != nil {
		t.Fatalf("third hit: %v", err)
	}
	if d.Allowed || d.Remaining != 0 {
		t.Fatalf("third hit should be blocked: %+v", d)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Fatalf("retry-after out of range: %v", d.RetryAfter)
	}

	other, err := limiter.Allow(ctx, "bid:user-2")
	if err != nil || !other.Allowed || other.Remaining != 1 {
		t.Fatalf("other key should have its own budget: %+v err=%v", other, err)
	}
}

func TestFixedWindowLimiterFailsClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(mr.Addr(), "", "test:ratelimit", 1, time.Second)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	mr.Close()
	d, err := limiter.Allow(context.Background(), "msg:user-1")
	if err == nil || d.Allowed {
		t.Fatalf("expected fail-closed decision, got %+v err=%v", d, err)
	}
}

func TestFixedWindowLimiterValidation(t *testing.T) {
	if _, err := NewRedisFixedWindowLimiter("", "", "p", 1, time.Second); err == nil {
		t.Fatal("expected error for empty addr")
	}
	mr := miniredis.RunT(t)
	if _, err := NewRedisFixedWindowLimiter(mr.Addr(), "", "p", 0, time.Second); err == nil {
		t.Fatal("expected error for zero limit")
	}
	if _, err := NewFixedWindowLimiter(nil, "p", 1, time.Second); err == nil {
		t.Fatal("expected error for nil client")
	}
}
