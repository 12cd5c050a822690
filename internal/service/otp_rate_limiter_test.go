package service

import (
	"context"
	"testing"
	"time"
)

func TestOTPRateLimiter_SlidingWindow(t *testing.T) {
	clock := newFakeClock()
	l := NewOTPRateLimiter(time.Minute, 2).(*otpRateLimiter)
	l.now = clock.Now
	ctx := context.Background()

	if !l.Allow(ctx, "k") || !l.Allow(ctx, "k") {
		t.Fatalf("expected two allowed")
	}
	if l.Allow(ctx, "k") {
		t.Fatalf("expected third denied")
	}
	if !l.Allow(ctx, "other") {
		t.Fatalf("expected independent keys")
	}

	clock.Advance(time.Minute + time.Second)
	if !l.Allow(ctx, "k") {
		t.Fatalf("expected allow after window")
	}
}

func TestOTPRateLimiter_Defaults(t *testing.T) {
	l := NewOTPRateLimiter(0, 0).(*otpRateLimiter)
	if l.max != 1 || l.window != time.Minute {
		t.Fatalf("unexpected defaults: max=%d window=%v", l.max, l.window)
	}
}
