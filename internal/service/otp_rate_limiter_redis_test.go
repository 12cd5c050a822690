package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type mockRedisEvaler struct {
	lastScript string
	lastKeys   []string
	lastArgs   []interface{}
	result     int64
	err        error
}

func (m *mockRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	m.lastScript = script
	m.lastKeys = keys
	m.lastArgs = args
	cmd := redis.NewCmd(ctx)
	if m.err != nil {
		cmd.SetErr(m.err)
		return cmd
	}
	cmd.SetVal(m.result)
	return cmd
}

func TestRedisOTPRateLimiterAllow(t *testing.T) {
	t.Run("nil receiver fail-open", func(t *testing.T) {
		var l *redisOTPRateLimiter
		if !l.Allow(context.Background(), "login:user:user@example.com") {
			t.Fatalf("expected fail-open for nil limiter")
		}
	})

	t.Run("empty key rejected", func(t *testing.T) {
		l := &redisOTPRateLimiter{
			client: &mockRedisEvaler{result: 1},
			window: time.Minute,
			max:    3,
			prefix: "otp:rl:",
		}
		if l.Allow(context.Background(), "   ") {
			t.Fatalf("expected empty key to be rejected")
		}
	})

	t.Run("allow when count within max", func(t *testing.T) {
		mock := &mockRedisEvaler{result: 2}
		l := &redisOTPRateLimiter{
			client: mock,
			window: 2 * time.Minute,
			max:    3,
			prefix: "otp:rl:",
		}
		if !l.Allow(context.Background(), " login:user:User@Example.com ") {
			t.Fatalf("expected allow when count <= max")
		}
		if len(mock.lastKeys) != 1 || mock.lastKeys[0] != "otp:rl:login:user:User@Example.com" {
			t.Fatalf("unexpected key trimming, got %+v", mock.lastKeys)
		}
		if len(mock.lastArgs) != 1 || mock.lastArgs[0] != 120 {
			t.Fatalf("expected TTL seconds=120, got %+v", mock.lastArgs)
		}
		if mock.lastScript != redisOTPAllowScript {
			t.Fatalf("expected script to match")
		}
	})

	t.Run("deny when count exceeds max", func(t *testing.T) {
		l := &redisOTPRateLimiter{
			client: &mockRedisEvaler{result: 4},
			window: time.Minute,
			max:    3,
			prefix: "otp:rl:",
		}
		if l.Allow(context.Background(), "login:user:user@example.com") {
			t.Fatalf("expected deny when count > max")
		}
	})

	t.Run("redis error fail-open", func(t *testing.T) {
		l := &redisOTPRateLimiter{
			client: &mockRedisEvaler{err: errors.New("redis down")},
			window: time.Minute,
			max:    3,
			prefix: "otp:rl:",
		}
		if !l.Allow(context.Background(), "login:user:user@example.com") {
			t.Fatalf("expected fail-open on redis errors")
		}
	})
}

func TestRedisOTPRateLimiter_Miniredis(t *testing.T) {
	_, client := newTestRedis(t)
	l := NewRedisOTPRateLimiter(client, time.Minute, 2)
	ctx := context.Background()

	if !l.Allow(ctx, "login:user:a@x.com") || !l.Allow(ctx, "login:user:a@x.com") {
		t.Fatalf("expected first two issuances allowed")
	}
	if l.Allow(ctx, "login:user:a@x.com") {
		t.Fatalf("expected third issuance denied")
	}
	if !l.Allow(ctx, "reset:user:a@x.com") {
		t.Fatalf("expected reset purpose counted separately")
	}
	ttl := client.TTL(ctx, "otp:rl:login:user:a@x.com").Val()
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected window ttl, got %v", ttl)
	}
}

func TestNewRedisOTPRateLimiter_NilClient(t *testing.T) {
	if NewRedisOTPRateLimiter(nil, time.Minute, 3) != nil {
		t.Fatalf("expected nil limiter for nil client")
	}
}
