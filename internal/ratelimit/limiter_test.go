package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// unreachableClient returns a client whose commands always fail, simulating
// a Redis outage.
func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 10 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestAllow_FailOpenPermitsOnOutage(t *testing.T) {
	l := New(unreachableClient(), 10, time.Minute, true)
	if !l.Allow(context.Background(), "user1") {
		t.Error("fail-open limiter should permit when redis is down")
	}
}

func TestAllow_FailClosedRejectsOnOutage(t *testing.T) {
	l := New(unreachableClient(), 10, time.Minute, false)
	if l.Allow(context.Background(), "user1") {
		t.Error("fail-closed limiter should reject when redis is down")
	}
}

func TestLimiterKey_BucketsByWindow(t *testing.T) {
	a := limiterKey("u", time.Hour)
	b := limiterKey("u", time.Hour)
	if a != b {
		t.Errorf("same window should produce the same bucket key: %s vs %s", a, b)
	}

	c := limiterKey("v", time.Hour)
	if a == c {
		t.Error("different keys must not share a bucket")
	}
}
