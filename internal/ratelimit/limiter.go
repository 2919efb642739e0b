// Package ratelimit implements a Redis-backed fixed-window rate limiter for
// trade endpoints.
//
// Whether an unreachable Redis allows or rejects requests is an explicit
// deployment decision (FailOpen), never an implicit catch-and-allow.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter counts requests per key in fixed windows.
type Limiter struct {
	rdb      *redis.Client
	limit    int64
	window   time.Duration
	failOpen bool
}

// New creates a limiter allowing `limit` requests per `window` for each key.
// When failOpen is true, Redis errors allow the request; when false they
// reject it.
func New(rdb *redis.Client, limit int64, window time.Duration, failOpen bool) *Limiter {
	return &Limiter{
		rdb:      rdb,
		limit:    limit,
		window:   window,
		failOpen: failOpen,
	}
}

func limiterKey(key string, window time.Duration) string {
	bucket := time.Now().UnixNano() / int64(window)
	return fmt.Sprintf("ratelimit:%s:%d", key, bucket)
}

// Allow reports whether a request for the given key is permitted. The
// request is counted when permitted. On Redis failure the FailOpen setting
// decides, and the failure is logged either way.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	k := limiterKey(key, l.window)

	pipe := l.rdb.TxPipeline()
	count := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, l.window)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("rate limiter redis failure",
			"key", key,
			"fail_open", l.failOpen,
			"err", err,
		)
		return l.failOpen
	}

	return count.Val() <= l.limit
}
