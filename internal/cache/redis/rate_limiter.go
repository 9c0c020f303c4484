package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// waitPollInterval is how often Wait re-checks a full window.
const waitPollInterval = 250 * time.Millisecond

// RateLimiter is a fixed-window request quota shared by every process that
// talks to the same Redis, keyed by provider name.
type RateLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter allows limit requests per window for each key. now may be nil.
func NewRateLimiter(c *Client, limit int, window time.Duration, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{rdb: c.Underlying(), limit: limit, window: window, now: now}
}

func rateLimitKey(key string, slot int64) string {
	return "ratelimit:" + key + ":" + strconv.FormatInt(slot, 10)
}

// Allow counts one request against the current window and reports whether it
// fits. It also returns the time until the window rolls over.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := rl.now()
	slot := now.UnixNano() / int64(rl.window)
	redisKey := rateLimitKey(key, slot)

	var incr *redis.IntCmd
	_, err := rl.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.PExpire(ctx, redisKey, rl.window)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}

	reset := time.Duration((slot+1)*int64(rl.window) - now.UnixNano())
	return incr.Val() <= int64(rl.limit), reset, nil
}

// Wait blocks until a request for the given key is allowed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		allowed, reset, err := rl.Allow(ctx, key)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		wait := waitPollInterval
		if reset > 0 && reset < wait {
			wait = reset
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}
