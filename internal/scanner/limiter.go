package scanner

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter meters provider calls. The Redis RateLimiter satisfies it when the
// quota must be shared between processes.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// LocalLimiter is an in-process token bucket per provider key.
type LocalLimiter struct {
	limiter *rate.Limiter
}

// NewLocalLimiter allows perMinute calls with a small burst.
func NewLocalLimiter(perMinute int) *LocalLimiter {
	if perMinute <= 0 {
		return &LocalLimiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	burst := max(1, perMinute/10)
	return &LocalLimiter{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)}
}

// Wait blocks until a call is allowed. All keys share one bucket.
func (l *LocalLimiter) Wait(ctx context.Context, _ string) error {
	return l.limiter.Wait(ctx)
}
