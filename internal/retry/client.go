// Package retry wraps upstream calls with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/forward_factor/internal/models"
)

type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

type Client struct {
	logger logrus.FieldLogger
	config Config
}

func NewClient(logger logrus.FieldLogger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Client{
		logger: logger,
		config: cfg,
	}
}

// Do runs op until it succeeds, returns a non-transient error, the retry
// budget is spent, or ctx is done. Exhausted rate-limit retries still wrap
// models.ErrRateLimited so callers can classify them.
func Do[T any](ctx context.Context, c *Client, name string, op func(context.Context) (T, error)) (T, error) {
	var zero T

	callCtx := ctx
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.config.InitialBackoff
	expo.MaxInterval = c.config.MaxBackoff
	expo.Multiplier = 1.5
	expo.RandomizationFactor = 0.25
	expo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(max(c.config.MaxRetries, 0))), callCtx)

	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := op(callCtx)
		if err == nil {
			return v, nil
		}
		if !IsTransientError(err) {
			return zero, backoff.Permanent(err)
		}
		return zero, err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.WithFields(logrus.Fields{
			"op":      name,
			"attempt": attempt,
			"wait":    wait,
		}).WithError(err).Warn("Transient error, retrying")
	}

	v, err := backoff.RetryNotifyWithData(operation, policy, notify)
	if err != nil {
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s canceled after %d attempts: %w", name, attempt, ctx.Err())
		}
		return zero, fmt.Errorf("%s failed after %d attempts: %w", name, attempt, err)
	}
	return v, nil
}

// IsTransientError reports whether err is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, models.ErrRateLimited) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, models.ErrDataGap) {
		return false
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"429", // HTTP 429 Too Many Requests
		"502", // HTTP 502 Bad Gateway
		"503", // HTTP 503 Service Unavailable
		"504", // HTTP 504 Gateway Timeout
		"network",
		"dns",
		"tcp",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
