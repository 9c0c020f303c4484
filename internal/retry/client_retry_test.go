package retry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/forward_factor/internal/models"
)

func fastConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Timeout:        time.Second,
	}
}

func TestDo_SucceedsAfterTransientErrors(t *testing.T) {
	logger, hook := test.NewNullLogger()
	c := NewClient(logger, fastConfig())

	var calls int32
	v, err := Do(context.Background(), c, "fetch chain", func(context.Context) (int, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return 0, fmt.Errorf("polygon: %w", models.ErrRateLimited)
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	c := NewClient(nil, fastConfig())

	var calls int32
	permanent := errors.New("invalid ticker")
	_, err := Do(context.Background(), c, "fetch chain", func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", permanent
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDo_ExhaustsRetries(t *testing.T) {
	c := NewClient(nil, fastConfig())

	var calls int32
	_, err := Do(context.Background(), c, "fetch spot", func(context.Context) (float64, error) {
		atomic.AddInt32(&calls, 1)
		return 0, fmt.Errorf("status 429: %w", models.ErrRateLimited)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrRateLimited)
	// one initial attempt plus MaxRetries
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
	assert.Contains(t, err.Error(), "fetch spot failed after 4 attempts")
}

func TestDo_ContextCanceled(t *testing.T) {
	cfg := fastConfig()
	cfg.InitialBackoff = 50 * time.Millisecond
	cfg.MaxBackoff = 50 * time.Millisecond
	c := NewClient(nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := Do(ctx, c, "fetch", func(context.Context) (int, error) {
		cancel()
		return 0, errors.New("connection reset by peer")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited sentinel", fmt.Errorf("x: %w", models.ErrRateLimited), true},
		{"timeout text", errors.New("request timeout"), true},
		{"503 text", errors.New("status 503"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"data gap", models.NewDataGap("AAPL", "no chain", nil), false},
		{"bad request", errors.New("status 400: bad ticker"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransientError(tt.err))
		})
	}
}
