package redis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestNew_PingFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), ClientConfig{Addr: addr})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: ping")
}

func TestRateLimiter_FixedWindow(t *testing.T) {
	c, mr := newTestClient(t)
	now := time.Date(2025, 6, 18, 14, 30, 10, 0, time.UTC)
	rl := NewRateLimiter(c, 2, time.Minute, func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := rl.Allow(ctx, "polygon")
		require.NoError(t, err)
		assert.True(t, ok, "request %d should fit", i+1)
	}
	ok, reset, err := rl.Allow(ctx, "polygon")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 50*time.Second, reset)

	// other providers have their own quota
	ok, _, err = rl.Allow(ctx, "finnhub")
	require.NoError(t, err)
	assert.True(t, ok)

	// keys expire with the window
	keys := mr.Keys()
	require.NotEmpty(t, keys)
	assert.Greater(t, mr.TTL(keys[0]), time.Duration(0))

	now = now.Add(time.Minute)
	ok, _, err = rl.Allow(ctx, "polygon")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	c, _ := newTestClient(t)
	now := time.Date(2025, 6, 18, 14, 30, 0, 0, time.UTC)
	rl := NewRateLimiter(c, 1, time.Hour, func() time.Time { return now })

	require.NoError(t, rl.Wait(context.Background(), "polygon"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := rl.Wait(ctx, "polygon")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type countingSource struct {
	calls int32
	date  *time.Time
	err   error
}

func (s *countingSource) FetchEarningsDate(context.Context, string) (*time.Time, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.date, s.err
}

func TestEarningsCache_ReadThrough(t *testing.T) {
	c, mr := newTestClient(t)
	d := time.Date(2025, 8, 4, 0, 0, 0, 0, time.UTC)
	src := &countingSource{date: &d}
	cache := NewEarningsCache(c, src, 12*time.Hour)
	ctx := context.Background()

	got, err := cache.FetchEarningsDate(ctx, "pltr")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, d, *got)

	got, err = cache.FetchEarningsDate(ctx, "PLTR")
	require.NoError(t, err)
	assert.Equal(t, d, *got)
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.calls))

	val, err := mr.Get("earnings:PLTR")
	require.NoError(t, err)
	assert.Equal(t, "2025-08-04", val)

	mr.FastForward(13 * time.Hour)
	_, err = cache.FetchEarningsDate(ctx, "PLTR")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&src.calls))
}

func TestEarningsCache_NegativeAndErrors(t *testing.T) {
	c, _ := newTestClient(t)
	src := &countingSource{}
	cache := NewEarningsCache(c, src, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := cache.FetchEarningsDate(ctx, "SPY")
		require.NoError(t, err)
		assert.Nil(t, got)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.calls))

	failing := &countingSource{err: errors.New("upstream down")}
	cache = NewEarningsCache(c, failing, time.Hour)
	_, err := cache.FetchEarningsDate(ctx, "AAPL")
	assert.EqualError(t, err, "upstream down")
	_, err = cache.FetchEarningsDate(ctx, "AAPL")
	assert.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&failing.calls))
}
