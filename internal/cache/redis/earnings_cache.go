package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eddiefleurent/forward_factor/internal/marketdata"
	"github.com/eddiefleurent/forward_factor/internal/models"
)

// noEarnings marks a ticker that was looked up and has no upcoming date.
const noEarnings = "none"

// EarningsCache is a read-through cache in front of an EarningsSource.
// Negative lookups are cached too so the provider quota is not spent on them.
type EarningsCache struct {
	rdb    *redis.Client
	source marketdata.EarningsSource
	ttl    time.Duration
}

// Ensure EarningsCache implements marketdata.EarningsSource at compile time.
var _ marketdata.EarningsSource = (*EarningsCache)(nil)

// NewEarningsCache wraps source with a TTL cache.
func NewEarningsCache(c *Client, source marketdata.EarningsSource, ttl time.Duration) *EarningsCache {
	return &EarningsCache{rdb: c.Underlying(), source: source, ttl: ttl}
}

func earningsKey(ticker string) string {
	return "earnings:" + strings.ToUpper(ticker)
}

// FetchEarningsDate returns the cached date or asks the source and stores the answer.
func (ec *EarningsCache) FetchEarningsDate(ctx context.Context, ticker string) (*time.Time, error) {
	key := earningsKey(ticker)
	val, err := ec.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		if val == noEarnings {
			return nil, nil
		}
		d, perr := time.Parse(models.DateLayout, val)
		if perr == nil {
			return &d, nil
		}
		// corrupt entry, fall through to the source
	case !errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("redis: get earnings %s: %w", ticker, err)
	}

	d, err := ec.source.FetchEarningsDate(ctx, ticker)
	if err != nil {
		return nil, err
	}
	stored := noEarnings
	if d != nil {
		stored = d.Format(models.DateLayout)
	}
	if err := ec.rdb.Set(ctx, key, stored, ec.ttl).Err(); err != nil {
		return d, fmt.Errorf("redis: set earnings %s: %w", ticker, err)
	}
	return d, nil
}
