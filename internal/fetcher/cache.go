package fetcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/shopspring/decimal"
)

// CachedPrices memoises price lookups for a short TTL.
type CachedPrices struct {
	inner PriceFetcher
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewCachedPrices wraps inner with a ristretto cache holding up to maxItems symbols.
func NewCachedPrices(inner PriceFetcher, ttl time.Duration, maxItems int64) (*CachedPrices, error) {
	if maxItems <= 0 {
		maxItems = 1024
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10 * maxItems,
		MaxCost:     maxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create price cache: %w", err)
	}
	return &CachedPrices{inner: inner, cache: c, ttl: ttl}, nil
}

// FetchPrice serves a cached price when fresh, otherwise asks inner.
func (c *CachedPrices) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	key := strings.ToUpper(strings.TrimSpace(symbol))
	if v, ok := c.cache.Get(key); ok {
		if price, ok := v.(decimal.Decimal); ok {
			return price, nil
		}
	}

	price, err := c.inner.FetchPrice(ctx, symbol)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if c.ttl > 0 {
		c.cache.SetWithTTL(key, price, 1, c.ttl)
		c.cache.Wait()
	}
	return price, nil
}

// Close releases cache resources.
func (c *CachedPrices) Close() { c.cache.Close() }

var _ PriceFetcher = (*CachedPrices)(nil)
