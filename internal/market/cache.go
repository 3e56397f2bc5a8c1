package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CachedSource decorates a Source with a short-TTL Redis quote cache so that
// overlapping jobs inside one evaluation cycle do not spend duplicate
// rate-limit slots on the same symbol. Cache failures fall through to the
// wrapped source.
type CachedSource struct {
	inner  Source
	rdb    *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedSource wraps src with a quote cache.
func NewCachedSource(src Source, rdb *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedSource {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedSource{
		inner:  src,
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.With().Str("component", "quote_cache").Str("source", src.Name()).Logger(),
	}
}

// Name implements Source.
func (c *CachedSource) Name() string { return c.inner.Name() }

func (c *CachedSource) cacheKey(symbol string) string {
	return fmt.Sprintf("quote:%s:%s", c.inner.Name(), symbol)
}

// FetchPrice serves from cache when a fresh quote is present, otherwise
// delegates and stores the result.
func (c *CachedSource) FetchPrice(ctx context.Context, symbol string) (Quote, error) {
	key := c.cacheKey(symbol)

	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var quote Quote
		if err := json.Unmarshal(raw, &quote); err == nil {
			c.logger.Debug().Str("symbol", symbol).Msg("quote cache hit")
			return quote, nil
		}
	} else if err != redis.Nil {
		c.logger.Debug().Err(err).Str("symbol", symbol).Msg("quote cache read failed")
	}

	quote, err := c.inner.FetchPrice(ctx, symbol)
	if err != nil {
		return Quote{}, err
	}

	if raw, err := json.Marshal(quote); err == nil {
		if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Debug().Err(err).Str("symbol", symbol).Msg("quote cache write failed")
		}
	}

	return quote, nil
}

// FetchFundingRate delegates directly; funding moves slowly enough that the
// limiter alone is adequate pacing.
func (c *CachedSource) FetchFundingRate(ctx context.Context, symbol string) (FundingRate, error) {
	return c.inner.FetchFundingRate(ctx, symbol)
}

var _ Source = (*CachedSource)(nil)
