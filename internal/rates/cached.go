package rates

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/calderahq/commerce-backend/pkg/enums"
	"github.com/calderahq/commerce-backend/pkg/logger"
)

type rateStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	RateKey(from, to string) string
}

// CachedConverter decorates a Converter with a redis-backed rate cache.
// Cache failures degrade to the underlying source, never to an error.
type CachedConverter struct {
	source Converter
	store  rateStore
	ttl    time.Duration
	logg   *logger.Logger
}

func NewCachedConverter(source Converter, store rateStore, ttl time.Duration, logg *logger.Logger) (*CachedConverter, error) {
	if source == nil {
		return nil, errSourceRequired
	}
	if store == nil {
		return nil, errStoreRequired
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &CachedConverter{source: source, store: store, ttl: ttl, logg: logg}, nil
}

func (c *CachedConverter) Rate(ctx context.Context, from, to enums.Currency) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	key := c.store.RateKey(string(from), string(to))
	if cached, err := c.store.Get(ctx, key); err == nil && cached != "" {
		if rate, parseErr := decimal.NewFromString(cached); parseErr == nil {
			return rate, nil
		}
	}

	rate, err := c.source.Rate(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}

	if err := c.store.Set(ctx, key, rate.String(), c.ttl); err != nil && c.logg != nil {
		c.logg.Warn(c.logg.WithField(ctx, "rate_key", key), "failed to cache exchange rate")
	}
	return rate, nil
}

func (c *CachedConverter) Convert(ctx context.Context, amount decimal.Decimal, from, to enums.Currency) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}
	rate, err := c.Rate(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate), nil
}
