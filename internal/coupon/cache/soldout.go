package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

const DefaultSoldOutTTL = 7 * 24 * time.Hour

// SoldOutCache помнит купоны с нулевым остатком, чтобы отказывать в выдаче
// без блокировки строки купона. Остаток не растёт, маркер не устаревает.
//
// Redis необязателен: при ошибке чтение отвечает "не распродан",
// источник правды остаётся в БД.
type SoldOutCache struct {
	client  redis.Cmdable
	breaker *gobreaker.CircuitBreaker
	ttl     time.Duration
}

func NewSoldOutCache(client redis.Cmdable, ttl time.Duration) *SoldOutCache {
	if ttl <= 0 {
		ttl = DefaultSoldOutTTL
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-soldout",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
	return &SoldOutCache{client: client, breaker: breaker, ttl: ttl}
}

func soldOutKey(couponUUID uuid.UUID) string {
	return fmt.Sprintf("coupon:soldout:{%s}", couponUUID)
}

func (c *SoldOutCache) IsSoldOut(ctx context.Context, couponUUID uuid.UUID) bool {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		n, err := c.client.Exists(ctx, soldOutKey(couponUUID)).Result()
		return n, err
	})
	if err != nil {
		if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
			zerolog.Ctx(ctx).Warn().Err(err).Str("coupon_id", couponUUID.String()).Msg("sold-out lookup failed")
		}
		return false
	}
	return res.(int64) > 0
}

func (c *SoldOutCache) MarkSoldOut(ctx context.Context, couponUUID uuid.UUID) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.client.Set(ctx, soldOutKey(couponUUID), 1, c.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("mark coupon %s sold out: %w", couponUUID, err)
	}
	return nil
}

func (c *SoldOutCache) State() gobreaker.State {
	return c.breaker.State()
}

// NopGate никогда не считает купон распроданным.
type NopGate struct{}

func (NopGate) IsSoldOut(context.Context, uuid.UUID) bool    { return false }
func (NopGate) MarkSoldOut(context.Context, uuid.UUID) error { return nil }
