package trading

import (
	"context"
	"errors"
	"time"

	"github.com/cryptotrader/trading-service/internal/entity"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type TickerCache interface {
	Get(ctx context.Context, venueName string, pair entity.Pair) (*entity.Ticker, bool)
	Set(ctx context.Context, venueName string, pair entity.Pair, ticker *entity.Ticker)
}

// RedisTickerCache is a short-TTL read-through cache for ticker lookups.
// Cache failures degrade to a venue call, never to a user-facing error.
type RedisTickerCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisTickerCache(client *redis.Client, ttl time.Duration) *RedisTickerCache {
	return &RedisTickerCache{client: client, ttl: ttl}
}

func tickerKey(venueName string, pair entity.Pair) string {
	return "ticker:" + venueName + ":" + pair.Base + pair.Quote
}

func (c *RedisTickerCache) Get(ctx context.Context, venueName string, pair entity.Pair) (*entity.Ticker, bool) {
	payload, err := c.client.Get(ctx, tickerKey(venueName, pair)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logrus.Warnf("ticker cache read failed: %v", err)
		}
		return nil, false
	}

	var ticker entity.Ticker
	if err := json.Unmarshal(payload, &ticker); err != nil {
		logrus.Warnf("ticker cache entry corrupted, ignoring: %v", err)
		return nil, false
	}

	return &ticker, true
}

func (c *RedisTickerCache) Set(ctx context.Context, venueName string, pair entity.Pair, ticker *entity.Ticker) {
	payload, err := json.Marshal(ticker)
	if err != nil {
		logrus.Warnf("ticker cache encode failed: %v", err)
		return
	}

	if err := c.client.Set(ctx, tickerKey(venueName, pair), payload, c.ttl).Err(); err != nil {
		logrus.Warnf("ticker cache write failed: %v", err)
	}
}
