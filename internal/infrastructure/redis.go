package infrastructure

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cryptotrader/trading-service/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultRedisPingTimeout = 3 * time.Second

func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if strings.TrimSpace(cfg.CacheDSN) == "" {
		return nil, errors.New("redis cache dsn is required")
	}

	opts, err := redis.ParseURL(cfg.CacheDSN)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, defaultRedisPingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	logrus.WithField("addr", opts.Addr).Info("redis connection established")

	return client, nil
}
