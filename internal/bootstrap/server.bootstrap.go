package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cryptotrader/trading-service/internal/config"
	credentialHandler "github.com/cryptotrader/trading-service/internal/handler/credential/http"
	tradingHandler "github.com/cryptotrader/trading-service/internal/handler/trading/http"
	"github.com/cryptotrader/trading-service/internal/infrastructure"
	"github.com/cryptotrader/trading-service/internal/ratelimit"
	"github.com/cryptotrader/trading-service/internal/repository"
	"github.com/cryptotrader/trading-service/internal/service/connector"
	"github.com/cryptotrader/trading-service/internal/service/credential"
	"github.com/cryptotrader/trading-service/internal/service/trading"
	"github.com/cryptotrader/trading-service/internal/util"
	"github.com/cryptotrader/trading-service/internal/vault"
	"github.com/cryptotrader/trading-service/internal/venue"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func StartServer(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tradingDB, err := infrastructure.NewPostgresConnection(ctx, config.Env.Database["trading"])
	util.ContinueOrFatal(err)
	infrastructure.StartPostgresHealthCheck(ctx, tradingDB, config.Env.Database["trading"].PingInterval)

	redisClient, err := infrastructure.NewRedisClient(ctx, config.Env.Redis["cache"])
	util.ContinueOrFatal(err)

	nc, js, err := infrastructure.NewJetstream()
	util.ContinueOrFatal(err)

	credentialVault, err := vault.New(config.Env.Security.EncryptionKey)
	util.ContinueOrFatal(err)

	rateLimiter := ratelimit.NewLimiter(rateLimitOverrides())

	credentialRepo := repository.NewCredentialRepository(tradingDB)
	tradeRepo := repository.NewTradeRepository(tradingDB)

	connectorRegistry := connector.NewRegistry(credentialVault, credentialRepo, venue.Builders(), connector.Config{
		Sandbox:  config.Env.Venues.SandboxMode,
		BaseURLs: config.Env.Venues.BaseURL,
		Timeout:  config.Env.Venues.Timeout,
	})

	publisher := trading.NewJetstreamPublisher(js)
	err = publisher.EnsureStream()
	util.ContinueOrFatal(err)

	tickerCache := trading.NewRedisTickerCache(redisClient, config.Env.Trading.TickerCacheTTL)

	tradingService := trading.NewService(
		tradeRepo,
		credentialRepo,
		connectorRegistry,
		rateLimiter,
		publisher,
		tickerCache,
		tradingLimits(),
	)
	credentialService := credential.NewService(credentialRepo, credentialVault, connectorRegistry, rateLimiter)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	tradingHandler.NewTradingHTTPHandler(tradingService).Register(mux)
	credentialHandler.NewCredentialHTTPHandler(credentialService).Register(mux)

	httpPort := fmt.Sprintf(":%s", config.Env.Port["http"])
	httpServer := infrastructure.NewHTTPServerWithConfig(infrastructure.HTTPServerConfig{
		Addr:            httpPort,
		ShutdownTimeout: config.Env.GracefulShutdownTimeout,
	}, mux)

	go func() {
		err := httpServer.Start()
		if err != nil {
			logrus.Error(err)
		}
	}()
	logrus.Info(fmt.Sprintf("http server started on %s", httpPort))

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, map[string]operation{
		"trading database": func(ctx context.Context) error {
			cancel()
			return tradingDB.Close()
		},
		"redis": func(ctx context.Context) error {
			return redisClient.Close()
		},
		"http": func(ctx context.Context) error {
			return httpServer.Shutdown(ctx)
		},
		"nats connection": func(ctx context.Context) error {
			return infrastructure.CloseJetstream(nc)
		},
	})

	<-wait
}

func rateLimitOverrides() map[ratelimit.Category]ratelimit.Limit {
	overrides := make(map[ratelimit.Category]ratelimit.Limit, len(config.Env.RateLimits))
	for category, limit := range config.Env.RateLimits {
		overrides[ratelimit.Category(category)] = ratelimit.Limit{
			Capacity:     limit.Capacity,
			RefillPeriod: limit.RefillPeriod,
		}
	}

	return overrides
}

func tradingLimits() trading.Limits {
	fees := make(map[string]trading.FeeRates, len(config.Env.Venues.Fees))
	for venueName, rates := range config.Env.Venues.Fees {
		fees[venueName] = trading.FeeRates{Maker: rates.Maker, Taker: rates.Taker}
	}

	return trading.Limits{
		MaxOrderSize:         config.Env.Trading.MaxOrderSize,
		DailyVolume:          config.Env.Trading.DailyVolume,
		MarketReferencePrice: config.Env.Trading.MarketReferencePrice,
		Fees:                 fees,
	}
}
