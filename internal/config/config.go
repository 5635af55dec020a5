package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

var (
	ServiceName    = "trading-service"
	ServiceVersion = ""
)

var (
	Env *EnvConfig
)

type EnvConfig struct {
	Env                     string                     `mapstructure:"env"`
	Log                     LogConfig                  `mapstructure:"log"`
	GracefulShutdownTimeout time.Duration              `mapstructure:"graceful_shutdown_timeout"`
	APIKeys                 []APIKeyConfig             `mapstructure:"api_keys"`
	Port                    map[string]string          `mapstructure:"port"`
	Security                SecurityConfig             `mapstructure:"security"`
	Trading                 TradingConfig              `mapstructure:"trading"`
	RateLimits              map[string]RateLimitConfig `mapstructure:"rate_limits"`
	Venues                  VenuesConfig               `mapstructure:"venues"`
	Database                map[string]DatabaseConfig  `mapstructure:"database"`
	Redis                   map[string]RedisConfig     `mapstructure:"redis"`
	NatsJetstream           NatsJetstreamConfig        `mapstructure:"nats_jetstream"`
}

type SecurityConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

type TradingConfig struct {
	MaxOrderSize decimal.Decimal `mapstructure:"max_order_size"`
	DailyVolume  decimal.Decimal `mapstructure:"daily_volume"`
	// MarketReferencePrice approximates the value of MARKET orders in
	// the daily volume check; there is no live ticker lookup there.
	MarketReferencePrice decimal.Decimal `mapstructure:"market_reference_price"`
	TickerCacheTTL       time.Duration   `mapstructure:"ticker_cache_ttl"`
}

type RateLimitConfig struct {
	Capacity     int           `mapstructure:"capacity"`
	RefillPeriod time.Duration `mapstructure:"refill_period"`
}

type VenuesConfig struct {
	// SandboxMode switches every venue that has a sandbox environment
	// to it. Applied process-wide so one deployment never mixes real
	// and test venues.
	SandboxMode bool                   `mapstructure:"sandbox_mode"`
	BaseURL     map[string]string      `mapstructure:"base_url"`
	Timeout     time.Duration          `mapstructure:"timeout"`
	Fees        map[string]FeesConfig  `mapstructure:"fees"`
}

type FeesConfig struct {
	Maker decimal.Decimal `mapstructure:"maker"` // in percentage, e.g. 0.1 for 0.1%
	Taker decimal.Decimal `mapstructure:"taker"` // in percentage, e.g. 0.1 for 0.1%
}

type APIKeyConfig struct {
	Name      string `mapstructure:"name"`
	Key       string `mapstructure:"key"`
	Active    bool   `mapstructure:"active"`
	ExpiredAt any    `mapstructure:"expired_at"`
}

type NatsJetstreamConfig struct {
	URL             string                   `mapstructure:"url"`
	MaxRetries      int                      `mapstructure:"max_retries"`
	ReconnectFactor float64                  `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration            `mapstructure:"min_jitter"`
	MaxJitter       time.Duration            `mapstructure:"max_jitter"`
	TimeoutHandler  map[string]time.Duration `mapstructure:"timeout_handler"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	ReconnectFactor float64       `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration `mapstructure:"min_jitter"`
	MaxJitter       time.Duration `mapstructure:"max_jitter"`
	MaxRetry        int           `mapstructure:"max_retry"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxActiveConns  int           `mapstructure:"max_active_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type LogConfig struct {
	ShowCaller bool   `mapstructure:"show_caller"`
	LogLevel   string `mapstructure:"log_level"`
}

type RedisConfig struct {
	CacheDSN string `mapstructure:"cache_dsn"`
}

func LoadConfig(configPath string) error {
	viper.Reset()

	configPath = strings.TrimSpace(configPath)
	if configPath == "" {
		viper.SetConfigName("config")
		viper.SetConfigType("yml")
		viper.AddConfigPath(".")
	} else {
		ext := strings.ToLower(filepath.Ext(configPath))
		if ext == ".yml" || ext == ".yaml" {
			viper.SetConfigFile(configPath)
		} else {
			viper.SetConfigName(filepath.Base(configPath))
			viper.SetConfigType("yml")
			configDir := filepath.Dir(configPath)
			if configDir == "." || configDir == "" {
				viper.AddConfigPath(".")
			} else {
				viper.AddConfigPath(configDir)
			}
		}
	}

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	err = viper.Unmarshal(&Env)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config file: %w", err)
	}

	applyDefaults(Env)

	return nil
}

func applyDefaults(cfg *EnvConfig) {
	if cfg == nil {
		return
	}

	if cfg.Trading.MaxOrderSize.IsZero() {
		cfg.Trading.MaxOrderSize = decimal.NewFromInt(1000)
	}
	if cfg.Trading.DailyVolume.IsZero() {
		cfg.Trading.DailyVolume = decimal.NewFromInt(10000)
	}
	if cfg.Trading.MarketReferencePrice.IsZero() {
		cfg.Trading.MarketReferencePrice = decimal.NewFromInt(50000)
	}
	if cfg.Trading.TickerCacheTTL <= 0 {
		cfg.Trading.TickerCacheTTL = 2 * time.Second
	}
	if cfg.Venues.Timeout <= 0 {
		cfg.Venues.Timeout = 15 * time.Second
	}
}
