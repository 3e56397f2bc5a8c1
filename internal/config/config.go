package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"market-push-bot/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Push      PushConfig      `mapstructure:"push"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig covers the optional quote cache.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	QuoteTTL time.Duration `mapstructure:"quote_ttl"`
}

// TelegramConfig 描述 Telegram 推送通道参数。
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	APIBase        string        `mapstructure:"api_base"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ParseMode      string        `mapstructure:"parse_mode"`
}

// SchedulerConfig governs the job loop.
type SchedulerConfig struct {
	Timezone          string `mapstructure:"timezone"`
	MaxConcurrentJobs int    `mapstructure:"max_concurrent_jobs"`
	MaxRetries        int    `mapstructure:"max_retries"`
}

// SourceConfig parameterises one market-data provider.
type SourceConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	BaseURL           string `mapstructure:"base_url"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
}

// SourcesConfig carries the provider set and its iteration order.
type SourcesConfig struct {
	Order     []string                `mapstructure:"order"`
	Providers map[string]SourceConfig `mapstructure:"providers"`
}

// PushConfig tunes broadcast pacing, alert evaluation and retention.
type PushConfig struct {
	SendDelay        time.Duration `mapstructure:"send_delay"`
	GroupDelay       time.Duration `mapstructure:"group_delay"`
	AlertInterval    time.Duration `mapstructure:"alert_interval"`
	RetentionDays    int           `mapstructure:"retention_days"`
	MaxSubscriptions int           `mapstructure:"max_subscriptions"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MARKETPUSH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "market-push-bot")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.quote_ttl", "30s")

	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.request_timeout", "10s")
	v.SetDefault("telegram.parse_mode", "")

	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.max_concurrent_jobs", 8)
	v.SetDefault("scheduler.max_retries", 3)

	v.SetDefault("sources.order", []string{"binance", "okx", "bybit", "coingecko"})
	v.SetDefault("sources.providers.binance.enabled", true)
	v.SetDefault("sources.providers.binance.base_url", "https://api.binance.com")
	v.SetDefault("sources.providers.binance.requests_per_minute", 60)
	v.SetDefault("sources.providers.okx.enabled", true)
	v.SetDefault("sources.providers.okx.base_url", "https://www.okx.com")
	v.SetDefault("sources.providers.okx.requests_per_minute", 60)
	v.SetDefault("sources.providers.bybit.enabled", true)
	v.SetDefault("sources.providers.bybit.base_url", "https://api.bybit.com")
	v.SetDefault("sources.providers.bybit.requests_per_minute", 60)
	v.SetDefault("sources.providers.coingecko.enabled", true)
	v.SetDefault("sources.providers.coingecko.base_url", "https://api.coingecko.com")
	v.SetDefault("sources.providers.coingecko.requests_per_minute", 30)

	v.SetDefault("push.send_delay", "100ms")
	v.SetDefault("push.group_delay", "200ms")
	v.SetDefault("push.alert_interval", "5m")
	v.SetDefault("push.retention_days", 30)
	v.SetDefault("push.max_subscriptions", 10)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("scheduler.max_concurrent_jobs must be greater than zero")
	}
	if c.Scheduler.MaxRetries <= 0 {
		return fmt.Errorf("scheduler.max_retries must be greater than zero")
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone 不合法: %w", err)
	}
	if c.Push.RetentionDays <= 0 {
		return fmt.Errorf("push.retention_days must be greater than zero")
	}
	if c.Push.AlertInterval <= 0 {
		return fmt.Errorf("push.alert_interval must be greater than zero")
	}
	if c.Push.MaxSubscriptions <= 0 {
		return fmt.Errorf("push.max_subscriptions must be greater than zero")
	}
	if len(c.Sources.Order) == 0 {
		return fmt.Errorf("sources.order cannot be empty")
	}
	for _, name := range c.Sources.Order {
		if _, ok := c.Sources.Providers[name]; !ok {
			return fmt.Errorf("sources.order 引用了未配置的 provider %q", name)
		}
	}
	for name, src := range c.Sources.Providers {
		if src.Enabled && src.RequestsPerMinute <= 0 {
			return fmt.Errorf("sources.providers.%s.requests_per_minute must be greater than zero", name)
		}
	}
	return nil
}

// EnabledSources returns the configured provider names in iteration order,
// skipping disabled entries.
func (c *Config) EnabledSources() []string {
	out := make([]string, 0, len(c.Sources.Order))
	for _, name := range c.Sources.Order {
		if src, ok := c.Sources.Providers[name]; ok && src.Enabled {
			out = append(out, name)
		}
	}
	return out
}

// Location resolves the scheduler timezone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
