package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"market-push-bot/internal/aggregate"
	"market-push-bot/internal/config"
	"market-push-bot/internal/dispatch"
	"market-push-bot/internal/market"
	"market-push-bot/internal/notify"
	"market-push-bot/internal/ratelimit"
	"market-push-bot/internal/scheduler"
	"market-push-bot/internal/service"
	"market-push-bot/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool, a.Config.Push.MaxSubscriptions)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) openRedis() *redis.Client {
	if !a.Config.Redis.Enabled {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
}

// buildSources instantiates every enabled provider in configured order. The
// returned trending source is nil unless a trending-capable provider is
// enabled.
func (a *App) buildSources(rdb *redis.Client) ([]market.Source, market.TrendingSource, error) {
	limits := make(map[string]int)
	for name, src := range a.Config.Sources.Providers {
		if src.Enabled && src.RequestsPerMinute > 0 {
			limits[name] = src.RequestsPerMinute
		}
	}
	limiter := ratelimit.New(ratelimit.DefaultWindow, limits, a.Logger)

	sources := make([]market.Source, 0, len(a.Config.Sources.Order))
	var trending market.TrendingSource

	for _, name := range a.Config.EnabledSources() {
		providerCfg := a.Config.Sources.Providers[name]

		var src market.Source
		switch name {
		case "binance":
			src = market.NewBinance(market.BinanceOptions{BaseURL: providerCfg.BaseURL}, limiter, a.Logger)
		case "okx":
			src = market.NewOKX(market.OKXOptions{BaseURL: providerCfg.BaseURL}, limiter, a.Logger)
		case "bybit":
			src = market.NewBybit(market.BybitOptions{BaseURL: providerCfg.BaseURL}, limiter, a.Logger)
		case "coingecko":
			gecko := market.NewCoinGecko(market.CoinGeckoOptions{BaseURL: providerCfg.BaseURL}, limiter, a.Logger)
			src = gecko
			trending = gecko
		default:
			return nil, nil, fmt.Errorf("unknown market source %q", name)
		}

		if rdb != nil {
			src = market.NewCachedSource(src, rdb, a.Config.Redis.QuoteTTL, a.Logger)
		}
		sources = append(sources, src)
	}

	if len(sources) == 0 {
		return nil, nil, errors.New("no market sources enabled")
	}
	return sources, trending, nil
}

// Run executes the long-running push service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	rdb := a.openRedis()
	if rdb != nil {
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			// 缓存不可用时直接回源, 不阻塞启动。
			a.Logger.Warn().Err(err).Msg("redis unreachable; quote cache disabled")
			rdb = nil
		}
	}

	sources, trending, err := a.buildSources(rdb)
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		MaxConcurrent:  a.Config.Scheduler.MaxConcurrentJobs,
		Location:       a.Config.Location(),
		DefaultRetries: a.Config.Scheduler.MaxRetries,
	}, a.Logger)

	channel := notify.NewTelegram(a.Config.Telegram.BotToken, a.Config.Telegram.APIBase, a.Config.Telegram.RequestTimeout, a.Logger)
	dispatcher := dispatch.New(dispatch.Options{
		SendDelay: a.Config.Push.SendDelay,
		ParseMode: a.Config.Telegram.ParseMode,
	}, store, store, channel, a.Logger)

	svc := service.New(a.Config, sched, sources, trending, aggregate.New(a.Logger), dispatcher, store, store, store, a.Logger)

	a.Logger.Info().Strs("sources", a.Config.EnabledSources()).Msg("starting push service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("push service stopped")
	return nil
}
