package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/http"

	"github.com/olyamironova/solbot-sim/internal/adapter/cache"
	"github.com/olyamironova/solbot-sim/internal/adapter/in_memory"
	"github.com/olyamironova/solbot-sim/internal/adapter/pg"
	"github.com/olyamironova/solbot-sim/internal/adapter/sqlite"
	"github.com/olyamironova/solbot-sim/internal/config"
	"github.com/olyamironova/solbot-sim/internal/core"
	"github.com/olyamironova/solbot-sim/internal/port"
	"github.com/olyamironova/solbot-sim/internal/price"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func openRepository(ctx context.Context, cfg config.StorageConfig) (port.Repository, error) {
	switch cfg.Driver {
	case "postgres":
		repo, err := pg.NewPgRepo(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		if err := repo.Migrate(ctx); err != nil {
			repo.Close(ctx)
			return nil, err
		}
		return repo, nil
	case "sqlite":
		return sqlite.New(cfg.SQLitePath)
	case "memory":
		return in_memory.NewMemoryRepo(), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// openSessionCache returns nil when Redis is not configured or not
// reachable; the engine then reads sessions from the repository only.
func openSessionCache(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (port.SessionStore, func()) {
	if cfg.Addr == "" {
		return nil, func() {}
	}
	rc := cache.NewRedisCache(cfg.Addr, cfg.Password, cfg.DB, cfg.TTL)
	if err := rc.Ping(ctx); err != nil {
		logger.Warn("redis unreachable, running without session cache",
			zap.String("addr", cfg.Addr), zap.Error(err))
		_ = rc.Close()
		return nil, func() {}
	}
	return rc, func() { _ = rc.Close() }
}

func priceFeeds(cfg config.PriceConfig, logger *zap.Logger) core.FeedFactory {
	client := &http.Client{Timeout: cfg.Timeout}
	var providers []port.PriceProvider
	for _, name := range cfg.Providers {
		switch name {
		case "jupiter-price":
			providers = append(providers, price.NewJupiterPrice(cfg.PriceURL, client))
		case "jupiter-quote":
			providers = append(providers, price.NewJupiterQuote(cfg.QuoteURL, client, price.QuoteOptions{
				Amount:        decimal.NewFromFloat(cfg.QuoteAmount),
				BaseDecimals:  cfg.BaseDecimals,
				QuoteDecimals: cfg.QuoteDecimals,
				SlippageBps:   cfg.SlippageBps,
			}))
		}
	}
	walk := price.WalkConfig{
		Base: decimal.NewFromFloat(cfg.Walk.Base),
		Step: decimal.NewFromFloat(cfg.Walk.Step),
		Min:  decimal.NewFromFloat(cfg.Walk.Min),
		Max:  decimal.NewFromFloat(cfg.Walk.Max),
		Seed: cfg.Walk.Seed,
	}
	return func(userID string) core.PriceFeed {
		w := walk
		w.Seed = userSeed(walk.Seed, userID)
		return price.NewChain(providers, cfg.Timeout, price.NewRandomWalk(w),
			logger.With(zap.String("user_id", userID)))
	}
}

// userSeed gives each user a distinct but reproducible walk for a fixed
// seed. Zero stays zero so the walk seeds from the clock.
func userSeed(seed int64, userID string) int64 {
	if seed == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(userID))
	if s := seed ^ int64(h.Sum64()); s != 0 {
		return s
	}
	return seed
}

func engineOptions(cfg config.Config) core.Options {
	s := cfg.Simulator
	return core.Options{
		TickInterval:    s.TickInterval,
		Cooldown:        s.Cooldown,
		MaxDailyLoss:    decimal.NewFromFloat(s.MaxDailyLoss),
		DefaultRisk:     decimal.NewFromFloat(s.DefaultRisk),
		DefaultSlippage: decimal.NewFromFloat(s.DefaultSlippage),
		QuoteAsset:      cfg.Price.QuoteMint,
		TradeListLimit:  s.TradeListLimit,
		Strategy: core.StrategyParams{
			BuyThreshold:  decimal.NewFromFloat(s.BuyThreshold),
			SellThreshold: decimal.NewFromFloat(s.SellThreshold),
			SellFraction:  decimal.NewFromFloat(s.SellFraction),
			MinQuote:      decimal.NewFromFloat(s.MinQuote),
			MinBase:       decimal.NewFromFloat(s.MinBase),
		},
	}
}
