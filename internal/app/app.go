// Package app wires the configured components into a running engine.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/arvscout/arvscout/internal/acquire"
	"github.com/arvscout/arvscout/internal/cache"
	"github.com/arvscout/arvscout/internal/config"
	"github.com/arvscout/arvscout/internal/history"
	"github.com/arvscout/arvscout/internal/kvstore"
	"github.com/arvscout/arvscout/internal/metrics"
	"github.com/arvscout/arvscout/internal/provider"
	"github.com/arvscout/arvscout/internal/providers"
	"github.com/arvscout/arvscout/internal/quota"
	"github.com/arvscout/arvscout/internal/valuation"
)

// App holds every long-lived component. Close releases the store.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Store     kvstore.Store
	Ledger    *quota.Ledger
	Cache     *cache.Cache
	Registry  *provider.Registry
	Engine    *acquire.Engine
	Valuer    *valuation.Service
	Validator *history.Validator
}

// Build constructs an App from cfg. A nil logger is replaced by a no-op.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := metrics.New()

	store, err := kvstore.New(ctx, cfg.StoreOptions(), logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a, err := build(cfg, logger, m, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func build(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics, store kvstore.Store) (*App, error) {
	limits, err := cfg.QuotaLimits()
	if err != nil {
		return nil, err
	}
	ledger := quota.New(store, quota.Options{
		Limits:        limits,
		AlertFraction: cfg.Quota.AlertFraction,
		Logger:        logger.Named("quota"),
		Metrics:       m,
	})
	c := cache.New(store, cache.Options{
		TTLs:       cfg.CacheTTLs(),
		DefaultTTL: cfg.Cache.Default,
		Logger:     logger.Named("cache"),
		Metrics:    m,
	})

	reg, err := providers.NewRegistry(cfg.Waterfall.Order, cfg.ProviderEntries(), logger.Named("providers"))
	if err != nil {
		return nil, fmt.Errorf("build providers: %w", err)
	}

	var tiers []acquire.Tier
	for _, name := range reg.ProvidersFor(provider.CapComparables) {
		tiers = append(tiers, acquire.Tier{Provider: name, Timeout: cfg.Waterfall.TierTimeout})
	}

	engine, err := acquire.New(acquire.Options{
		Registry:    reg,
		Cache:       c,
		Ledger:      ledger,
		Tiers:       tiers,
		Retry:       cfg.RetryPolicy(),
		Breaker:     cfg.BreakerSettings(),
		CallTimeout: cfg.Waterfall.CallTimeout,
		Logger:      logger.Named("acquire"),
		Metrics:     m,
	})
	if err != nil {
		return nil, err
	}

	thresholds := cfg.Validator
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Metrics:  m,
		Store:    store,
		Ledger:   ledger,
		Cache:    c,
		Registry: reg,
		Engine:   engine,
		Valuer: valuation.NewService(engine, engine,
			valuation.WithWeights(cfg.Weights),
			valuation.WithLogger(logger.Named("valuation")),
		),
		Validator: history.New(engine, history.Options{
			Market:     engine,
			Thresholds: &thresholds,
			Logger:     logger.Named("history"),
			Metrics:    m,
		}),
	}

	logger.Info("engine ready",
		zap.String("store", cfg.Store.Backend),
		zap.Strings("tiers", engine.Tiers()),
		zap.Any("coverage", reg.Coverage()),
	)
	return a, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}
