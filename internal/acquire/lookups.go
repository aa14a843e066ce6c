package acquire

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arvscout/arvscout/internal/cache"
	"github.com/arvscout/arvscout/internal/provider"
	"github.com/arvscout/arvscout/internal/quota"
	"github.com/arvscout/arvscout/pkg/models"
)

// ErrNoProvider is returned when no registered provider has a capability.
var ErrNoProvider = errors.New("acquire: no provider for capability")

// Estimates holds the automated valuations. A comes from the first
// registered estimate provider and B from the second.
type Estimates struct {
	AutomatedA *float64 `json:"automated_a,omitempty"`
	AutomatedB *float64 `json:"automated_b,omitempty"`
	SourceA    string   `json:"source_a,omitempty"`
	SourceB    string   `json:"source_b,omitempty"`
	Cached     bool     `json:"cached"`
}

// Bundle returns the estimates as a valuation bundle without comps.
func (e Estimates) Bundle() models.EstimateBundle {
	return models.EstimateBundle{AutomatedA: e.AutomatedA, AutomatedB: e.AutomatedB}
}

// FetchEstimates queries the automated estimate providers in parallel.
// Provider failures leave the slot empty; they never fail the call.
// Results with at least one value are cached.
func (e *Engine) FetchEstimates(ctx context.Context, id models.Identity, forceRefresh bool) (*Estimates, error) {
	if err := e.checkIdentity(id); err != nil {
		return nil, err
	}
	key := cache.Key(cache.Estimates, id)
	if !forceRefresh {
		var hit Estimates
		if e.cache.GetJSON(ctx, key, &hit) {
			hit.Cached = true
			return &hit, nil
		}
	}

	providers := e.registry.Estimates()
	if len(providers) > 2 {
		providers = providers[:2]
	}

	values := make([]*float64, 2)
	names := make([]string, 2)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range providers {
		i, p := i, p
		name := p.Info().Name
		names[i] = name
		g.Go(func() error {
			if !e.available(gctx, name) {
				e.metrics.QuotaSkip(name)
				return nil
			}
			cctx, cancel := context.WithTimeout(gctx, e.callTimeout)
			defer cancel()

			v, err := call(cctx, e, name, provider.CapEstimate, func(ctx context.Context) (*float64, error) {
				return p.FetchEstimate(ctx, id)
			})
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.account(ctx, name, err)
			if err != nil {
				e.logger.Warn("automated estimate failed", zap.String("provider", name), zap.Error(err))
				return nil
			}
			mu.Lock()
			values[i] = v
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Estimates{
		AutomatedA: values[0],
		AutomatedB: values[1],
		SourceA:    names[0],
		SourceB:    names[1],
	}
	if out.AutomatedA != nil || out.AutomatedB != nil {
		if err := e.cache.Set(ctx, key, out, cache.Estimates); err != nil {
			e.logger.Error("cache estimates", zap.Error(err))
		}
	}
	return out, nil
}

// FetchPriceHistory returns the subject's recorded sales from the first
// history provider that has any, oldest first.
func (e *Engine) FetchPriceHistory(ctx context.Context, id models.Identity) ([]models.SaleEvent, error) {
	if err := e.checkIdentity(id); err != nil {
		return nil, err
	}
	key := cache.Key(cache.Property, id)
	var hit []models.SaleEvent
	if e.cache.GetJSON(ctx, key, &hit) {
		return hit, nil
	}

	events, _, err := first(ctx, e, e.registry.Histories(), provider.CapHistory,
		func(ctx context.Context, p provider.HistoryProvider) ([]models.SaleEvent, error) {
			return p.FetchPriceHistory(ctx, id)
		},
		func(v []models.SaleEvent) bool { return len(v) > 0 },
	)
	if err != nil {
		return nil, err
	}
	if len(events) > 0 {
		if err := e.cache.Set(ctx, key, events, cache.Property); err != nil {
			e.logger.Error("cache price history", zap.Error(err))
		}
	}
	return events, nil
}

// FetchMarketSnapshot returns local market statistics, nil when no
// provider has them.
func (e *Engine) FetchMarketSnapshot(ctx context.Context, id models.Identity) (*models.MarketSnapshot, error) {
	if err := e.checkIdentity(id); err != nil {
		return nil, err
	}
	key := cache.Key(cache.Location, id)
	var hit models.MarketSnapshot
	if e.cache.GetJSON(ctx, key, &hit) {
		return &hit, nil
	}

	snap, _, err := first(ctx, e, e.registry.Markets(), provider.CapMarket,
		func(ctx context.Context, p provider.MarketProvider) (*models.MarketSnapshot, error) {
			return p.FetchMarketSnapshot(ctx, id)
		},
		func(v *models.MarketSnapshot) bool { return v != nil },
	)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		if err := e.cache.Set(ctx, key, snap, cache.Location); err != nil {
			e.logger.Error("cache market snapshot", zap.Error(err))
		}
	}
	return snap, nil
}

// FetchMortgageRate returns the latest observation of a rate series.
func (e *Engine) FetchMortgageRate(ctx context.Context, seriesID string) (*models.MortgageRate, error) {
	seriesID = strings.ToUpper(strings.TrimSpace(seriesID))
	if seriesID == "" {
		seriesID = "MORTGAGE30US"
	}
	key := cache.RateKey(seriesID)
	var hit models.MortgageRate
	if e.cache.GetJSON(ctx, key, &hit) {
		return &hit, nil
	}

	rate, _, err := first(ctx, e, e.registry.Rates(), provider.CapRates,
		func(ctx context.Context, p provider.RateProvider) (*models.MortgageRate, error) {
			return p.FetchMortgageRate(ctx, seriesID)
		},
		func(v *models.MortgageRate) bool { return v != nil },
	)
	if err != nil {
		return nil, err
	}
	if rate != nil {
		if err := e.cache.Set(ctx, key, rate, cache.Rates); err != nil {
			e.logger.Error("cache mortgage rate", zap.Error(err))
		}
	}
	return rate, nil
}

// QuotaReport returns the status of every tracked provider.
func (e *Engine) QuotaReport(ctx context.Context) map[string]quota.Status {
	return e.ledger.Report(ctx)
}

// ClearCache removes cached data under prefix; an empty prefix clears
// every cache family. A prefix outside the cache families fails with
// cache.ErrForeignPrefix, so quota counters in the same store survive.
func (e *Engine) ClearCache(ctx context.Context, prefix string) (int, error) {
	return e.cache.ClearPrefix(ctx, prefix)
}

// first tries providers in priority order and returns the first useful
// answer. An error is returned only when no provider answered and at least
// one failed.
func first[P provider.Provider, T any](
	ctx context.Context,
	e *Engine,
	providers []P,
	capability provider.Capability,
	fetch func(context.Context, P) (T, error),
	useful func(T) bool,
) (T, string, error) {
	var zero T
	if len(providers) == 0 {
		return zero, "", fmt.Errorf("%w %s", ErrNoProvider, capability)
	}

	var errs []error
	for _, p := range providers {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		name := p.Info().Name
		if !e.available(ctx, name) {
			e.metrics.QuotaSkip(name)
			continue
		}

		cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
		v, err := call(cctx, e, name, capability, func(ctx context.Context) (T, error) {
			return fetch(ctx, p)
		})
		cancel()
		if ctx.Err() != nil {
			return zero, "", ctx.Err()
		}
		e.account(ctx, name, err)
		if err != nil {
			e.logger.Warn("provider lookup failed",
				zap.String("provider", name),
				zap.String("capability", string(capability)),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if useful(v) {
			return v, name, nil
		}
	}
	if len(errs) > 0 {
		return zero, "", errors.Join(errs...)
	}
	return zero, "", nil
}
