// Package acquire fetches property data through the configured providers.
//
// Comparables are acquired by a waterfall: tiers are tried strictly in
// priority order and the first non-empty answer wins. Every provider call
// goes through the quota ledger, a per-provider circuit breaker and the retry
// executor, and successful answers are written through to the cache.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/arvscout/arvscout/internal/cache"
	"github.com/arvscout/arvscout/internal/infra"
	"github.com/arvscout/arvscout/internal/metrics"
	"github.com/arvscout/arvscout/internal/provider"
	"github.com/arvscout/arvscout/internal/quota"
	"github.com/arvscout/arvscout/internal/retry"
	"github.com/arvscout/arvscout/pkg/models"
)

// DefaultTierTimeout bounds one tier, retries included.
const DefaultTierTimeout = 30 * time.Second

// ErrInvalidIdentity is returned for identities missing required fields.
var ErrInvalidIdentity = errors.New("acquire: invalid property identity")

// Tier is one step of the comparables waterfall.
type Tier struct {
	Provider string
	Timeout  time.Duration
}

// BreakerSettings configures the per-provider circuit breakers.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// Interval clears the counts while closed; zero never clears.
	Interval time.Duration
	// MaxRequests allowed while half-open.
	MaxRequests uint32
}

// DefaultBreakerSettings trips after five straight failures for a minute.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		ConsecutiveFailures: 5,
		OpenTimeout:         60 * time.Second,
		MaxRequests:         1,
	}
}

// Options configures an Engine.
type Options struct {
	Registry *provider.Registry
	Cache    *cache.Cache
	Ledger   *quota.Ledger

	// Tiers is the comparables waterfall. Empty means every registered
	// comparables provider in registry order.
	Tiers []Tier

	Retry   retry.Policy
	Breaker BreakerSettings
	// CallTimeout bounds non-waterfall lookups.
	CallTimeout time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Engine is safe for concurrent use.
type Engine struct {
	registry    *provider.Registry
	cache       *cache.Cache
	ledger      *quota.Ledger
	tiers       []tierSpec
	policy      retry.Policy
	breakerConf BreakerSettings
	callTimeout time.Duration
	logger      *zap.Logger
	metrics     *metrics.Metrics
	validate    *validator.Validate

	flights singleflight.Group

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

type tierSpec struct {
	index    int // 1-based
	provider provider.ComparablesProvider
	timeout  time.Duration
}

// New wires an engine. Tiers naming unregistered providers, or providers
// without the comparables capability, are configuration errors.
func New(opts Options) (*Engine, error) {
	if opts.Registry == nil || opts.Cache == nil || opts.Ledger == nil {
		return nil, errors.New("acquire: registry, cache and ledger are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	breakerConf := opts.Breaker
	if breakerConf.ConsecutiveFailures == 0 {
		breakerConf = DefaultBreakerSettings()
	}
	callTimeout := opts.CallTimeout
	if callTimeout <= 0 {
		callTimeout = DefaultTierTimeout
	}
	policy := opts.Retry
	if policy.Logger == nil {
		policy.Logger = logger
	}

	e := &Engine{
		registry:    opts.Registry,
		cache:       opts.Cache,
		ledger:      opts.Ledger,
		policy:      policy,
		breakerConf: breakerConf,
		callTimeout: callTimeout,
		logger:      logger,
		metrics:     opts.Metrics,
		validate:    models.NewValidator(),
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
	}

	tiers := opts.Tiers
	if len(tiers) == 0 {
		for _, name := range opts.Registry.ProvidersFor(provider.CapComparables) {
			tiers = append(tiers, Tier{Provider: name})
		}
	}
	for i, t := range tiers {
		p, err := opts.Registry.Comparable(t.Provider)
		if err != nil {
			return nil, fmt.Errorf("acquire: tier %d: %w", i+1, err)
		}
		timeout := t.Timeout
		if timeout <= 0 {
			timeout = DefaultTierTimeout
		}
		e.tiers = append(e.tiers, tierSpec{index: i + 1, provider: p, timeout: timeout})
	}
	return e, nil
}

// Tiers returns the provider names of the waterfall in order.
func (e *Engine) Tiers() []string {
	names := make([]string, len(e.tiers))
	for i, t := range e.tiers {
		names[i] = t.provider.Info().Name
	}
	return names
}

// Registry exposes the provider registry.
func (e *Engine) Registry() *provider.Registry { return e.registry }

func (e *Engine) checkIdentity(id models.Identity) error {
	if err := e.validate.Struct(id); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return nil
}

func (e *Engine) breaker(name string) *gobreaker.CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[name]; ok {
		return cb
	}
	conf := e.breakerConf
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: conf.MaxRequests,
		Interval:    conf.Interval,
		Timeout:     conf.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= conf.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Warn("circuit breaker state changed",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			e.metrics.BreakerState(name, int(to))
		},
		// Configuration problems and caller cancellation say nothing
		// about the provider's health.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				provider.IsMissingCredential(err) ||
				errors.Is(err, context.Canceled)
		},
	})
	e.breakers[name] = cb
	return cb
}

// BreakerState reports the breaker state of a provider.
func (e *Engine) BreakerState(name string) gobreaker.State {
	return e.breaker(name).State()
}

// classify marks errors that retrying cannot fix.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case provider.IsMissingCredential(err),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests),
		!infra.IsTemporary(err):
		return retry.Permanent(err)
	}
	return err
}

// call runs fn through the provider's breaker and the retry policy.
func call[T any](ctx context.Context, e *Engine, name string, capability provider.Capability, fn func(ctx context.Context) (T, error)) (T, error) {
	cb := e.breaker(name)
	start := time.Now()
	v, err := retry.Do(ctx, e.policy.Named(name+"."+string(capability)), func(ctx context.Context) (T, error) {
		var zero T
		out, err := cb.Execute(func() (interface{}, error) {
			return fn(ctx)
		})
		if err != nil {
			return zero, classify(err)
		}
		return out.(T), nil
	})
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	e.metrics.ProviderCall(name, string(capability), outcome, time.Since(start))
	return v, err
}

// available consults the ledger. Untracked providers are always available.
func (e *Engine) available(ctx context.Context, name string) bool {
	lim, tracked := e.ledger.Limit(name)
	if !tracked {
		return true
	}
	if e.ledger.IsAvailable(ctx, name, lim.Period) {
		return true
	}
	e.logger.Warn("provider quota exhausted, skipping", zap.String("provider", name))
	return false
}

// account records a billed request. Failures are counted separately.
func (e *Engine) account(ctx context.Context, name string, callErr error) {
	lim, tracked := e.ledger.Limit(name)
	if !tracked {
		return
	}
	if callErr != nil {
		if err := e.ledger.RecordFailure(ctx, name, lim.Period); err != nil {
			e.logger.Error("record quota failure", zap.String("provider", name), zap.Error(err))
		}
		return
	}
	if _, err := e.ledger.RecordUsage(ctx, name, lim.Period); err != nil {
		e.logger.Error("record quota usage", zap.String("provider", name), zap.Error(err))
	}
}
