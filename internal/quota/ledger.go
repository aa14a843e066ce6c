// Package quota tracks per-provider request counts against period limits.
//
// Counters live in a kvstore.Store under "{provider}_{periodKey}", where the
// period key is the current UTC day (YYYY-MM-DD) or month (YYYY-MM). A new
// period therefore starts from zero without any reset job. Failed requests
// are counted separately under "{provider}_{periodKey}_failed" and never
// consulted for availability.
package quota

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arvscout/arvscout/internal/kvstore"
	"github.com/arvscout/arvscout/internal/metrics"
	"github.com/arvscout/arvscout/pkg/utils"
)

// Period is the granularity a provider quota resets on.
type Period string

const (
	Daily   Period = "daily"
	Monthly Period = "monthly"
)

// ParsePeriod accepts "daily"/"day" and "monthly"/"month".
func ParsePeriod(s string) (Period, error) {
	switch s {
	case "daily", "day":
		return Daily, nil
	case "monthly", "month":
		return Monthly, nil
	}
	return "", fmt.Errorf("quota: unknown period %q", s)
}

// DefaultAlertFraction is the share of the limit at which a provider stops
// being offered requests.
const DefaultAlertFraction = 0.90

// Limit is the configured allowance of a tracked provider.
type Limit struct {
	Period Period `json:"period"`
	Max    int64  `json:"max"`
}

// Status is one provider's row in a quota report.
type Status struct {
	Used      int64     `json:"used"`
	Failed    int64     `json:"failed"`
	Limit     int64     `json:"limit"`
	Threshold int64     `json:"threshold"`
	Remaining int64     `json:"remaining"`
	Period    Period    `json:"period"`
	PeriodKey string    `json:"period_key"`
	ResetDate time.Time `json:"reset_date"`
	Available bool      `json:"available"`
}

// Options configures a Ledger.
type Options struct {
	Limits        map[string]Limit
	AlertFraction float64
	Now           func() time.Time
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
}

// Ledger is safe for concurrent use; atomicity of increments comes from the
// store's Incr.
type Ledger struct {
	store   kvstore.Store
	limits  map[string]Limit
	alert   float64
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New builds a ledger over store.
func New(store kvstore.Store, opts Options) *Ledger {
	l := &Ledger{
		store:   store,
		limits:  make(map[string]Limit, len(opts.Limits)),
		alert:   opts.AlertFraction,
		now:     opts.Now,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	for name, lim := range opts.Limits {
		l.limits[name] = lim
	}
	if l.alert <= 0 || l.alert > 1 {
		l.alert = DefaultAlertFraction
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	return l
}

// PeriodKey formats t for the given granularity.
func PeriodKey(period Period, t time.Time) string {
	if period == Daily {
		return utils.DayKey(t)
	}
	return utils.MonthKey(t)
}

// ResetDate is the first instant of the next period.
func ResetDate(period Period, t time.Time) time.Time {
	if period == Daily {
		return utils.StartOfNextDay(t)
	}
	return utils.StartOfNextMonth(t)
}

// Key returns the usage counter key for provider in the period containing t.
func Key(provider string, period Period, t time.Time) string {
	return provider + "_" + PeriodKey(period, t)
}

// FailedKey returns the failure counter key.
func FailedKey(provider string, period Period, t time.Time) string {
	return Key(provider, period, t) + "_failed"
}

// Threshold is floor(max * fraction), but at least 1 for any positive max
// so small allowances still admit a call.
func Threshold(max int64, fraction float64) int64 {
	t := int64(math.Floor(float64(max) * fraction))
	if max > 0 && t < 1 {
		t = 1
	}
	return t
}

// Limit returns the configured allowance and whether provider is tracked.
func (l *Ledger) Limit(provider string) (Limit, bool) {
	lim, ok := l.limits[provider]
	return lim, ok
}

// Tracked reports whether provider has a configured limit.
func (l *Ledger) Tracked(provider string) bool {
	_, ok := l.limits[provider]
	return ok
}

func (l *Ledger) threshold(provider string) (int64, bool) {
	lim, ok := l.limits[provider]
	if !ok {
		return 0, false
	}
	return Threshold(lim.Max, l.alert), true
}

// IsAvailable reports whether provider may receive another request this
// period. Untracked providers are always available. A store read error
// fails closed for tracked providers.
func (l *Ledger) IsAvailable(ctx context.Context, provider string, period Period) bool {
	threshold, tracked := l.threshold(provider)
	if !tracked {
		return true
	}

	key := Key(provider, period, l.now())
	used, err := kvstore.GetInt(ctx, l.store, key)
	if err != nil {
		l.logger.Warn("quota read failed, treating provider as unavailable",
			zap.String("provider", provider),
			zap.String("key", key),
			zap.Error(err),
		)
		return false
	}
	return used < threshold
}

// RecordUsage counts one billed request and returns the new period total.
func (l *Ledger) RecordUsage(ctx context.Context, provider string, period Period) (int64, error) {
	key := Key(provider, period, l.now())
	n, err := l.store.Incr(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("record usage for %s: %w", provider, err)
	}
	l.metrics.QuotaUsed(provider, string(period), n)

	if threshold, tracked := l.threshold(provider); tracked && n == threshold {
		lim := l.limits[provider]
		l.logger.Warn("provider quota threshold reached",
			zap.String("provider", provider),
			zap.Int64("used", n),
			zap.Int64("limit", lim.Max),
			zap.Int64("threshold", threshold),
			zap.Time("resets_at", ResetDate(period, l.now())),
		)
	}
	return n, nil
}

// RecordFailure counts a failed request for observability.
func (l *Ledger) RecordFailure(ctx context.Context, provider string, period Period) error {
	key := FailedKey(provider, period, l.now())
	n, err := l.store.Incr(ctx, key)
	if err != nil {
		return fmt.Errorf("record failure for %s: %w", provider, err)
	}
	l.metrics.QuotaFailure(provider)
	l.logger.Info("provider request failed",
		zap.String("event_id", uuid.NewString()),
		zap.String("provider", provider),
		zap.Int64("failed_this_period", n),
	)
	return nil
}

// Report returns the status of every tracked provider. Providers whose
// counters cannot be read are reported with zero usage and Available false.
func (l *Ledger) Report(ctx context.Context) map[string]Status {
	now := l.now()
	out := make(map[string]Status, len(l.limits))

	for _, name := range l.Providers() {
		lim := l.limits[name]
		threshold := Threshold(lim.Max, l.alert)
		st := Status{
			Limit:     lim.Max,
			Threshold: threshold,
			Period:    lim.Period,
			PeriodKey: PeriodKey(lim.Period, now),
			ResetDate: ResetDate(lim.Period, now),
		}

		used, err := kvstore.GetInt(ctx, l.store, Key(name, lim.Period, now))
		if err != nil {
			l.logger.Warn("quota report read failed", zap.String("provider", name), zap.Error(err))
			out[name] = st
			continue
		}
		failed, err := kvstore.GetInt(ctx, l.store, FailedKey(name, lim.Period, now))
		if err != nil {
			l.logger.Warn("quota report read failed", zap.String("provider", name), zap.Error(err))
		}

		st.Used = used
		st.Failed = failed
		st.Remaining = lim.Max - used
		if st.Remaining < 0 {
			st.Remaining = 0
		}
		st.Available = used < threshold
		out[name] = st
	}
	return out
}

// Providers lists tracked providers by name.
func (l *Ledger) Providers() []string {
	names := make([]string, 0, len(l.limits))
	for name := range l.limits {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
