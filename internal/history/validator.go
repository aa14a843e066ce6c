// Package history cross-checks a valuation against the property's own sales
// and the local market. Results are advisory: Validate never fails the
// caller, every problem becomes a warning string.
package history

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/arvscout/arvscout/internal/metrics"
	"github.com/arvscout/arvscout/pkg/models"
	"github.com/arvscout/arvscout/pkg/utils"
)

// HistorySource returns a property's recorded sales.
type HistorySource interface {
	FetchPriceHistory(ctx context.Context, id models.Identity) ([]models.SaleEvent, error)
}

// MarketSource returns local market statistics.
type MarketSource interface {
	FetchMarketSnapshot(ctx context.Context, id models.Identity) (*models.MarketSnapshot, error)
}

// Thresholds tune the checks.
type Thresholds struct {
	MaxDeviation    float64 `mapstructure:"max_deviation" yaml:"max_deviation" json:"max_deviation" validate:"gt=0"`
	HotChange       float64 `mapstructure:"hot_change" yaml:"hot_change" json:"hot_change"`
	RisingChange    float64 `mapstructure:"rising_change" yaml:"rising_change" json:"rising_change"`
	DecliningChange float64 `mapstructure:"declining_change" yaml:"declining_change" json:"declining_change"`
	MedianMultiple  float64 `mapstructure:"median_multiple" yaml:"median_multiple" json:"median_multiple" validate:"gt=0"`
	FlipYears       float64 `mapstructure:"flip_years" yaml:"flip_years" json:"flip_years" validate:"gt=0"`
	LongTermYears   float64 `mapstructure:"long_term_years" yaml:"long_term_years" json:"long_term_years" validate:"gtfield=FlipYears"`
	FlipWarnCount   int     `mapstructure:"flip_warn_count" yaml:"flip_warn_count" json:"flip_warn_count" validate:"gte=1"`
}

// DefaultThresholds returns the standard checks.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxDeviation:    0.15,
		HotChange:       0.05,
		RisingChange:    0.02,
		DecliningChange: -0.02,
		MedianMultiple:  1.5,
		FlipYears:       2,
		LongTermYears:   7,
		FlipWarnCount:   3,
	}
}

// Validator runs historical validations.
type Validator struct {
	history    HistorySource
	market     MarketSource
	thresholds Thresholds
	now        func() time.Time
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// Options configures a Validator. Zero fields take defaults.
type Options struct {
	Market     MarketSource
	Thresholds *Thresholds
	Now        func() time.Time
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// New creates a Validator over a history source. The market source is
// optional.
func New(history HistorySource, opts Options) *Validator {
	v := &Validator{
		history:    history,
		market:     opts.Market,
		thresholds: DefaultThresholds(),
		now:        opts.Now,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
	if opts.Thresholds != nil {
		v.thresholds = *opts.Thresholds
	}
	if v.now == nil {
		v.now = time.Now
	}
	if v.logger == nil {
		v.logger = zap.NewNop()
	}
	return v
}

// Validate checks value against the property's sales history and local
// market. It always returns a result; failures are reported as warnings
// with IsValid left true.
func (v *Validator) Validate(ctx context.Context, value float64, id models.Identity) (res models.HistoricalValidation) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("historical validation panicked", zap.Any("panic", r))
			res = errorResult(fmt.Errorf("%v", r))
			v.metrics.Validation("error")
		}
	}()

	if value <= 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		v.metrics.Validation("error")
		return errorResult(fmt.Errorf("value must be a positive number, got %v", value))
	}

	events, err := v.history.FetchPriceHistory(ctx, id)
	if err != nil {
		v.logger.Warn("price history unavailable", zap.String("identity", id.Key()), zap.Error(err))
		v.metrics.Validation("error")
		return errorResult(err)
	}

	res = models.HistoricalValidation{
		IsValid:        true,
		MarketTrend:    models.TrendStable,
		HoldingPattern: models.HoldingUnknown,
		Warnings:       []string{},
	}

	var snap *models.MarketSnapshot
	if v.market != nil {
		snap, err = v.market.FetchMarketSnapshot(ctx, id)
		if err != nil {
			v.logger.Warn("market snapshot unavailable", zap.String("identity", id.Key()), zap.Error(err))
			res.Warnings = append(res.Warnings, "Market data unavailable: "+err.Error())
			snap = nil
		}
	}

	v.checkMarket(&res, value, snap)

	sales := cleanSales(events)
	if len(sales) == 0 {
		res.Warnings = append(res.Warnings, "No recorded sales history; historical projection skipped")
	} else {
		v.checkProjection(&res, value, sales, snap)
		v.checkHolding(&res, sales)
	}

	if res.IsValid {
		v.metrics.Validation("valid")
	} else {
		v.metrics.Validation("flagged")
	}
	return res
}

func errorResult(err error) models.HistoricalValidation {
	return models.HistoricalValidation{
		IsValid:        true,
		MarketTrend:    models.TrendStable,
		HoldingPattern: models.HoldingUnknown,
		Warnings:       []string{"Validation error: " + err.Error()},
	}
}

// Trend classifies a one-year change ratio.
func (t Thresholds) Trend(change float64) models.MarketTrend {
	switch {
	case change > t.HotChange:
		return models.TrendHot
	case change > t.RisingChange:
		return models.TrendRising
	case change < t.DecliningChange:
		return models.TrendDeclining
	default:
		return models.TrendStable
	}
}

func (v *Validator) checkMarket(res *models.HistoricalValidation, value float64, snap *models.MarketSnapshot) {
	if snap == nil {
		return
	}
	if snap.OneYearChange != nil {
		change := *snap.OneYearChange
		res.MarketTrend = v.thresholds.Trend(change)
		if res.MarketTrend == models.TrendDeclining {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("Local market is declining (%.1f%% over the past year)", change*100))
		}
	}
	if snap.MedianSalePrice > 0 && value > v.thresholds.MedianMultiple*snap.MedianSalePrice {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("Estimate $%.0f is %.1fx the local median sale price of $%.0f",
				value, value/snap.MedianSalePrice, snap.MedianSalePrice))
	}
}

// checkProjection grows the latest sale to today at the property's own
// compound rate, or the market's one-year change when only one sale is
// known, and compares the result with value.
func (v *Validator) checkProjection(res *models.HistoricalValidation, value float64, sales []models.SaleEvent, snap *models.MarketSnapshot) {
	first, last := sales[0], sales[len(sales)-1]

	var rate float64
	switch span := utils.YearsBetween(first.Date, last.Date); {
	case len(sales) >= 2 && span > 0:
		rate = math.Pow(last.Price/first.Price, 1/span) - 1
	case snap != nil && snap.OneYearChange != nil:
		rate = *snap.OneYearChange
	default:
		res.Warnings = append(res.Warnings, "Not enough sales history to project a value")
		return
	}
	res.CAGR = rate

	elapsed := utils.YearsBetween(last.Date, v.now())
	if elapsed < 0 {
		elapsed = 0
	}
	projected := last.Price * math.Pow(1+rate, elapsed)
	if projected <= 0 || math.IsNaN(projected) || math.IsInf(projected, 0) {
		res.Warnings = append(res.Warnings, "Historical projection is not meaningful for this property")
		return
	}
	res.HistoricalProjectedValue = projected
	res.DeviationRatio = (value - projected) / projected

	if math.Abs(res.DeviationRatio) > v.thresholds.MaxDeviation {
		res.IsValid = false
		direction := "above"
		if res.DeviationRatio < 0 {
			direction = "below"
		}
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("Estimate is %.1f%% %s the historical projection of $%.0f (%.1f%% annual growth since %s)",
				math.Abs(res.DeviationRatio)*100, direction, projected, rate*100, last.Date.Format("2006-01-02")))
	}
}

func (v *Validator) checkHolding(res *models.HistoricalValidation, sales []models.SaleEvent) {
	if len(sales) < 2 {
		return
	}
	var total float64
	short := 0
	for i := 1; i < len(sales); i++ {
		held := utils.YearsBetween(sales[i-1].Date, sales[i].Date)
		total += held
		if held < v.thresholds.FlipYears {
			short++
		}
	}
	avg := total / float64(len(sales)-1)

	switch {
	case avg < v.thresholds.FlipYears:
		res.HoldingPattern = models.HoldingFlip
	case avg <= v.thresholds.LongTermYears:
		res.HoldingPattern = models.HoldingMediumTerm
	default:
		res.HoldingPattern = models.HoldingLongTerm
	}

	if short >= v.thresholds.FlipWarnCount {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("%d sales held less than %.0f years; prior prices may reflect flips", short, v.thresholds.FlipYears))
	}
}

// cleanSales drops undated or unpriced events and sorts oldest first.
func cleanSales(events []models.SaleEvent) []models.SaleEvent {
	out := make([]models.SaleEvent, 0, len(events))
	for _, e := range events {
		if e.Price > 0 && !e.Date.IsZero() {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
