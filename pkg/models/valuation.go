package models

// EstimateBundle collects independent point estimates for one property.
// Any field may be nil when the source had no answer.
type EstimateBundle struct {
	Comps      *float64 `json:"comps,omitempty"`
	AutomatedA *float64 `json:"automated_a,omitempty"`
	AutomatedB *float64 `json:"automated_b,omitempty"`
}

// Present reports how many estimates are available.
func (b EstimateBundle) Present() int {
	n := 0
	for _, v := range []*float64{b.Comps, b.AutomatedA, b.AutomatedB} {
		if v != nil {
			n++
		}
	}
	return n
}

// ValuationSource records one contribution to an aggregated valuation.
type ValuationSource struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Weight float64 `json:"weight"` // renormalized, weights of all sources sum to 1
}

// AggregatedValuation is the After-Repair-Value estimate built from a bundle.
type AggregatedValuation struct {
	Value   float64           `json:"value"`
	Method  string            `json:"method"`
	Sources []ValuationSource `json:"sources"`
}

// MarketTrend classifies a local one-year value change.
type MarketTrend string

const (
	TrendHot       MarketTrend = "hot"
	TrendRising    MarketTrend = "rising"
	TrendStable    MarketTrend = "stable"
	TrendDeclining MarketTrend = "declining"
)

// HoldingPattern classifies how long owners typically held the property.
type HoldingPattern string

const (
	HoldingFlip       HoldingPattern = "flip"
	HoldingMediumTerm HoldingPattern = "medium-term"
	HoldingLongTerm   HoldingPattern = "long-term"
	HoldingUnknown    HoldingPattern = "unknown"
)

// HistoricalValidation annotates a valuation with history and market checks.
// It is advisory: IsValid is a soft signal and never blocks the caller.
type HistoricalValidation struct {
	IsValid                  bool           `json:"is_valid"`
	DeviationRatio           float64        `json:"deviation_ratio"`
	HistoricalProjectedValue float64        `json:"historical_projected_value"`
	CAGR                     float64        `json:"cagr"`
	MarketTrend              MarketTrend    `json:"market_trend"`
	HoldingPattern           HoldingPattern `json:"holding_pattern"`
	Warnings                 []string       `json:"warnings"`
}
