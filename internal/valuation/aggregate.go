// Package valuation turns independent price evidence into a single
// After-Repair-Value estimate.
package valuation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/arvscout/arvscout/pkg/models"
)

// ErrNoSources is returned when a bundle carries no estimate at all.
var ErrNoSources = errors.New("valuation: no estimate sources available")

// Source names as recorded in AggregatedValuation.Sources.
const (
	SourceComps      = "comps"
	SourceAutomatedA = "automated_a"
	SourceAutomatedB = "automated_b"
)

var sourceLabels = map[string]string{
	SourceComps:      "comparable sales",
	SourceAutomatedA: "automated estimate A",
	SourceAutomatedB: "automated estimate B",
}

// Weights are the base weights of each source before renormalization.
type Weights struct {
	Comps      float64 `mapstructure:"comps" yaml:"comps" json:"comps" validate:"gte=0"`
	AutomatedA float64 `mapstructure:"automated_a" yaml:"automated_a" json:"automated_a" validate:"gte=0"`
	AutomatedB float64 `mapstructure:"automated_b" yaml:"automated_b" json:"automated_b" validate:"gte=0"`
}

// DefaultWeights gives comparables half the weight.
func DefaultWeights() Weights {
	return Weights{Comps: 0.50, AutomatedA: 0.25, AutomatedB: 0.25}
}

// Aggregate combines b with the default weights.
func Aggregate(b models.EstimateBundle) (*models.AggregatedValuation, error) {
	return DefaultWeights().Aggregate(b)
}

// Aggregate combines the present sources of b. One source is used at 100%;
// two or more are averaged with their weights renormalized to sum to 1.
// A source whose base weight is zero is ignored.
func (w Weights) Aggregate(b models.EstimateBundle) (*models.AggregatedValuation, error) {
	type present struct {
		name   string
		value  float64
		weight float64
	}
	var srcs []present
	add := func(name string, v *float64, weight float64) {
		if v != nil && weight > 0 {
			srcs = append(srcs, present{name, *v, weight})
		}
	}
	add(SourceComps, b.Comps, w.Comps)
	add(SourceAutomatedA, b.AutomatedA, w.AutomatedA)
	add(SourceAutomatedB, b.AutomatedB, w.AutomatedB)

	switch len(srcs) {
	case 0:
		return nil, ErrNoSources
	case 1:
		s := srcs[0]
		return &models.AggregatedValuation{
			Value:   s.value,
			Method:  fmt.Sprintf("Single source: %s (100%%)", sourceLabels[s.name]),
			Sources: []models.ValuationSource{{Name: s.name, Value: s.value, Weight: 1}},
		}, nil
	}

	total := 0.0
	for _, s := range srcs {
		total += s.weight
	}

	out := &models.AggregatedValuation{}
	parts := make([]string, 0, len(srcs))
	for _, s := range srcs {
		weight := s.weight / total
		out.Value += s.value * weight
		out.Sources = append(out.Sources, models.ValuationSource{Name: s.name, Value: s.value, Weight: weight})
		parts = append(parts, fmt.Sprintf("%s %.1f%%", sourceLabels[s.name], weight*100))
	}
	out.Method = "Weighted average: " + strings.Join(parts, ", ")
	return out, nil
}
