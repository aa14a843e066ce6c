package valuation

import (
	"fmt"
	"math"
	"time"

	"github.com/arvscout/arvscout/pkg/models"
)

// Comparable filter and premium policy.
const (
	RecentWindow      = 2 * 365 * 24 * time.Hour
	SqftTolerance     = 0.20
	RoomTolerance     = 1.0
	MinComps          = 3
	MaxPremium        = 1.25
	UnremodeledUplift = 1.25
	FallbackUplift    = 1.20
)

// Rung names the ladder step that produced a comps estimate.
type Rung string

const (
	RungNone            Rung = "none"
	RungRemodeled       Rung = "remodeled-mean"
	RungImpliedPremium  Rung = "implied-premium"
	RungUnremodeledOnly Rung = "unremodeled-uplift"
	RungFallback        Rung = "fallback-uplift"
)

// CompsBreakdown explains how a comps estimate was derived.
type CompsBreakdown struct {
	Considered      int     `json:"considered"`
	Recent          int     `json:"recent"`
	Matched         int     `json:"matched"`
	UsedUnfiltered  bool    `json:"used_unfiltered"`
	Remodeled       int     `json:"remodeled"`
	Unremodeled     int     `json:"unremodeled"`
	RemodeledMean   float64 `json:"remodeled_mean,omitempty"`
	UnremodeledMean float64 `json:"unremodeled_mean,omitempty"`
	Premium         float64 `json:"premium"`
	Rung            Rung    `json:"rung"`
	Explanation     string  `json:"explanation"`
}

// CompsEstimate derives an after-repair value from comparables.
//
// Candidates are sales in the last two years. When the subject's size and
// rooms are known they are narrowed to ±20% square feet and ±1 bed and
// bath; fewer than three matches fall back to the recent set. Survivors are
// split into remodeled and the rest (unknown counts as unremodeled) and the
// first applicable rung wins:
//
//  1. three or more remodeled: their mean, no premium
//  2. both groups present: unremodeled mean times the implied premium
//     mean(remodeled)/mean(unremodeled), capped at 1.25
//  3. three or more unremodeled only: unremodeled mean times 1.25
//  4. anything else: mean of all times 1.20
//
// It returns nil when there is nothing to work with.
func CompsEstimate(subject models.Subject, comps []models.Comparable, now time.Time) (*float64, CompsBreakdown) {
	bd := CompsBreakdown{Considered: len(comps), Rung: RungNone}

	recent := make([]models.Comparable, 0, len(comps))
	for _, c := range comps {
		if c.Price <= 0 {
			continue
		}
		// Undated comps are kept.
		if !c.SaleDate.IsZero() && now.Sub(c.SaleDate) > RecentWindow {
			continue
		}
		recent = append(recent, c)
	}
	bd.Recent = len(recent)

	pool := recent
	matched := filterSimilar(subject, recent)
	bd.Matched = len(matched)
	if len(matched) >= MinComps {
		pool = matched
	} else {
		bd.UsedUnfiltered = true
	}
	if len(pool) == 0 {
		bd.Explanation = "No recent comparable sales"
		return nil, bd
	}

	var rem, unrem []float64
	for _, c := range pool {
		if c.Condition == models.ConditionRemodeled {
			rem = append(rem, c.Price)
		} else {
			unrem = append(unrem, c.Price)
		}
	}
	bd.Remodeled, bd.Unremodeled = len(rem), len(unrem)
	bd.RemodeledMean, bd.UnremodeledMean = mean(rem), mean(unrem)

	var value float64
	switch {
	case len(rem) >= MinComps:
		value = bd.RemodeledMean
		bd.Premium = 1
		bd.Rung = RungRemodeled
		bd.Explanation = fmt.Sprintf("Mean of %d remodeled comparables", len(rem))

	case len(rem) > 0 && len(unrem) > 0:
		premium := bd.RemodeledMean / bd.UnremodeledMean
		premium = math.Max(1, math.Min(premium, MaxPremium))
		value = bd.UnremodeledMean * premium
		bd.Premium = premium
		bd.Rung = RungImpliedPremium
		bd.Explanation = fmt.Sprintf("Unremodeled mean with implied renovation premium %.2fx", premium)

	case len(unrem) >= MinComps:
		value = bd.UnremodeledMean * UnremodeledUplift
		bd.Premium = UnremodeledUplift
		bd.Rung = RungUnremodeledOnly
		bd.Explanation = fmt.Sprintf("Mean of %d unremodeled comparables with %.2fx renovation premium", len(unrem), UnremodeledUplift)

	default:
		all := append(append([]float64(nil), rem...), unrem...)
		value = mean(all) * FallbackUplift
		bd.Premium = FallbackUplift
		bd.Rung = RungFallback
		bd.Explanation = fmt.Sprintf("Mean of %d comparables with conservative %.2fx premium", len(all), FallbackUplift)
	}
	return &value, bd
}

// filterSimilar keeps comps close to the subject in size and rooms. A
// criterion is applied only when both sides know the value.
func filterSimilar(subject models.Subject, comps []models.Comparable) []models.Comparable {
	out := make([]models.Comparable, 0, len(comps))
	for _, c := range comps {
		if subject.SquareFeet > 0 && c.SquareFeet > 0 &&
			math.Abs(c.SquareFeet-subject.SquareFeet) > subject.SquareFeet*SqftTolerance {
			continue
		}
		if subject.Beds > 0 && c.Beds > 0 && math.Abs(c.Beds-subject.Beds) > RoomTolerance {
			continue
		}
		if subject.Baths > 0 && c.Baths > 0 && math.Abs(c.Baths-subject.Baths) > RoomTolerance {
			continue
		}
		out = append(out, c)
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
