// Package models defines the core data structures shared across arvscout:
// property identities, comparables, price history, market statistics and
// the valuation results derived from them.
package models

import (
	"strings"
	"time"

	"github.com/arvscout/arvscout/pkg/utils"
)

// Identity identifies a subject property. It is a value type: the
// normalized form and cache keys are derived, never stored.
type Identity struct {
	Address    string `json:"address"     validate:"required"`
	City       string `json:"city"        validate:"required"`
	State      string `json:"state"       validate:"required,min=2"`
	Zip        string `json:"zip"         validate:"required,zip"`
	ProviderID string `json:"provider_id,omitempty"` // optional provider-specific id (e.g. ATTOM id)
}

// Normalized returns a copy with every field lower-cased, trimmed and
// whitespace-collapsed. State names are mapped to USPS codes and ZIP+4 is
// cut to the 5-digit ZIP.
func (id Identity) Normalized() Identity {
	return Identity{
		Address:    utils.NormalizePart(id.Address),
		City:       utils.NormalizePart(id.City),
		State:      utils.NormalizeState(id.State),
		Zip:        utils.NormalizeZip(id.Zip),
		ProviderID: strings.TrimSpace(id.ProviderID),
	}
}

// Key returns the stable, quota-independent identity key,
// e.g. "123-main-st_los-angeles_ca_90001".
func (id Identity) Key() string {
	n := id.Normalized()
	return strings.Join([]string{
		utils.KeyPart(n.Address),
		utils.KeyPart(n.City),
		utils.KeyPart(n.State),
		utils.KeyPart(n.Zip),
	}, "_")
}

// OneLine renders the identity as a single postal line.
func (id Identity) OneLine() string {
	return strings.TrimSpace(id.Address) + ", " + strings.TrimSpace(id.City) + ", " +
		strings.TrimSpace(id.State) + " " + strings.TrimSpace(id.Zip)
}

// Subject holds optional characteristics of the subject property used to
// filter comparables. Zero values mean "unknown".
type Subject struct {
	SquareFeet float64 `json:"square_feet,omitempty" validate:"gte=0"`
	Beds       float64 `json:"beds,omitempty"        validate:"gte=0"`
	Baths      float64 `json:"baths,omitempty"       validate:"gte=0"`
}

// Condition classifies the renovation state of a comparable.
type Condition string

const (
	ConditionRemodeled   Condition = "remodeled"
	ConditionUnremodeled Condition = "unremodeled"
	ConditionUnknown     Condition = "unknown"
)

// ParseCondition maps free-text provider condition labels onto Condition.
func ParseCondition(s string) Condition {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "":
		return ConditionUnknown
	case strings.Contains(s, "unremodel"), strings.Contains(s, "original"),
		strings.Contains(s, "fixer"), strings.Contains(s, "poor"), strings.Contains(s, "fair"):
		return ConditionUnremodeled
	case strings.Contains(s, "remodel"), strings.Contains(s, "renovat"),
		strings.Contains(s, "updated"), strings.Contains(s, "excellent"):
		return ConditionRemodeled
	default:
		return ConditionUnknown
	}
}

// Comparable is a recently sold property used as a pricing reference.
type Comparable struct {
	Address        string    `json:"address"`
	Price          float64   `json:"price"`
	SquareFeet     float64   `json:"square_feet"`
	Beds           float64   `json:"beds"`
	Baths          float64   `json:"baths"`
	SaleDate       time.Time `json:"sale_date"`
	DistanceMiles  float64   `json:"distance_miles"`
	Condition      Condition `json:"condition"`
	SourceProvider string    `json:"source_provider"`
	QualityScore   float64   `json:"quality_score"` // static per-adapter confidence, display only
	ExternalLink   string    `json:"external_link,omitempty"`
}

// PricePerSqft returns price per square foot, or 0 when size is unknown.
func (c Comparable) PricePerSqft() float64 {
	if c.SquareFeet <= 0 {
		return 0
	}
	return c.Price / c.SquareFeet
}

// SaleEvent is one entry in a property's own price history.
type SaleEvent struct {
	Date  time.Time `json:"date"`
	Price float64   `json:"price"`
	Event string    `json:"event,omitempty"` // e.g. "sale", "deed"
}

// MarketSnapshot holds aggregate statistics for the subject's local market.
type MarketSnapshot struct {
	Zip                string    `json:"zip"`
	MedianSalePrice    float64   `json:"median_sale_price"`
	MedianPricePerSqft float64   `json:"median_price_per_sqft,omitempty"`
	LowPrice           float64   `json:"low_price,omitempty"`       // lower band, e.g. 25th percentile
	HighPrice          float64   `json:"high_price,omitempty"`      // upper band, e.g. 75th percentile
	OneYearChange      *float64  `json:"one_year_change,omitempty"` // ratio, 0.05 = +5%
	HomesSold          int       `json:"homes_sold,omitempty"`
	AsOf               time.Time `json:"as_of"`
	Source             string    `json:"source"`
}

// MortgageRate is a published mortgage rate observation.
type MortgageRate struct {
	SeriesID string    `json:"series_id"`
	Rate     float64   `json:"rate"` // percent, e.g. 6.12
	AsOf     time.Time `json:"as_of"`
	Source   string    `json:"source"`
}
