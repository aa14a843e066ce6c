// Package rentcast implements the RentCast provider, the second tier of the
// comparables waterfall and the source of automated estimate B.
//
// A single /avm/value call returns both the value estimate and the listings
// it was derived from; those listings are used as comparables. The free
// plan allows 50 requests per month.
// Docs: https://developers.rentcast.io/reference/value-estimate
package rentcast

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/arvscout/arvscout/internal/infra"
	"github.com/arvscout/arvscout/internal/provider"
	"github.com/arvscout/arvscout/pkg/models"
	"github.com/arvscout/arvscout/pkg/utils"
)

const (
	providerName = "rentcast"
	baseURL      = "https://api.rentcast.io/v1"
	credAPIKey   = "api_key"

	qualityScore = 0.85

	defaultCompCount = 10
)

// Provider implements the comparables and estimate capabilities.
type Provider struct {
	provider.BaseProvider
	http      *infra.HTTPClient
	compCount int
}

// New creates the provider. The API key is required.
func New(opts provider.Options) (*Provider, error) {
	p := &Provider{
		BaseProvider: provider.NewBaseProvider(
			providerName,
			"RentCast automated valuation and sale comparables",
			"https://www.rentcast.io",
			qualityScore,
			[]provider.Credential{
				{
					Name:        credAPIKey,
					Description: "RentCast API key",
					Required:    true,
					EnvVar:      "ARVSCOUT_PROVIDERS_RENTCAST_API_KEY",
				},
			},
		),
		http:      opts.HTTPClient(providerName, baseURL, map[string]string{"Accept": "application/json"}),
		compCount: defaultCompCount,
	}
	if err := p.Init(map[string]string{credAPIKey: opts.APIKey}); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) value(ctx context.Context, id models.Identity) (*valueResponse, error) {
	key, err := p.RequireCredential(credAPIKey)
	if err != nil {
		return nil, err
	}
	query := map[string]string{
		"address":   id.OneLine(),
		"compCount": strconv.Itoa(p.compCount),
	}
	var resp valueResponse
	if err := p.http.GetJSON(ctx, "/avm/value", query, map[string]string{"X-Api-Key": key}, &resp); err != nil {
		if infra.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("rentcast value: %w", err)
	}
	return &resp, nil
}

// FetchComparables returns the listings behind the value estimate.
func (p *Provider) FetchComparables(ctx context.Context, id models.Identity) ([]models.Comparable, error) {
	resp, err := p.value(ctx, id)
	if err != nil || resp == nil {
		return nil, err
	}

	comps := make([]models.Comparable, 0, len(resp.Comparables))
	for _, c := range resp.Comparables {
		price := c.Price.Float()
		if price <= 0 || c.FormattedAddress == "" {
			continue
		}
		comps = append(comps, models.Comparable{
			Address:        c.FormattedAddress,
			Price:          price,
			SquareFeet:     c.SquareFootage.Float(),
			Beds:           c.Bedrooms.Float(),
			Baths:          c.Bathrooms.Float(),
			SaleDate:       c.saleDate(),
			DistanceMiles:  c.Distance.Float(),
			Condition:      models.ConditionUnknown,
			SourceProvider: providerName,
			QualityScore:   qualityScore,
		})
	}
	return comps, nil
}

// FetchEstimate returns the AVM price, nil when RentCast has none.
func (p *Provider) FetchEstimate(ctx context.Context, id models.Identity) (*float64, error) {
	resp, err := p.value(ctx, id)
	if err != nil || resp == nil {
		return nil, err
	}
	if v := resp.Price.Float(); v > 0 {
		return &v, nil
	}
	return nil, nil
}

// saleDate uses the date the listing left the market, falling back to the
// last-seen and listed dates.
func (c comparable) saleDate() time.Time {
	for _, s := range []string{c.RemovedDate, c.LastSeenDate, c.ListedDate} {
		if t := utils.ParseDate(s); !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}
