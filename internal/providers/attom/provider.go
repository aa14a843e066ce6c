// Package attom implements the ATTOM Data provider, the third tier of the
// comparables waterfall and the source of the subject's recorded sale
// history.
// Docs: https://api.developer.attomdata.com/docs
package attom

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/arvscout/arvscout/internal/infra"
	"github.com/arvscout/arvscout/internal/provider"
	"github.com/arvscout/arvscout/pkg/models"
	"github.com/arvscout/arvscout/pkg/utils"
)

const (
	providerName = "attom"
	baseURL      = "https://api.gateway.attomdata.com"
	credAPIKey   = "api_key"

	qualityScore = 0.8
)

// Provider implements the comparables and history capabilities.
type Provider struct {
	provider.BaseProvider
	http *infra.HTTPClient
}

// New creates the provider. The API key is required.
func New(opts provider.Options) (*Provider, error) {
	p := &Provider{
		BaseProvider: provider.NewBaseProvider(
			providerName,
			"ATTOM property data: sales comparables and sale history",
			"https://www.attomdata.com",
			qualityScore,
			[]provider.Credential{
				{
					Name:        credAPIKey,
					Description: "ATTOM API key",
					Required:    true,
					EnvVar:      "ARVSCOUT_PROVIDERS_ATTOM_API_KEY",
				},
			},
		),
		http: opts.HTTPClient(providerName, baseURL, map[string]string{"Accept": "application/json"}),
	}
	if err := p.Init(map[string]string{credAPIKey: opts.APIKey}); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) headers() (map[string]string, error) {
	key, err := p.RequireCredential(credAPIKey)
	if err != nil {
		return nil, err
	}
	return map[string]string{"apikey": key}, nil
}

// comparablesPath builds the address-based comparables route. ATTOM wants
// a county segment; "-" lets it resolve the county from the ZIP.
func comparablesPath(id models.Identity) string {
	return "/property/v2/salescomparables/address/" + strings.Join([]string{
		url.PathEscape(strings.TrimSpace(id.Address)),
		url.PathEscape(strings.TrimSpace(id.City)),
		"-",
		url.PathEscape(strings.TrimSpace(id.State)),
		url.PathEscape(strings.TrimSpace(id.Zip)),
	}, "/")
}

// FetchComparables returns recorded sales that ATTOM matched to the subject.
func (p *Provider) FetchComparables(ctx context.Context, id models.Identity) ([]models.Comparable, error) {
	headers, err := p.headers()
	if err != nil {
		return nil, err
	}

	var resp comparablesResponse
	if err := p.http.GetJSON(ctx, comparablesPath(id), nil, headers, &resp); err != nil {
		if infra.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("attom comparables: %w", err)
	}
	if resp.Status.Code == statusCodeNoResult {
		return nil, nil
	}

	comps := make([]models.Comparable, 0, len(resp.Property))
	for _, s := range resp.Property {
		price := s.Sale.Amount.SaleAmt.Float()
		addr := s.oneLine()
		if price <= 0 || addr == "" {
			continue
		}
		comps = append(comps, models.Comparable{
			Address:        addr,
			Price:          price,
			SquareFeet:     s.Building.Size.LivingSize.Float(),
			Beds:           s.Building.Rooms.Beds.Float(),
			Baths:          s.Building.Rooms.BathsTotal.Float(),
			SaleDate:       utils.ParseDate(s.recordedDate()),
			DistanceMiles:  s.Location.Distance.Float(),
			Condition:      models.ParseCondition(s.Building.Construction.Condition),
			SourceProvider: providerName,
			QualityScore:   qualityScore,
		})
	}
	return comps, nil
}

// FetchPriceHistory returns the subject's recorded sales, oldest first.
// Transfers without a sale amount are skipped.
func (p *Provider) FetchPriceHistory(ctx context.Context, id models.Identity) ([]models.SaleEvent, error) {
	headers, err := p.headers()
	if err != nil {
		return nil, err
	}

	query := map[string]string{
		"address1": strings.TrimSpace(id.Address),
		"address2": strings.TrimSpace(id.City) + ", " + strings.TrimSpace(id.State) + " " + strings.TrimSpace(id.Zip),
	}
	var resp historyResponse
	if err := p.http.GetJSON(ctx, "/propertyapi/v1.0.0/saleshistory/detail", query, headers, &resp); err != nil {
		if infra.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("attom sale history: %w", err)
	}
	if resp.Status.Code == statusCodeNoResult {
		return nil, nil
	}

	var events []models.SaleEvent
	for _, prop := range resp.Property {
		for _, h := range prop.SaleHistory {
			price := h.Amount.SaleAmt.Float()
			if price <= 0 {
				continue
			}
			date := utils.ParseDate(h.Amount.SaleRecDate)
			if date.IsZero() {
				date = utils.ParseDate(h.SaleTransDate)
			}
			if date.IsZero() {
				date = utils.ParseDate(h.SaleSearchDate)
			}
			if date.IsZero() {
				continue
			}
			event := strings.ToLower(strings.TrimSpace(h.Amount.SaleTransType))
			if event == "" {
				event = "sale"
			}
			events = append(events, models.SaleEvent{Date: date, Price: price, Event: event})
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Date.Before(events[j].Date) })
	return events, nil
}
