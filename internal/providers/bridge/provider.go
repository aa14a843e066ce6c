// Package bridge implements the Bridge Interactive public-records provider,
// the first tier of the comparables waterfall.
//
// Comparables come from recorded transactions near the subject; the
// Zestimate endpoint supplies automated estimate A. The free plan is metered
// per day.
// Docs: https://bridgedataoutput.com/docs/explorer/public-data
package bridge

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/arvscout/arvscout/internal/infra"
	"github.com/arvscout/arvscout/internal/provider"
	"github.com/arvscout/arvscout/pkg/models"
	"github.com/arvscout/arvscout/pkg/utils"
)

const (
	providerName = "bridge"
	baseURL      = "https://api.bridgedataoutput.com/api/v2"
	credAPIKey   = "api_key"

	qualityScore = 0.9

	// DefaultRadiusMiles bounds the transaction search around the subject.
	DefaultRadiusMiles = 1.0
	defaultLimit       = 25
)

// Provider implements the comparables and estimate capabilities.
type Provider struct {
	provider.BaseProvider
	http   *infra.HTTPClient
	radius float64
}

// New creates the provider. The access token is required.
func New(opts provider.Options) (*Provider, error) {
	p := &Provider{
		BaseProvider: provider.NewBaseProvider(
			providerName,
			"Bridge Interactive public records: transactions and Zestimates",
			"https://bridgedataoutput.com",
			qualityScore,
			[]provider.Credential{
				{
					Name:        credAPIKey,
					Description: "Bridge API server token",
					Required:    true,
					EnvVar:      "ARVSCOUT_PROVIDERS_BRIDGE_API_KEY",
				},
			},
		),
		http:   opts.HTTPClient(providerName, baseURL, map[string]string{"Accept": "application/json"}),
		radius: DefaultRadiusMiles,
	}
	if err := p.Init(map[string]string{credAPIKey: opts.APIKey}); err != nil {
		return nil, err
	}
	return p, nil
}

// FetchComparables returns recorded sales near the subject, newest first.
func (p *Provider) FetchComparables(ctx context.Context, id models.Identity) ([]models.Comparable, error) {
	token, err := p.RequireCredential(credAPIKey)
	if err != nil {
		return nil, err
	}

	query := map[string]string{
		"access_token": token,
		"near":         id.OneLine(),
		"radius":       strconv.FormatFloat(p.radius, 'f', -1, 64) + "mi",
		"limit":        strconv.Itoa(defaultLimit),
		"sortBy":       "recordingDate",
		"order":        "desc",
	}
	var resp transactionsResponse
	if err := p.http.GetJSON(ctx, "/pub/transactions", query, nil, &resp); err != nil {
		if infra.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("bridge transactions: %w", err)
	}
	if !resp.Success && resp.Status >= 400 {
		return nil, fmt.Errorf("bridge transactions: upstream status %d", resp.Status)
	}

	subject := utils.NormalizePart(id.Address)
	comps := make([]models.Comparable, 0, len(resp.Bundle))
	for _, tx := range resp.Bundle {
		price := tx.SalesPrice.Float()
		addr := tx.address()
		if price <= 0 || addr == "" {
			continue
		}
		// The subject's own past sales are not comparables.
		if utils.NormalizePart(tx.Address.Street()) == subject {
			continue
		}
		comps = append(comps, models.Comparable{
			Address:        addr,
			Price:          price,
			SquareFeet:     tx.LivingArea.Float(),
			Beds:           tx.Bedrooms.Float(),
			Baths:          tx.Bathrooms.Float(),
			SaleDate:       utils.ParseDate(tx.RecordingDate),
			DistanceMiles:  tx.Distance.Float(),
			Condition:      models.ParseCondition(tx.Condition),
			SourceProvider: providerName,
			QualityScore:   qualityScore,
			ExternalLink:   tx.URL,
		})
	}
	return comps, nil
}

// FetchEstimate returns the Zestimate for the subject, nil when none exists.
func (p *Provider) FetchEstimate(ctx context.Context, id models.Identity) (*float64, error) {
	token, err := p.RequireCredential(credAPIKey)
	if err != nil {
		return nil, err
	}

	query := map[string]string{
		"access_token": token,
		"address":      id.OneLine(),
		"limit":        "1",
	}
	var resp zestimateResponse
	if err := p.http.GetJSON(ctx, "/zestimates_v2/zestimates", query, nil, &resp); err != nil {
		if infra.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("bridge zestimate: %w", err)
	}
	for _, z := range resp.Bundle {
		if v := z.Zestimate.Float(); v > 0 {
			return &v, nil
		}
	}
	return nil, nil
}

func (tx transaction) address() string {
	street := strings.TrimSpace(tx.Address.Street())
	if street == "" {
		return ""
	}
	parts := []string{street}
	if tx.Address.City != "" {
		parts = append(parts, tx.Address.City)
	}
	if tx.Address.State != "" || tx.Address.Zip != "" {
		parts = append(parts, strings.TrimSpace(tx.Address.State+" "+tx.Address.Zip))
	}
	return strings.Join(parts, ", ")
}
