// Package fred implements the FRED (Federal Reserve Economic Data) provider.
// It supplies the published weekly mortgage rate averages.
//
// Requires a free API key from https://fred.stlouisfed.org/docs/api/api_key.html
// Rate limit: 120 requests/minute.
// Docs: https://fred.stlouisfed.org/docs/api/fred/
package fred

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
	providerName = "fred"
	baseURL      = "https://api.stlouisfed.org/fred"
	credAPIKey   = "api_key"

	qualityScore = 1.0

	// observationLimit bounds how far back to look for a non-missing value.
	observationLimit = 10
)

// Provider implements provider.RateProvider for FRED.
type Provider struct {
	provider.BaseProvider
	http *infra.HTTPClient
}

// New creates the FRED provider. The API key is required.
func New(opts provider.Options) (*Provider, error) {
	if opts.RPS == 0 {
		opts.RPS = 2
		opts.Burst = 2
	}
	p := &Provider{
		BaseProvider: provider.NewBaseProvider(
			providerName,
			"Federal Reserve Economic Data: mortgage rate averages",
			"https://fred.stlouisfed.org",
			qualityScore,
			[]provider.Credential{
				{
					Name:        credAPIKey,
					Description: "FRED API key from fred.stlouisfed.org",
					Required:    true,
					EnvVar:      "ARVSCOUT_PROVIDERS_FRED_API_KEY",
				},
			},
		),
		http: opts.HTTPClient(providerName, baseURL, jsonHeaders()),
	}
	if err := p.Init(map[string]string{credAPIKey: opts.APIKey}); err != nil {
		return nil, err
	}
	return p, nil
}

// FetchMortgageRate returns the latest published observation of the
// series, or nil when FRED has no value in the recent window. An empty
// series id selects MORTGAGE30US.
func (p *Provider) FetchMortgageRate(ctx context.Context, seriesID string) (*models.MortgageRate, error) {
	seriesID = strings.ToUpper(strings.TrimSpace(seriesID))
	if seriesID == "" {
		seriesID = DefaultSeries
	}
	if !SupportedSeries(seriesID) {
		return nil, fmt.Errorf("fred: unsupported series %q", seriesID)
	}

	obs, err := p.fetchSeries(ctx, seriesID)
	if err != nil {
		return nil, fmt.Errorf("fred %s: %w", seriesID, err)
	}
	// Observations arrive newest first; "." marks a missing value.
	for _, o := range obs {
		if o.Value == "." || o.Value == "" {
			continue
		}
		rate, err := strconv.ParseFloat(o.Value, 64)
		if err != nil {
			continue
		}
		return &models.MortgageRate{
			SeriesID: seriesID,
			Rate:     rate,
			AsOf:     utils.ParseDate(o.Date),
			Source:   providerName,
		}, nil
	}
	return nil, nil
}

// --- Shared helpers ---

func jsonHeaders() map[string]string {
	return map[string]string{"Accept": "application/json"}
}

// fetchSeries fetches the most recent observations of a series.
func (p *Provider) fetchSeries(ctx context.Context, seriesID string) ([]fredObservation, error) {
	key, err := p.RequireCredential(credAPIKey)
	if err != nil {
		return nil, err
	}
	query := map[string]string{
		"series_id":  seriesID,
		"api_key":    key,
		"file_type":  "json",
		"sort_order": "desc",
		"limit":      strconv.Itoa(observationLimit),
	}
	var resp fredObservationsResponse
	if err := p.http.GetJSON(ctx, "/series/observations", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Observations, nil
}
