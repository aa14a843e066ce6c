// Package market implements the last-resort tier of the comparables
// waterfall. It scrapes a public ZIP-level housing market page and derives
// approximate comparables from the published medians. It needs no API key
// and is not quota tracked.
package market

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/arvscout/arvscout/internal/infra"
	"github.com/arvscout/arvscout/internal/provider"
	"github.com/arvscout/arvscout/pkg/models"
	"github.com/arvscout/arvscout/pkg/utils"
)

const (
	providerName = "market"
	baseURL      = "https://www.redfin.com"

	qualityScore = 0.3

	// Bands used when the page publishes only a median.
	lowBandFactor  = 0.85
	highBandFactor = 1.15
)

// Provider implements the comparables and market capabilities.
type Provider struct {
	provider.BaseProvider
	http *infra.HTTPClient
	now  func() time.Time
}

// New creates the provider. Options.APIKey is ignored.
func New(opts provider.Options) *Provider {
	if opts.RPS == 0 {
		opts.RPS = 1
		opts.Burst = 1
	}
	return &Provider{
		BaseProvider: provider.NewBaseProvider(
			providerName,
			"Public ZIP housing market statistics (scraped)",
			baseURL,
			qualityScore,
			nil,
		),
		http: opts.HTTPClient(providerName, baseURL, map[string]string{"Accept": "text/html"}),
		now:  time.Now,
	}
}

// FetchMarketSnapshot scrapes the market page for the subject's ZIP.
// It returns nil when the page carries no usable median.
func (p *Provider) FetchMarketSnapshot(ctx context.Context, id models.Identity) (*models.MarketSnapshot, error) {
	zip := utils.NormalizeZip(id.Zip)
	if zip == "" {
		return nil, nil
	}

	body, err := p.http.Get(ctx, "/zipcode/"+url.PathEscape(zip)+"/housing-market", nil, nil)
	if err != nil {
		if infra.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("market page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("market page: parse: %w", err)
	}

	snap := parseSnapshot(doc)
	if snap.MedianSalePrice <= 0 {
		return nil, nil
	}
	snap.Zip = zip
	snap.AsOf = p.now().UTC()
	snap.Source = providerName
	return snap, nil
}

// FetchComparables synthesizes three approximate comparables from the
// market snapshot: the median and the low and high bands.
func (p *Provider) FetchComparables(ctx context.Context, id models.Identity) ([]models.Comparable, error) {
	snap, err := p.FetchMarketSnapshot(ctx, id)
	if err != nil || snap == nil {
		return nil, err
	}
	return Synthesize(snap, id), nil
}

// Synthesize turns a snapshot into approximate comparables. Missing bands
// default to 85% and 115% of the median.
func Synthesize(snap *models.MarketSnapshot, id models.Identity) []models.Comparable {
	if snap == nil || snap.MedianSalePrice <= 0 {
		return nil
	}
	low, high := snap.LowPrice, snap.HighPrice
	if low <= 0 {
		low = snap.MedianSalePrice * lowBandFactor
	}
	if high <= 0 {
		high = snap.MedianSalePrice * highBandFactor
	}

	area := strings.TrimSpace(id.City)
	if area == "" {
		area = "ZIP " + snap.Zip
	}
	bands := []struct {
		label string
		price float64
	}{
		{"median", snap.MedianSalePrice},
		{"low band", low},
		{"high band", high},
	}
	comps := make([]models.Comparable, 0, len(bands))
	for _, b := range bands {
		var sqft float64
		if snap.MedianPricePerSqft > 0 {
			sqft = b.price / snap.MedianPricePerSqft
		}
		comps = append(comps, models.Comparable{
			Address:        fmt.Sprintf("%s market %s (%s)", area, b.label, snap.Zip),
			Price:          b.price,
			SquareFeet:     sqft,
			SaleDate:       snap.AsOf,
			Condition:      models.ConditionUnknown,
			SourceProvider: providerName,
			QualityScore:   qualityScore,
		})
	}
	return comps
}

// parseSnapshot reads labelled statistics. Pages vary, so every known
// stat container is scanned and values are matched by label text.
func parseSnapshot(doc *goquery.Document) *models.MarketSnapshot {
	snap := &models.MarketSnapshot{}
	doc.Find("[data-stat], .market-stat, #market-stats li").Each(func(_ int, sel *goquery.Selection) {
		name, _ := sel.Attr("data-stat")
		if name == "" {
			name = sel.Find(".name, .label").First().Text()
		}
		name = strings.ToLower(strings.TrimSpace(name))
		raw := strings.TrimSpace(sel.Find(".number, .value").First().Text())
		if name == "" || raw == "" {
			return
		}
		val := provider.ParseAmount(raw)
		words := labelWords(name)

		switch {
		case words["yoy"], words["year"] && words["change"]:
			ratio := val / 100
			snap.OneYearChange = &ratio
		case strings.Contains(name, "price per sq"), words["ppsf"],
			strings.Contains(name, "$/sq"):
			snap.MedianPricePerSqft = val
		case strings.Contains(raw, "%"), words["list"], words["ratio"], words["percent"]:
			// sale-to-list and other ratios are not prices
		case words["homes"] && words["sold"]:
			snap.HomesSold = int(val)
		case words["low"], words["lowest"], words["25th"]:
			snap.LowPrice = val
		case words["high"], words["highest"], words["75th"]:
			snap.HighPrice = val
		case words["median"] && words["price"]:
			snap.MedianSalePrice = val
		}
	})
	return snap
}

// labelWords splits a lowercased stat label into whole words.
func labelWords(name string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words[w] = true
	}
	return words
}
