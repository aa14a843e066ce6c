package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arvscout/arvscout/internal/acquire"
	"github.com/arvscout/arvscout/internal/config"
	"github.com/arvscout/arvscout/internal/valuation"
	"github.com/arvscout/arvscout/pkg/models"
)

func offlineConfig() *config.Config {
	cfg := config.Default()
	m := cfg.Providers["market"]
	m.Enabled = "false"
	cfg.Providers["market"] = m
	return cfg
}

var subject = models.Identity{Address: "123 Main St", City: "Los Angeles", State: "CA", Zip: "90001"}

func TestBuildWithoutKeys(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, offlineConfig(), nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Empty(t, a.Engine.Tiers())
	assert.Len(t, a.Engine.QuotaReport(ctx), 3)

	res, err := a.Engine.FetchComparables(ctx, subject, false)
	require.NoError(t, err)
	assert.True(t, res.Exhausted)
	assert.Equal(t, acquire.ExhaustedMessage, res.Message)
}

func TestBuildValuationFallsBackToPurchasePrice(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, offlineConfig(), nil)
	require.NoError(t, err)
	defer a.Close()

	res, err := a.Valuer.Estimate(ctx, valuation.Request{Identity: subject, PurchasePrice: 200000})
	require.NoError(t, err)
	assert.InDelta(t, 240000, res.Valuation.Value, 0.01)

	_, err = a.Valuer.Estimate(ctx, valuation.Request{Identity: subject})
	assert.ErrorIs(t, err, valuation.ErrNoSources)
}

func TestBuildValidatorReportsMissingHistory(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, offlineConfig(), nil)
	require.NoError(t, err)
	defer a.Close()

	v := a.Validator.Validate(ctx, 300000, subject)
	assert.True(t, v.IsValid)
	require.NotEmpty(t, v.Warnings)
	assert.Contains(t, v.Warnings[0], "Validation error")
}

func TestBuildRejectsForcedProviderWithoutKey(t *testing.T) {
	cfg := offlineConfig()
	rc := cfg.Providers["rentcast"]
	rc.Enabled = "true"
	cfg.Providers["rentcast"] = rc

	_, err := Build(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestBuildRejectsUnknownBackend(t *testing.T) {
	cfg := offlineConfig()
	cfg.Store.Backend = "etcd"

	_, err := Build(context.Background(), cfg, nil)
	assert.Error(t, err)
}
