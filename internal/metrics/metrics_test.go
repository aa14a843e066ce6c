package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CacheLookup("comps", "hit")
		m.QuotaUsed("rentcast", "monthly", 3)
		m.QuotaSkip("rentcast")
		m.QuotaFailure("rentcast")
		m.ProviderCall("rentcast", "comparables", "ok", time.Second)
		m.WaterfallRun("succeeded", "rentcast")
		m.BreakerState("rentcast", 2)
		m.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)
	})
	assert.Nil(t, m.Registry())
	assert.NotNil(t, m.Handler())
}

func TestCountersRecord(t *testing.T) {
	m := New()
	m.CacheLookup("comps", "hit")
	m.CacheLookup("comps", "hit")
	m.CacheLookup("rates", "miss")
	m.QuotaUsed("bridge", "daily", 7)
	m.QuotaSkip("bridge")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("comps", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("rates", "miss")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.quotaUsed.WithLabelValues("bridge", "daily")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.quotaSkips.WithLabelValues("bridge")))
}

func TestSeparateRegistries(t *testing.T) {
	a, b := New(), New()
	a.QuotaSkip("attom")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.quotaSkips.WithLabelValues("attom")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.quotaSkips.WithLabelValues("attom")))
}

func TestHandlerServesMetrics(t *testing.T) {
	m := New()
	m.WaterfallRun("exhausted", "")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "arvscout_waterfall_runs_total")
}
