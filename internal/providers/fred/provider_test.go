package fred

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arvscout/arvscout/internal/infra"
	"github.com/arvscout/arvscout/internal/provider"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := New(provider.Options{BaseURL: srv.URL, APIKey: "fred-key"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestProviderInfo(t *testing.T) {
	p, err := New(provider.Options{APIKey: "k"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	info := p.Info()
	if info.Name != "fred" {
		t.Errorf("expected name fred, got %s", info.Name)
	}
	if info.Website == "" {
		t.Error("expected non-empty website")
	}
	if len(info.Credentials) != 1 {
		t.Fatalf("expected 1 credential, got %d", len(info.Credentials))
	}
	if info.Credentials[0].Name != "api_key" {
		t.Errorf("expected credential name api_key, got %s", info.Credentials[0].Name)
	}
	if !info.Credentials[0].Required {
		t.Error("api_key should be required")
	}
	caps := provider.CapabilitiesOf(p)
	if len(caps) != 1 || caps[0] != provider.CapRates {
		t.Errorf("expected only the rates capability, got %v", caps)
	}
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(provider.Options{})
	if !provider.IsMissingCredential(err) {
		t.Fatalf("expected missing credential error, got %v", err)
	}
}

func TestFetchMortgageRate(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/series/observations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if q.Get("series_id") != "MORTGAGE30US" || q.Get("api_key") != "fred-key" || q.Get("file_type") != "json" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if q.Get("sort_order") != "desc" {
			t.Errorf("expected newest-first ordering, got %q", q.Get("sort_order"))
		}
		_, _ = w.Write([]byte(`{"observations": [
			{"date": "2024-05-09", "value": "."},
			{"date": "2024-05-02", "value": "7.22"},
			{"date": "2024-04-25", "value": "7.17"}
		]}`))
	})

	rate, err := p.FetchMortgageRate(context.Background(), "")
	if err != nil {
		t.Fatalf("FetchMortgageRate: %v", err)
	}
	if rate == nil {
		t.Fatal("expected a rate")
	}
	if rate.Rate != 7.22 {
		t.Errorf("expected 7.22 (missing value skipped), got %v", rate.Rate)
	}
	if !rate.AsOf.Equal(time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected as-of %v", rate.AsOf)
	}
	if rate.SeriesID != "MORTGAGE30US" || rate.Source != "fred" {
		t.Errorf("unexpected series/source %s/%s", rate.SeriesID, rate.Source)
	}
}

func TestFetchMortgageRateAllMissing(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"observations": [{"date": "2024-05-09", "value": "."}]}`))
	})
	rate, err := p.FetchMortgageRate(context.Background(), "mortgage15us")
	if err != nil {
		t.Fatalf("FetchMortgageRate: %v", err)
	}
	if rate != nil {
		t.Errorf("expected nil rate, got %+v", rate)
	}
}

func TestFetchMortgageRateUnsupportedSeries(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an unsupported series")
	})
	if _, err := p.FetchMortgageRate(context.Background(), "GDP"); err == nil {
		t.Fatal("expected an error for an unsupported series")
	}
}

func TestFetchMortgageRateServerError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := p.FetchMortgageRate(context.Background(), DefaultSeries)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !infra.IsTemporary(err) {
		t.Errorf("5xx should be temporary: %v", err)
	}
}
