package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/arvscout/arvscout/pkg/models"
)

// mockComps implements ComparablesProvider and EstimateProvider for testing.
type mockComps struct {
	BaseProvider
	comps []models.Comparable
}

func newMockComps(name string, creds ...Credential) *mockComps {
	return &mockComps{BaseProvider: NewBaseProvider(name, "Mock "+name, "https://example.com", 0.5, creds)}
}

func (m *mockComps) FetchComparables(ctx context.Context, id models.Identity) ([]models.Comparable, error) {
	return m.comps, nil
}

func (m *mockComps) FetchEstimate(ctx context.Context, id models.Identity) (*float64, error) {
	v := 100.0
	return &v, nil
}

// mockRates implements only RateProvider.
type mockRates struct {
	BaseProvider
}

func newMockRates(name string) *mockRates {
	return &mockRates{BaseProvider: NewBaseProvider(name, "Mock "+name, "", 0, nil)}
}

func (m *mockRates) FetchMortgageRate(ctx context.Context, seriesID string) (*models.MortgageRate, error) {
	return &models.MortgageRate{SeriesID: seriesID, Rate: 6.5}, nil
}

// --- Registry Tests ---

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	p := newMockComps("test-provider")

	if err := p.Init(nil); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := reg.Register(p); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, err := reg.Get("test-provider")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Info().Name != "test-provider" {
		t.Errorf("expected name test-provider, got %s", got.Info().Name)
	}
}

func TestRegistryGetNotFound(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("nonexistent")
	if err == nil {
		t.Fatal("expected error for nonexistent provider")
	}
	if _, ok := err.(*ErrProviderNotFound); !ok {
		t.Errorf("expected ErrProviderNotFound, got %T", err)
	}
}

func TestRegistryRejectsEmptyName(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(newMockComps("")); err == nil {
		t.Fatal("expected error for empty provider name")
	}
}

func TestRegistryPriorityOrder(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"bridge", "rentcast", "attom"} {
		if err := reg.Register(newMockComps(name)); err != nil {
			t.Fatal(err)
		}
	}
	_ = reg.Register(newMockRates("fred"))

	comps := reg.Comparables()
	if len(comps) != 3 {
		t.Fatalf("expected 3 comparables providers, got %d", len(comps))
	}
	want := []string{"bridge", "rentcast", "attom"}
	for i, p := range comps {
		if p.Info().Name != want[i] {
			t.Errorf("priority %d: got %s, want %s", i, p.Info().Name, want[i])
		}
	}

	if got := reg.ProvidersFor(CapRates); len(got) != 1 || got[0] != "fred" {
		t.Errorf("ProvidersFor(rates) = %v", got)
	}
	if len(reg.Rates()) != 1 {
		t.Errorf("expected one rate provider")
	}
	if len(reg.Histories()) != 0 || len(reg.Markets()) != 0 {
		t.Errorf("no history or market providers were registered")
	}
	if len(reg.Estimates()) != 3 {
		t.Errorf("expected three estimate providers, got %d", len(reg.Estimates()))
	}
}

func TestRegistryReRegisterKeepsPriority(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(newMockComps("a"))
	_ = reg.Register(newMockComps("b"))
	_ = reg.Register(newMockComps("a"))

	names := reg.ProvidersFor(CapComparables)
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("unexpected order after re-register: %v", names)
	}
}

func TestRegistryUnregister(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(newMockComps("a"))
	_ = reg.Register(newMockRates("r"))

	reg.Unregister("r")
	if _, err := reg.Get("r"); err == nil {
		t.Error("expected provider to be gone")
	}
	if _, ok := reg.Coverage()[CapRates]; ok {
		t.Error("rates capability should have no providers left")
	}
	if len(reg.List()) != 1 {
		t.Errorf("expected one provider listed, got %d", len(reg.List()))
	}
}

func TestRegistryTypedLookup(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(newMockComps("a"))
	_ = reg.Register(newMockRates("r"))

	if _, err := reg.Comparable("a"); err != nil {
		t.Errorf("Comparable(a): %v", err)
	}
	_, err := reg.Comparable("r")
	var unsupported *ErrCapabilityNotSupported
	if !errors.As(err, &unsupported) {
		t.Errorf("expected ErrCapabilityNotSupported, got %v", err)
	}
	if _, err := reg.Estimate("missing"); err == nil {
		t.Error("expected not found error")
	}
}

func TestListFillsCapabilities(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(newMockComps("a"))
	infos := reg.List()
	if len(infos) != 1 {
		t.Fatalf("expected one provider, got %d", len(infos))
	}
	caps := infos[0].Capabilities
	if len(caps) != 2 || caps[0] != CapComparables || caps[1] != CapEstimate {
		t.Errorf("unexpected capabilities: %v", caps)
	}
}

// --- BaseProvider Tests ---

func TestBaseProviderInit(t *testing.T) {
	p := newMockComps("keyed", Credential{Name: "api_key", Required: true})

	err := p.Init(map[string]string{})
	if err == nil {
		t.Fatal("expected error for missing credential")
	}
	if !IsMissingCredential(err) {
		t.Errorf("expected ErrMissingCredential, got %T", err)
	}

	if err := p.Init(map[string]string{"api_key": "abc"}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if p.Credential("api_key") != "abc" {
		t.Errorf("credential not stored")
	}
	if v, err := p.RequireCredential("api_key"); err != nil || v != "abc" {
		t.Errorf("RequireCredential: %q, %v", v, err)
	}
}

func TestRequireCredentialWithoutInit(t *testing.T) {
	p := newMockComps("bare")
	_, err := p.RequireCredential("api_key")
	var mc *ErrMissingCredential
	if !errors.As(err, &mc) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
	if mc.Provider != "bare" || mc.Credential != "api_key" {
		t.Errorf("unexpected error fields: %+v", mc)
	}
}

func TestErrorMessages(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&ErrProviderNotFound{Name: "x"}, `provider "x" not found`},
		{&ErrCapabilityNotSupported{Provider: "x", Capability: CapHistory}, `provider "x" does not support history`},
		{&ErrMissingCredential{Provider: "x", Credential: "api_key"}, `provider "x": missing required credential "api_key"`},
	}
	for _, tc := range cases {
		if got := tc.err.Error(); got != tc.want {
			t.Errorf("got %q, want %q", got, tc.want)
		}
	}
}
