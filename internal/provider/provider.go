// Package provider defines the contracts shared by real-estate data
// adapters and a registry that keeps them in priority order.
//
// Each adapter implements one or more capability interfaces
// (ComparablesProvider, EstimateProvider, ...). Adapters return an empty
// result, never an error, when the upstream simply has no data; errors are
// reserved for transport, decoding and configuration problems.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/arvscout/arvscout/pkg/models"
)

// Capability names one kind of data an adapter can supply.
type Capability string

const (
	CapComparables Capability = "comparables"
	CapEstimate    Capability = "estimate"
	CapHistory     Capability = "history"
	CapMarket      Capability = "market"
	CapRates       Capability = "rates"
)

// Credential describes a credential a provider needs.
type Credential struct {
	Name        string `json:"name"`        // e.g., "api_key"
	Description string `json:"description"` // e.g., "RentCast API key"
	Required    bool   `json:"required"`
	EnvVar      string `json:"env_var"` // e.g., "ARVSCOUT_PROVIDERS_RENTCAST_API_KEY"
}

// Info holds metadata about a provider.
type Info struct {
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	Website      string       `json:"website"`
	Credentials  []Credential `json:"credentials"`
	QualityScore float64      `json:"quality_score"` // static, display only
	Capabilities []Capability `json:"capabilities"`
}

// Provider is implemented by every adapter.
type Provider interface {
	Info() Info
}

// ComparablesProvider returns recent sales near the subject.
type ComparablesProvider interface {
	Provider
	FetchComparables(ctx context.Context, id models.Identity) ([]models.Comparable, error)
}

// EstimateProvider returns an automated valuation, nil when unavailable.
type EstimateProvider interface {
	Provider
	FetchEstimate(ctx context.Context, id models.Identity) (*float64, error)
}

// HistoryProvider returns the subject's recorded sales.
type HistoryProvider interface {
	Provider
	FetchPriceHistory(ctx context.Context, id models.Identity) ([]models.SaleEvent, error)
}

// MarketProvider returns local market statistics for the subject's zip.
type MarketProvider interface {
	Provider
	FetchMarketSnapshot(ctx context.Context, id models.Identity) (*models.MarketSnapshot, error)
}

// RateProvider returns the latest observation of a mortgage rate series.
type RateProvider interface {
	Provider
	FetchMortgageRate(ctx context.Context, seriesID string) (*models.MortgageRate, error)
}

// CapabilitiesOf lists the capability interfaces p implements.
func CapabilitiesOf(p Provider) []Capability {
	var caps []Capability
	if _, ok := p.(ComparablesProvider); ok {
		caps = append(caps, CapComparables)
	}
	if _, ok := p.(EstimateProvider); ok {
		caps = append(caps, CapEstimate)
	}
	if _, ok := p.(HistoryProvider); ok {
		caps = append(caps, CapHistory)
	}
	if _, ok := p.(MarketProvider); ok {
		caps = append(caps, CapMarket)
	}
	if _, ok := p.(RateProvider); ok {
		caps = append(caps, CapRates)
	}
	return caps
}

// ErrProviderNotFound is returned when a requested provider is not registered.
type ErrProviderNotFound struct {
	Name string
}

func (e *ErrProviderNotFound) Error() string {
	return fmt.Sprintf("provider %q not found", e.Name)
}

// ErrCapabilityNotSupported is returned when a provider lacks a capability.
type ErrCapabilityNotSupported struct {
	Provider   string
	Capability Capability
}

func (e *ErrCapabilityNotSupported) Error() string {
	return fmt.Sprintf("provider %q does not support %s", e.Provider, e.Capability)
}

// ErrMissingCredential is returned when a required credential is absent.
// It is a configuration error and is never retried.
type ErrMissingCredential struct {
	Provider   string
	Credential string
}

func (e *ErrMissingCredential) Error() string {
	return fmt.Sprintf("provider %q: missing required credential %q", e.Provider, e.Credential)
}

// IsMissingCredential reports whether err is (or wraps) ErrMissingCredential.
func IsMissingCredential(err error) bool {
	var mc *ErrMissingCredential
	return errors.As(err, &mc)
}
