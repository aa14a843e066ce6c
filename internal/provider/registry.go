package provider

import (
	"fmt"
	"sync"
)

// Registry is a thread-safe registry of data providers. Registration order
// is priority order: the first provider registered for a capability is
// tried first.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider     // name → provider
	order     []string                // registration order
	capIdx    map[Capability][]string // capability → provider names (priority order)
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		capIdx:    make(map[Capability][]string),
	}
}

// Register adds a provider. Registering the same name again replaces the
// provider but keeps its original priority.
func (r *Registry) Register(p Provider) error {
	info := p.Info()
	if info.Name == "" {
		return fmt.Errorf("provider name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[info.Name]; !exists {
		r.order = append(r.order, info.Name)
	}
	r.providers[info.Name] = p

	for _, c := range CapabilitiesOf(p) {
		if !contains(r.capIdx[c], info.Name) {
			r.capIdx[c] = append(r.capIdx[c], info.Name)
		}
	}
	return nil
}

// Unregister removes a provider from the registry.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.providers, name)
	r.order = without(r.order, name)
	for c, names := range r.capIdx {
		filtered := without(names, name)
		if len(filtered) == 0 {
			delete(r.capIdx, c)
		} else {
			r.capIdx[c] = filtered
		}
	}
}

// Get returns a provider by name, or an error if not found.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, &ErrProviderNotFound{Name: name}
	}
	return p, nil
}

// List returns info about all registered providers in priority order, with
// capabilities filled in.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.order))
	for _, name := range r.order {
		p := r.providers[name]
		info := p.Info()
		info.Capabilities = CapabilitiesOf(p)
		infos = append(infos, info)
	}
	return infos
}

// ProvidersFor returns the names of providers with capability c, in
// priority order.
func (r *Registry) ProvidersFor(c Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := r.capIdx[c]
	result := make([]string, len(names))
	copy(result, names)
	return result
}

// Coverage maps each capability to its providers.
func (r *Registry) Coverage() map[Capability][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	coverage := make(map[Capability][]string, len(r.capIdx))
	for c, names := range r.capIdx {
		cp := make([]string, len(names))
		copy(cp, names)
		coverage[c] = cp
	}
	return coverage
}

// Comparables returns comparables providers in priority order.
func (r *Registry) Comparables() []ComparablesProvider {
	return collect[ComparablesProvider](r, CapComparables)
}

// Estimates returns estimate providers in priority order.
func (r *Registry) Estimates() []EstimateProvider {
	return collect[EstimateProvider](r, CapEstimate)
}

// Histories returns price-history providers in priority order.
func (r *Registry) Histories() []HistoryProvider {
	return collect[HistoryProvider](r, CapHistory)
}

// Markets returns market-snapshot providers in priority order.
func (r *Registry) Markets() []MarketProvider {
	return collect[MarketProvider](r, CapMarket)
}

// Rates returns mortgage-rate providers in priority order.
func (r *Registry) Rates() []RateProvider {
	return collect[RateProvider](r, CapRates)
}

// Comparable returns the named provider as a ComparablesProvider.
func (r *Registry) Comparable(name string) (ComparablesProvider, error) {
	return lookup[ComparablesProvider](r, name, CapComparables)
}

// Estimate returns the named provider as an EstimateProvider.
func (r *Registry) Estimate(name string) (EstimateProvider, error) {
	return lookup[EstimateProvider](r, name, CapEstimate)
}

func collect[T Provider](r *Registry, c Capability) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []T
	for _, name := range r.capIdx[c] {
		if p, ok := r.providers[name].(T); ok {
			out = append(out, p)
		}
	}
	return out
}

func lookup[T Provider](r *Registry, name string, c Capability) (T, error) {
	var zero T
	p, err := r.Get(name)
	if err != nil {
		return zero, err
	}
	typed, ok := p.(T)
	if !ok {
		return zero, &ErrCapabilityNotSupported{Provider: name, Capability: c}
	}
	return typed, nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func without(names []string, name string) []string {
	filtered := make([]string, 0, len(names))
	for _, n := range names {
		if n != name {
			filtered = append(filtered, n)
		}
	}
	return filtered
}
