// Package providers builds the concrete data adapters and registers them in
// priority order.
package providers

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/arvscout/arvscout/internal/provider"
	"github.com/arvscout/arvscout/internal/providers/attom"
	"github.com/arvscout/arvscout/internal/providers/bridge"
	"github.com/arvscout/arvscout/internal/providers/fred"
	"github.com/arvscout/arvscout/internal/providers/market"
	"github.com/arvscout/arvscout/internal/providers/rentcast"
)

// Adapter names.
const (
	Bridge   = "bridge"
	RentCast = "rentcast"
	Attom    = "attom"
	Market   = "market"
	Fred     = "fred"
)

// DefaultOrder is the default priority order.
var DefaultOrder = []string{Bridge, RentCast, Attom, Market, Fred}

// Entry configures one adapter.
//
// Enabled nil means "auto": keyed adapters are registered only when their
// key is set. Enabled true without a key is a configuration error.
type Entry struct {
	Enabled *bool
	Options provider.Options
}

type factory struct {
	needsKey bool
	build    func(provider.Options) (provider.Provider, error)
}

var factories = map[string]factory{
	Bridge:   {true, func(o provider.Options) (provider.Provider, error) { return bridge.New(o) }},
	RentCast: {true, func(o provider.Options) (provider.Provider, error) { return rentcast.New(o) }},
	Attom:    {true, func(o provider.Options) (provider.Provider, error) { return attom.New(o) }},
	Market:   {false, func(o provider.Options) (provider.Provider, error) { return market.New(o), nil }},
	Fred:     {true, func(o provider.Options) (provider.Provider, error) { return fred.New(o) }},
}

// Known reports whether name is a built-in adapter.
func Known(name string) bool {
	_, ok := factories[name]
	return ok
}

// RegisterAllTo builds every enabled adapter in order and registers it.
// Names not listed in order are appended in DefaultOrder.
func RegisterAllTo(reg *provider.Registry, order []string, entries map[string]Entry, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, name := range fullOrder(order) {
		f, ok := factories[name]
		if !ok {
			return fmt.Errorf("unknown provider %q", name)
		}
		entry := entries[name]
		if entry.Enabled != nil && !*entry.Enabled {
			logger.Debug("provider disabled", zap.String("provider", name))
			continue
		}
		if f.needsKey && entry.Options.APIKey == "" && entry.Enabled == nil {
			logger.Info("provider skipped: no API key configured", zap.String("provider", name))
			continue
		}
		if entry.Options.Logger == nil {
			entry.Options.Logger = logger
		}
		p, err := f.build(entry.Options)
		if err != nil {
			return fmt.Errorf("provider %s: %w", name, err)
		}
		if err := reg.Register(p); err != nil {
			return err
		}
		logger.Debug("provider registered",
			zap.String("provider", name),
			zap.Any("capabilities", provider.CapabilitiesOf(p)),
		)
	}
	return nil
}

// NewRegistry is RegisterAllTo on a fresh registry.
func NewRegistry(order []string, entries map[string]Entry, logger *zap.Logger) (*provider.Registry, error) {
	reg := provider.NewRegistry()
	if err := RegisterAllTo(reg, order, entries, logger); err != nil {
		return nil, err
	}
	return reg, nil
}

func fullOrder(order []string) []string {
	seen := make(map[string]bool, len(DefaultOrder))
	out := make([]string, 0, len(DefaultOrder))
	for _, name := range order {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, name := range DefaultOrder {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}
