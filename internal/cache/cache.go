// Package cache stores provider results with a freshness window that depends
// on the kind of data.
//
// Entries are JSON envelopes written to a kvstore.Store. Expiry is lazy: an
// entry older than its data type's max age is deleted when it is read.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arvscout/arvscout/internal/kvstore"
	"github.com/arvscout/arvscout/internal/metrics"
	"github.com/arvscout/arvscout/pkg/models"
)

// DataType selects the freshness window of an entry.
type DataType string

const (
	Comps     DataType = "comps"
	Property  DataType = "property"
	Location  DataType = "location"
	Estimates DataType = "estimates"
	Rates     DataType = "rates"
)

// Max ages per data type.
const (
	PropertyMaxAge  = 30 * 24 * time.Hour
	LocationMaxAge  = 30 * 24 * time.Hour
	CompsMaxAge     = 7 * 24 * time.Hour
	EstimatesMaxAge = 7 * 24 * time.Hour
	RatesMaxAge     = 24 * time.Hour
	DefaultMaxAge   = 7 * 24 * time.Hour
)

// DefaultTTLs returns the standard table.
func DefaultTTLs() map[DataType]time.Duration {
	return map[DataType]time.Duration{
		Property:  PropertyMaxAge,
		Location:  LocationMaxAge,
		Comps:     CompsMaxAge,
		Estimates: EstimatesMaxAge,
		Rates:     RatesMaxAge,
	}
}

// Key builds "<dataType>_<identity key>".
func Key(dataType DataType, id models.Identity) string {
	return string(dataType) + "_" + id.Key()
}

// RateKey builds the key for a rate series.
func RateKey(seriesID string) string {
	return string(Rates) + "_" + seriesID
}

// Entry is the stored envelope.
type Entry struct {
	Key      string          `json:"key"`
	Payload  json.RawMessage `json:"payload"`
	DataType DataType        `json:"data_type"`
	StoredAt time.Time       `json:"stored_at"`
}

// Options configures a Cache.
type Options struct {
	TTLs       map[DataType]time.Duration
	DefaultTTL time.Duration
	Now        func() time.Time
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Cache is safe for concurrent use when the underlying store is.
type Cache struct {
	store      kvstore.Store
	ttls       map[DataType]time.Duration
	defaultTTL time.Duration
	now        func() time.Time
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// New creates a cache over store. Missing TTL entries fall back to the
// standard table, then to DefaultTTL.
func New(store kvstore.Store, opts Options) *Cache {
	c := &Cache{
		store:      store,
		ttls:       DefaultTTLs(),
		defaultTTL: opts.DefaultTTL,
		now:        opts.Now,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
	for dt, ttl := range opts.TTLs {
		if ttl > 0 {
			c.ttls[dt] = ttl
		}
	}
	if c.defaultTTL <= 0 {
		c.defaultTTL = DefaultMaxAge
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// MaxAge returns the freshness window for dataType.
func (c *Cache) MaxAge(dataType DataType) time.Duration {
	if ttl, ok := c.ttls[dataType]; ok {
		return ttl
	}
	return c.defaultTTL
}

// Get returns the payload stored under key if it is still fresh.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	entry, ok := c.lookup(ctx, key)
	if !ok {
		return nil, false
	}
	return entry.Payload, true
}

// GetJSON decodes a fresh entry into dest.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) bool {
	payload, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		c.logger.Warn("cache payload does not decode, evicting", zap.String("key", key), zap.Error(err))
		c.evict(ctx, key)
		return false
	}
	return true
}

func (c *Cache) lookup(ctx context.Context, key string) (*Entry, bool) {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		c.metrics.CacheLookup(dataTypeOf(key), "miss")
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil || entry.StoredAt.IsZero() {
		c.logger.Warn("corrupt cache entry, evicting", zap.String("key", key), zap.Error(err))
		c.metrics.CacheLookup(dataTypeOf(key), "corrupt")
		c.evict(ctx, key)
		return nil, false
	}

	age := c.now().Sub(entry.StoredAt)
	if age > c.MaxAge(entry.DataType) {
		c.logger.Debug("cache entry expired",
			zap.String("key", key),
			zap.String("data_type", string(entry.DataType)),
			zap.Duration("age", age),
		)
		c.metrics.CacheLookup(string(entry.DataType), "expired")
		c.evict(ctx, key)
		return nil, false
	}

	c.metrics.CacheLookup(string(entry.DataType), "hit")
	return &entry, true
}

// Set stores payload (any JSON-encodable value) under key, stamped now.
func (c *Cache) Set(ctx context.Context, key string, payload any, dataType DataType) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("cache encode %q: %w", key, err)
	}
	raw, err := json.Marshal(Entry{
		Key:      key,
		Payload:  body,
		DataType: dataType,
		StoredAt: c.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("cache encode %q: %w", key, err)
	}
	if err := c.store.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("cache write %q: %w", key, err)
	}
	return nil
}

// Invalidate removes key.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// ErrForeignPrefix is returned by ClearPrefix for a prefix outside every
// cache family.
var ErrForeignPrefix = errors.New("cache: prefix is not a cache key family")

// ClearPrefix removes every cache key starting with prefix and returns how
// many were removed. An empty prefix clears every family. Only keys inside
// the cache families are scanned, so quota counters sharing the store are
// never removed.
func (c *Cache) ClearPrefix(ctx context.Context, prefix string) (int, error) {
	prefixes := familyScans(prefix)
	if len(prefixes) == 0 {
		return 0, fmt.Errorf("%w: %q", ErrForeignPrefix, prefix)
	}

	removed := 0
	for _, p := range prefixes {
		keys, err := c.store.Keys(ctx, p)
		if err != nil {
			return removed, fmt.Errorf("cache list %q: %w", p, err)
		}
		for _, k := range keys {
			if err := c.store.Delete(ctx, k); err != nil {
				return removed, fmt.Errorf("cache delete %q: %w", k, err)
			}
			removed++
		}
	}
	c.logger.Info("cache cleared", zap.String("prefix", prefix), zap.Int("removed", removed))
	return removed, nil
}

// familyScans narrows prefix to the store prefixes to list. A prefix inside
// a family scans as given; a prefix of a family name ("comp") scans that
// whole family.
func familyScans(prefix string) []string {
	var out []string
	for _, f := range Families() {
		switch {
		case strings.HasPrefix(prefix, f):
			return []string{prefix}
		case strings.HasPrefix(f, prefix):
			out = append(out, f)
		}
	}
	return out
}

// Families lists the key prefixes owned by the cache.
func Families() []string {
	return []string{
		string(Comps) + "_",
		string(Property) + "_",
		string(Location) + "_",
		string(Estimates) + "_",
		string(Rates) + "_",
	}
}

func (c *Cache) evict(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		c.logger.Warn("cache eviction failed", zap.String("key", key), zap.Error(err))
	}
}

// dataTypeOf guesses the family from the key when the envelope is unusable.
func dataTypeOf(key string) string {
	for _, dt := range []DataType{Comps, Property, Location, Estimates, Rates} {
		p := string(dt) + "_"
		if len(key) >= len(p) && key[:len(p)] == p {
			return string(dt)
		}
	}
	return "unknown"
}
