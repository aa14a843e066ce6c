// Package config handles configuration loading for arvscout.
// It supports YAML config files with environment variable overrides and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/arvscout/arvscout/internal/acquire"
	"github.com/arvscout/arvscout/internal/cache"
	"github.com/arvscout/arvscout/internal/history"
	"github.com/arvscout/arvscout/internal/kvstore"
	"github.com/arvscout/arvscout/internal/provider"
	"github.com/arvscout/arvscout/internal/providers"
	"github.com/arvscout/arvscout/internal/quota"
	"github.com/arvscout/arvscout/internal/retry"
	"github.com/arvscout/arvscout/internal/valuation"
)

// EnvPrefix prefixes every environment override, e.g. ARVSCOUT_API_PORT.
const EnvPrefix = "ARVSCOUT"

// Config represents the complete application configuration.
type Config struct {
	Logging   LoggingConfig             `mapstructure:"logging"   yaml:"logging"`
	Store     StoreConfig               `mapstructure:"store"     yaml:"store"`
	Providers map[string]ProviderConfig `mapstructure:"providers" yaml:"providers" validate:"dive"`
	Waterfall WaterfallConfig           `mapstructure:"waterfall" yaml:"waterfall"`
	Quota     QuotaConfig               `mapstructure:"quota"     yaml:"quota"`
	Cache     CacheConfig               `mapstructure:"cache"     yaml:"cache"`
	Retry     RetryConfig               `mapstructure:"retry"     yaml:"retry"`
	Breaker   BreakerConfig             `mapstructure:"breaker"   yaml:"breaker"`
	Weights   valuation.Weights         `mapstructure:"weights"   yaml:"weights"`
	Validator history.Thresholds        `mapstructure:"validator" yaml:"validator"`
	API       APIConfig                 `mapstructure:"api"       yaml:"api"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"  validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
}

// StoreConfig selects the key/value backend shared by the quota ledger and
// the result cache.
type StoreConfig struct {
	Backend        string `mapstructure:"backend"         yaml:"backend"         validate:"oneof=memory redis dynamodb postgres mysql"`
	RedisAddr      string `mapstructure:"redis_addr"      yaml:"redis_addr"`
	RedisPassword  string `mapstructure:"redis_password"  yaml:"redis_password"`
	RedisDB        int    `mapstructure:"redis_db"        yaml:"redis_db"`
	DynamoTable    string `mapstructure:"dynamo_table"    yaml:"dynamo_table"`
	DynamoRegion   string `mapstructure:"dynamo_region"   yaml:"dynamo_region"`
	DynamoEndpoint string `mapstructure:"dynamo_endpoint" yaml:"dynamo_endpoint"`
	DSN            string `mapstructure:"dsn"             yaml:"dsn"`
	Table          string `mapstructure:"table"           yaml:"table"`
}

// ProviderConfig configures one data adapter.
type ProviderConfig struct {
	// Enabled is "auto" (on when the key is set), "true" or "false".
	Enabled string        `mapstructure:"enabled"  yaml:"enabled"  validate:"oneof=auto true false"`
	APIKey  string        `mapstructure:"api_key"  yaml:"api_key"`
	BaseURL string        `mapstructure:"base_url" yaml:"base_url" validate:"omitempty,url"`
	Timeout time.Duration `mapstructure:"timeout"  yaml:"timeout"  validate:"gte=0"`
	RPS     float64       `mapstructure:"rps"      yaml:"rps"      validate:"gte=0"`
	Burst   int           `mapstructure:"burst"    yaml:"burst"    validate:"gte=0"`
	// Limit is the hard request cap per Period; zero leaves the provider untracked.
	Limit  int64  `mapstructure:"limit"  yaml:"limit"  validate:"gte=0"`
	Period string `mapstructure:"period" yaml:"period" validate:"omitempty,oneof=daily monthly"`
}

// WaterfallConfig orders the providers.
type WaterfallConfig struct {
	Order       []string      `mapstructure:"order"        yaml:"order"`
	TierTimeout time.Duration `mapstructure:"tier_timeout" yaml:"tier_timeout" validate:"gt=0"`
	CallTimeout time.Duration `mapstructure:"call_timeout" yaml:"call_timeout" validate:"gt=0"`
}

// QuotaConfig holds ledger settings.
type QuotaConfig struct {
	AlertFraction float64 `mapstructure:"alert_fraction" yaml:"alert_fraction" validate:"gt=0,lte=1"`
}

// CacheConfig holds the max age of each data type.
type CacheConfig struct {
	Property  time.Duration `mapstructure:"property"  yaml:"property"  validate:"gt=0"`
	Location  time.Duration `mapstructure:"location"  yaml:"location"  validate:"gt=0"`
	Comps     time.Duration `mapstructure:"comps"     yaml:"comps"     validate:"gt=0"`
	Estimates time.Duration `mapstructure:"estimates" yaml:"estimates" validate:"gt=0"`
	Rates     time.Duration `mapstructure:"rates"     yaml:"rates"     validate:"gt=0"`
	Default   time.Duration `mapstructure:"default"   yaml:"default"   validate:"gt=0"`
}

// RetryConfig holds executor settings.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts" validate:"gte=1,lte=10"`
	BaseDelay   time.Duration `mapstructure:"base_delay"   yaml:"base_delay"   validate:"gte=0"`
}

// BreakerConfig holds per-provider circuit breaker settings.
type BreakerConfig struct {
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures" yaml:"consecutive_failures" validate:"gte=1"`
	OpenTimeout         time.Duration `mapstructure:"open_timeout"         yaml:"open_timeout"         validate:"gt=0"`
	Interval            time.Duration `mapstructure:"interval"             yaml:"interval"`
	MaxRequests         uint32        `mapstructure:"max_requests"         yaml:"max_requests"         validate:"gte=1"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"         validate:"gte=1,lte=65535"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.arvscout/config.yaml (home directory)
//  3. /etc/arvscout/config.yaml (system)
//
// A .env file in the working directory is loaded first; variables already
// set in the environment win. Environment variables override config file
// values. Format: ARVSCOUT_<SECTION>_<KEY>, e.g. ARVSCOUT_PROVIDERS_RENTCAST_API_KEY
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".arvscout"))
	v.AddConfigPath("/etc/arvscout")

	// Read config file (not required to exist)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return decode(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error loading %s: %w", path, err)
	}
	return nil
}

// Default returns the built-in configuration without reading files or the
// environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: defaults do not decode: %v", err))
	}
	cfg.normalize()
	return &cfg
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Store defaults
	v.SetDefault("store.backend", kvstore.BackendMemory)
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.dynamo_table", "arvscout")
	v.SetDefault("store.dynamo_region", "us-east-1")
	v.SetDefault("store.dynamo_endpoint", "")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.table", kvstore.DefaultTable)

	// Provider defaults; every key is declared so env overrides resolve.
	type pdef struct {
		limit  int64
		period quota.Period
		rps    float64
	}
	pdefs := map[string]pdef{
		providers.Bridge:   {limit: 1000, period: quota.Daily, rps: 5},
		providers.RentCast: {limit: 50, period: quota.Monthly, rps: 5},
		providers.Attom:    {limit: 100, period: quota.Monthly, rps: 2},
		providers.Market:   {rps: 1},
		providers.Fred:     {rps: 2},
	}
	for name, d := range pdefs {
		prefix := "providers." + name + "."
		v.SetDefault(prefix+"enabled", "auto")
		v.SetDefault(prefix+"api_key", "")
		v.SetDefault(prefix+"base_url", "")
		v.SetDefault(prefix+"timeout", 20*time.Second)
		v.SetDefault(prefix+"rps", d.rps)
		v.SetDefault(prefix+"burst", 1)
		v.SetDefault(prefix+"limit", d.limit)
		v.SetDefault(prefix+"period", string(d.period))
	}

	// Waterfall defaults
	v.SetDefault("waterfall.order", providers.DefaultOrder)
	v.SetDefault("waterfall.tier_timeout", acquire.DefaultTierTimeout)
	v.SetDefault("waterfall.call_timeout", acquire.DefaultTierTimeout)

	// Quota defaults
	v.SetDefault("quota.alert_fraction", quota.DefaultAlertFraction)

	// Cache defaults
	v.SetDefault("cache.property", cache.PropertyMaxAge)
	v.SetDefault("cache.location", cache.LocationMaxAge)
	v.SetDefault("cache.comps", cache.CompsMaxAge)
	v.SetDefault("cache.estimates", cache.EstimatesMaxAge)
	v.SetDefault("cache.rates", cache.RatesMaxAge)
	v.SetDefault("cache.default", cache.DefaultMaxAge)

	// Retry defaults
	v.SetDefault("retry.max_attempts", retry.DefaultMaxAttempts)
	v.SetDefault("retry.base_delay", retry.DefaultBaseDelay)

	// Breaker defaults
	b := acquire.DefaultBreakerSettings()
	v.SetDefault("breaker.consecutive_failures", b.ConsecutiveFailures)
	v.SetDefault("breaker.open_timeout", b.OpenTimeout)
	v.SetDefault("breaker.interval", b.Interval)
	v.SetDefault("breaker.max_requests", b.MaxRequests)

	// Valuation defaults
	w := valuation.DefaultWeights()
	v.SetDefault("weights.comps", w.Comps)
	v.SetDefault("weights.automated_a", w.AutomatedA)
	v.SetDefault("weights.automated_b", w.AutomatedB)

	th := history.DefaultThresholds()
	v.SetDefault("validator.max_deviation", th.MaxDeviation)
	v.SetDefault("validator.hot_change", th.HotChange)
	v.SetDefault("validator.rising_change", th.RisingChange)
	v.SetDefault("validator.declining_change", th.DecliningChange)
	v.SetDefault("validator.median_multiple", th.MedianMultiple)
	v.SetDefault("validator.flip_years", th.FlipYears)
	v.SetDefault("validator.long_term_years", th.LongTermYears)
	v.SetDefault("validator.flip_warn_count", th.FlipWarnCount)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})
}

func (c *Config) normalize() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	for name, p := range c.Providers {
		p.Enabled = strings.ToLower(strings.TrimSpace(p.Enabled))
		if p.Enabled == "" {
			p.Enabled = "auto"
		}
		p.Period = strings.ToLower(strings.TrimSpace(p.Period))
		c.Providers[name] = p
	}
	for i, name := range c.Waterfall.Order {
		c.Waterfall.Order[i] = strings.ToLower(strings.TrimSpace(name))
	}
}

// Validate checks field constraints, provider names and weights.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for name := range c.Providers {
		if !providers.Known(name) {
			return fmt.Errorf("invalid config: unknown provider %q", name)
		}
	}
	seen := make(map[string]bool, len(c.Waterfall.Order))
	for _, name := range c.Waterfall.Order {
		if !providers.Known(name) {
			return fmt.Errorf("invalid config: waterfall.order names unknown provider %q", name)
		}
		if seen[name] {
			return fmt.Errorf("invalid config: waterfall.order lists %q twice", name)
		}
		seen[name] = true
	}
	if c.Weights.Comps+c.Weights.AutomatedA+c.Weights.AutomatedB <= 0 {
		return errors.New("invalid config: at least one valuation weight must be positive")
	}
	return nil
}

// StoreOptions converts the store section for kvstore.New.
func (c *Config) StoreOptions() kvstore.Options {
	return kvstore.Options{
		Backend:        c.Store.Backend,
		RedisAddr:      c.Store.RedisAddr,
		RedisPassword:  c.Store.RedisPassword,
		RedisDB:        c.Store.RedisDB,
		DynamoTable:    c.Store.DynamoTable,
		DynamoRegion:   c.Store.DynamoRegion,
		DynamoEndpoint: c.Store.DynamoEndpoint,
		DSN:            c.Store.DSN,
		Table:          c.Store.Table,
	}
}

// ProviderEntries converts the providers section for providers.NewRegistry.
func (c *Config) ProviderEntries() map[string]providers.Entry {
	out := make(map[string]providers.Entry, len(c.Providers))
	for name, p := range c.Providers {
		var enabled *bool
		switch p.Enabled {
		case "true":
			t := true
			enabled = &t
		case "false":
			f := false
			enabled = &f
		}
		out[name] = providers.Entry{
			Enabled: enabled,
			Options: provider.Options{
				BaseURL: p.BaseURL,
				APIKey:  p.APIKey,
				Timeout: p.Timeout,
				RPS:     p.RPS,
				Burst:   p.Burst,
			},
		}
	}
	return out
}

// QuotaLimits returns the tracked providers. Providers with a zero limit
// are untracked.
func (c *Config) QuotaLimits() (map[string]quota.Limit, error) {
	out := make(map[string]quota.Limit)
	for name, p := range c.Providers {
		if p.Limit <= 0 {
			continue
		}
		period, err := quota.ParsePeriod(p.Period)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		out[name] = quota.Limit{Period: period, Max: p.Limit}
	}
	return out, nil
}

// CacheTTLs returns the TTL table for cache.New.
func (c *Config) CacheTTLs() map[cache.DataType]time.Duration {
	return map[cache.DataType]time.Duration{
		cache.Property:  c.Cache.Property,
		cache.Location:  c.Cache.Location,
		cache.Comps:     c.Cache.Comps,
		cache.Estimates: c.Cache.Estimates,
		cache.Rates:     c.Cache.Rates,
	}
}

// RetryPolicy returns the executor policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: c.Retry.MaxAttempts, BaseDelay: c.Retry.BaseDelay}
}

// BreakerSettings returns the circuit breaker settings.
func (c *Config) BreakerSettings() acquire.BreakerSettings {
	return acquire.BreakerSettings{
		ConsecutiveFailures: c.Breaker.ConsecutiveFailures,
		OpenTimeout:         c.Breaker.OpenTimeout,
		Interval:            c.Breaker.Interval,
		MaxRequests:         c.Breaker.MaxRequests,
	}
}

// Addr returns the API listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
