package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arvscout/arvscout/internal/cache"
	"github.com/arvscout/arvscout/internal/quota"
)

var keyEnvVars = []string{
	"ARVSCOUT_PROVIDERS_BRIDGE_API_KEY",
	"ARVSCOUT_PROVIDERS_RENTCAST_API_KEY",
	"ARVSCOUT_PROVIDERS_ATTOM_API_KEY",
	"ARVSCOUT_PROVIDERS_FRED_API_KEY",
}

func clearKeyEnv() {
	for _, e := range keyEnvVars {
		os.Unsetenv(e)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

// ── Load / Defaults ──

func TestLoadReturnsDefaults(t *testing.T) {
	clearKeyEnv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Store defaults
	if cfg.Store.Backend != "memory" {
		t.Errorf("Store.Backend: got %q, want %q", cfg.Store.Backend, "memory")
	}
	if cfg.Store.Table != "arvscout_kv" {
		t.Errorf("Store.Table: got %q", cfg.Store.Table)
	}

	// Provider defaults
	rc, ok := cfg.Providers["rentcast"]
	if !ok {
		t.Fatal("Providers[rentcast] missing")
	}
	if rc.Enabled != "auto" {
		t.Errorf("rentcast.Enabled: got %q, want auto", rc.Enabled)
	}
	if rc.Limit != 50 || rc.Period != "monthly" {
		t.Errorf("rentcast quota: got %d/%s, want 50/monthly", rc.Limit, rc.Period)
	}
	if cfg.Providers["bridge"].Period != "daily" {
		t.Errorf("bridge.Period: got %q, want daily", cfg.Providers["bridge"].Period)
	}
	if cfg.Providers["market"].Limit != 0 {
		t.Errorf("market.Limit: got %d, want 0", cfg.Providers["market"].Limit)
	}
	if rc.Timeout != 20*time.Second {
		t.Errorf("rentcast.Timeout: got %v", rc.Timeout)
	}

	// Waterfall defaults
	if got := strings.Join(cfg.Waterfall.Order, ","); got != "bridge,rentcast,attom,market,fred" {
		t.Errorf("Waterfall.Order: got %q", got)
	}
	if cfg.Waterfall.TierTimeout != 30*time.Second {
		t.Errorf("Waterfall.TierTimeout: got %v", cfg.Waterfall.TierTimeout)
	}

	// Quota, cache and retry defaults
	if cfg.Quota.AlertFraction != 0.9 {
		t.Errorf("Quota.AlertFraction: got %f, want 0.9", cfg.Quota.AlertFraction)
	}
	if cfg.Cache.Property != 30*24*time.Hour {
		t.Errorf("Cache.Property: got %v", cfg.Cache.Property)
	}
	if cfg.Cache.Rates != 24*time.Hour {
		t.Errorf("Cache.Rates: got %v", cfg.Cache.Rates)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Retry.MaxAttempts: got %d, want 3", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.BaseDelay != time.Second {
		t.Errorf("Retry.BaseDelay: got %v, want 1s", cfg.Retry.BaseDelay)
	}
	if cfg.Breaker.ConsecutiveFailures != 5 {
		t.Errorf("Breaker.ConsecutiveFailures: got %d, want 5", cfg.Breaker.ConsecutiveFailures)
	}

	// Valuation defaults
	if cfg.Weights.Comps != 0.5 || cfg.Weights.AutomatedA != 0.25 || cfg.Weights.AutomatedB != 0.25 {
		t.Errorf("Weights: got %+v", cfg.Weights)
	}
	if cfg.Validator.MaxDeviation != 0.15 {
		t.Errorf("Validator.MaxDeviation: got %f, want 0.15", cfg.Validator.MaxDeviation)
	}
	if cfg.Validator.FlipWarnCount != 3 {
		t.Errorf("Validator.FlipWarnCount: got %d, want 3", cfg.Validator.FlipWarnCount)
	}

	// API defaults
	if cfg.API.Host != "0.0.0.0" {
		t.Errorf("API.Host: got %q, want %q", cfg.API.Host, "0.0.0.0")
	}
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port: got %d, want 8080", cfg.API.Port)
	}
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Errorf("Addr: got %q", cfg.Addr())
	}

	// Logging defaults
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format: got %q, want %q", cfg.Logging.Format, "text")
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate(): %v", err)
	}
}

// ── LoadFromFile ──

func TestLoadFromFile(t *testing.T) {
	clearKeyEnv()
	path := writeConfig(t, `
store:
  backend: "Redis"
  redis_addr: "cache:6379"
providers:
  rentcast:
    api_key: "rc_test_key_1234567890"
    limit: 500
  attom:
    enabled: "false"
waterfall:
  order: ["rentcast", "bridge"]
  tier_timeout: 10s
cache:
  rates: 12h
retry:
  max_attempts: 5
  base_delay: 250ms
weights:
  comps: 0.6
  automated_a: 0.2
  automated_b: 0.2
api:
  port: 9090
logging:
  level: "debug"
  format: "json"
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}
	if cfg.Store.Backend != "redis" {
		t.Errorf("Store.Backend: got %q, want redis", cfg.Store.Backend)
	}
	if cfg.Store.RedisAddr != "cache:6379" {
		t.Errorf("Store.RedisAddr: got %q", cfg.Store.RedisAddr)
	}
	rc := cfg.Providers["rentcast"]
	if rc.APIKey != "rc_test_key_1234567890" {
		t.Errorf("rentcast.APIKey: got %q", rc.APIKey)
	}
	if rc.Limit != 500 || rc.Period != "monthly" {
		t.Errorf("rentcast quota: got %d/%s", rc.Limit, rc.Period)
	}
	if cfg.Providers["attom"].Enabled != "false" {
		t.Errorf("attom.Enabled: got %q", cfg.Providers["attom"].Enabled)
	}
	if got := strings.Join(cfg.Waterfall.Order, ","); got != "rentcast,bridge" {
		t.Errorf("Waterfall.Order: got %q", got)
	}
	if cfg.Waterfall.TierTimeout != 10*time.Second {
		t.Errorf("Waterfall.TierTimeout: got %v", cfg.Waterfall.TierTimeout)
	}
	if cfg.Cache.Rates != 12*time.Hour {
		t.Errorf("Cache.Rates: got %v", cfg.Cache.Rates)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.BaseDelay != 250*time.Millisecond {
		t.Errorf("Retry: got %+v", cfg.Retry)
	}
	if cfg.Weights.Comps != 0.6 {
		t.Errorf("Weights.Comps: got %f", cfg.Weights.Comps)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port: got %d, want 9090", cfg.API.Port)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging: got %+v", cfg.Logging)
	}
}

func TestLoadFromFileNotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("LoadFromFile() with nonexistent path should return error")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "providers:\n  rentcast:\n    api_key: from-file-123456\n")
	t.Setenv("ARVSCOUT_PROVIDERS_RENTCAST_API_KEY", "from-env-abcdefgh")
	t.Setenv("ARVSCOUT_API_PORT", "7070")

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}
	if cfg.Providers["rentcast"].APIKey != "from-env-abcdefgh" {
		t.Errorf("rentcast.APIKey: got %q", cfg.Providers["rentcast"].APIKey)
	}
	if cfg.API.Port != 7070 {
		t.Errorf("API.Port: got %d, want 7070", cfg.API.Port)
	}
}

// ── Validate ──

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"backend", func(c *Config) { c.Store.Backend = "etcd" }},
		{"enabled", func(c *Config) {
			p := c.Providers["rentcast"]
			p.Enabled = "maybe"
			c.Providers["rentcast"] = p
		}},
		{"period", func(c *Config) {
			p := c.Providers["rentcast"]
			p.Period = "weekly"
			c.Providers["rentcast"] = p
		}},
		{"unknown provider", func(c *Config) { c.Providers["zillow"] = ProviderConfig{Enabled: "auto"} }},
		{"unknown tier", func(c *Config) { c.Waterfall.Order = []string{"rentcast", "zillow"} }},
		{"duplicate tier", func(c *Config) { c.Waterfall.Order = []string{"rentcast", "rentcast"} }},
		{"alert fraction", func(c *Config) { c.Quota.AlertFraction = 1.5 }},
		{"retry attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"negative weight", func(c *Config) { c.Weights.Comps = -1 }},
		{"zero weights", func(c *Config) { c.Weights.Comps, c.Weights.AutomatedA, c.Weights.AutomatedB = 0, 0, 0 }},
		{"holding years", func(c *Config) { c.Validator.LongTermYears = 1 }},
		{"port", func(c *Config) { c.API.Port = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() should reject %s", tc.name)
			}
		})
	}
}

// ── Conversions ──

func TestProviderEntries(t *testing.T) {
	cfg := Default()
	p := cfg.Providers["attom"]
	p.Enabled = "false"
	cfg.Providers["attom"] = p
	p = cfg.Providers["rentcast"]
	p.Enabled = "true"
	p.APIKey = "rc-key"
	cfg.Providers["rentcast"] = p

	entries := cfg.ProviderEntries()
	if e := entries["bridge"]; e.Enabled != nil {
		t.Errorf("bridge.Enabled: got %v, want nil (auto)", *e.Enabled)
	}
	if e := entries["attom"]; e.Enabled == nil || *e.Enabled {
		t.Error("attom should be explicitly disabled")
	}
	e := entries["rentcast"]
	if e.Enabled == nil || !*e.Enabled {
		t.Error("rentcast should be explicitly enabled")
	}
	if e.Options.APIKey != "rc-key" || e.Options.Timeout != 20*time.Second {
		t.Errorf("rentcast options: got %+v", e.Options)
	}
}

func TestQuotaLimits(t *testing.T) {
	limits, err := Default().QuotaLimits()
	if err != nil {
		t.Fatalf("QuotaLimits() error: %v", err)
	}
	if len(limits) != 3 {
		t.Fatalf("QuotaLimits: got %d tracked providers, want 3", len(limits))
	}
	if got := limits["bridge"]; got.Period != quota.Daily || got.Max != 1000 {
		t.Errorf("bridge limit: got %+v", got)
	}
	if _, ok := limits["market"]; ok {
		t.Error("market should be untracked")
	}
}

func TestCacheTTLsAndPolicies(t *testing.T) {
	cfg := Default()
	ttls := cfg.CacheTTLs()
	if ttls[cache.Comps] != 7*24*time.Hour {
		t.Errorf("comps TTL: got %v", ttls[cache.Comps])
	}
	if p := cfg.RetryPolicy(); p.MaxAttempts != 3 || p.BaseDelay != time.Second {
		t.Errorf("RetryPolicy: got %+v", p)
	}
	if b := cfg.BreakerSettings(); b.OpenTimeout != time.Minute || b.MaxRequests != 1 {
		t.Errorf("BreakerSettings: got %+v", b)
	}
	if o := cfg.StoreOptions(); o.Backend != "memory" {
		t.Errorf("StoreOptions.Backend: got %q", o.Backend)
	}
}

// ── maskKey ──

func TestMaskKeyShort(t *testing.T) {
	// Keys with 8 or fewer characters should be fully masked
	tests := []struct {
		input string
		want  string
	}{
		{"", "***"},
		{"a", "***"},
		{"abcd", "***"},
		{"12345678", "***"},
	}
	for _, tc := range tests {
		got := maskKey(tc.input)
		if got != tc.want {
			t.Errorf("maskKey(%q): got %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestMaskKeyLong(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"123456789", "123...789"},
		{"rc-abcdef1234567890xyz", "rc-...xyz"},
		{"ABCDEFGHIJKLMNOP", "ABC...NOP"},
	}
	for _, tc := range tests {
		got := maskKey(tc.input)
		if got != tc.want {
			t.Errorf("maskKey(%q): got %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	p := cfg.Providers["rentcast"]
	p.APIKey = "rc-secret-key-value"
	cfg.Providers["rentcast"] = p
	cfg.Store.DSN = "postgres://user:pw@db/arv"

	r := cfg.Redacted()
	if r.Providers["rentcast"].APIKey != "rc-...lue" {
		t.Errorf("redacted key: got %q", r.Providers["rentcast"].APIKey)
	}
	if r.Store.DSN != "***" {
		t.Errorf("redacted DSN: got %q", r.Store.DSN)
	}
	if cfg.Providers["rentcast"].APIKey != "rc-secret-key-value" {
		t.Error("Redacted() must not modify the original")
	}
}

// ── CheckAPIKeys / checkKey ──

func TestCheckAPIKeysAllEmpty(t *testing.T) {
	clearKeyEnv()

	statuses := CheckAPIKeys(Default())
	if len(statuses) != 4 {
		t.Fatalf("CheckAPIKeys: got %d statuses, want 4", len(statuses))
	}
	if statuses[0].Provider != "attom" {
		t.Errorf("statuses should be sorted, first is %q", statuses[0].Provider)
	}
	for _, s := range statuses {
		if s.IsSet {
			t.Errorf("Key %q should not be set", s.Provider)
		}
		if s.Source != KeySourceNone {
			t.Errorf("Key %q source: got %q, want %q", s.Provider, s.Source, KeySourceNone)
		}
	}
}

func TestCheckAPIKeysFromEnv(t *testing.T) {
	t.Setenv("ARVSCOUT_PROVIDERS_FRED_API_KEY", "fred-env-key-for-testing")

	cfg := Default()
	p := cfg.Providers["fred"]
	p.APIKey = "fred-env-key-for-testing"
	cfg.Providers["fred"] = p

	for _, s := range CheckAPIKeys(cfg) {
		if s.Provider == "fred" {
			if s.Source != KeySourceEnv {
				t.Errorf("Source: got %q, want %q", s.Source, KeySourceEnv)
			}
			if s.EnvVar != "ARVSCOUT_PROVIDERS_FRED_API_KEY" {
				t.Errorf("EnvVar: got %q", s.EnvVar)
			}
		}
	}
}

func TestCheckKeySourceDetection(t *testing.T) {
	// No env, no value
	os.Unsetenv("TEST_VAR")
	s := checkKey("test", "", "TEST_VAR")
	if s.Source != KeySourceNone {
		t.Errorf("empty value: got source %q, want %q", s.Source, KeySourceNone)
	}
	if s.IsSet {
		t.Error("empty value should not be set")
	}

	// Value from config (no env)
	s = checkKey("test", "config-value-long-enough", "TEST_VAR")
	if s.Source != KeySourceConfig {
		t.Errorf("config value: got source %q, want %q", s.Source, KeySourceConfig)
	}

	// Value from env
	t.Setenv("TEST_VAR", "env-value-long-enough")
	s = checkKey("test", "env-value-long-enough", "TEST_VAR")
	if s.Source != KeySourceEnv {
		t.Errorf("env value: got source %q, want %q", s.Source, KeySourceEnv)
	}
}

// ── homeDir ──

func TestHomeDirReturnsNonEmpty(t *testing.T) {
	if homeDir() == "" {
		t.Error("homeDir() should not return empty string")
	}
}
