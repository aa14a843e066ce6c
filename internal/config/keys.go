package config

import (
	"os"
	"sort"
	"strings"
)

// APIKeySource represents where an API key comes from.
type APIKeySource string

const (
	KeySourceEnv    APIKeySource = "env"
	KeySourceConfig APIKeySource = "config"
	KeySourceNone   APIKeySource = "none"
)

// KeyStatus represents the status of an API key.
type KeyStatus struct {
	Provider string       `json:"provider"`
	EnvVar   string       `json:"env_var"`
	Source   APIKeySource `json:"source"`
	IsSet    bool         `json:"is_set"`
	Masked   string       `json:"masked,omitempty"` // e.g., "abc...xyz"
}

// KeyEnvVar is the environment variable that overrides a provider key.
func KeyEnvVar(provider string) string {
	return EnvPrefix + "_PROVIDERS_" + strings.ToUpper(provider) + "_API_KEY"
}

// CheckAPIKeys returns the status of every configured provider key, sorted
// by provider name. Providers that need no key are omitted.
func CheckAPIKeys(cfg *Config) []KeyStatus {
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		if name == "market" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]KeyStatus, 0, len(names))
	for _, name := range names {
		out = append(out, checkKey(name, cfg.Providers[name].APIKey, KeyEnvVar(name)))
	}
	return out
}

// checkKey checks if a key is set and where it came from.
func checkKey(provider, value, envVar string) KeyStatus {
	status := KeyStatus{
		Provider: provider,
		EnvVar:   envVar,
		IsSet:    value != "",
	}

	if value != "" {
		if os.Getenv(envVar) != "" {
			status.Source = KeySourceEnv
		} else {
			status.Source = KeySourceConfig
		}
		status.Masked = maskKey(value)
	} else {
		status.Source = KeySourceNone
	}

	return status
}

// maskKey masks an API key for display, showing only first 3 and last 3 chars.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:3] + "..." + key[len(key)-3:]
}

// Redacted returns a copy with every secret masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.Providers = make(map[string]ProviderConfig, len(c.Providers))
	for name, p := range c.Providers {
		if p.APIKey != "" {
			p.APIKey = maskKey(p.APIKey)
		}
		out.Providers[name] = p
	}
	if out.Store.RedisPassword != "" {
		out.Store.RedisPassword = "***"
	}
	if out.Store.DSN != "" {
		out.Store.DSN = "***"
	}
	out.Waterfall.Order = append([]string(nil), c.Waterfall.Order...)
	out.API.CORSOrigins = append([]string(nil), c.API.CORSOrigins...)
	return &out
}
