// Package config handles loading and validating gateway configuration.
//
// Configuration is assembled once at startup from three layers: built-in
// defaults, an optional YAML file, and PROXY_-prefixed environment
// variables. A Config that made it past Load is valid and immutable;
// request handling never re-validates it.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Logging modes. Off disables logging entirely, metadata logs byte
// counts and status codes, debug additionally logs header key names.
const (
	LogOff      = "off"
	LogMetadata = "metadata"
	LogDebug    = "debug"
)

// Disclosure policies for non-2xx upstream responses. Verbatim returns
// the upstream body unchanged; normalized substitutes the fixed error
// taxonomy so provider-specific diagnostics never reach the caller.
const (
	DisclosureVerbatim   = "verbatim"
	DisclosureNormalized = "normalized"
)

// upstreamPath is the single path segment appended to the provider
// endpoint. The gateway forwards to exactly this upstream route.
const upstreamPath = "/v1/messages"

// envPrefix is the prefix for environment variable overrides,
// e.g. PROXY_TIMEOUT_SECONDS=30.
const envPrefix = "PROXY_"

// ConfigError reports an invalid configuration. It is only ever
// produced at startup; a configuration problem is fatal to the process,
// never a per-request condition.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + e.Reason
}

// ProviderConfig holds the settings for one allowlisted upstream
// provider. APIKeyEnv names the environment variable holding the
// credential; the credential itself is never stored in the Config.
type ProviderConfig struct {
	Endpoint  string `koanf:"endpoint"`
	APIKeyEnv string `koanf:"api_key_env"`
}

// Config is the top-level configuration for the isogate gateway.
type Config struct {
	// Provider is the active provider name. It must be a key of
	// Providers; that invariant is enforced at startup.
	Provider  string                    `koanf:"provider"`
	Providers map[string]ProviderConfig `koanf:"providers"`

	// Resource limits on a single request/response cycle.
	MaxRequestBytes  int64 `koanf:"max_request_bytes"`
	MaxResponseBytes int64 `koanf:"max_response_bytes"`
	TimeoutSeconds   int   `koanf:"timeout_seconds"`

	// Bind address.
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	LoggingMode string `koanf:"logging_mode"`

	// Disclosure selects what the caller sees of upstream errors.
	Disclosure string `koanf:"disclosure"`

	// ModelOverride, when non-empty, replaces the "model" field of
	// every forwarded payload. Empty disables the override.
	ModelOverride string `koanf:"model_override"`
}

// defaults mirror the shipped configuration: Anthropic as the sole
// allowlisted provider, 5 MiB requests, 20 MiB responses, 120s timeout.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"provider":                        "anthropic",
		"providers.anthropic.endpoint":    "https://api.anthropic.com",
		"providers.anthropic.api_key_env": "ANTHROPIC_API_KEY",
		"max_request_bytes":               int64(5 * 1024 * 1024),
		"max_response_bytes":              int64(20 * 1024 * 1024),
		"timeout_seconds":                 120,
		"host":                            "127.0.0.1",
		"port":                            9000,
		"logging_mode":                    LogMetadata,
		"disclosure":                      DisclosureNormalized,
		"model_override":                  "",
	}
}

// Load assembles a Config from defaults, an optional YAML file, and
// PROXY_-prefixed environment variables, then validates it. path may be
// empty to skip the file layer. Any validation failure is returned as a
// *ConfigError and must abort startup.
func Load(path string) (*Config, error) {
	// Load .env into the process environment (ignored if not present).
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Environment overrides: PROXY_TIMEOUT_SECONDS -> timeout_seconds.
	// Keys are flat, so underscores survive the transform untouched.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate enforces the allowlist invariant and the numeric bounds.
// It also resolves the active credential once so a missing credential
// source fails at startup rather than on the first request.
func (c *Config) validate() error {
	p, ok := c.Providers[c.Provider]
	if !ok {
		return &ConfigError{Reason: fmt.Sprintf("provider %q not in allowlist %v", c.Provider, c.providerNames())}
	}
	if p.Endpoint == "" {
		return &ConfigError{Reason: fmt.Sprintf("provider %q has no endpoint", c.Provider)}
	}
	if p.APIKeyEnv == "" {
		return &ConfigError{Reason: fmt.Sprintf("provider %q has no api_key_env", c.Provider)}
	}
	if c.MaxRequestBytes < 1024 {
		return &ConfigError{Reason: fmt.Sprintf("max_request_bytes must be at least 1024, got %d", c.MaxRequestBytes)}
	}
	if c.MaxResponseBytes < 1024 {
		return &ConfigError{Reason: fmt.Sprintf("max_response_bytes must be at least 1024, got %d", c.MaxResponseBytes)}
	}
	if c.TimeoutSeconds < 1 || c.TimeoutSeconds > 600 {
		return &ConfigError{Reason: fmt.Sprintf("timeout_seconds must be in 1..600, got %d", c.TimeoutSeconds)}
	}
	if c.Host == "" {
		return &ConfigError{Reason: "host must not be empty"}
	}
	if c.Port < 1 || c.Port > 65535 {
		return &ConfigError{Reason: fmt.Sprintf("port must be in 1..65535, got %d", c.Port)}
	}
	switch c.LoggingMode {
	case LogOff, LogMetadata, LogDebug:
	default:
		return &ConfigError{Reason: fmt.Sprintf("logging_mode must be off, metadata, or debug, got %q", c.LoggingMode)}
	}
	switch c.Disclosure {
	case DisclosureVerbatim, DisclosureNormalized:
	default:
		return &ConfigError{Reason: fmt.Sprintf("disclosure must be verbatim or normalized, got %q", c.Disclosure)}
	}
	if _, err := c.APIKey(); err != nil {
		return &ConfigError{Reason: err.Error()}
	}
	return nil
}

func (c *Config) providerNames() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	return names
}

// UpstreamURL returns the full upstream endpoint for the active
// provider, with trailing slashes on the configured endpoint trimmed.
func (c *Config) UpstreamURL() string {
	p := c.Providers[c.Provider]
	return strings.TrimRight(p.Endpoint, "/") + upstreamPath
}

// APIKey resolves the active provider's credential from its environment
// variable. The value is re-read on every call rather than cached, so
// key rotation takes effect without a restart.
func (c *Config) APIKey() (string, error) {
	p := c.Providers[c.Provider]
	key := os.Getenv(p.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("credential not found in environment variable %s", p.APIKeyEnv)
	}
	return key, nil
}

// Timeout returns the upstream request deadline as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Addr returns the host:port pair the server binds to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
