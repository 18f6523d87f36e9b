// Package config loads engine configuration from TOML files.
//
// Configuration is deliberately small: the engine is a library, so the
// host editor owns most policy. What lives here is what a user would
// reasonably put in a dotfile (timeouts, the sync strategy, capability
// tweaks), not wiring.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the root configuration for the engine.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`

	Client  ClientConfig  `toml:"client"`
	Session SessionConfig `toml:"session"`
}

// ClientConfig configures the protocol client.
type ClientConfig struct {
	// RootURI is sent in the initialize request (file:// URI).
	RootURI string `toml:"root_uri"`

	// WorkspaceFolders are additional workspace folder URIs.
	WorkspaceFolders []string `toml:"workspace_folders"`

	// RequestTimeoutMS bounds every feature request. The initialize
	// request uses three times this value.
	RequestTimeoutMS int `toml:"request_timeout_ms"`

	// AutoClose closes the transport when the last document session
	// detaches.
	AutoClose bool `toml:"auto_close"`

	// CapabilityOverrides patches the default client capabilities.
	// Keys are dotted JSON paths, e.g.
	// "textDocument.completion.completionItem.snippetSupport" = false.
	CapabilityOverrides map[string]any `toml:"capability_overrides"`

	// InitializationOptions is passed through to the server verbatim.
	InitializationOptions map[string]any `toml:"initialization_options"`
}

// SessionConfig configures document sessions.
type SessionConfig struct {
	// DebounceMS is the delay before buffered edits flush as didChange.
	DebounceMS int `toml:"debounce_ms"`

	// Sync selects the document sync strategy: "full" or "incremental".
	Sync string `toml:"sync"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Client: ClientConfig{
			RequestTimeoutMS: 10_000,
			AutoClose:        false,
		},
		Session: SessionConfig{
			DebounceMS: 500,
			Sync:       "full",
		},
	}
}

// Load reads configuration from a TOML file, layered over defaults.
// A missing file is not an error; defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadReader reads configuration from an io.Reader, layered over defaults.
func LoadReader(r io.Reader) (Config, error) {
	cfg := Default()

	data, err := io.ReadAll(r)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field values that cannot be expressed by types alone.
func (c Config) Validate() error {
	switch c.Session.Sync {
	case "", "full", "incremental":
	default:
		return fmt.Errorf("session.sync: unknown strategy %q", c.Session.Sync)
	}

	if c.Client.RequestTimeoutMS < 0 {
		return fmt.Errorf("client.request_timeout_ms: must be non-negative")
	}
	if c.Session.DebounceMS < 0 {
		return fmt.Errorf("session.debounce_ms: must be non-negative")
	}
	return nil
}

// RequestTimeout returns the request timeout as a duration.
func (c ClientConfig) RequestTimeout() time.Duration {
	if c.RequestTimeoutMS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// Debounce returns the didChange debounce delay as a duration.
func (c SessionConfig) Debounce() time.Duration {
	if c.DebounceMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.DebounceMS) * time.Millisecond
}
