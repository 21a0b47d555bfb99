// Package config defines the board configuration file format.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	boarderrors "github.com/kvnkishore11/AgenticKanban-sub008/internal/errors"
)

// TransportConfig defines the websocket channel to the workflow backend.
type TransportConfig struct {
	// URL is the backend websocket endpoint, e.g. ws://localhost:8743/ws
	URL string `yaml:"url"`

	// InitialBackoff is the first reconnect delay (default: 1s)
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the exponential reconnect delay (default: 30s)
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// RemoteConfig defines the HTTP persistence API.
type RemoteConfig struct {
	// BaseURL is the backend REST endpoint, e.g. http://localhost:8743
	BaseURL string `yaml:"base_url"`

	// Timeout bounds each persistence call (default: 15s)
	Timeout time.Duration `yaml:"timeout"`
}

// DedupConfig tunes the inbound event deduplicator.
type DedupConfig struct {
	// TTL is the duplicate-suppression window (default: 5m)
	TTL time.Duration `yaml:"ttl"`

	// MaxEntries caps the fingerprint cache (default: 1000)
	MaxEntries int `yaml:"max_entries"`

	// SweepDelay defers the background expiry sweep off the event path
	// (default: 250ms)
	SweepDelay time.Duration `yaml:"sweep_delay"`
}

// DurableConfig defines the local durable store.
type DurableConfig struct {
	// Dialect selects the database: sqlite (default) or postgres
	Dialect string `yaml:"dialect"`

	// DSN is the database path (sqlite) or connection string (postgres)
	DSN string `yaml:"dsn"`
}

// Config is the full board configuration.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Remote    RemoteConfig    `yaml:"remote"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Durable   DurableConfig   `yaml:"durable"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			URL:            "ws://localhost:8743/ws",
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
		},
		Remote: RemoteConfig{
			BaseURL: "http://localhost:8743",
			Timeout: 15 * time.Second,
		},
		Dedup: DedupConfig{
			TTL:        5 * time.Minute,
			MaxEntries: 1000,
			SweepDelay: 250 * time.Millisecond,
		},
		Durable: DurableConfig{
			Dialect: "sqlite",
			DSN:     "kanban.db",
		},
	}
}

// Load reads a config file, layering it over defaults. A missing file is
// not an error; the defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, boarderrors.Wrap(boarderrors.CodeConfigMissing,
			fmt.Sprintf("cannot read config file %s", path), err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, boarderrors.Wrap(boarderrors.CodeConfigInvalid,
			fmt.Sprintf("cannot parse config file %s", path), err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for values the board cannot run with.
func (c *Config) Validate() error {
	if c.Transport.URL == "" {
		return boarderrors.New(boarderrors.CodeConfigInvalid, "transport.url must be set")
	}
	if c.Transport.InitialBackoff < 0 || c.Transport.MaxBackoff < 0 {
		return boarderrors.New(boarderrors.CodeConfigInvalid, "transport backoff must not be negative")
	}
	if c.Transport.MaxBackoff > 0 && c.Transport.InitialBackoff > c.Transport.MaxBackoff {
		return boarderrors.New(boarderrors.CodeConfigInvalid,
			"transport.initial_backoff exceeds transport.max_backoff")
	}
	if c.Remote.BaseURL == "" {
		return boarderrors.New(boarderrors.CodeConfigInvalid, "remote.base_url must be set")
	}
	if c.Dedup.TTL < 0 || c.Dedup.MaxEntries < 0 {
		return boarderrors.New(boarderrors.CodeConfigInvalid, "dedup ttl and max_entries must not be negative")
	}
	if c.Durable.Dialect != "" {
		switch c.Durable.Dialect {
		case "sqlite", "sqlite3", "postgres", "postgresql", "pg":
		default:
			return boarderrors.New(boarderrors.CodeConfigInvalid,
				fmt.Sprintf("unknown durable.dialect %q", c.Durable.Dialect))
		}
	}
	return nil
}
