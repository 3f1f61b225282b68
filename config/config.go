package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/blockkit/manifest"
	"github.com/rustyeddy/blockkit/policy"
)

// Config represents the complete blockkit server configuration
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server"`
	Ledger  LedgerConfig  `json:"ledger" yaml:"ledger"`
	Log     LogConfig     `json:"log" yaml:"log"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
	Blocks  []BlockConfig `json:"blocks,omitempty" yaml:"blocks,omitempty"`

	dir string // directory of the loaded file, for relative manifest paths
}

// ServerConfig contains HTTP listener parameters
type ServerConfig struct {
	Addr           string  `json:"addr" yaml:"addr"`
	RateLimitRPS   float64 `json:"rate_limit_rps" yaml:"rate_limit_rps"` // per instance; 0 disables
	RateLimitBurst int     `json:"rate_limit_burst" yaml:"rate_limit_burst"`
}

// LedgerConfig selects and configures the ledger store
type LedgerConfig struct {
	Type          string `json:"type" yaml:"type"` // "memory", "sqlite", "postgres" or "redis"
	DBPath        string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	DSN           string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	RedisAddr     string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty" yaml:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty" yaml:"redis_db,omitempty"`
	Timeout       string `json:"timeout,omitempty" yaml:"timeout,omitempty"` // e.g. "2s"
	MaxAttempts   int    `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
}

// ParseTimeout converts the timeout string to time.Duration. Empty means
// the ledger default.
func (l LedgerConfig) ParseTimeout() (time.Duration, error) {
	if l.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(l.Timeout)
}

// LogConfig contains logging parameters
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text or json
}

// SlogLevel maps Level onto slog.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q: %w", l.Level, err)
	}
	return lvl, nil
}

// TracingConfig contains OpenTelemetry parameters
type TracingConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	OutputFile string `json:"output_file,omitempty" yaml:"output_file,omitempty"` // empty: stdout
}

// BlockConfig is a block instance activated at startup
type BlockConfig struct {
	InstanceID     string          `json:"instance_id" yaml:"instance_id"`
	Manifest       string          `json:"manifest,omitempty" yaml:"manifest,omitempty"` // path, JSON or YAML
	ManifestInline map[string]any  `json:"manifest_inline,omitempty" yaml:"manifest_inline,omitempty"`
	Policy         policy.Document `json:"policy" yaml:"policy"`
}

// LoadManifest decodes the block's manifest, reading it from disk when
// given as a path. Relative paths are taken from the config file's
// directory.
func (b BlockConfig) LoadManifest(dir string) (manifest.Manifest, error) {
	if b.ManifestInline != nil {
		data, err := json.Marshal(b.ManifestInline)
		if err != nil {
			return manifest.Manifest{}, fmt.Errorf("block %s: manifest_inline: %w", b.InstanceID, err)
		}
		return manifest.Decode(data)
	}

	path := b.Manifest
	if !filepath.IsAbs(path) && dir != "" {
		path = filepath.Join(dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return manifest.Manifest{}, fmt.Errorf("block %s: read manifest: %w", b.InstanceID, err)
	}
	if isYAML(path) {
		return manifest.DecodeYAML(data)
	}
	return manifest.Decode(data)
}

// Dir is the directory the configuration was loaded from.
func (c *Config) Dir() string { return c.dir }

// LoadFromFile loads configuration from a file (JSON or YAML)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}
	cfg.dir = filepath.Dir(path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.RateLimitRPS < 0 {
		return fmt.Errorf("server.rate_limit_rps must not be negative")
	}

	switch c.Ledger.Type {
	case "memory":
	case "sqlite":
		if c.Ledger.DBPath == "" {
			return fmt.Errorf("ledger db_path required for sqlite type")
		}
	case "postgres":
		if c.Ledger.DSN == "" {
			return fmt.Errorf("ledger dsn required for postgres type")
		}
	case "redis":
		if c.Ledger.RedisAddr == "" {
			return fmt.Errorf("ledger redis_addr required for redis type")
		}
	default:
		return fmt.Errorf("ledger.type must be 'memory', 'sqlite', 'postgres' or 'redis'")
	}
	if d, err := c.Ledger.ParseTimeout(); err != nil || d < 0 {
		return fmt.Errorf("ledger.timeout %q is not a valid duration", c.Ledger.Timeout)
	}
	if c.Ledger.MaxAttempts < 0 {
		return fmt.Errorf("ledger.max_attempts must not be negative")
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if c.Log.Format != "" && c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be 'text' or 'json'")
	}

	seen := make(map[string]bool)
	for i, b := range c.Blocks {
		if b.InstanceID == "" {
			return fmt.Errorf("blocks[%d].instance_id is required", i)
		}
		if seen[b.InstanceID] {
			return fmt.Errorf("blocks[%d]: duplicate instance_id %s", i, b.InstanceID)
		}
		seen[b.InstanceID] = true

		if (b.Manifest == "") == (b.ManifestInline == nil) {
			return fmt.Errorf("block %s: exactly one of manifest or manifest_inline is required", b.InstanceID)
		}
		if _, err := b.Policy.Settings(); err != nil {
			return fmt.Errorf("block %s: %w", b.InstanceID, err)
		}
	}
	return nil
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func days(n int) *int { return &n }

// Default returns a configuration with sensible defaults: a SQLite ledger
// and one action block on BTC limited to 1.0 per transaction and 10.0
// over 30 days.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8080",
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
		Ledger: LedgerConfig{
			Type:        "sqlite",
			DBPath:      "./blockkit.db",
			Timeout:     "2s",
			MaxAttempts: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Blocks: []BlockConfig{
			{
				InstanceID: "btc-dca",
				ManifestInline: map[string]any{
					"name":        "btc-dca",
					"version":     "1.0.0",
					"block_type":  "action",
					"publisher":   []any{"Blockkit", "blockkit"},
					"description": "Dollar cost averaging into BTC",
				},
				Policy: policy.Document{
					Kind:                    string(manifest.Action),
					AssetID:                 "BTC",
					MaxAmountPerTransaction: dec("1.0"),
					CumulativeMaxAmount:     dec("10.0"),
					AuthorizedDurationDays:  days(30),
				},
			},
		},
	}
}
