// Package config loads the scraper configuration: YAML file over defaults,
// environment variables over both. A .env file is honored for local runs.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ramkansal/boxdstory/internal/fetcher"
	"github.com/ramkansal/boxdstory/internal/relay"
)

// Config captures everything needed to assemble the pipeline and the server.
type Config struct {
	Listen   string       `yaml:"listen"`
	LogLevel string       `yaml:"log_level"`
	Fetch    FetchConfig  `yaml:"fetch"`
	Relay    RelayConfig  `yaml:"relay"`
	Unfurl   UnfurlConfig `yaml:"unfurl"`
	TMDB     TMDBConfig   `yaml:"tmdb"`
}

// FetchConfig controls the direct fetcher and the fallback strategy.
type FetchConfig struct {
	// Mode is http, browser or auto.
	Mode              string   `yaml:"mode"`
	UserAgent         string   `yaml:"user_agent"`
	Timeout           Duration `yaml:"timeout"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Burst             int      `yaml:"burst"`
}

// RelayConfig overrides the built-in CORS relay list.
type RelayConfig struct {
	Endpoints []relay.Endpoint `yaml:"endpoints"`
	Timeout   Duration         `yaml:"timeout"`
}

// UnfurlConfig points at the unfurl service.
type UnfurlConfig struct {
	BaseURL string `yaml:"base_url"`
}

// TMDBConfig holds the metadata enrichment credentials. An empty key
// disables enrichment rather than failing.
type TMDBConfig struct {
	APIKey string `yaml:"api_key"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Listen:   ":8080",
		LogLevel: "info",
		Fetch: FetchConfig{
			Mode:              "http",
			UserAgent:         fetcher.DefaultUserAgent,
			Timeout:           DurationFrom(15 * time.Second),
			RequestsPerSecond: 1,
			Burst:             2,
		},
		Relay: RelayConfig{
			Timeout: DurationFrom(10 * time.Second),
		},
		Unfurl: UnfurlConfig{
			BaseURL: "https://api.microlink.io",
		},
	}
}

// LoadEnv reads a .env file if one exists. Missing files are not an error;
// real environment variables always win.
func LoadEnv() {
	_ = godotenv.Load()
}

// Load reads, merges, and validates configuration. An empty path skips the
// file and uses defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fh, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer fh.Close()
		if err := decodeYAML(fh, &cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TMDB_API_KEY"); v != "" {
		c.TMDB.APIKey = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Listen = ":" + v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("FETCH_MODE"); v != "" {
		c.Fetch.Mode = v
	}
	if v := os.Getenv("MICROLINK_BASE_URL"); v != "" {
		c.Unfurl.BaseURL = v
	}
}

func (c *Config) normalise() {
	c.Listen = strings.TrimSpace(c.Listen)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.Fetch.Mode = strings.ToLower(strings.TrimSpace(c.Fetch.Mode))
	c.Unfurl.BaseURL = strings.TrimRight(strings.TrimSpace(c.Unfurl.BaseURL), "/")
	c.TMDB.APIKey = strings.TrimSpace(c.TMDB.APIKey)
}

// Validate enforces required invariants.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen must be set")
	}
	switch c.Fetch.Mode {
	case "http", "browser", "auto":
	default:
		return fmt.Errorf("fetch.mode must be http, browser or auto (got %q)", c.Fetch.Mode)
	}
	if c.Fetch.RequestsPerSecond < 0 {
		return fmt.Errorf("fetch.requests_per_second must be >= 0 (got %v)", c.Fetch.RequestsPerSecond)
	}
	if c.Fetch.Burst < 0 {
		return fmt.Errorf("fetch.burst must be >= 0 (got %d)", c.Fetch.Burst)
	}
	for i, ep := range c.Relay.Endpoints {
		if ep.Name == "" {
			return fmt.Errorf("relay.endpoints[%d] has empty name", i)
		}
		if !strings.Contains(ep.Template, "{target}") {
			return fmt.Errorf("relay endpoint %s template lacks {target}", ep.Name)
		}
		switch ep.Shape {
		case relay.ShapeJSON, relay.ShapeText:
		default:
			return fmt.Errorf("relay endpoint %s has unknown shape %q", ep.Name, ep.Shape)
		}
		switch ep.Encoding {
		case relay.EncodeQuery, relay.EncodeRaw:
		default:
			return fmt.Errorf("relay endpoint %s has unknown encoding %q", ep.Name, ep.Encoding)
		}
	}
	return nil
}

// RelayEndpoints returns the configured relay list, or the built-in default
// when none was configured.
func (c Config) RelayEndpoints() []relay.Endpoint {
	if len(c.Relay.Endpoints) == 0 {
		return relay.DefaultEndpoints()
	}
	return c.Relay.Endpoints
}
