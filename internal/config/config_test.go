package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.Fetch.Mode != "http" {
		t.Errorf("fetch.mode = %q", cfg.Fetch.Mode)
	}
	if got := cfg.Relay.Timeout.Duration; got != 10*time.Second {
		t.Errorf("relay.timeout = %v", got)
	}
	if len(cfg.RelayEndpoints()) == 0 {
		t.Error("expected built-in relay endpoints")
	}
}

func TestLoadFromReaderOverlaysDefaults(t *testing.T) {
	yml := `
listen: ":9090"
log_level: DEBUG
fetch:
  mode: auto
  timeout: 20s
  requests_per_second: 2
relay:
  timeout: 5s
  endpoints:
    - name: allorigins
      template: "https://api.allorigins.win/get?url={target}"
      shape: json
      encoding: query
tmdb:
  api_key: abc
`
	cfg, err := LoadFromReader(strings.NewReader(yml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Listen != ":9090" || cfg.LogLevel != "debug" {
		t.Errorf("listen/log_level = %q/%q", cfg.Listen, cfg.LogLevel)
	}
	if cfg.Fetch.Mode != "auto" || cfg.Fetch.Timeout.Duration != 20*time.Second {
		t.Errorf("fetch = %+v", cfg.Fetch)
	}
	// Untouched keys keep their defaults.
	if cfg.Unfurl.BaseURL != "https://api.microlink.io" {
		t.Errorf("unfurl.base_url = %q", cfg.Unfurl.BaseURL)
	}
	if len(cfg.RelayEndpoints()) != 1 || cfg.RelayEndpoints()[0].Name != "allorigins" {
		t.Errorf("relay endpoints = %+v", cfg.RelayEndpoints())
	}
	if cfg.TMDB.APIKey != "abc" {
		t.Errorf("tmdb.api_key = %q", cfg.TMDB.APIKey)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		yml  string
	}{
		{"unknown fetch mode", "fetch:\n  mode: warp\n"},
		{"unknown key", "fetcher:\n  mode: http\n"},
		{"endpoint without target", "relay:\n  endpoints:\n    - name: x\n      template: \"https://x.example/\"\n      shape: text\n      encoding: raw\n"},
		{"endpoint with bad shape", "relay:\n  endpoints:\n    - name: x\n      template: \"https://x.example/{target}\"\n      shape: xml\n      encoding: raw\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadFromReader(strings.NewReader(tt.yml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TMDB_API_KEY", "from-env")
	t.Setenv("PORT", "7070")
	t.Setenv("FETCH_MODE", "browser")

	cfg, err := LoadFromReader(strings.NewReader("tmdb:\n  api_key: from-file\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.TMDB.APIKey != "from-env" {
		t.Errorf("api_key = %q, want env value", cfg.TMDB.APIKey)
	}
	if cfg.Listen != ":7070" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.Fetch.Mode != "browser" {
		t.Errorf("fetch.mode = %q", cfg.Fetch.Mode)
	}
}

func TestDurationAcceptsNumericSeconds(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("fetch:\n  timeout: 30\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Fetch.Timeout.Duration != 30*time.Second {
		t.Errorf("timeout = %v", cfg.Fetch.Timeout.Duration)
	}
}
