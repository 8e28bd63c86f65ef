package config

import (
	"os"
	"path/filepath"
	"testing"
)

const testYAML = `
venue:
  gamma_base_url: "https://gamma-api.polymarket.com"
  clob_base_url: "https://clob.polymarket.com"
  ws_market_url: "wss://ws-subscriptions-clob.polymarket.com/ws/market"
  request_timeout: 15s
  rate_limit_per_min: 100
  max_backoff: 30s
discovery:
  refresh_interval: 30s
  page_size: 1000
  max_events: 5000
  min_volume_threshold: 1000
  max_markets_to_track: 500
microstructure:
  ring_buffer_size: 1000
  min_sample_size: 10
  ewma_alpha: 0.1
correlation:
  min_correlation: 0.6
notifier:
  discord_rate_limit: 10
storage:
  path: "./data/surveil.db"
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(testYAML), 0o644); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return path
}

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeTestConfig(t))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Venue.RateLimitPerMin != 100 {
		t.Errorf("Venue.RateLimitPerMin = %d, want 100", cfg.Venue.RateLimitPerMin)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SURVEIL_WEBHOOK_URL", "https://hooks.example.com/abc")
	t.Setenv("SURVEIL_STORAGE_PATH", "/tmp/override.db")

	cfg, err := Load(writeTestConfig(t))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Notifier.WebhookURL != "https://hooks.example.com/abc" {
		t.Errorf("Notifier.WebhookURL = %q, want env override", cfg.Notifier.WebhookURL)
	}
	if cfg.Storage.Path != "/tmp/override.db" {
		t.Errorf("Storage.Path = %q, want env override", cfg.Storage.Path)
	}
}

func TestValidateMissingGammaURL(t *testing.T) {
	cfg := Default()
	cfg.Venue.GammaBaseURL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for empty gamma_base_url")
	}
}

func TestValidateBadEWMAAlpha(t *testing.T) {
	cfg := Default()
	cfg.Microstructure.EWMAAlpha = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for ewma_alpha out of range")
	}
}

func TestValidateBadRefreshInterval(t *testing.T) {
	cfg := Default()
	cfg.Discovery.RefreshInterval = 1
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for refresh_interval out of range")
	}
}

func TestDefaultPasses(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() should validate cleanly, got %v", err)
	}
}
