package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, `
polymarket:
  gamma_api_url: "https://gamma.example.com"
  min_request_interval: 250ms

collector:
  strategy: windowed
  weeks_back: 4
  markets_per_window: 50
  category: crypto

analysis:
  bucket_mode: cent
  min_samples: 50
  stratify: category

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Polymarket.GammaAPIURL != "https://gamma.example.com" {
		t.Errorf("Unexpected gamma URL: %s", cfg.Polymarket.GammaAPIURL)
	}
	if cfg.Polymarket.MinRequestInterval != 250*time.Millisecond {
		t.Errorf("Expected min_request_interval 250ms, got %v", cfg.Polymarket.MinRequestInterval)
	}
	if cfg.Polymarket.DataAPIURL != "https://data-api.polymarket.com" {
		t.Errorf("Expected default data API URL, got %s", cfg.Polymarket.DataAPIURL)
	}
	if cfg.Collector.Strategy != "windowed" || cfg.Collector.WeeksBack != 4 {
		t.Errorf("Unexpected collector config: %+v", cfg.Collector)
	}
	if cfg.Collector.Window != 168*time.Hour {
		t.Errorf("Expected default window 168h, got %v", cfg.Collector.Window)
	}
	if cfg.Collector.SampleThreshold != 2000 {
		t.Errorf("Expected default sample threshold 2000, got %d", cfg.Collector.SampleThreshold)
	}
	if cfg.Analysis.MinSamples != 50 {
		t.Errorf("Expected min_samples 50, got %d", cfg.Analysis.MinSamples)
	}
	if cfg.Analysis.MarketCap != 100 {
		t.Errorf("Expected default market cap 100, got %d", cfg.Analysis.MarketCap)
	}
	if len(cfg.Analysis.LiquidityTiers) != 3 {
		t.Errorf("Expected 3 default liquidity tiers, got %v", cfg.Analysis.LiquidityTiers)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}
	if cfg.Collector.Strategy != "volume" {
		t.Errorf("Expected default strategy volume, got %s", cfg.Collector.Strategy)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("POLYCALIB_COLLECTOR_NUM_MARKETS", "42")
	t.Setenv("POLYCALIB_TELEGRAM_BOT_TOKEN", "secret")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Collector.NumMarkets != 42 {
		t.Errorf("Expected num_markets 42 from env, got %d", cfg.Collector.NumMarkets)
	}
	if cfg.Telegram.BotToken != "secret" {
		t.Errorf("Expected bot token from env, got %q", cfg.Telegram.BotToken)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty gamma url", func(c *Config) { c.Polymarket.GammaAPIURL = "" }},
		{"unknown strategy", func(c *Config) { c.Collector.Strategy = "random" }},
		{"zero markets", func(c *Config) { c.Collector.NumMarkets = 0 }},
		{"trade page too large", func(c *Config) { c.Collector.TradePageSize = 1000 }},
		{"bad bucket width", func(c *Config) { c.Analysis.BucketWidth = 0 }},
		{"bad confidence", func(c *Config) { c.Analysis.Confidence = 1 }},
		{"bad weighting", func(c *Config) { c.Analysis.Weighting = "sqrt" }},
		{"bad stratify", func(c *Config) { c.Analysis.Stratify = "weekday" }},
		{"bad side", func(c *Config) { c.Analysis.Side = "HOLD" }},
		{"archive without bucket", func(c *Config) { c.Archive.Enabled = true; c.Archive.Bucket = "" }},
		{"telegram without token", func(c *Config) { c.Telegram.Enabled = true; c.Telegram.ChatID = "1" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
