package config_test

import (
	"path/filepath"
	"testing"

	"github.com/spider-crawler/crawlengine/internal/config"
)

func TestDefaultEngineConfig_Validates(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestEngineConfig_Validate(t *testing.T) {
	base := func() *config.EngineConfig { return config.DefaultEngineConfig() }

	cases := []struct {
		name    string
		mutate  func(*config.EngineConfig)
		wantErr bool
	}{
		{"zero crawl workers", func(c *config.EngineConfig) { c.NumCrawlWorkers = 0 }, true},
		{"zero parse workers", func(c *config.EngineConfig) { c.NumParseWorkers = 0 }, true},
		{"zero max concurrent", func(c *config.EngineConfig) { c.MaxConcurrent = 0 }, true},
		{"non-positive rate", func(c *config.EngineConfig) { c.RateLimit.RequestsPerSecond = 0 }, true},
		{"zero burst", func(c *config.EngineConfig) { c.RateLimit.BurstSize = 0 }, true},
		{"zero max content size", func(c *config.EngineConfig) { c.MaxContentSize = 0 }, true},
		{"unknown broker backend", func(c *config.EngineConfig) { c.BrokerBackend = "carrier-pigeon" }, true},
		{"valid streaming backend", func(c *config.EngineConfig) { c.BrokerBackend = config.BrokerStreaming }, false},
	}

	for _, c := range cases {
		cfg := base()
		c.mutate(cfg)
		err := cfg.Validate()
		if c.wantErr && err == nil {
			t.Errorf("%s: expected a validation error, got nil", c.name)
		}
		if !c.wantErr && err != nil {
			t.Errorf("%s: unexpected validation error: %v", c.name, err)
		}
	}
}

func TestEngineConfig_SaveAndLoadRoundTrip(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	cfg.NumCrawlWorkers = 7
	cfg.BrokerBackend = config.BrokerListStore
	cfg.ListStore.Addr = "redis.internal:6379"

	path := filepath.Join(t.TempDir(), "engine.json")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.NumCrawlWorkers != 7 {
		t.Errorf("NumCrawlWorkers = %d, want 7", loaded.NumCrawlWorkers)
	}
	if loaded.BrokerBackend != config.BrokerListStore {
		t.Errorf("BrokerBackend = %q, want %q", loaded.BrokerBackend, config.BrokerListStore)
	}
	if loaded.ListStore.Addr != "redis.internal:6379" {
		t.Errorf("ListStore.Addr = %q, want %q", loaded.ListStore.Addr, "redis.internal:6379")
	}
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected an error loading a nonexistent config file")
	}
}
