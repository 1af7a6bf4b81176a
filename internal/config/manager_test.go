package config

import (
	"os"
	"path/filepath"
	"testing"
)

func sampleConfig() *Config {
	cfg := DefaultConfig()
	cfg.Providers = []ProviderConfig{
		{Host: "news.example.com", Port: 563, MaxConnections: 10, TLS: true, Role: "pool"},
	}
	return cfg
}

func TestLoadConfigCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatalf("expected validation error: a freshly created default config has no providers")
	}

	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("expected LoadConfig to write a default config file: %v", statErr)
	}
}

func TestSaveAndLoadConfigRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := sampleConfig()

	if err := SaveToFile(cfg, path); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(loaded.Providers) != 1 || loaded.Providers[0].Host != "news.example.com" {
		t.Fatalf("expected round-tripped provider, got %+v", loaded.Providers)
	}
}

func TestManagerUpdateConfigNotifiesCallbacks(t *testing.T) {
	m := NewManager(sampleConfig(), "")

	var gotOld, gotNew *Config
	m.OnConfigChange(func(oldConfig, newConfig *Config) {
		gotOld, gotNew = oldConfig, newConfig
	})

	next := sampleConfig()
	next.Debug = true
	if err := m.UpdateConfig(next); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}

	if gotOld == nil || gotOld.Debug {
		t.Fatalf("expected callback's old config to have Debug=false, got %+v", gotOld)
	}
	if gotNew == nil || !gotNew.Debug {
		t.Fatalf("expected callback's new config to have Debug=true, got %+v", gotNew)
	}
	if m.GetConfig() != next {
		t.Fatalf("expected GetConfig to return the just-applied config")
	}
}

func TestManagerUpdateConfigRejectsInvalidConfig(t *testing.T) {
	m := NewManager(sampleConfig(), "")

	bad := sampleConfig()
	bad.Providers = nil
	if err := m.UpdateConfig(bad); err == nil {
		t.Fatalf("expected UpdateConfig to reject a config with no providers")
	}
}

func TestComponentRegistryAppliesProviderUpdate(t *testing.T) {
	reg := NewComponentRegistry(nil)
	updater := &recordingPoolUpdater{}
	reg.RegisterPool(updater)

	oldConfig := sampleConfig()
	newConfig := sampleConfig()
	newConfig.Providers[0].MaxConnections = 20

	reg.ApplyUpdates(oldConfig, newConfig)

	if len(updater.calls) != 1 || updater.calls[0][0].MaxConnections != 20 {
		t.Fatalf("expected one UpdateProviders call with the new providers, got %+v", updater.calls)
	}
}

type recordingPoolUpdater struct {
	calls [][]ProviderConfig
}

func (u *recordingPoolUpdater) UpdateProviders(providers []ProviderConfig) error {
	u.calls = append(u.calls, providers)
	return nil
}
