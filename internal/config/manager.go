package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ChangeCallback is invoked after UpdateConfig swaps in a new Config,
// once per registered callback, with an immutable deep copy of the
// superseded configuration.
type ChangeCallback func(oldConfig, newConfig *Config)

// ConfigGetter returns the current configuration.
type ConfigGetter func() *Config

// Manager owns the live Config and distributes hot-reload updates to
// registered callbacks, the same OnConfigChange pattern the teacher's
// internal/pool/config.go uses to rebuild its provider pool in place.
type Manager struct {
	current    *Config
	configFile string
	mutex      sync.RWMutex
	callbacks  []ChangeCallback
}

// NewManager creates a new configuration manager.
func NewManager(config *Config, configFile string) *Manager {
	return &Manager{current: config, configFile: configFile}
}

// GetConfig returns the current configuration (thread-safe).
func (m *Manager) GetConfig() *Config {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.current
}

// GetConfigGetter returns a function that provides the current configuration.
func (m *Manager) GetConfigGetter() ConfigGetter {
	return m.GetConfig
}

// UpdateConfig swaps in a new configuration and notifies every
// registered callback with the deep-copied old config and the new one.
func (m *Manager) UpdateConfig(config *Config) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("config: validate update: %w", err)
	}

	m.mutex.Lock()
	var oldConfig *Config
	if m.current != nil {
		oldConfig = m.current.DeepCopy()
	}
	m.current = config
	callbacks := make([]ChangeCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mutex.Unlock()

	for _, callback := range callbacks {
		callback(oldConfig, config)
	}
	return nil
}

// OnConfigChange registers a callback invoked on every UpdateConfig.
func (m *Manager) OnConfigChange(callback ChangeCallback) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// ReloadConfig re-reads the config file this Manager was opened with
// and applies it via UpdateConfig (running every registered callback).
func (m *Manager) ReloadConfig() error {
	config, err := LoadConfig(m.configFile)
	if err != nil {
		return err
	}
	return m.UpdateConfig(config)
}

// SaveConfig persists the current configuration back to its file.
func (m *Manager) SaveConfig() error {
	m.mutex.RLock()
	config := m.current
	file := m.configFile
	m.mutex.RUnlock()

	if config == nil {
		return fmt.Errorf("config: no configuration to save")
	}
	return SaveToFile(config, file)
}

// SaveToFile marshals config to YAML and writes it to filename,
// creating the parent directory if needed.
func SaveToFile(config *Config, filename string) error {
	if filename == "" {
		return fmt.Errorf("config: no file path provided")
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("config: write file: %w", err)
	}
	return nil
}

// LoadConfig reads configFile via viper (creating it from
// DefaultConfig if it doesn't exist yet), merges in environment
// variable overrides, and validates the result.
func LoadConfig(configFile string) (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix("USENETSTREAM")
	v.AutomaticEnv()

	if configFile == "" {
		configFile = "config.yaml"
	}
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) || strings.Contains(err.Error(), "no such file") {
			if err := SaveToFile(config, configFile); err != nil {
				return nil, fmt.Errorf("config: create default config file %s: %w", configFile, err)
			}
			v.SetConfigFile(configFile)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("config: read newly created config file %s: %w", configFile, err)
			}
		} else {
			return nil, fmt.Errorf("config: read config file %s: %w", configFile, err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return config, nil
}
