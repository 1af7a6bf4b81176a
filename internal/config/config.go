// Package config assembles this repo's configuration surface the way
// the teacher's internal/config does: a Config struct unmarshaled by
// spf13/viper from YAML (gopkg.in/yaml.v3 on write-back), deep-copied
// with jinzhu/copier for safe hot-reload diffing, and distributed to
// live components through a Manager's OnConfigChange callbacks.
package config

import (
	"fmt"
	"time"

	"github.com/jinzhu/copier"

	"github.com/javi11/usenetstream/internal/admission"
	"github.com/javi11/usenetstream/internal/affinity"
	"github.com/javi11/usenetstream/internal/bandwidth"
	"github.com/javi11/usenetstream/internal/classify"
	"github.com/javi11/usenetstream/internal/health"
	"github.com/javi11/usenetstream/internal/nntp"
)

// Config is the complete application configuration.
type Config struct {
	Providers      []ProviderConfig     `yaml:"providers" mapstructure:"providers" json:"providers"`
	Admission      AdmissionConfig      `yaml:"admission" mapstructure:"admission" json:"admission"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" mapstructure:"circuit_breaker" json:"circuit_breaker"`
	Affinity       AffinityConfig       `yaml:"affinity" mapstructure:"affinity" json:"affinity"`
	Bandwidth      BandwidthConfig      `yaml:"bandwidth" mapstructure:"bandwidth" json:"bandwidth"`
	Health         HealthConfig         `yaml:"health" mapstructure:"health" json:"health"`
	Database       DatabaseConfig       `yaml:"database" mapstructure:"database" json:"database"`
	Log            LogConfig            `yaml:"log" mapstructure:"log" json:"log"`
	Debug          bool                 `yaml:"debug" mapstructure:"debug" json:"debug"`
}

// ProviderConfig describes one upstream NNTP server on disk; ToNNTP
// converts it to the internal/nntp.ProviderConfig the pool consumes.
type ProviderConfig struct {
	Host           string `yaml:"host" mapstructure:"host" json:"host"`
	Port           int    `yaml:"port" mapstructure:"port" json:"port"`
	Username       string `yaml:"username" mapstructure:"username" json:"username"`
	Password       string `yaml:"password" mapstructure:"password" json:"-"`
	MaxConnections int    `yaml:"max_connections" mapstructure:"max_connections" json:"max_connections"`
	TLS            bool   `yaml:"tls" mapstructure:"tls" json:"tls"`
	InsecureTLS    bool   `yaml:"insecure_tls" mapstructure:"insecure_tls" json:"insecure_tls"`
	// Role is one of "pool", "backup_and_stats", "backup_only", "disabled".
	Role string `yaml:"role" mapstructure:"role" json:"role"`
}

// ToNNTP converts every configured provider to internal/nntp's wire
// format, assigning Index in config-file order — the same order
// internal/nntp.Pool.AddProvider expects callers to register in.
func ToNNTP(providers []ProviderConfig) ([]nntp.ProviderConfig, error) {
	out := make([]nntp.ProviderConfig, 0, len(providers))
	for i, p := range providers {
		role, err := parseRole(p.Role)
		if err != nil {
			return nil, fmt.Errorf("provider %d (%s): %w", i, p.Host, err)
		}
		out = append(out, nntp.ProviderConfig{
			Index:          i,
			Host:           p.Host,
			Port:           p.Port,
			TLS:            p.TLS,
			InsecureTLS:    p.InsecureTLS,
			Username:       p.Username,
			Password:       p.Password,
			MaxConnections: p.MaxConnections,
			Role:           role,
		})
	}
	return out, nil
}

func parseRole(s string) (nntp.Role, error) {
	switch s {
	case "", "pool":
		return nntp.RolePool, nil
	case "backup_and_stats":
		return nntp.RoleBackupAndStats, nil
	case "backup_only":
		return nntp.RoleBackupOnly, nil
	case "disabled":
		return nntp.RoleDisabled, nil
	default:
		return 0, fmt.Errorf("unknown provider role %q", s)
	}
}

// AdmissionConfig mirrors internal/admission.Config's fields (spec.md
// §4.8's per-class connection reservation).
type AdmissionConfig struct {
	StreamingReserved     int64   `yaml:"streaming_reserved" mapstructure:"streaming_reserved" json:"streaming_reserved"`
	QueueReserved         int64   `yaml:"queue_reserved" mapstructure:"queue_reserved" json:"queue_reserved"`
	HealthCheckReserved   int64   `yaml:"health_check_reserved" mapstructure:"health_check_reserved" json:"health_check_reserved"`
	PlaybackVerifiedShare float64 `yaml:"playback_verified_share" mapstructure:"playback_verified_share" json:"playback_verified_share"`
}

// ToAdmission converts to internal/admission.Config.
func (c AdmissionConfig) ToAdmission() admission.Config {
	return admission.Config{
		StreamingReserved:     c.StreamingReserved,
		QueueReserved:         c.QueueReserved,
		HealthCheckReserved:   c.HealthCheckReserved,
		PlaybackVerifiedShare: c.PlaybackVerifiedShare,
	}
}

// CircuitBreakerConfig mirrors internal/classify.CircuitConfig.
type CircuitBreakerConfig struct {
	FailureThreshold         int `yaml:"failure_threshold" mapstructure:"failure_threshold" json:"failure_threshold"`
	AuthBackoffSeconds       int `yaml:"auth_backoff_seconds" mapstructure:"auth_backoff_seconds" json:"auth_backoff_seconds"`
	LimitBackoffSeconds      int `yaml:"limit_backoff_seconds" mapstructure:"limit_backoff_seconds" json:"limit_backoff_seconds"`
	TransientBackoffSeconds  int `yaml:"transient_backoff_seconds" mapstructure:"transient_backoff_seconds" json:"transient_backoff_seconds"`
}

// ToClassify converts to internal/classify.CircuitConfig.
func (c CircuitBreakerConfig) ToClassify() classify.CircuitConfig {
	return classify.CircuitConfig{
		FailureThreshold: c.FailureThreshold,
		AuthBackoff:      time.Duration(c.AuthBackoffSeconds) * time.Second,
		LimitBackoff:     time.Duration(c.LimitBackoffSeconds) * time.Second,
		TransientBackoff: time.Duration(c.TransientBackoffSeconds) * time.Second,
	}
}

// AffinityConfig mirrors internal/affinity.Config: exploration rate
// (epsilon) and per-provider history depth (the closest analogue this
// package's ring-buffer design has to a decay half-life).
type AffinityConfig struct {
	Epsilon    float64 `yaml:"epsilon" mapstructure:"epsilon" json:"epsilon"`
	WindowSize int     `yaml:"window_size" mapstructure:"window_size" json:"window_size"`
}

// ToAffinity converts to internal/affinity.Config.
func (c AffinityConfig) ToAffinity() affinity.Config {
	return affinity.Config{Epsilon: c.Epsilon, WindowSize: c.WindowSize}
}

// BandwidthConfig mirrors internal/bandwidth.Config.
type BandwidthConfig struct {
	SampleIntervalSeconds   int `yaml:"sample_interval_seconds" mapstructure:"sample_interval_seconds" json:"sample_interval_seconds"`
	RetentionPeriodSeconds  int `yaml:"retention_period_seconds" mapstructure:"retention_period_seconds" json:"retention_period_seconds"`
	CalculationWindowSeconds int `yaml:"calculation_window_seconds" mapstructure:"calculation_window_seconds" json:"calculation_window_seconds"`
	MaxSamples              int `yaml:"max_samples" mapstructure:"max_samples" json:"max_samples"`
}

// ToBandwidth converts to internal/bandwidth.Config.
func (c BandwidthConfig) ToBandwidth() bandwidth.Config {
	return bandwidth.Config{
		SampleInterval:    time.Duration(c.SampleIntervalSeconds) * time.Second,
		RetentionPeriod:   time.Duration(c.RetentionPeriodSeconds) * time.Second,
		CalculationWindow: time.Duration(c.CalculationWindowSeconds) * time.Second,
		MaxSamples:        c.MaxSamples,
	}
}

// HealthConfig mirrors internal/health.Config plus the sweep schedule
// pkg/healthcheck.Scheduler needs.
type HealthConfig struct {
	Enabled          bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	CronSchedule     string `yaml:"cron_schedule" mapstructure:"cron_schedule" json:"cron_schedule"`
	Concurrency      int    `yaml:"concurrency" mapstructure:"concurrency" json:"concurrency"`
	SamplePercentage int    `yaml:"segment_sample_percentage" mapstructure:"segment_sample_percentage" json:"segment_sample_percentage"`
	UseHead          bool   `yaml:"use_head" mapstructure:"use_head" json:"use_head"`
}

// ToHealth converts to internal/health.Config.
func (c HealthConfig) ToHealth() health.Config {
	return health.Config{
		Concurrency:      c.Concurrency,
		SamplePercentage: c.SamplePercentage,
		UseHead:          c.UseHead,
	}
}

// DatabaseConfig selects the persistence backing store.
type DatabaseConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver" json:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn" json:"dsn"`
}

// LogConfig configures structured logging and file rotation (see
// internal/slogutil), matching the teacher's LogConfig shape.
type LogConfig struct {
	File       string `yaml:"file" mapstructure:"file" json:"file,omitempty"`
	Level      string `yaml:"level" mapstructure:"level" json:"level,omitempty"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size" json:"max_size,omitempty"`
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age" json:"max_age,omitempty"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups" json:"max_backups,omitempty"`
	Compress   bool   `yaml:"compress" mapstructure:"compress" json:"compress,omitempty"`
}

// DeepCopy returns a deep copy of the configuration using the copier
// library, the same pattern the teacher's Config.DeepCopy uses.
func (c *Config) DeepCopy() *Config {
	if c == nil {
		return nil
	}
	cp := &Config{}
	if err := copier.CopyWithOption(cp, c, copier.Option{DeepCopy: true}); err != nil {
		shallow := *c
		return &shallow
	}
	return cp
}

// Validate checks the configuration for internally-inconsistent or
// out-of-range values before it is applied.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	for i, p := range c.Providers {
		if p.Host == "" {
			return fmt.Errorf("provider %d: host cannot be empty", i)
		}
		if p.Port <= 0 || p.Port > 65535 {
			return fmt.Errorf("provider %d: port must be between 1 and 65535", i)
		}
		if p.MaxConnections <= 0 {
			return fmt.Errorf("provider %d: max_connections must be greater than 0", i)
		}
		if _, err := parseRole(p.Role); err != nil {
			return fmt.Errorf("provider %d: %w", i, err)
		}
	}

	if c.Admission.PlaybackVerifiedShare < 0 || c.Admission.PlaybackVerifiedShare > 1 {
		return fmt.Errorf("admission playback_verified_share must be between 0 and 1")
	}

	if c.Health.SamplePercentage != 0 && (c.Health.SamplePercentage < 1 || c.Health.SamplePercentage > 100) {
		return fmt.Errorf("health segment_sample_percentage must be between 1 and 100")
	}

	if c.Database.Driver != "" && c.Database.Driver != "sqlite3" && c.Database.Driver != "pgx" {
		return fmt.Errorf("database driver must be sqlite3 or pgx")
	}

	if c.Log.Level != "" {
		switch c.Log.Level {
		case "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("log level must be one of: debug, info, warn, error")
		}
	}
	if c.Log.MaxSize < 0 || c.Log.MaxAge < 0 || c.Log.MaxBackups < 0 {
		return fmt.Errorf("log rotation settings must be non-negative")
	}

	return nil
}

// DefaultConfig returns a Config with every sub-tree's built-in
// defaults. Health's Concurrency (5) and SamplePercentage (5) differ
// from internal/health's own withDefaults() fallbacks (8 and 100),
// which apply only to fields left at zero.
func DefaultConfig() *Config {
	return &Config{
		Admission: AdmissionConfig{
			StreamingReserved:     20,
			QueueReserved:         5,
			HealthCheckReserved:   5,
			PlaybackVerifiedShare: 0.5,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold:        5,
			AuthBackoffSeconds:      60,
			LimitBackoffSeconds:     5,
			TransientBackoffSeconds: 30,
		},
		Affinity: AffinityConfig{
			Epsilon:    1.0 / 32,
			WindowSize: 256,
		},
		Bandwidth: BandwidthConfig{
			RetentionPeriodSeconds:   60,
			CalculationWindowSeconds: 10,
			MaxSamples:               256,
		},
		Health: HealthConfig{
			Enabled:          true,
			CronSchedule:     "0 */6 * * *",
			Concurrency:      5,
			SamplePercentage: 5,
		},
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    "usenetstream.db",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    100,
			MaxAge:     28,
			MaxBackups: 3,
			Compress:   true,
		},
	}
}
