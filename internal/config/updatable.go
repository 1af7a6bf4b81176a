package config

import "log/slog"

// PoolUpdater is implemented by components that can rebuild their
// provider set in place when Config.Providers changes, without
// dropping in-flight connections to providers that didn't change.
type PoolUpdater interface {
	UpdateProviders(providers []ProviderConfig) error
}

// AdmissionUpdater resizes the admission controller's per-class quotas.
type AdmissionUpdater interface {
	UpdateAdmission(cfg AdmissionConfig) error
}

// LoggingUpdater switches the active log level/destination.
type LoggingUpdater interface {
	UpdateDebugMode(debug bool) error
}

// ComponentRegistry holds references to the live components a config
// reload should push updates into.
type ComponentRegistry struct {
	Pool      PoolUpdater
	Admission AdmissionUpdater
	Logging   LoggingUpdater
	logger    *slog.Logger
}

// NewComponentRegistry creates an empty registry.
func NewComponentRegistry(logger *slog.Logger) *ComponentRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ComponentRegistry{logger: logger}
}

// RegisterPool registers the provider pool updater.
func (r *ComponentRegistry) RegisterPool(updater PoolUpdater) {
	r.Pool = updater
}

// RegisterAdmission registers the admission controller updater.
func (r *ComponentRegistry) RegisterAdmission(updater AdmissionUpdater) {
	r.Admission = updater
}

// RegisterLogging registers the logging updater.
func (r *ComponentRegistry) RegisterLogging(updater LoggingUpdater) {
	r.Logging = updater
}

// ApplyUpdates diffs oldConfig against newConfig and pushes the
// relevant update into each registered component, logging failures
// rather than aborting the reload (a component refusing an update
// should not roll back every other component's update).
func (r *ComponentRegistry) ApplyUpdates(oldConfig, newConfig *Config) {
	if oldConfig.Debug != newConfig.Debug && r.Logging != nil {
		if err := r.Logging.UpdateDebugMode(newConfig.Debug); err != nil {
			r.logger.Error("config: failed to update debug mode", "error", err)
		}
	}

	if !providersEqual(oldConfig.Providers, newConfig.Providers) && r.Pool != nil {
		if err := r.Pool.UpdateProviders(newConfig.Providers); err != nil {
			r.logger.Error("config: failed to update providers", "error", err)
		}
	}

	if oldConfig.Admission != newConfig.Admission && r.Admission != nil {
		if err := r.Admission.UpdateAdmission(newConfig.Admission); err != nil {
			r.logger.Error("config: failed to update admission quotas", "error", err)
		}
	}
}

func providersEqual(a, b []ProviderConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
