// Package config defines process configuration structures and loading.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load() layers defaults, optional YAML file, and TEMPO_* env vars.
// - External errors are wrapped via this package's sentinel kinds.
package config

import "runtime"

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the metrics/health listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the settled-event queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of tracking workers.
	WorkerCount int `koanf:"worker_count"`

	// CorrelationWindowMS is how long a lone feed event waits for its
	// counterpart before settling alone.
	CorrelationWindowMS int `koanf:"correlation_window_ms"`

	// PendingShardCount configures the correlation engine's map shards.
	PendingShardCount int `koanf:"pending_shard_count"`

	// StoreShardCount configures the in-memory score store shards.
	StoreShardCount int `koanf:"store_shard_count"`

	// LookupBaseURL points at the authoritative chart rating service.
	// Empty disables the ranking cascade.
	LookupBaseURL string `koanf:"lookup_base_url"`

	// LookupRPM budgets external lookup calls per minute.
	LookupRPM int `koanf:"lookup_rpm"`

	// CascadeBatchSize bounds parallel local work per refresh batch.
	CascadeBatchSize int `koanf:"cascade_batch_size"`

	// RankedRefreshMinutes and QualifiedRefreshMinutes schedule the
	// periodic ranking refreshes.
	RankedRefreshMinutes    int `koanf:"ranked_refresh_minutes"`
	QualifiedRefreshMinutes int `koanf:"qualified_refresh_minutes"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:                "info",
		Addr:                    ":8080",
		QueueSize:               10000,
		WorkerCount:             runtime.NumCPU() * 2,
		CorrelationWindowMS:     60000,
		PendingShardCount:       32,
		StoreShardCount:         16,
		LookupRPM:               60,
		CascadeBatchSize:        100,
		RankedRefreshMinutes:    30,
		QualifiedRefreshMinutes: 60,
	}
}
