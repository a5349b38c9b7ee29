// Package config defines service configuration structures and loading hooks.
package config

import (
	"runtime"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DBPath locates the SQLite database file.
	DBPath string `koanf:"db_path"`

	// MemoryStore keeps all state in process instead of SQLite.
	MemoryStore bool `koanf:"memory_store"`

	// QueueCapacity bounds the in-memory recompute queue.
	QueueCapacity int `koanf:"queue_capacity"`

	// WorkerCount sets the number of recompute workers.
	WorkerCount int `koanf:"worker_count"`

	// Scopes lists the ranking scopes the service accepts.
	Scopes []string `koanf:"scopes"`

	// TrendEpsilon is the average movement below which trend stays flat.
	TrendEpsilon float64 `koanf:"trend_epsilon"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:      "info",
		Addr:          ":9080",
		DBPath:        "data/onebest.db",
		QueueCapacity: 10_000,
		WorkerCount:   runtime.NumCPU() * 2,
		Scopes:        []string{"all"},
		TrendEpsilon:  0.01,
	}
}
