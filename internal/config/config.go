// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Load layers a YAML file and the environment over the defaults.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"context"
	"fmt"
	"regexp"
	"runtime"
	"time"

	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/internal/domain/rules"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// StoreDriver selects the match store: memory or sqlite.
	StoreDriver string `koanf:"store_driver"`

	// StorePath is the SQLite database file (sqlite driver only).
	StorePath string `koanf:"store_path"`

	// QueueSize bounds the change-notice queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of change dispatch workers.
	WorkerCount int `koanf:"worker_count"`

	// AutoAdvance finalizes a set and opens the next one in the same write
	// as the set-winning point.
	AutoAdvance bool `koanf:"auto_advance"`

	// WriteAttempts bounds re-fetch-and-retry on version conflicts.
	WriteAttempts int `koanf:"write_attempts"`

	// StoreRetryAttempts bounds retries of unavailable-store errors.
	StoreRetryAttempts int `koanf:"store_retry_attempts"`

	// RetryInitialMS and RetryMaxMS shape the exponential store backoff.
	RetryInitialMS int `koanf:"retry_initial_ms"`
	RetryMaxMS     int `koanf:"retry_max_ms"`

	// ViewerMinIntervalMS is the debounce floor between viewer refreshes.
	ViewerMinIntervalMS int `koanf:"viewer_min_interval_ms"`

	// LongPollMaxWaitMS caps GET /matches/{id}?wait=.
	LongPollMaxWaitMS int `koanf:"long_poll_max_wait_ms"`

	// DefaultSport is used when a match is created without a sport.
	DefaultSport string `koanf:"default_sport"`

	// MetricsEnabled toggles recording of scoring metrics.
	MetricsEnabled bool `koanf:"metrics_enabled"`

	// MetricsNamespace prefixes every exported metric name.
	MetricsNamespace string `koanf:"metrics_namespace"`
}

var metricsNamespacePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:            "info",
		Addr:                ":9080",
		StoreDriver:         DriverMemory,
		StorePath:           "rally.db",
		QueueSize:           10_000,
		WorkerCount:         runtime.NumCPU(),
		AutoAdvance:         true,
		WriteAttempts:       5,
		StoreRetryAttempts:  4,
		RetryInitialMS:      20,
		RetryMaxMS:          500,
		ViewerMinIntervalMS: 1000,
		LongPollMaxWaitMS:   30_000,
		DefaultSport:        string(model.SportVolleyball),
		MetricsEnabled:      true,
		MetricsNamespace:    "rally",
	}
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.StoreDriver != DriverMemory && c.StoreDriver != DriverSQLite:
		return fmt.Errorf("%w: store_driver must be %q or %q, got %q", ErrInvalidConfig, DriverMemory, DriverSQLite, c.StoreDriver)
	case c.StoreDriver == DriverSQLite && c.StorePath == "":
		return fmt.Errorf("%w: store_path is required for the sqlite driver", ErrInvalidConfig)
	case c.QueueSize < 1:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.WorkerCount < 1:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.WriteAttempts < 1:
		return fmt.Errorf("%w: write_attempts must be at least 1", ErrInvalidConfig)
	case c.StoreRetryAttempts < 1:
		return fmt.Errorf("%w: store_retry_attempts must be at least 1", ErrInvalidConfig)
	case c.RetryInitialMS < 1 || c.RetryMaxMS < c.RetryInitialMS:
		return fmt.Errorf("%w: need 0 < retry_initial_ms <= retry_max_ms", ErrInvalidConfig)
	case c.ViewerMinIntervalMS < 1:
		return fmt.Errorf("%w: viewer_min_interval_ms must be positive", ErrInvalidConfig)
	case c.LongPollMaxWaitMS < 0:
		return fmt.Errorf("%w: long_poll_max_wait_ms must not be negative", ErrInvalidConfig)
	case !rules.Supported(model.Sport(c.DefaultSport)):
		return fmt.Errorf("%w: default_sport %q is not supported", ErrInvalidConfig, c.DefaultSport)
	case !metricsNamespacePattern.MatchString(c.MetricsNamespace):
		return fmt.Errorf("%w: metrics_namespace %q is not a valid metric name", ErrInvalidConfig, c.MetricsNamespace)
	}
	return nil
}

// RetryInitial returns RetryInitialMS as a duration.
func (c *Config) RetryInitial() time.Duration { return ms(c.RetryInitialMS) }

// RetryMax returns RetryMaxMS as a duration.
func (c *Config) RetryMax() time.Duration { return ms(c.RetryMaxMS) }

// ViewerMinInterval returns ViewerMinIntervalMS as a duration.
func (c *Config) ViewerMinInterval() time.Duration { return ms(c.ViewerMinIntervalMS) }

// LongPollMaxWait returns LongPollMaxWaitMS as a duration.
func (c *Config) LongPollMaxWait() time.Duration { return ms(c.LongPollMaxWaitMS) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
