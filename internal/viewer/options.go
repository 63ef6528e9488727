package viewer

import (
	"time"

	"github.com/okian/rally/internal/domain/types"
	"github.com/okian/rally/pkg/logger"
)

// Option configures a Watcher.
type Option func(*Watcher)

// WithMinInterval sets the floor between two successful refreshes.
func WithMinInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.minInterval = d
		}
	}
}

// WithMaxBackoff caps the delay after repeated failures.
func WithMaxBackoff(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.maxBackoff = d
		}
	}
}

// WithOnUpdate registers a callback run from the watch loop whenever a
// fetched snapshot has a new version.
func WithOnUpdate(fn func(types.Snapshot)) Option {
	return func(w *Watcher) { w.onUpdate = fn }
}

// WithLogger sets the watcher logger.
func WithLogger(l logger.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}
