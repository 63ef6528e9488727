package service

import (
	"time"

	"github.com/okian/rally/internal/adapters/repository"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the match store. The caller keeps ownership and closes it.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithWorkerCount sets the number of notification workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the change-notice queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithAutoAdvance controls whether a point that finishes a set also folds
// it into the match and opens the next set in the same write.
func WithAutoAdvance(enabled bool) Option {
	return func(s *Service) {
		s.autoAdvance = enabled
	}
}

// WithWriteAttempts bounds how often a write is retried after an
// optimistic-concurrency conflict.
func WithWriteAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.writeAttempts = n
		}
	}
}

// WithStoreRetries bounds how often an operation is retried after the
// store reported itself unavailable.
func WithStoreRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.storeAttempts = n
		}
	}
}

// WithRetryBackoff sets the exponential backoff bounds between retries.
func WithRetryBackoff(initial, maxInterval time.Duration) Option {
	return func(s *Service) {
		if initial > 0 && maxInterval >= initial {
			s.retryInitial = initial
			s.retryMax = maxInterval
		}
	}
}

// WithLongPollMax caps how long WaitForChange blocks.
func WithLongPollMax(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.longPollMax = d
		}
	}
}

// WithDefaultSport sets the sport used when a create request names none.
func WithDefaultSport(sport model.Sport) Option {
	return func(s *Service) {
		if sport != "" {
			s.defaultSport = sport
		}
	}
}

// WithClock sets the time source for event and match timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator sets the id source for matches, sets and events.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// WithMessageSink sets where operator messages are delivered.
func WithMessageSink(sink MessageSink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
