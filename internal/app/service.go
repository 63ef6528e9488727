// Package service is the match scoring service: it loads a match, runs the
// domain engines against it and persists the result with one conditional
// write, then publishes a change notice for viewers.
package service

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	eventqueue "github.com/okian/rally/internal/adapters/mq/queue"
	workerpool "github.com/okian/rally/internal/adapters/mq/worker"
	"github.com/okian/rally/internal/adapters/notify"
	"github.com/okian/rally/internal/adapters/repository"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/pkg/logger"
	"github.com/okian/rally/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/okian/rally/internal/app"

// Service implements the match operations used by the HTTP API and tools.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	ownsStore  bool
	eventQueue *eventqueue.InMemoryQueue
	workerPool *workerpool.Pool
	broker     *notify.Broker
	sink       MessageSink

	// Configuration
	workerCount   int
	queueSize     int
	autoAdvance   bool
	writeAttempts int
	storeAttempts int
	retryInitial  time.Duration
	retryMax      time.Duration
	longPollMax   time.Duration
	defaultSport  model.Sport

	now    func() time.Time
	newID  func() string
	tracer trace.Tracer

	// State
	started bool
	cancel  context.CancelFunc

	logger logger.Logger
}

// New constructs a Service with default configuration. Components are
// created by Start.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:   runtime.NumCPU(),
		queueSize:     10_000,
		autoAdvance:   true,
		writeAttempts: 5,
		storeAttempts: 4,
		retryInitial:  20 * time.Millisecond,
		retryMax:      500 * time.Millisecond,
		longPollMax:   30 * time.Second,
		defaultSport:  model.SportVolleyball,
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
		tracer:        otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.sink == nil {
		s.sink = LogSink{Logger: s.logger}
	}
	return s
}

// Start initializes and starts the service components. It is a no-op when
// already started.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting match service...")

	if s.store == nil {
		s.store = repository.NewMemoryStore(ctx)
		s.ownsStore = true
		s.logger.Info(ctx, "using in-memory store")
	}
	s.broker = notify.NewBroker(notify.WithLogger(s.logger.Named("notify")))
	s.eventQueue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.workerPool = workerpool.NewPool(s.workerCount, s.eventQueue, s.broker)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.workerPool.Start(runCtx)

	s.started = true
	s.logger.Info(ctx, "match service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Bool("autoAdvance", s.autoAdvance),
		logger.Int("writeAttempts", s.writeAttempts),
	)
	return nil
}

// Stop drains pending change notices, releases viewers and closes a store
// the service created itself.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping match service...")

	if err := s.workerPool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown", logger.Error(err))
		s.workerPool.Stop()
	}
	s.cancel()
	_ = s.broker.Close()

	if s.ownsStore {
		if err := s.store.Close(); err != nil {
			s.logger.Error(ctx, "error closing store", logger.Error(err))
		}
		s.store = nil
		s.ownsStore = false
	}

	s.started = false
	s.logger.Info(ctx, "match service stopped")
}

// components returns the running store and broker.
func (s *Service) components() (repository.Store, *notify.Broker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, nil, ErrNotStarted
	}
	return s.store, s.broker, nil
}

// publish enqueues a change notice. A full queue drops it: viewers catch up
// on their next refresh.
func (s *Service) publish(ctx context.Context, state model.MatchState) {
	s.mu.RLock()
	q := s.eventQueue
	s.mu.RUnlock()
	if q == nil {
		return
	}
	c := model.Change{MatchID: state.Match.ID, Version: state.Version, At: s.now()}
	if err := q.Notify(ctx, c); err != nil {
		s.logger.Warn(ctx, "change notice dropped",
			logger.String("match_id", c.MatchID),
			logger.Int64("version", c.Version),
			logger.Error(err),
		)
	}
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]any{
		"started":       s.started,
		"workerCount":   s.workerCount,
		"queueSize":     s.queueSize,
		"autoAdvance":   s.autoAdvance,
		"writeAttempts": s.writeAttempts,
	}

	if s.started {
		queueLen := s.eventQueue.Len(ctx)
		stats["queueLength"] = queueLen
		stats["subscribers"] = s.broker.Subscribers()
		stats["notified"] = s.workerPool.Processed()

		if counts, err := s.store.Count(ctx); err == nil {
			stats["matches"] = counts.Matches
			stats["activeMatches"] = counts.Active
			stats["events"] = counts.Events
			metrics.UpdateMatchCounts(counts.Active, counts.Matches)
		} else {
			stats["storeError"] = err.Error()
		}
		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateWorkerCount(s.workerCount)
	}
	return stats
}
