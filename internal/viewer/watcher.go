// Package viewer keeps a passive display of one match up to date.
//
// A Watcher refetches the match snapshot in a loop. Successful fetches are
// spaced by at least the minimum interval; failed fetches back off
// exponentially up to a cap. Fetchers may long-poll: they receive the last
// seen version and may block until the match moves past it.
package viewer

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/okian/rally/internal/domain/types"
	"github.com/okian/rally/pkg/logger"
	"github.com/okian/rally/pkg/metrics"
)

const (
	defaultMinInterval = time.Second
	defaultMaxBackoff  = 30 * time.Second
)

// Fetcher returns the current snapshot of a match. since is the last
// version the watcher has seen (0 before the first success).
type Fetcher interface {
	Fetch(ctx context.Context, matchID string, since int64) (types.Snapshot, error)
}

// FetchFunc adapts a function to Fetcher.
type FetchFunc func(ctx context.Context, matchID string, since int64) (types.Snapshot, error)

// Fetch calls f.
func (f FetchFunc) Fetch(ctx context.Context, matchID string, since int64) (types.Snapshot, error) {
	return f(ctx, matchID, since)
}

// Status describes the recent health of the watch loop.
type Status struct {
	Version             int64
	ConsecutiveFailures int
	LastError           string
	LastAttempt         time.Time
	LastSuccess         time.Time
}

// Watcher refreshes one match snapshot until stopped.
type Watcher struct {
	fetcher     Fetcher
	matchID     string
	minInterval time.Duration
	maxBackoff  time.Duration
	onUpdate    func(types.Snapshot)
	logger      logger.Logger

	startMu sync.Mutex
	started bool
	cancel  context.CancelFunc
	exited  chan struct{}

	mu     sync.RWMutex
	status Status
	latest types.Snapshot
}

// New creates a watcher for matchID.
func New(f Fetcher, matchID string, opts ...Option) *Watcher {
	w := &Watcher{
		fetcher:     f,
		matchID:     matchID,
		minInterval: defaultMinInterval,
		maxBackoff:  defaultMaxBackoff,
		logger:      logger.Get().Named("viewer"),
		exited:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.maxBackoff < w.minInterval {
		w.maxBackoff = w.minInterval
	}
	return w
}

// Start begins refreshing until ctx is cancelled or Stop is called.
// Calling Start more than once has no effect.
func (w *Watcher) Start(ctx context.Context) {
	w.startMu.Lock()
	defer w.startMu.Unlock()
	if w.started {
		return
	}
	w.started = true

	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)
}

// Stop cancels the loop, including an in-flight fetch, and waits for it to
// exit or for ctx to expire.
func (w *Watcher) Stop(ctx context.Context) error {
	w.startMu.Lock()
	started, cancel := w.started, w.cancel
	w.startMu.Unlock()
	if !started {
		return nil
	}
	cancel()

	select {
	case <-w.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Latest returns the most recent snapshot and whether one was fetched.
func (w *Watcher) Latest() (types.Snapshot, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.latest, !w.status.LastSuccess.IsZero()
}

// Status returns the current loop health.
func (w *Watcher) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.exited)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.minInterval
	bo.MaxInterval = w.maxBackoff
	bo.Reset()

	w.logger.Info(ctx, "watch started",
		logger.String("match_id", w.matchID),
		logger.Duration("min_interval", w.minInterval),
	)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(context.WithoutCancel(ctx), "watch stopped", logger.String("match_id", w.matchID))
			return
		case <-timer.C:
		}

		delay := w.minInterval
		if err := w.refresh(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			delay = max(bo.NextBackOff(), w.minInterval)
			w.logger.Warn(ctx, "refresh failed",
				logger.String("match_id", w.matchID),
				logger.Duration("retry_in", delay),
				logger.Error(err),
			)
		} else {
			bo.Reset()
		}
		timer.Reset(delay)
	}
}

func (w *Watcher) refresh(ctx context.Context) error {
	start := time.Now()
	w.mu.RLock()
	since := w.status.Version
	w.mu.RUnlock()

	snap, err := w.fetcher.Fetch(ctx, w.matchID, since)

	w.mu.Lock()
	w.status.LastAttempt = start
	if err != nil {
		w.status.ConsecutiveFailures++
		w.status.LastError = err.Error()
		w.mu.Unlock()
		metrics.RecordViewerRefresh("error")
		return err
	}
	changed := w.status.LastSuccess.IsZero() || snap.Version != w.status.Version
	w.status.ConsecutiveFailures = 0
	w.status.LastError = ""
	w.status.LastSuccess = time.Now()
	w.status.Version = snap.Version
	w.latest = snap
	w.mu.Unlock()

	if !changed {
		metrics.RecordViewerRefresh("unchanged")
		return nil
	}
	metrics.RecordViewerRefresh("updated")
	if w.onUpdate != nil {
		w.onUpdate(snap)
	}
	return nil
}
