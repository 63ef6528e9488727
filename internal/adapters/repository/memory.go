package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/rally/internal/domain/eventlog"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/pkg/metrics"
)

const driverMemory = "memory"

// MemoryStore is an in-memory Store. Every write swaps the whole match
// state under the write lock, so a commit is atomic with respect to readers.
type MemoryStore struct {
	mu      sync.RWMutex
	matches map[string]*model.MatchState
	order   []string // match ids in creation order
	closed  bool

	metricsUpdateInterval time.Duration

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore constructs an in-memory store. A background goroutine
// refreshes the match gauges until Close or ctx is done.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		matches:               make(map[string]*model.MatchState),
		metricsUpdateInterval: 5 * time.Second,
		stopChan:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startMetricsUpdater(ctx)
	return s
}

// CreateMatch implements Store.
func (s *MemoryStore) CreateMatch(ctx context.Context, state model.MatchState) (model.MatchState, error) {
	defer observe("create_match", time.Now())
	if err := ctx.Err(); err != nil {
		return model.MatchState{}, err
	}
	if err := CheckNew(state); err != nil {
		return model.MatchState{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.MatchState{}, ErrClosed
	}
	if _, ok := s.matches[state.Match.ID]; ok {
		return model.MatchState{}, fmt.Errorf("%w: %s", ErrMatchExists, state.Match.ID)
	}
	stored := state.Clone()
	stored.Version = 1
	s.matches[stored.Match.ID] = &stored
	s.order = append(s.order, stored.Match.ID)
	return stored.Clone(), nil
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context, matchID string) (model.MatchState, error) {
	defer observe("load", time.Now())
	if err := ctx.Err(); err != nil {
		return model.MatchState{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.MatchState{}, ErrClosed
	}
	st, ok := s.matches[matchID]
	if !ok {
		return model.MatchState{}, fmt.Errorf("match %s: %w", matchID, ErrNotFound)
	}
	return st.Clone(), nil
}

// Commit implements Store.
func (s *MemoryStore) Commit(ctx context.Context, c Commit) (int64, error) {
	defer observe("commit", time.Now())
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	st, ok := s.matches[c.MatchID]
	if !ok {
		return 0, fmt.Errorf("match %s: %w", c.MatchID, ErrNotFound)
	}
	if st.Version != c.ExpectedVersion {
		metrics.RecordStoreError(driverMemory, "commit", "conflict")
		return 0, fmt.Errorf("match %s at version %d, expected %d: %w",
			c.MatchID, st.Version, c.ExpectedVersion, ErrConcurrencyConflict)
	}
	if err := CheckCommit(*st, c); err != nil {
		return 0, err
	}

	next := model.MatchState{
		Match:   c.Match,
		Rules:   st.Rules,
		Sets:    append([]model.Set(nil), c.Sets...),
		Events:  append(append([]model.Event(nil), st.Events...), c.Events...),
		Version: st.Version + 1,
	}
	s.matches[c.MatchID] = &next
	return next.Version, nil
}

// ListEvents implements Store.
func (s *MemoryStore) ListEvents(ctx context.Context, matchID string, f eventlog.Filter) ([]model.Event, error) {
	defer observe("list_events", time.Now())
	if err := f.Validate(); err != nil {
		return nil, err
	}
	st, err := s.Load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	return eventlog.Select(st.Events, f), nil
}

// ListMatches implements Store.
func (s *MemoryStore) ListMatches(ctx context.Context, f MatchFilter) ([]model.Match, error) {
	defer observe("list_matches", time.Now())
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]model.Match, 0, len(s.order))
	for _, id := range s.order {
		m := s.matches[id].Match
		if !f.Keep(m) {
			continue
		}
		out = append(out, m)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Count implements Store.
func (s *MemoryStore) Count(ctx context.Context) (Counts, error) {
	if err := ctx.Err(); err != nil {
		return Counts{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c Counts
	for _, st := range s.matches {
		c.Matches++
		c.Events += len(st.Events)
		if st.Match.Status != model.StatusFinished {
			c.Active++
		}
	}
	return c, nil
}

// Close stops the metrics goroutine. Later calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
	})
	s.wg.Wait()
	return nil
}

// startMetricsUpdater refreshes the match gauges periodically.
func (s *MemoryStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				if c, err := s.Count(ctx); err == nil {
					metrics.UpdateMatchCounts(c.Active, c.Matches)
				}
			}
		}
	}()
}

func observe(op string, start time.Time) {
	metrics.RecordStoreLatency(driverMemory, op, float64(time.Since(start).Microseconds())/1000)
}
