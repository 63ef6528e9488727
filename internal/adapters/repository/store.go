// Package repository defines the match store interface and its in-memory
// implementation. The SQLite implementation lives in the sqlite subpackage.
package repository

import (
	"context"
	"fmt"

	"github.com/okian/rally/internal/domain/eventlog"
	"github.com/okian/rally/internal/domain/model"
)

// Commit is one conditional write: it applies only when the stored version
// still equals ExpectedVersion. Sets is the full set collection after the
// write; Events are appended to the log.
type Commit struct {
	MatchID         string
	ExpectedVersion int64
	Match           model.Match
	Sets            []model.Set
	Events          []model.Event
}

// MatchFilter selects matches for listing. Zero fields match everything.
type MatchFilter struct {
	Status model.Status
	Sport  model.Sport
	Limit  int
}

// Counts summarizes the store contents.
type Counts struct {
	Matches int
	Active  int
	Events  int
}

// Store provides read/write access to match state and the event log.
type Store interface {
	// CreateMatch persists a new match with its rules and first set.
	// The stored state starts at version 1.
	CreateMatch(ctx context.Context, state model.MatchState) (model.MatchState, error)

	// Load returns the full state of a match with its current version.
	// Returns ErrNotFound if the match is unknown.
	Load(ctx context.Context, matchID string) (model.MatchState, error)

	// Commit applies c atomically and returns the new version. A stale
	// ExpectedVersion yields ErrConcurrencyConflict and changes nothing.
	Commit(ctx context.Context, c Commit) (int64, error)

	// ListEvents returns the events of a match passing f, ordered by sequence.
	ListEvents(ctx context.Context, matchID string, f eventlog.Filter) ([]model.Event, error)

	// ListMatches returns matches passing f, oldest first.
	ListMatches(ctx context.Context, f MatchFilter) ([]model.Match, error)

	// Count returns store totals.
	Count(ctx context.Context) (Counts, error)

	// Close releases resources.
	Close() error
}

// CheckCommit validates the shape of c against the current state before a
// store applies it. It does not check the version.
func CheckCommit(current model.MatchState, c Commit) error {
	if c.Match.ID != c.MatchID {
		return fmt.Errorf("%w: commit for %s carries match %s", ErrInvalidCommit, c.MatchID, c.Match.ID)
	}
	if len(c.Sets) < len(current.Sets) {
		return fmt.Errorf("%w: commit drops sets (%d < %d)", ErrInvalidCommit, len(c.Sets), len(current.Sets))
	}
	last := current.LastSeq()
	for _, e := range c.Events {
		if e.MatchID != c.MatchID {
			return fmt.Errorf("%w: event %s belongs to match %s", ErrInvalidCommit, e.ID, e.MatchID)
		}
		if !e.Kind.Valid() {
			return fmt.Errorf("%w: event %s has kind %q", ErrInvalidCommit, e.ID, e.Kind)
		}
		if e.Seq <= last {
			return fmt.Errorf("%w: event seq %d is not after %d", ErrConcurrencyConflict, e.Seq, last)
		}
		last = e.Seq
	}
	return nil
}

// CheckNew validates a state passed to CreateMatch.
func CheckNew(state model.MatchState) error {
	if state.Match.ID == "" {
		return fmt.Errorf("%w: match id is empty", ErrInvalidCommit)
	}
	if len(state.Events) > 0 {
		return fmt.Errorf("%w: a new match has no events", ErrInvalidCommit)
	}
	for i, s := range state.Sets {
		if s.Number != i+1 || s.MatchID != state.Match.ID {
			return fmt.Errorf("%w: set %d does not belong at position %d of %s", ErrInvalidCommit, s.Number, i+1, state.Match.ID)
		}
	}
	return nil
}

// Keep returns whether m passes f.
func (f MatchFilter) Keep(m model.Match) bool {
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	if f.Sport != "" && m.Sport != f.Sport {
		return false
	}
	return true
}
