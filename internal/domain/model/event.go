// Package model contains domain models passed between layers.
package model

import "time"

// EventKind identifies what an event records.
type EventKind string

// Supported event kinds.
const (
	KindPoint        EventKind = "point"
	KindTimeout      EventKind = "timeout"
	KindSubstitution EventKind = "substitution"
)

// Valid reports whether k is one of the known kinds.
func (k EventKind) Valid() bool {
	switch k {
	case KindPoint, KindTimeout, KindSubstitution:
		return true
	}
	return false
}

// Event is an immutable record of a scoring or resource-use action.
// Events are append-only and ordered by Seq within a match.
type Event struct {
	ID        string    // unique id
	MatchID   string    // owning match
	Seq       int64     // 1-based position in the match log
	SetNumber int       // set the action targeted
	Kind      EventKind // point, timeout or substitution
	Side      Side      // acting side
	Player    string    // optional player reference
	Delta     int       // +1/-1 for point events, 0 otherwise
	CreatedAt time.Time // server time of acceptance
}

// Change signals that a match was modified. It carries no state the
// engine depends on; receivers refetch.
type Change struct {
	MatchID string
	Version int64
	At      time.Time
}
