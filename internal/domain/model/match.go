package model

import (
	"fmt"
	"strings"
	"time"
)

// Side identifies one of the two competitors of a match.
type Side string

// The two sides of a match.
const (
	SideHome Side = "home"
	SideAway Side = "away"
)

// Sides lists both sides in a stable order.
var Sides = [2]Side{SideHome, SideAway}

// Valid reports whether s names a side.
func (s Side) Valid() bool { return s == SideHome || s == SideAway }

// Opponent returns the other side.
func (s Side) Opponent() Side {
	if s == SideHome {
		return SideAway
	}
	return SideHome
}

// ParseSide parses a side name case-insensitively.
func ParseSide(v string) (Side, error) {
	s := Side(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown side %q", ErrInvalidArgument, v)
	}
	return s, nil
}

// Status is the lifecycle state shared by matches and sets.
type Status string

// Lifecycle states.
const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusFinished   Status = "finished"
)

// ParseStatus parses a status name.
func ParseStatus(v string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(v))); s {
	case StatusNotStarted, StatusInProgress, StatusFinished:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, v)
}

// Score holds a per-side integer counter (points or sets won).
type Score struct {
	Home int `json:"home"`
	Away int `json:"away"`
}

// Of returns the value for side.
func (s Score) Of(side Side) int {
	if side == SideHome {
		return s.Home
	}
	return s.Away
}

// With returns a copy with side set to v.
func (s Score) With(side Side, v int) Score {
	if side == SideHome {
		s.Home = v
	} else {
		s.Away = v
	}
	return s
}

func (s Score) String() string { return fmt.Sprintf("%d-%d", s.Home, s.Away) }

// Team identifies a competitor. Roster data lives elsewhere.
type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Match is the overall contest between two sides.
type Match struct {
	ID        string
	Sport     Sport
	Category  string
	Home      Team
	Away      Team
	Status    Status
	SetsWon   Score
	Winner    Side // empty until finished
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Team returns the team playing side.
func (m Match) Team(side Side) Team {
	if side == SideHome {
		return m.Home
	}
	return m.Away
}

// Set is a bounded sub-contest within a match.
type Set struct {
	ID      string
	MatchID string
	Number  int // 1-based, sequential
	Score   Score
	Status  Status
	Winner  Side // empty until finished
}

// Finished reports whether the set is terminal.
func (s Set) Finished() bool { return s.Status == StatusFinished }

// MatchState is the full persisted state of a match and the unit of
// optimistic concurrency: every write is conditional on Version.
type MatchState struct {
	Match   Match
	Rules   RuleSet
	Sets    []Set   // ordered by Number
	Events  []Event // ordered by Seq
	Version int64
}

// CurrentSet returns the highest-numbered set.
func (s MatchState) CurrentSet() (Set, bool) {
	if len(s.Sets) == 0 {
		return Set{}, false
	}
	return s.Sets[len(s.Sets)-1], true
}

// LastSeq returns the sequence number of the latest event, or 0.
func (s MatchState) LastSeq() int64 {
	if len(s.Events) == 0 {
		return 0
	}
	return s.Events[len(s.Events)-1].Seq
}

// Clone returns a deep copy safe to mutate.
func (s MatchState) Clone() MatchState {
	out := s
	out.Sets = append([]Set(nil), s.Sets...)
	out.Events = append([]Event(nil), s.Events...)
	return out
}
