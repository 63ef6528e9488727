// Package types contains the read shapes returned to callers of the match
// service: a fully materialized snapshot of one match.
package types

import (
	"time"

	"github.com/okian/rally/internal/domain/model"
)

// Match is the read shape of a match.
type Match struct {
	ID       string       `json:"id"`
	Sport    model.Sport  `json:"sport"`
	Category string       `json:"category,omitempty"`
	Home     model.Team   `json:"home"`
	Away     model.Team   `json:"away"`
	Status   model.Status `json:"status"`
	SetsWon  model.Score  `json:"sets_won"`
	Winner   model.Side   `json:"winner,omitempty"`
}

// Set is the read shape of a set.
type Set struct {
	Number int          `json:"number"`
	Score  model.Score  `json:"score"`
	Status model.Status `json:"status"`
	Winner model.Side   `json:"winner,omitempty"`
	// PointsToWin is the threshold that applies to this set.
	PointsToWin int `json:"points_to_win"`
}

// Event is the read shape of an event log entry.
type Event struct {
	Seq       int64           `json:"seq"`
	SetNumber int             `json:"set_number"`
	Kind      model.EventKind `json:"kind"`
	Side      model.Side      `json:"side"`
	Player    string          `json:"player,omitempty"`
	Delta     int             `json:"delta,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Usage counts resource consumption per side.
type Usage struct {
	Timeouts      model.Score `json:"timeouts"`
	Substitutions model.Score `json:"substitutions"`
}

// SetUsage is the usage attributed to one set.
type SetUsage struct {
	SetNumber int `json:"set_number"`
	Usage
}

// Highlight is one line of the chronological match feed.
type Highlight struct {
	Seq       int64     `json:"seq"`
	SetNumber int       `json:"set_number"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
}

// Snapshot is the fully materialized state of one match.
type Snapshot struct {
	Version    int64         `json:"version"`
	Match      Match         `json:"match"`
	Rules      model.RuleSet `json:"rules"`
	Sets       []Set         `json:"sets"`
	Usage      []SetUsage    `json:"usage"`
	MatchUsage Usage         `json:"match_usage"`
	Events     []Event       `json:"events"`
	Highlights []Highlight   `json:"highlights"`
}

// FromMatch converts a domain match.
func FromMatch(m model.Match) Match {
	return Match{
		ID:       m.ID,
		Sport:    m.Sport,
		Category: m.Category,
		Home:     m.Home,
		Away:     m.Away,
		Status:   m.Status,
		SetsWon:  m.SetsWon,
		Winner:   m.Winner,
	}
}

// FromSets converts domain sets, annotating each with its threshold.
func FromSets(rules model.RuleSet, sets []model.Set) []Set {
	out := make([]Set, len(sets))
	for i, s := range sets {
		out[i] = Set{
			Number:      s.Number,
			Score:       s.Score,
			Status:      s.Status,
			Winner:      s.Winner,
			PointsToWin: rules.PointsToWin(s.Number),
		}
	}
	return out
}

// FromEvents converts domain events.
func FromEvents(events []model.Event) []Event {
	out := make([]Event, len(events))
	for i, e := range events {
		out[i] = Event{
			Seq:       e.Seq,
			SetNumber: e.SetNumber,
			Kind:      e.Kind,
			Side:      e.Side,
			Player:    e.Player,
			Delta:     e.Delta,
			CreatedAt: e.CreatedAt,
		}
	}
	return out
}
