package simulator

import (
	"sync/atomic"
	"time"

	"github.com/okian/rally/internal/domain/model"
)

// Defaults for a simulation run.
const (
	DefaultMatches      = 4
	DefaultScorekeepers = 3
	DefaultMaxActions   = 2000
	DefaultTimeout      = 10 * time.Second
	DefaultWait         = 5 * time.Second
	DefaultViewerRate   = 200 * time.Millisecond
)

// Config holds the parameters of a simulation run.
type Config struct {
	BaseURL      string        // base URL of the scoring service
	Sport        model.Sport   // sport for every created match; empty uses the server default
	Matches      int           // matches played concurrently
	Scorekeepers int           // concurrent scorekeepers per match
	MaxActions   int           // per-scorekeeper safety cap
	UndoRate     float64       // chance a scorekeeper undoes a point instead of scoring
	TimeoutRate  float64       // chance a scorekeeper calls a timeout
	SubRate      float64       // chance a scorekeeper records a substitution
	Timeout      time.Duration // HTTP request timeout
	ViewerRate   time.Duration // debounce floor of the per-match viewer
	OutputFile   string        // optional JSON report destination
	Verbose      bool
}

func (c *Config) withDefaults() {
	if c.Matches < 1 {
		c.Matches = DefaultMatches
	}
	if c.Scorekeepers < 1 {
		c.Scorekeepers = DefaultScorekeepers
	}
	if c.MaxActions < 1 {
		c.MaxActions = DefaultMaxActions
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ViewerRate <= 0 {
		c.ViewerRate = DefaultViewerRate
	}
}

// Stats counts scorekeeper requests by outcome.
type Stats struct {
	Submitted atomic.Int64
	Accepted  atomic.Int64
	Rejected  atomic.Int64 // 4xx business rejections, e.g. a spent timeout budget
	Conflicts atomic.Int64 // 409 conflict after the server exhausted its retries
	Failed    atomic.Int64 // transport errors and 5xx
}

// Report is the outcome of a simulation run.
type Report struct {
	Matches   []MatchReport `json:"matches"`
	Submitted int64         `json:"submitted"`
	Accepted  int64         `json:"accepted"`
	Rejected  int64         `json:"rejected"`
	Conflicts int64         `json:"conflicts"`
	Failed    int64         `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// MatchReport describes one simulated match after verification.
type MatchReport struct {
	MatchID string       `json:"match_id"`
	Status  model.Status `json:"status"`
	Winner  model.Side   `json:"winner,omitempty"`
	SetsWon model.Score  `json:"sets_won"`
	Sets    []string     `json:"sets"`
	Events  int          `json:"events"`
	Version int64        `json:"version"`
	// ViewerUpdates counts snapshots a live viewer received during play.
	ViewerUpdates int64    `json:"viewer_updates"`
	Problems      []string `json:"problems,omitempty"`
}

// OK reports whether every match verified cleanly.
func (r *Report) OK() bool {
	for _, m := range r.Matches {
		if len(m.Problems) > 0 {
			return false
		}
	}
	return true
}
