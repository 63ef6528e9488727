// Package scoring is the point engine: it applies a point delta to a set
// and detects set completion against the match RuleSet.
//
// The engine never creates the next set. Advancing the match is a separate
// step (package lifecycle) so the moment a set ends is always observable.
package scoring

import (
	"fmt"

	"github.com/okian/rally/internal/domain/model"
)

// Point deltas accepted by ApplyPoint.
const (
	Add    = 1
	Remove = -1
)

// ApplyPoint returns set with delta applied to side. A not started set
// starts on its first point; a set that reaches the win condition is
// finished with its winner recorded.
func ApplyPoint(rules model.RuleSet, set model.Set, side model.Side, delta int) (model.Set, error) {
	if !side.Valid() {
		return set, fmt.Errorf("%w: unknown side %q", model.ErrInvalidArgument, side)
	}
	if delta != Add && delta != Remove {
		return set, fmt.Errorf("%w: delta must be +1 or -1, got %d", model.ErrInvalidArgument, delta)
	}
	if set.Finished() {
		return set, fmt.Errorf("set %d: %w", set.Number, model.ErrSetFinished)
	}

	next := set.Score.Of(side) + delta
	if next < 0 {
		return set, fmt.Errorf("set %d %s: %w", set.Number, side, model.ErrNegativeScore)
	}

	out := set
	out.Score = set.Score.With(side, next)
	if out.Status == model.StatusNotStarted {
		out.Status = model.StatusInProgress
	}
	if winner, ok := Winner(rules, out.Number, out.Score); ok {
		out.Status = model.StatusFinished
		out.Winner = winner
	}
	return out, nil
}

// Winner evaluates the win condition for both sides. At most one side can
// satisfy it because MinDifference is at least 1.
func Winner(rules model.RuleSet, number int, score model.Score) (model.Side, bool) {
	for _, side := range model.Sides {
		if Wins(rules, number, score, side) {
			return side, true
		}
	}
	return "", false
}

// Wins reports whether side has won set number with score: it reached the
// set threshold and leads by at least MinDifference.
func Wins(rules model.RuleSet, number int, score model.Score, side model.Side) bool {
	own := score.Of(side)
	other := score.Of(side.Opponent())
	return own >= rules.PointsToWin(number) && own-other >= rules.MinDifference
}
