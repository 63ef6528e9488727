package eventlog

import (
	"fmt"

	"github.com/okian/rally/internal/domain/lifecycle"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/internal/domain/scoring"
)

// Result is the match outcome rebuilt from the event log.
type Result struct {
	Sets    []model.Set // sets touched by point events, in order
	Tally   model.Score
	Winner  model.Side
	Decided bool
}

// Replay rebuilds set scores and the match tally by feeding every point
// event through the point engine and the set lifecycle, in log order.
func Replay(rules model.RuleSet, events []model.Event) (Result, error) {
	ordered := append([]model.Event(nil), events...)
	Order(ordered)

	match := model.Match{Status: model.StatusInProgress}
	var sets []model.Set
	for _, e := range ordered {
		if e.Kind != model.KindPoint {
			continue
		}
		if len(sets) == 0 {
			sets = append(sets, lifecycle.FirstSet(match, nil))
		}
		cur := sets[len(sets)-1]
		if e.SetNumber == cur.Number+1 && cur.Finished() {
			next, opened, err := lifecycle.FinalizeAndAdvance(rules, match, sets, nil)
			if err != nil {
				return Result{}, fmt.Errorf("replay seq %d: %w", e.Seq, err)
			}
			match = next
			if opened == nil {
				return Result{}, fmt.Errorf("replay seq %d: %w: point after match end", e.Seq, model.ErrInvalidTransition)
			}
			sets = append(sets, *opened)
			cur = *opened
		}
		if e.SetNumber != cur.Number {
			return Result{}, fmt.Errorf("replay seq %d: %w: point for set %d while set %d is current",
				e.Seq, model.ErrInvalidTransition, e.SetNumber, cur.Number)
		}
		applied, err := scoring.ApplyPoint(rules, cur, e.Side, e.Delta)
		if err != nil {
			return Result{}, fmt.Errorf("replay seq %d: %w", e.Seq, err)
		}
		sets[len(sets)-1] = applied
	}

	res := Result{Sets: sets, Tally: lifecycle.Tally(sets)}
	res.Winner, res.Decided = lifecycle.Decided(rules, res.Tally)
	return res, nil
}

// Verify replays the log of state and checks it reproduces the stored sets
// and match result. Stored sets beyond the replayed ones must be blank,
// not started sets.
func Verify(state model.MatchState) error {
	res, err := Replay(state.Rules, state.Events)
	if err != nil {
		return err
	}
	if len(res.Sets) > len(state.Sets) {
		return fmt.Errorf("replay produced %d sets, store has %d", len(res.Sets), len(state.Sets))
	}
	for i, r := range res.Sets {
		s := state.Sets[i]
		if r.Number != s.Number || r.Score != s.Score || r.Status != s.Status || r.Winner != s.Winner {
			return fmt.Errorf("set %d diverges: replay %s %s, store %s %s", s.Number, r.Score, r.Status, s.Score, s.Status)
		}
	}
	for _, s := range state.Sets[len(res.Sets):] {
		if s.Status != model.StatusNotStarted || s.Score != (model.Score{}) {
			return fmt.Errorf("set %d has no point events but is %s at %s", s.Number, s.Status, s.Score)
		}
	}
	finished := state.Match.Status == model.StatusFinished
	if !finished && res.Decided && lifecycle.PendingFinalize(state.Match, state.Sets) {
		return nil
	}
	if finished != res.Decided || (finished && state.Match.Winner != res.Winner) {
		return fmt.Errorf("match result diverges: replay decided=%t winner=%q, store %s winner=%q",
			res.Decided, res.Winner, state.Match.Status, state.Match.Winner)
	}
	return nil
}
