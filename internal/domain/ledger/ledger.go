// Package ledger enforces timeout and substitution budgets. Usage is never
// stored: it is recounted from the event log on every request, so it can
// not drift from the history under concurrent writers.
package ledger

import (
	"fmt"
	"time"

	"github.com/okian/rally/internal/domain/eventlog"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/internal/domain/types"
)

// Stamp carries the identity assigned to a newly accepted event.
type Stamp struct {
	ID  string
	Seq int64
	At  time.Time
}

// TimeoutUsage counts timeouts taken by side in set number.
func TimeoutUsage(ix *eventlog.Index, side model.Side, number int) int {
	return ix.Count(model.KindTimeout, side, number)
}

// SubstitutionUsage counts substitutions by side within the budget scope
// of rules: the given set, or the whole match.
func SubstitutionUsage(rules model.RuleSet, ix *eventlog.Index, side model.Side, number int) int {
	if rules.SubstitutionScope == model.ScopeMatch {
		number = 0
	}
	return ix.Count(model.KindSubstitution, side, number)
}

// RequestTimeout returns the timeout event for side in the current set, or
// ErrBudgetExceeded when the per-set budget is spent.
func RequestTimeout(state model.MatchState, side model.Side, stamp Stamp) (model.Event, error) {
	set, err := openSet(state, side)
	if err != nil {
		return model.Event{}, err
	}
	ix := eventlog.NewIndex(state.Events)
	if used := TimeoutUsage(ix, side, set.Number); used >= state.Rules.MaxTimeouts {
		return model.Event{}, &model.BudgetError{
			Kind: model.KindTimeout, Side: side, Scope: model.ScopeSet,
			SetNumber: set.Number, Used: used, Max: state.Rules.MaxTimeouts,
		}
	}
	return newEvent(state, set, model.KindTimeout, side, "", stamp), nil
}

// RequestSubstitution returns the substitution event for side, or
// ErrBudgetExceeded when the budget of the configured scope is spent.
func RequestSubstitution(state model.MatchState, side model.Side, player string, stamp Stamp) (model.Event, error) {
	set, err := openSet(state, side)
	if err != nil {
		return model.Event{}, err
	}
	ix := eventlog.NewIndex(state.Events)
	if used := SubstitutionUsage(state.Rules, ix, side, set.Number); used >= state.Rules.MaxSubstitutions {
		return model.Event{}, &model.BudgetError{
			Kind: model.KindSubstitution, Side: side, Scope: state.Rules.SubstitutionScope,
			SetNumber: set.Number, Used: used, Max: state.Rules.MaxSubstitutions,
		}
	}
	return newEvent(state, set, model.KindSubstitution, side, player, stamp), nil
}

// Summarize returns usage per set and for the whole match.
func Summarize(state model.MatchState) ([]types.SetUsage, types.Usage) {
	ix := eventlog.NewIndex(state.Events)
	perSet := make([]types.SetUsage, 0, len(state.Sets))
	for _, s := range state.Sets {
		u := types.SetUsage{SetNumber: s.Number}
		for _, side := range model.Sides {
			u.Timeouts = u.Timeouts.With(side, ix.Count(model.KindTimeout, side, s.Number))
			u.Substitutions = u.Substitutions.With(side, ix.Count(model.KindSubstitution, side, s.Number))
		}
		perSet = append(perSet, u)
	}
	var total types.Usage
	for _, side := range model.Sides {
		total.Timeouts = total.Timeouts.With(side, ix.Count(model.KindTimeout, side, 0))
		total.Substitutions = total.Substitutions.With(side, ix.Count(model.KindSubstitution, side, 0))
	}
	return perSet, total
}

func openSet(state model.MatchState, side model.Side) (model.Set, error) {
	if !side.Valid() {
		return model.Set{}, fmt.Errorf("%w: unknown side %q", model.ErrInvalidArgument, side)
	}
	if state.Match.Status == model.StatusFinished {
		return model.Set{}, fmt.Errorf("match %s: %w", state.Match.ID, model.ErrMatchAlreadyDecided)
	}
	set, ok := state.CurrentSet()
	if !ok {
		return model.Set{}, fmt.Errorf("%w: match %s has no open set", model.ErrInvalidTransition, state.Match.ID)
	}
	if set.Finished() {
		return model.Set{}, fmt.Errorf("set %d: %w", set.Number, model.ErrSetFinished)
	}
	return set, nil
}

func newEvent(state model.MatchState, set model.Set, kind model.EventKind, side model.Side, player string, stamp Stamp) model.Event {
	return model.Event{
		ID:        stamp.ID,
		MatchID:   state.Match.ID,
		Seq:       stamp.Seq,
		SetNumber: set.Number,
		Kind:      kind,
		Side:      side,
		Player:    player,
		CreatedAt: stamp.At,
	}
}
