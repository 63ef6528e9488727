// Package lifecycle aggregates finished sets into the match result,
// detects match completion and opens the next set.
//
// The match tally is always recomputed from the set collection, never
// bumped incrementally, so the outcome is a pure function of persisted
// state and is safe under retries and replays.
package lifecycle

import (
	"fmt"

	"github.com/okian/rally/internal/domain/model"
)

// NewSetFunc builds an empty set for the given number. It lets callers
// control id generation.
type NewSetFunc func(number int) model.Set

// FirstSet returns set 1 of a freshly scheduled match.
func FirstSet(match model.Match, newSet NewSetFunc) model.Set {
	return blank(match, 1, newSet)
}

// Tally counts finished sets won per side.
func Tally(sets []model.Set) model.Score {
	var t model.Score
	for _, s := range sets {
		if s.Finished() && s.Winner.Valid() {
			t = t.With(s.Winner, t.Of(s.Winner)+1)
		}
	}
	return t
}

// Decided reports the side holding a strict majority of TotalSets.
func Decided(rules model.RuleSet, tally model.Score) (model.Side, bool) {
	for _, side := range model.Sides {
		if tally.Of(side) > rules.TotalSets/2 {
			return side, true
		}
	}
	return "", false
}

// PendingFinalize reports whether the latest set is finished and has not
// yet been folded into the match: the match is still open and no later set
// exists.
func PendingFinalize(match model.Match, sets []model.Set) bool {
	if match.Status == model.StatusFinished || len(sets) == 0 {
		return false
	}
	return sets[len(sets)-1].Finished()
}

// FinalizeAndAdvance folds the latest finished set into the match. When a
// side holds a strict majority the match finishes and no further set is
// created; otherwise the next set is returned with status not_started.
func FinalizeAndAdvance(rules model.RuleSet, match model.Match, sets []model.Set, newSet NewSetFunc) (model.Match, *model.Set, error) {
	if match.Status == model.StatusFinished {
		return match, nil, fmt.Errorf("match %s: %w", match.ID, model.ErrMatchAlreadyDecided)
	}
	if len(sets) == 0 {
		return match, nil, fmt.Errorf("%w: match %s has no sets", model.ErrInvalidTransition, match.ID)
	}
	last := sets[len(sets)-1]
	if !last.Finished() {
		return match, nil, fmt.Errorf("%w: set %d is not finished", model.ErrInvalidTransition, last.Number)
	}
	if err := checkSequence(sets); err != nil {
		return match, nil, err
	}

	out := match
	out.SetsWon = Tally(sets)
	if winner, ok := Decided(rules, out.SetsWon); ok {
		out.Status = model.StatusFinished
		out.Winner = winner
		return out, nil, nil
	}
	if last.Number >= rules.TotalSets {
		// Unreachable with an odd TotalSets: the deciding set always yields a majority.
		return match, nil, fmt.Errorf("%w: no set left after set %d", model.ErrInvalidTransition, last.Number)
	}

	out.Status = model.StatusInProgress
	next := blank(match, last.Number+1, newSet)
	return out, &next, nil
}

// Override applies an operator status override to the match. Finishing is
// accepted only when a side holds a strict majority of finished sets; a
// finished match is terminal.
func Override(rules model.RuleSet, match model.Match, sets []model.Set, status model.Status) (model.Match, error) {
	if match.Status == model.StatusFinished {
		return match, fmt.Errorf("match %s: %w", match.ID, model.ErrMatchAlreadyDecided)
	}
	out := match
	switch status {
	case model.StatusNotStarted, model.StatusInProgress:
		out.Status = status
	case model.StatusFinished:
		tally := Tally(sets)
		winner, ok := Decided(rules, tally)
		if !ok {
			return match, fmt.Errorf("%w: no side holds a majority of %d sets (%s)",
				model.ErrInvalidTransition, rules.TotalSets, tally)
		}
		out.SetsWon = tally
		out.Status = model.StatusFinished
		out.Winner = winner
	default:
		return match, fmt.Errorf("%w: unknown status %q", model.ErrInvalidArgument, status)
	}
	return out, nil
}

// Check verifies the structural invariants of a match state: sequential
// set numbers, at most one in-progress set, winners on finished sets and a
// match result consistent with the tally.
func Check(state model.MatchState) error {
	if err := checkSequence(state.Sets); err != nil {
		return err
	}
	inProgress := 0
	for _, s := range state.Sets {
		if s.Score.Home < 0 || s.Score.Away < 0 {
			return fmt.Errorf("%w: set %d has a negative score", model.ErrInvalidTransition, s.Number)
		}
		if s.Status == model.StatusInProgress {
			inProgress++
		}
		if s.Finished() != s.Winner.Valid() {
			return fmt.Errorf("%w: set %d winner does not match its status", model.ErrInvalidTransition, s.Number)
		}
	}
	if inProgress > 1 {
		return fmt.Errorf("%w: %d sets in progress", model.ErrInvalidTransition, inProgress)
	}
	_, decided := Decided(state.Rules, Tally(state.Sets))
	if state.Match.Status == model.StatusFinished && !decided {
		return fmt.Errorf("%w: match finished without a majority", model.ErrInvalidTransition)
	}
	return nil
}

func checkSequence(sets []model.Set) error {
	for i, s := range sets {
		if s.Number != i+1 {
			return fmt.Errorf("%w: set numbers are not sequential at position %d (got %d)",
				model.ErrInvalidTransition, i+1, s.Number)
		}
	}
	return nil
}

func blank(match model.Match, number int, newSet NewSetFunc) model.Set {
	s := model.Set{Number: number}
	if newSet != nil {
		s = newSet(number)
	}
	s.MatchID = match.ID
	s.Number = number
	s.Score = model.Score{}
	s.Status = model.StatusNotStarted
	s.Winner = ""
	return s
}
