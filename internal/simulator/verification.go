package simulator

import (
	"fmt"

	"github.com/okian/rally/internal/domain/eventlog"
	"github.com/okian/rally/internal/domain/lifecycle"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/internal/domain/scoring"
	"github.com/okian/rally/internal/domain/types"
)

// Verify checks a snapshot taken after play against the scoring rules and
// returns every problem found. An empty result means the match is sound:
// no negative score, every finished set won with the required margin, a
// winner only with a majority of sets, timeout and substitution budgets
// respected, and an event log that replays to the same sets.
func Verify(snap types.Snapshot) []string {
	var problems []string
	report := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	state := StateFromSnapshot(snap)
	rules := state.Rules

	for _, s := range snap.Sets {
		if s.Score.Home < 0 || s.Score.Away < 0 {
			report("set %d has a negative score %s", s.Number, s.Score)
		}
		if s.Status != model.StatusFinished {
			continue
		}
		if !scoring.Wins(rules, s.Number, s.Score, s.Winner) {
			report("set %d finished at %s without %q reaching %d with a %d point lead",
				s.Number, s.Score, s.Winner, rules.PointsToWin(s.Number), rules.MinDifference)
		}
	}

	if snap.Match.Status == model.StatusFinished {
		if won := snap.Match.SetsWon.Of(snap.Match.Winner); won < rules.SetsToWin() {
			report("match won by %q with %d sets, need %d", snap.Match.Winner, won, rules.SetsToWin())
		}
	}

	for _, u := range snap.Usage {
		for _, side := range model.Sides {
			if n := u.Timeouts.Of(side); n > rules.MaxTimeouts {
				report("set %d: %s used %d timeouts, max %d", u.SetNumber, side, n, rules.MaxTimeouts)
			}
			if n := u.Substitutions.Of(side); rules.SubstitutionScope == model.ScopeSet && n > rules.MaxSubstitutions {
				report("set %d: %s used %d substitutions, max %d", u.SetNumber, side, n, rules.MaxSubstitutions)
			}
		}
	}
	if rules.SubstitutionScope == model.ScopeMatch {
		for _, side := range model.Sides {
			if n := snap.MatchUsage.Substitutions.Of(side); n > rules.MaxSubstitutions {
				report("%s used %d substitutions in the match, max %d", side, n, rules.MaxSubstitutions)
			}
		}
	}

	for i, e := range snap.Events {
		if e.Seq != int64(i+1) {
			report("event log has a gap: position %d holds seq %d", i+1, e.Seq)
			break
		}
	}

	if err := lifecycle.Check(state); err != nil {
		report("structure: %v", err)
	}
	if err := eventlog.Verify(state); err != nil {
		report("replay: %v", err)
	}
	return problems
}

// StateFromSnapshot rebuilds the domain state carried by a snapshot.
func StateFromSnapshot(snap types.Snapshot) model.MatchState {
	state := model.MatchState{
		Match: model.Match{
			ID:       snap.Match.ID,
			Sport:    snap.Match.Sport,
			Category: snap.Match.Category,
			Home:     snap.Match.Home,
			Away:     snap.Match.Away,
			Status:   snap.Match.Status,
			SetsWon:  snap.Match.SetsWon,
			Winner:   snap.Match.Winner,
		},
		Rules:   snap.Rules,
		Version: snap.Version,
		Sets:    make([]model.Set, len(snap.Sets)),
		Events:  make([]model.Event, len(snap.Events)),
	}
	for i, s := range snap.Sets {
		state.Sets[i] = model.Set{
			MatchID: snap.Match.ID,
			Number:  s.Number,
			Score:   s.Score,
			Status:  s.Status,
			Winner:  s.Winner,
		}
	}
	for i, e := range snap.Events {
		state.Events[i] = model.Event{
			MatchID:   snap.Match.ID,
			Seq:       e.Seq,
			SetNumber: e.SetNumber,
			Kind:      e.Kind,
			Side:      e.Side,
			Player:    e.Player,
			Delta:     e.Delta,
			CreatedAt: e.CreatedAt,
		}
	}
	return state
}

func describe(snap types.Snapshot, problems []string) MatchReport {
	sets := make([]string, 0, len(snap.Sets))
	for _, s := range snap.Sets {
		sets = append(sets, s.Score.String())
	}
	return MatchReport{
		MatchID:  snap.Match.ID,
		Status:   snap.Match.Status,
		Winner:   snap.Match.Winner,
		SetsWon:  snap.Match.SetsWon,
		Sets:     sets,
		Events:   len(snap.Events),
		Version:  snap.Version,
		Problems: problems,
	}
}
