package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okian/rally/internal/adapters/notify"
	"github.com/okian/rally/internal/adapters/repository"
	"github.com/okian/rally/internal/domain/eventlog"
	"github.com/okian/rally/internal/domain/ledger"
	"github.com/okian/rally/internal/domain/lifecycle"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/internal/domain/rules"
	"github.com/okian/rally/internal/domain/scoring"
	"github.com/okian/rally/internal/domain/types"
	"github.com/okian/rally/pkg/logger"
	"github.com/okian/rally/pkg/metrics"
)

// CreateMatchRequest describes a match to schedule.
type CreateMatchRequest struct {
	Sport     model.Sport     `json:"sport"`
	Category  string          `json:"category,omitempty"`
	Home      model.Team      `json:"home"`
	Away      model.Team      `json:"away"`
	Overrides rules.Overrides `json:"rules"`
}

// CreateMatch resolves the rules and schedules a match with its first set.
func (s *Service) CreateMatch(ctx context.Context, req CreateMatchRequest) (snap types.Snapshot, err error) {
	ctx, end := s.span(ctx, "create_match", "")
	defer func() { end(err) }()

	store, _, err := s.components()
	if err != nil {
		return types.Snapshot{}, err
	}
	sport := req.Sport
	if sport == "" {
		sport = s.defaultSport
	}
	rs, err := rules.Resolve(sport, req.Overrides)
	if err != nil {
		return types.Snapshot{}, err
	}

	at := s.now()
	match := model.Match{
		ID:        s.newID(),
		Sport:     rs.Sport,
		Category:  strings.TrimSpace(req.Category),
		Home:      s.team(req.Home, "Home"),
		Away:      s.team(req.Away, "Away"),
		Status:    model.StatusNotStarted,
		CreatedAt: at,
		UpdatedAt: at,
	}
	if match.Home.ID == match.Away.ID {
		return types.Snapshot{}, fmt.Errorf("%w: home and away are the same team %q", model.ErrInvalidArgument, match.Home.ID)
	}
	state := model.MatchState{
		Match: match,
		Rules: rs,
		Sets:  []model.Set{lifecycle.FirstSet(match, s.newSet)},
	}

	created, err := retry(ctx, s, "create_match", func() (model.MatchState, error) {
		return store.CreateMatch(ctx, state)
	})
	if err != nil {
		return types.Snapshot{}, err
	}
	metrics.RecordMatchCreated()
	s.logger.Info(ctx, "match created",
		logger.String("match_id", created.Match.ID),
		logger.String("sport", string(rs.Sport)),
		logger.Int("total_sets", rs.TotalSets),
	)
	s.publish(ctx, created)
	return Snap(created), nil
}

func (s *Service) team(t model.Team, fallback string) model.Team {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		t.Name = fallback
	}
	if t.ID = strings.TrimSpace(t.ID); t.ID == "" {
		t.ID = s.newID()
	}
	return t
}

func (s *Service) newSet(int) model.Set {
	return model.Set{ID: s.newID()}
}

// ApplyPoint adds (+1) or removes (-1) a point for side in the current set.
// When the point finishes the set and auto-advance is on, the set is folded
// into the match in the same write.
func (s *Service) ApplyPoint(ctx context.Context, matchID string, side model.Side, delta int) (types.Snapshot, error) {
	prev, next, err := s.mutate(ctx, "apply_point", matchID, func(state model.MatchState, stamp stamper) (model.MatchState, []model.Event, error) {
		if state.Match.Status == model.StatusFinished {
			return state, nil, fmt.Errorf("match %s: %w", matchID, model.ErrMatchAlreadyDecided)
		}
		set, ok := state.CurrentSet()
		if !ok {
			return state, nil, fmt.Errorf("%w: match %s has no set", model.ErrInvalidTransition, matchID)
		}
		applied, err := scoring.ApplyPoint(state.Rules, set, side, delta)
		if err != nil {
			return state, nil, err
		}
		state.Sets[len(state.Sets)-1] = applied
		state.Match.Status = model.StatusInProgress

		st := stamp(0)
		ev := model.Event{
			ID:        st.ID,
			MatchID:   matchID,
			Seq:       st.Seq,
			SetNumber: set.Number,
			Kind:      model.KindPoint,
			Side:      side,
			Delta:     delta,
			CreatedAt: st.At,
		}
		if applied.Finished() && s.autoAdvance {
			if state, err = s.advance(state); err != nil {
				return state, nil, err
			}
		}
		return state, []model.Event{ev}, nil
	})
	if err != nil {
		s.notifyError(ctx, matchID, "apply_point", err)
		return types.Snapshot{}, err
	}
	metrics.RecordPointApplied(string(next.Rules.Sport), delta)

	text := fmt.Sprintf("%s %+d", next.Match.Team(side).Name, delta)
	if set, ok := setAfter(next, prev); ok {
		text += fmt.Sprintf("; set %d won by %s", set.Number, next.Match.Team(set.Winner).Name)
	}
	if next.Match.Status == model.StatusFinished {
		text += fmt.Sprintf("; match won by %s", next.Match.Team(next.Match.Winner).Name)
	}
	s.notifySuccess(ctx, matchID, "apply_point", text)
	return Snap(next), nil
}

// setAfter returns the set that finished between prev and next.
func setAfter(next, prev model.MatchState) (model.Set, bool) {
	for i, set := range next.Sets {
		if set.Finished() && (i >= len(prev.Sets) || !prev.Sets[i].Finished()) {
			return set, true
		}
	}
	return model.Set{}, false
}

// RequestTimeout records a timeout for side in the current set.
func (s *Service) RequestTimeout(ctx context.Context, matchID string, side model.Side) (types.Snapshot, error) {
	_, next, err := s.mutate(ctx, "timeout", matchID, func(state model.MatchState, stamp stamper) (model.MatchState, []model.Event, error) {
		ev, err := ledger.RequestTimeout(state, side, stamp(0))
		if err != nil {
			return state, nil, err
		}
		return state, []model.Event{ev}, nil
	})
	if err != nil {
		s.notifyError(ctx, matchID, "timeout", err)
		return types.Snapshot{}, err
	}
	s.notifySuccess(ctx, matchID, "timeout", "timeout "+next.Match.Team(side).Name)
	return Snap(next), nil
}

// RequestSubstitution records a substitution for side. player is optional.
func (s *Service) RequestSubstitution(ctx context.Context, matchID string, side model.Side, player string) (types.Snapshot, error) {
	_, next, err := s.mutate(ctx, "substitution", matchID, func(state model.MatchState, stamp stamper) (model.MatchState, []model.Event, error) {
		ev, err := ledger.RequestSubstitution(state, side, strings.TrimSpace(player), stamp(0))
		if err != nil {
			return state, nil, err
		}
		return state, []model.Event{ev}, nil
	})
	if err != nil {
		s.notifyError(ctx, matchID, "substitution", err)
		return types.Snapshot{}, err
	}
	s.notifySuccess(ctx, matchID, "substitution", "substitution "+next.Match.Team(side).Name)
	return Snap(next), nil
}

// SetPeriod applies an operator status override. Finishing requires a side
// to hold a majority of finished sets.
func (s *Service) SetPeriod(ctx context.Context, matchID string, status model.Status) (types.Snapshot, error) {
	_, next, err := s.mutate(ctx, "set_period", matchID, func(state model.MatchState, _ stamper) (model.MatchState, []model.Event, error) {
		match, err := lifecycle.Override(state.Rules, state.Match, state.Sets, status)
		if err != nil {
			return state, nil, err
		}
		state.Match = match
		return state, nil, nil
	})
	if err != nil {
		s.notifyError(ctx, matchID, "set_period", err)
		return types.Snapshot{}, err
	}
	s.notifySuccess(ctx, matchID, "set_period", "match "+string(next.Match.Status))
	return Snap(next), nil
}

// Advance folds the finished current set into the match and opens the next
// set, or finishes the match when a side holds the majority.
func (s *Service) Advance(ctx context.Context, matchID string) (types.Snapshot, error) {
	_, next, err := s.mutate(ctx, "advance", matchID, func(state model.MatchState, _ stamper) (model.MatchState, []model.Event, error) {
		out, err := s.advance(state)
		return out, nil, err
	})
	if err != nil {
		s.notifyError(ctx, matchID, "advance", err)
		return types.Snapshot{}, err
	}
	text := fmt.Sprintf("sets %s", next.Match.SetsWon)
	if set, ok := next.CurrentSet(); ok && !set.Finished() {
		text += fmt.Sprintf("; set %d ready", set.Number)
	}
	s.notifySuccess(ctx, matchID, "advance", text)
	return Snap(next), nil
}

func (s *Service) advance(state model.MatchState) (model.MatchState, error) {
	match, opened, err := lifecycle.FinalizeAndAdvance(state.Rules, state.Match, state.Sets, s.newSet)
	if err != nil {
		return state, err
	}
	state.Match = match
	if opened != nil {
		state.Sets = append(state.Sets, *opened)
	}
	return state, nil
}

// Snapshot returns the fully materialized state of a match.
func (s *Service) Snapshot(ctx context.Context, matchID string) (snap types.Snapshot, err error) {
	ctx, end := s.span(ctx, "snapshot", matchID)
	defer func() { end(err) }()

	store, _, err := s.components()
	if err != nil {
		return types.Snapshot{}, err
	}
	state, err := retry(ctx, s, "snapshot", func() (model.MatchState, error) {
		return store.Load(ctx, matchID)
	})
	if err != nil {
		return types.Snapshot{}, err
	}
	return Snap(state), nil
}

// WaitForChange returns the snapshot once its version is past since, or
// the current snapshot when wait elapses. wait is capped by the configured
// long-poll maximum; a non-positive wait returns at once.
func (s *Service) WaitForChange(ctx context.Context, matchID string, since int64, wait time.Duration) (types.Snapshot, error) {
	_, broker, err := s.components()
	if err != nil {
		return types.Snapshot{}, err
	}
	ch, cancel := broker.Subscribe(matchID)
	defer cancel()

	snap, err := s.Snapshot(ctx, matchID)
	if err != nil || snap.Version > since || wait <= 0 {
		return snap, err
	}

	wctx, stop := context.WithTimeout(ctx, min(wait, s.longPollMax))
	defer stop()
	if _, err := notify.WaitOn(wctx, ch, since); err != nil {
		if ctx.Err() != nil {
			return types.Snapshot{}, ctx.Err()
		}
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, notify.ErrClosed) {
			return types.Snapshot{}, err
		}
	}
	return s.Snapshot(ctx, matchID)
}

// Events returns the event log of a match passing f.
func (s *Service) Events(ctx context.Context, matchID string, f eventlog.Filter) (out []types.Event, err error) {
	ctx, end := s.span(ctx, "events", matchID)
	defer func() { end(err) }()

	store, _, err := s.components()
	if err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	events, err := retry(ctx, s, "events", func() ([]model.Event, error) {
		return store.ListEvents(ctx, matchID, f)
	})
	if err != nil {
		return nil, err
	}
	return types.FromEvents(events), nil
}

// Matches lists matches passing f.
func (s *Service) Matches(ctx context.Context, f repository.MatchFilter) (out []types.Match, err error) {
	ctx, end := s.span(ctx, "matches", "")
	defer func() { end(err) }()

	store, _, err := s.components()
	if err != nil {
		return nil, err
	}
	matches, err := retry(ctx, s, "matches", func() ([]model.Match, error) {
		return store.ListMatches(ctx, f)
	})
	if err != nil {
		return nil, err
	}
	out = make([]types.Match, len(matches))
	for i, m := range matches {
		out[i] = types.FromMatch(m)
	}
	return out, nil
}

// Resolve returns the rules a match of sport with overrides o would use.
func (s *Service) Resolve(sport model.Sport, o rules.Overrides) (model.RuleSet, error) {
	if sport == "" {
		sport = s.defaultSport
	}
	return rules.Resolve(sport, o)
}

// Snap materializes a match state into its read shape.
func Snap(state model.MatchState) types.Snapshot {
	perSet, total := ledger.Summarize(state)
	return types.Snapshot{
		Version:    state.Version,
		Match:      types.FromMatch(state.Match),
		Rules:      state.Rules,
		Sets:       types.FromSets(state.Rules, state.Sets),
		Usage:      perSet,
		MatchUsage: total,
		Events:     types.FromEvents(state.Events),
		Highlights: eventlog.Highlights(state.Match, state.Rules, state.Events),
	}
}
