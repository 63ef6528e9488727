package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/okian/rally/internal/adapters/repository"
	"github.com/okian/rally/internal/domain/ledger"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/pkg/logger"
	"github.com/okian/rally/pkg/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// mutateFunc computes the next state of a match. It receives a private copy
// of the loaded state and a stamper for new events. Returning the state
// unchanged and no events skips the write.
type mutateFunc func(state model.MatchState, stamp stamper) (model.MatchState, []model.Event, error)

// stamper hands out the identity of the i-th new event of one attempt.
type stamper func(i int) ledger.Stamp

// retrier tracks the separate budgets for conflicts and store failures.
type retrier struct {
	s           *Service
	op          string
	conflicts   int
	unavailable int
}

// classify turns err into a backoff decision: conflicts and store failures
// are retried within their budgets, everything else is permanent.
func (r *retrier) classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, model.ErrConcurrencyConflict):
		r.conflicts++
		metrics.RecordWriteConflict()
		if r.conflicts >= r.s.writeAttempts {
			return backoff.Permanent(err)
		}
		metrics.RecordWriteRetry("conflict")
		r.s.logger.Debug(ctx, "write conflict, retrying",
			logger.String("op", r.op), logger.Int("attempt", r.conflicts))
		return err
	case errors.Is(err, model.ErrStoreUnavailable):
		r.unavailable++
		if r.unavailable >= r.s.storeAttempts {
			return backoff.Permanent(err)
		}
		metrics.RecordWriteRetry("unavailable")
		r.s.logger.Warn(ctx, "store unavailable, retrying",
			logger.String("op", r.op), logger.Int("attempt", r.unavailable), logger.Error(err))
		return err
	default:
		return backoff.Permanent(err)
	}
}

func (s *Service) backoffPolicy() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryInitial
	bo.MaxInterval = s.retryMax
	return bo
}

// retry runs fn until it succeeds, fails permanently or a retry budget is
// spent. The last error is returned unwrapped.
func retry[T any](ctx context.Context, s *Service, op string, fn func() (T, error)) (T, error) {
	r := &retrier{s: s, op: op}
	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil {
			return v, r.classify(ctx, err)
		}
		return v, nil
	},
		backoff.WithBackOff(s.backoffPolicy()),
		backoff.WithMaxTries(uint(s.writeAttempts+s.storeAttempts)),
	)
}

// span starts a trace span for op and returns a func that ends it with the
// outcome and records the operation metric.
func (s *Service) span(ctx context.Context, op, matchID string) (context.Context, func(error)) {
	start := time.Now()
	ctx, sp := s.tracer.Start(ctx, "scoring."+op,
		trace.WithAttributes(attribute.String("match.id", matchID)))
	return ctx, func(err error) {
		outcome := outcomeOf(err)
		if err != nil {
			sp.RecordError(err)
			sp.SetStatus(codes.Error, outcome)
		}
		sp.SetAttributes(attribute.String("outcome", outcome))
		sp.End()
		metrics.RecordOperation(op, outcome, float64(time.Since(start).Microseconds())/1000)
	}
}

// mutate is the single write path: load, compute, conditional commit,
// retry on conflict, publish. It returns the state before and after.
func (s *Service) mutate(ctx context.Context, op, matchID string, fn mutateFunc) (prev, next model.MatchState, err error) {
	ctx, end := s.span(ctx, op, matchID)
	defer func() { end(err) }()

	store, _, err := s.components()
	if err != nil {
		return prev, next, err
	}

	type result struct{ prev, next model.MatchState }
	res, err := retry(ctx, s, op, func() (result, error) {
		state, err := store.Load(ctx, matchID)
		if err != nil {
			return result{}, err
		}
		at := s.now()
		stamp := func(i int) ledger.Stamp {
			return ledger.Stamp{ID: s.newID(), Seq: state.LastSeq() + 1 + int64(i), At: at}
		}
		out, events, err := fn(state.Clone(), stamp)
		if err != nil {
			return result{}, err
		}
		if len(events) == 0 && out.Match == state.Match && slices.Equal(out.Sets, state.Sets) {
			return result{prev: state, next: state}, nil
		}
		out.Match.UpdatedAt = at

		version, err := store.Commit(ctx, repository.Commit{
			MatchID:         matchID,
			ExpectedVersion: state.Version,
			Match:           out.Match,
			Sets:            out.Sets,
			Events:          events,
		})
		if err != nil {
			return result{}, err
		}
		out.Events = append(state.Events, events...)
		out.Version = version
		return result{prev: state, next: out}, nil
	})
	if err != nil {
		if errors.Is(err, model.ErrBudgetExceeded) {
			metrics.RecordBudgetRejection(op)
		}
		s.logger.Debug(ctx, "operation rejected",
			logger.String("op", op), logger.String("match_id", matchID), logger.Error(err))
		return prev, next, fmt.Errorf("%s %s: %w", op, matchID, err)
	}

	if res.next.Version != res.prev.Version {
		s.observeTransition(res.prev, res.next)
		s.publish(ctx, res.next)
	}
	return res.prev, res.next, nil
}

// observeTransition records set and match completions caused by a write.
func (s *Service) observeTransition(prev, next model.MatchState) {
	finished := func(sets []model.Set) int {
		n := 0
		for _, set := range sets {
			if set.Finished() {
				n++
			}
		}
		return n
	}
	for range finished(next.Sets) - finished(prev.Sets) {
		metrics.RecordSetFinished()
	}
	if prev.Match.Status != model.StatusFinished && next.Match.Status == model.StatusFinished {
		metrics.RecordMatchFinished()
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrValidation):
		return "validation"
	case errors.Is(err, model.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, model.ErrBudgetExceeded):
		return "budget_exceeded"
	case errors.Is(err, model.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, model.ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, model.ErrStoreUnavailable):
		return "unavailable"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
