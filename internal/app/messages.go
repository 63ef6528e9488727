package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/pkg/logger"
)

// Message levels.
const (
	LevelSuccess = "success"
	LevelError   = "error"
)

// Message is an operator-facing notice about one operation.
type Message struct {
	Level   string `json:"level"`
	MatchID string `json:"match_id"`
	Op      string `json:"op"`
	Text    string `json:"text"`
}

// MessageSink receives operator messages.
type MessageSink interface {
	Deliver(ctx context.Context, m Message)
}

// LogSink writes messages to a logger.
type LogSink struct {
	Logger logger.Logger
}

// Deliver implements MessageSink.
func (s LogSink) Deliver(ctx context.Context, m Message) {
	fields := []logger.Field{
		logger.String("match_id", m.MatchID),
		logger.String("op", m.Op),
		logger.String("text", m.Text),
	}
	if m.Level == LevelError {
		s.Logger.Warn(ctx, "operator message", fields...)
		return
	}
	s.Logger.Info(ctx, "operator message", fields...)
}

func (s *Service) notifySuccess(ctx context.Context, matchID, op, text string) {
	s.sink.Deliver(ctx, Message{Level: LevelSuccess, MatchID: matchID, Op: op, Text: text})
}

func (s *Service) notifyError(ctx context.Context, matchID, op string, err error) {
	s.sink.Deliver(ctx, Message{Level: LevelError, MatchID: matchID, Op: op, Text: UserMessage(err)})
}

// UserMessage returns the operator-facing text for err. Rejections name
// the rule that was hit; transient failures ask the operator to try again.
func UserMessage(err error) string {
	var verr *model.ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		parts := make([]string, 0, len(verr.Fields))
		for _, f := range verr.Fields {
			parts = append(parts, f.Field+" "+f.Message)
		}
		return "invalid rules: " + strings.Join(parts, "; ")
	case errors.Is(err, model.ErrMatchAlreadyDecided):
		return "the match is already decided"
	case errors.Is(err, model.ErrSetFinished):
		return "this set is already finished"
	case errors.Is(err, model.ErrNegativeScore):
		return "the score cannot go below zero"
	case errors.Is(err, model.ErrBudgetExceeded):
		return budgetMessage(err)
	case errors.Is(err, model.ErrInvalidTransition):
		return "this action is not allowed now"
	case errors.Is(err, model.ErrInvalidArgument):
		return "invalid request: " + detail(err, model.ErrInvalidArgument)
	case errors.Is(err, model.ErrNotFound):
		return "match not found"
	case errors.Is(err, model.ErrConcurrencyConflict), errors.Is(err, model.ErrStoreUnavailable):
		return "the score could not be saved, please try again"
	case errors.Is(err, ErrNotStarted):
		return "the scoring service is not running, please try again"
	default:
		return "something went wrong, please try again"
	}
}

func budgetMessage(err error) string {
	var berr *model.BudgetError
	if !errors.As(err, &berr) {
		return "budget exhausted"
	}
	return fmt.Sprintf("%s budget exhausted for this %s", berr.Kind, berr.Scope)
}

// detail returns the text following kind in err's message.
func detail(err, kind error) string {
	msg := err.Error()
	if _, after, ok := strings.Cut(msg, kind.Error()+": "); ok {
		return after
	}
	return msg
}
