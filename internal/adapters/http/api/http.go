// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/okian/rally/internal/adapters/repository"
	service "github.com/okian/rally/internal/app"
	"github.com/okian/rally/internal/domain/eventlog"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/internal/domain/rules"
	"github.com/okian/rally/internal/domain/types"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	CreateMatch(ctx context.Context, req service.CreateMatchRequest) (types.Snapshot, error)
	ApplyPoint(ctx context.Context, matchID string, side model.Side, delta int) (types.Snapshot, error)
	RequestTimeout(ctx context.Context, matchID string, side model.Side) (types.Snapshot, error)
	RequestSubstitution(ctx context.Context, matchID string, side model.Side, player string) (types.Snapshot, error)
	SetPeriod(ctx context.Context, matchID string, status model.Status) (types.Snapshot, error)
	Advance(ctx context.Context, matchID string) (types.Snapshot, error)

	// Read operations expose match state.
	Snapshot(ctx context.Context, matchID string) (types.Snapshot, error)
	WaitForChange(ctx context.Context, matchID string, since int64, wait time.Duration) (types.Snapshot, error)
	Events(ctx context.Context, matchID string, f eventlog.Filter) ([]types.Event, error)
	Matches(ctx context.Context, f repository.MatchFilter) ([]types.Match, error)
	Resolve(sport model.Sport, o rules.Overrides) (model.RuleSet, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	matchesHandler *MatchesHandler
	actionsHandler *ActionsHandler
	rulesHandler   *RulesHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(statsProvider),
		matchesHandler: NewMatchesHandler(deps),
		actionsHandler: NewActionsHandler(deps),
		rulesHandler:   NewRulesHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /matches", MetricsMiddleware(s.matchesHandler.HandleCreate, "create_match"))
	mux.HandleFunc("GET /matches", MetricsMiddleware(s.matchesHandler.HandleList, "list_matches"))
	mux.HandleFunc("GET /matches/{id}", MetricsMiddleware(s.matchesHandler.HandleGet, "get_match"))
	mux.HandleFunc("GET /matches/{id}/events", MetricsMiddleware(s.matchesHandler.HandleEvents, "match_events"))

	mux.HandleFunc("POST /matches/{id}/points", MetricsMiddleware(s.actionsHandler.HandlePoint, "points"))
	mux.HandleFunc("POST /matches/{id}/timeouts", MetricsMiddleware(s.actionsHandler.HandleTimeout, "timeouts"))
	mux.HandleFunc("POST /matches/{id}/substitutions", MetricsMiddleware(s.actionsHandler.HandleSubstitution, "substitutions"))
	mux.HandleFunc("POST /matches/{id}/period", MetricsMiddleware(s.actionsHandler.HandlePeriod, "period"))
	mux.HandleFunc("POST /matches/{id}/advance", MetricsMiddleware(s.actionsHandler.HandleAdvance, "advance"))

	mux.HandleFunc("GET /rulesets/{sport}", MetricsMiddleware(s.rulesHandler.HandleResolve, "rulesets"))
}

type errorResponse struct {
	Code    string             `json:"code"`
	Message string             `json:"message"`
	Fields  []model.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError maps a service error to its HTTP status. Rejections
// carry the operator message; transient failures a generic retry hint.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	status, code := classify(err)
	resp := errorResponse{Code: code, Message: service.UserMessage(err)}

	var verr *model.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}
	if code == "bad_request" {
		resp.Message = err.Error()
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if status == http.StatusInternalServerError {
		resp.Message = Wrap(op, ErrInternal).Error()
	}
	writeJSON(w, status, resp)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, model.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrBudgetExceeded):
		return http.StatusConflict, "budget_exceeded"
	case errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, model.ErrConcurrencyConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, model.ErrStoreUnavailable), errors.Is(err, service.ErrNotStarted):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(op string, r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return WrapKind(op, ErrBadRequest, err)
	}
	return nil
}
