package api

import (
	"net/http"

	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/internal/domain/types"
)

type pointRequest struct {
	Side  string `json:"side"`
	Delta int    `json:"delta"`
}

type sideRequest struct {
	Side   string `json:"side"`
	Player string `json:"player,omitempty"`
}

type periodRequest struct {
	Status string `json:"status"`
}

// ActionsHandler serves the mutating match routes. Every action answers
// with the full snapshot after the write.
type ActionsHandler struct {
	deps Dependencies
}

// NewActionsHandler creates a new actions handler.
func NewActionsHandler(deps Dependencies) *ActionsHandler {
	return &ActionsHandler{deps: deps}
}

// HandlePoint handles POST /matches/{id}/points. A missing delta adds a point.
func (h *ActionsHandler) HandlePoint(w http.ResponseWriter, r *http.Request) {
	const op = "api.apply_point"
	var req pointRequest
	if err := decode(op, r, &req); err != nil {
		writeServiceError(w, op, err)
		return
	}
	side, err := model.ParseSide(req.Side)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	if req.Delta == 0 {
		req.Delta = 1
	}
	respond(w, op)(h.deps.ApplyPoint(r.Context(), r.PathValue("id"), side, req.Delta))
}

// HandleTimeout handles POST /matches/{id}/timeouts.
func (h *ActionsHandler) HandleTimeout(w http.ResponseWriter, r *http.Request) {
	const op = "api.request_timeout"
	var req sideRequest
	if err := decode(op, r, &req); err != nil {
		writeServiceError(w, op, err)
		return
	}
	side, err := model.ParseSide(req.Side)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	respond(w, op)(h.deps.RequestTimeout(r.Context(), r.PathValue("id"), side))
}

// HandleSubstitution handles POST /matches/{id}/substitutions.
func (h *ActionsHandler) HandleSubstitution(w http.ResponseWriter, r *http.Request) {
	const op = "api.request_substitution"
	var req sideRequest
	if err := decode(op, r, &req); err != nil {
		writeServiceError(w, op, err)
		return
	}
	side, err := model.ParseSide(req.Side)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	respond(w, op)(h.deps.RequestSubstitution(r.Context(), r.PathValue("id"), side, req.Player))
}

// HandlePeriod handles POST /matches/{id}/period.
func (h *ActionsHandler) HandlePeriod(w http.ResponseWriter, r *http.Request) {
	const op = "api.set_period"
	var req periodRequest
	if err := decode(op, r, &req); err != nil {
		writeServiceError(w, op, err)
		return
	}
	status, err := model.ParseStatus(req.Status)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	respond(w, op)(h.deps.SetPeriod(r.Context(), r.PathValue("id"), status))
}

// HandleAdvance handles POST /matches/{id}/advance.
func (h *ActionsHandler) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	const op = "api.advance"
	respond(w, op)(h.deps.Advance(r.Context(), r.PathValue("id")))
}

func respond(w http.ResponseWriter, op string) func(types.Snapshot, error) {
	return func(snap types.Snapshot, err error) {
		if err != nil {
			writeServiceError(w, op, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}
