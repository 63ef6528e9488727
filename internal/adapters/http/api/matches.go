package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/okian/rally/internal/adapters/repository"
	service "github.com/okian/rally/internal/app"
	"github.com/okian/rally/internal/domain/eventlog"
	"github.com/okian/rally/internal/domain/model"
)

// Listing bounds.
const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// MatchesHandler serves match creation and the read routes.
type MatchesHandler struct {
	deps Dependencies
}

// NewMatchesHandler creates a new matches handler.
func NewMatchesHandler(deps Dependencies) *MatchesHandler {
	return &MatchesHandler{deps: deps}
}

// HandleCreate handles POST /matches.
func (h *MatchesHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_match"
	var req service.CreateMatchRequest
	if err := decode(op, r, &req); err != nil {
		writeServiceError(w, op, err)
		return
	}
	snap, err := h.deps.CreateMatch(r.Context(), req)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	w.Header().Set("Location", "/matches/"+snap.Match.ID)
	writeJSON(w, http.StatusCreated, snap)
}

// HandleList handles GET /matches?status=S&sport=S&limit=N.
func (h *MatchesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_matches"
	q := r.URL.Query()
	f := repository.MatchFilter{Sport: model.Sport(q.Get("sport")), Limit: defaultListLimit}
	if v := q.Get("status"); v != "" {
		status, err := model.ParseStatus(v)
		if err != nil {
			writeServiceError(w, op, err)
			return
		}
		f.Status = status
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxListLimit {
			writeServiceError(w, op, NewKind(op, ErrBadRequest))
			return
		}
		f.Limit = n
	}
	matches, err := h.deps.Matches(r.Context(), f)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

// HandleGet handles GET /matches/{id}. With since=V and wait=D it blocks
// until the match version exceeds V or D elapses.
func (h *MatchesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_match"
	id := r.PathValue("id")
	q := r.URL.Query()

	var since int64
	var wait time.Duration
	if v := q.Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeServiceError(w, op, WrapKind(op, ErrBadRequest, err))
			return
		}
		since = n
	}
	if v := q.Get("wait"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			writeServiceError(w, op, WrapKind(op, ErrBadRequest, err))
			return
		}
		wait = d
	}

	var err error
	var body any
	if wait > 0 {
		body, err = h.deps.WaitForChange(r.Context(), id, since, wait)
	} else {
		body, err = h.deps.Snapshot(r.Context(), id)
	}
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// HandleEvents handles GET /matches/{id}/events?set=N&side=S&kind=K,K&after=SEQ&limit=N.
func (h *MatchesHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	const op = "api.match_events"
	f, err := parseFilter(op, r)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	events, err := h.deps.Events(r.Context(), r.PathValue("id"), f)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func parseFilter(op string, r *http.Request) (eventlog.Filter, error) {
	q := r.URL.Query()
	var f eventlog.Filter
	ints := map[string]*int{"set": &f.SetNumber, "limit": &f.Limit}
	for key, dst := range ints {
		if v := q.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return f, WrapKind(op, ErrBadRequest, err)
			}
			*dst = n
		}
	}
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, WrapKind(op, ErrBadRequest, err)
		}
		f.AfterSeq = n
	}
	if v := q.Get("side"); v != "" {
		side, err := model.ParseSide(v)
		if err != nil {
			return f, err
		}
		f.Side = side
	}
	if v := q.Get("kind"); v != "" {
		for _, k := range strings.Split(v, ",") {
			f.Kinds = append(f.Kinds, model.EventKind(strings.TrimSpace(k)))
		}
	}
	return f, f.Validate()
}
