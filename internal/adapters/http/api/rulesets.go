package api

import (
	"net/http"
	"strconv"

	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/internal/domain/rules"
)

// RulesHandler resolves rule sets without creating a match.
type RulesHandler struct {
	deps Dependencies
}

// NewRulesHandler creates a new rules handler.
func NewRulesHandler(deps Dependencies) *RulesHandler {
	return &RulesHandler{deps: deps}
}

// HandleResolve handles GET /rulesets/{sport}. Query parameters named after
// the rule fields (total_sets, points_per_set, ...) override the defaults.
func (h *RulesHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	const op = "api.resolve_rules"
	var o rules.Overrides
	q := r.URL.Query()
	fields := []struct {
		key string
		dst **int
	}{
		{"total_sets", &o.TotalSets},
		{"points_per_set", &o.PointsPerSet},
		{"points_last_set", &o.PointsLastSet},
		{"min_difference", &o.MinDifference},
		{"max_timeouts", &o.MaxTimeouts},
		{"max_substitutions", &o.MaxSubstitutions},
	}
	for _, f := range fields {
		v := q.Get(f.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			writeServiceError(w, op, WrapKind(op, ErrBadRequest, err))
			return
		}
		*f.dst = &n
	}
	rs, err := h.deps.Resolve(model.Sport(r.PathValue("sport")), o)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}
