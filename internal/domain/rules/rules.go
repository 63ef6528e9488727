// Package rules resolves and validates the sport-specific numeric
// configuration of a match.
//
// Supported sports form a closed set: every sport has exactly one profile
// and profileFor switches over all of them. Adding a sport means adding a
// model.Sport constant, a profile and a case here.
package rules

import (
	"slices"

	"github.com/okian/rally/internal/domain/model"
)

// Overrides carries optional operator adjustments. Nil fields keep the
// sport default.
type Overrides struct {
	TotalSets        *int `json:"total_sets,omitempty"`
	PointsPerSet     *int `json:"points_per_set,omitempty"`
	PointsLastSet    *int `json:"points_last_set,omitempty"`
	MinDifference    *int `json:"min_difference,omitempty"`
	MaxTimeouts      *int `json:"max_timeouts,omitempty"`
	MaxSubstitutions *int `json:"max_substitutions,omitempty"`
}

// Range is an inclusive integer bound.
type Range struct {
	Min int
	Max int
}

func (r Range) contains(v int) bool { return v >= r.Min && v <= r.Max }

type profile struct {
	totalSets         []int
	defaultTotalSets  int
	pointsPerSet      Range
	defaultPoints     int
	pointsLastSet     Range
	defaultLastPoints int
	minDifference     Range
	defaultMinDiff    int
	timeouts          Range
	defaultTimeouts   int
	substitutions     Range
	defaultSubs       int
	substitutionScope model.Scope
}

var (
	volleyball = profile{
		totalSets:         []int{3, 5},
		defaultTotalSets:  5,
		pointsPerSet:      Range{Min: 15, Max: 30},
		defaultPoints:     25,
		pointsLastSet:     Range{Min: 10, Max: 30},
		defaultLastPoints: 15,
		minDifference:     Range{Min: 1, Max: 5},
		defaultMinDiff:    2,
		timeouts:          Range{Min: 0, Max: 3},
		defaultTimeouts:   2,
		substitutions:     Range{Min: 0, Max: 12},
		defaultSubs:       6,
		substitutionScope: model.ScopeSet,
	}
	beachVolleyball = profile{
		totalSets:         []int{1, 3},
		defaultTotalSets:  3,
		pointsPerSet:      Range{Min: 15, Max: 25},
		defaultPoints:     21,
		pointsLastSet:     Range{Min: 10, Max: 21},
		defaultLastPoints: 15,
		minDifference:     Range{Min: 1, Max: 5},
		defaultMinDiff:    2,
		timeouts:          Range{Min: 0, Max: 2},
		defaultTimeouts:   1,
		substitutions:     Range{Min: 0, Max: 0},
		defaultSubs:       0,
		substitutionScope: model.ScopeSet,
	}
	tableTennis = profile{
		totalSets:         []int{5, 7, 9},
		defaultTotalSets:  5,
		pointsPerSet:      Range{Min: 11, Max: 21},
		defaultPoints:     11,
		pointsLastSet:     Range{Min: 11, Max: 21},
		defaultLastPoints: 11,
		minDifference:     Range{Min: 1, Max: 5},
		defaultMinDiff:    2,
		timeouts:          Range{Min: 0, Max: 2},
		defaultTimeouts:   1,
		substitutions:     Range{Min: 0, Max: 2},
		defaultSubs:       1,
		substitutionScope: model.ScopeMatch,
	}
)

func profileFor(sport model.Sport) (profile, bool) {
	switch sport {
	case model.SportVolleyball:
		return volleyball, true
	case model.SportBeachVolleyball:
		return beachVolleyball, true
	case model.SportTableTennis:
		return tableTennis, true
	}
	return profile{}, false
}

// Sports lists the supported sports.
func Sports() []model.Sport {
	return []model.Sport{model.SportVolleyball, model.SportBeachVolleyball, model.SportTableTennis}
}

// Supported reports whether sport has a profile.
func Supported(sport model.Sport) bool {
	_, ok := profileFor(sport)
	return ok
}

// Defaults returns the unmodified RuleSet of sport.
func Defaults(sport model.Sport) (model.RuleSet, error) {
	return Resolve(sport, Overrides{})
}

// Resolve applies overrides to the sport defaults and validates the result.
// All checks run before anything is accepted; the returned
// *model.ValidationError lists every offending field.
func Resolve(sport model.Sport, o Overrides) (model.RuleSet, error) {
	p, ok := profileFor(sport)
	if !ok {
		verr := &model.ValidationError{}
		verr.Add("sport", "unsupported sport %q", sport)
		return model.RuleSet{}, verr
	}

	rs := model.RuleSet{
		Sport:             sport,
		TotalSets:         pick(o.TotalSets, p.defaultTotalSets),
		PointsPerSet:      pick(o.PointsPerSet, p.defaultPoints),
		PointsLastSet:     pick(o.PointsLastSet, p.defaultLastPoints),
		MinDifference:     pick(o.MinDifference, p.defaultMinDiff),
		MaxTimeouts:       pick(o.MaxTimeouts, p.defaultTimeouts),
		MaxSubstitutions:  pick(o.MaxSubstitutions, p.defaultSubs),
		SubstitutionScope: p.substitutionScope,
	}

	verr := &model.ValidationError{}
	if rs.TotalSets%2 == 0 {
		verr.Add("total_sets", "must be odd, got %d", rs.TotalSets)
	} else if !slices.Contains(p.totalSets, rs.TotalSets) {
		verr.Add("total_sets", "must be one of %v for %s, got %d", p.totalSets, sport, rs.TotalSets)
	}
	checkRange(verr, "points_per_set", rs.PointsPerSet, p.pointsPerSet)
	checkRange(verr, "points_last_set", rs.PointsLastSet, p.pointsLastSet)
	if rs.MinDifference < 1 {
		verr.Add("min_difference", "must be at least 1, got %d", rs.MinDifference)
	} else {
		checkRange(verr, "min_difference", rs.MinDifference, p.minDifference)
	}
	checkRange(verr, "max_timeouts", rs.MaxTimeouts, p.timeouts)
	checkRange(verr, "max_substitutions", rs.MaxSubstitutions, p.substitutions)

	if !verr.Empty() {
		return model.RuleSet{}, verr
	}
	return rs, nil
}

// Check re-validates an already resolved RuleSet, e.g. one loaded from
// storage.
func Check(rs model.RuleSet) error {
	resolved, err := Resolve(rs.Sport, Overrides{
		TotalSets:        &rs.TotalSets,
		PointsPerSet:     &rs.PointsPerSet,
		PointsLastSet:    &rs.PointsLastSet,
		MinDifference:    &rs.MinDifference,
		MaxTimeouts:      &rs.MaxTimeouts,
		MaxSubstitutions: &rs.MaxSubstitutions,
	})
	if err != nil {
		return err
	}
	if resolved.SubstitutionScope != rs.SubstitutionScope {
		verr := &model.ValidationError{}
		verr.Add("substitution_scope", "must be %q for %s", resolved.SubstitutionScope, rs.Sport)
		return verr
	}
	return nil
}

func pick(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func checkRange(verr *model.ValidationError, field string, v int, r Range) {
	if !r.contains(v) {
		verr.Add(field, "must be within [%d, %d], got %d", r.Min, r.Max, v)
	}
}
