package model

// Sport names a supported rule family. The set of sports is closed; see
// package rules for the per-sport profiles.
type Sport string

// Supported sports.
const (
	SportVolleyball      Sport = "volleyball"
	SportBeachVolleyball Sport = "beach_volleyball"
	SportTableTennis     Sport = "table_tennis"
)

// Scope selects the window a resource budget applies to.
type Scope string

// Budget scopes.
const (
	ScopeSet   Scope = "set"
	ScopeMatch Scope = "match"
)

// RuleSet is the validated numeric configuration of a match. It is
// immutable once the match has started.
type RuleSet struct {
	Sport             Sport `json:"sport"`
	TotalSets         int   `json:"total_sets"`
	PointsPerSet      int   `json:"points_per_set"`
	PointsLastSet     int   `json:"points_last_set"`
	MinDifference     int   `json:"min_difference"`
	MaxTimeouts       int   `json:"max_timeouts"`
	MaxSubstitutions  int   `json:"max_substitutions"`
	SubstitutionScope Scope `json:"substitution_scope"`
}

// IsDecidingSet reports whether number is the last possible set.
func (r RuleSet) IsDecidingSet(number int) bool { return number == r.TotalSets }

// PointsToWin returns the threshold for the given set number.
func (r RuleSet) PointsToWin(number int) int {
	if r.IsDecidingSet(number) && r.PointsLastSet > 0 {
		return r.PointsLastSet
	}
	return r.PointsPerSet
}

// SetsToWin returns the strict majority of TotalSets.
func (r RuleSet) SetsToWin() int { return r.TotalSets/2 + 1 }
