package rules_test

import (
	"errors"
	"testing"

	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/internal/domain/rules"
	. "github.com/smartystreets/goconvey/convey"
)

func intp(v int) *int { return &v }

func fieldNames(err error) []string {
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		return nil
	}
	out := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		out = append(out, f.Field)
	}
	return out
}

func TestDefaults(t *testing.T) {
	Convey("Given the supported sports", t, func() {
		Convey("Then every sport resolves to a valid default rule set", func() {
			for _, sport := range rules.Sports() {
				rs, err := rules.Defaults(sport)
				So(err, ShouldBeNil)
				So(rs.Sport, ShouldEqual, sport)
				So(rs.TotalSets%2, ShouldEqual, 1)
				So(rules.Check(rs), ShouldBeNil)
			}
		})

		Convey("Then volleyball plays best of five to 25 with a 15 point decider", func() {
			rs, err := rules.Defaults(model.SportVolleyball)
			So(err, ShouldBeNil)
			So(rs.TotalSets, ShouldEqual, 5)
			So(rs.PointsToWin(1), ShouldEqual, 25)
			So(rs.PointsToWin(5), ShouldEqual, 15)
			So(rs.SetsToWin(), ShouldEqual, 3)
			So(rs.SubstitutionScope, ShouldEqual, model.ScopeSet)
		})

		Convey("Then table tennis budgets substitutions per match", func() {
			rs, err := rules.Defaults(model.SportTableTennis)
			So(err, ShouldBeNil)
			So(rs.PointsPerSet, ShouldEqual, 11)
			So(rs.SubstitutionScope, ShouldEqual, model.ScopeMatch)
		})
	})
}

func TestResolve(t *testing.T) {
	Convey("Given operator overrides", t, func() {
		Convey("When they are within range", func() {
			rs, err := rules.Resolve(model.SportVolleyball, rules.Overrides{
				TotalSets:    intp(3),
				PointsPerSet: intp(21),
				MaxTimeouts:  intp(1),
			})

			Convey("Then they replace the defaults", func() {
				So(err, ShouldBeNil)
				So(rs.TotalSets, ShouldEqual, 3)
				So(rs.PointsPerSet, ShouldEqual, 21)
				So(rs.MaxTimeouts, ShouldEqual, 1)
				So(rs.PointsLastSet, ShouldEqual, 15)
			})
		})

		Convey("When several fields are out of range", func() {
			_, err := rules.Resolve(model.SportVolleyball, rules.Overrides{
				TotalSets:     intp(4),
				PointsPerSet:  intp(99),
				MinDifference: intp(0),
			})

			Convey("Then every offending field is reported at once", func() {
				So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
				So(fieldNames(err), ShouldResemble, []string{"total_sets", "points_per_set", "min_difference"})
			})
		})

		Convey("When an odd set count is outside the sport's options", func() {
			_, err := rules.Resolve(model.SportTableTennis, rules.Overrides{TotalSets: intp(3)})
			So(fieldNames(err), ShouldResemble, []string{"total_sets"})
		})

		Convey("When beach volleyball asks for substitutions", func() {
			_, err := rules.Resolve(model.SportBeachVolleyball, rules.Overrides{MaxSubstitutions: intp(1)})
			So(fieldNames(err), ShouldResemble, []string{"max_substitutions"})
		})

		Convey("When the sport is unknown", func() {
			_, err := rules.Resolve(model.Sport("curling"), rules.Overrides{})
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			So(fieldNames(err), ShouldResemble, []string{"sport"})
			So(rules.Supported("curling"), ShouldBeFalse)
		})
	})

	Convey("Given a stored rule set with a tampered scope", t, func() {
		rs, _ := rules.Defaults(model.SportVolleyball)
		rs.SubstitutionScope = model.ScopeMatch
		So(fieldNames(rules.Check(rs)), ShouldResemble, []string{"substitution_scope"})
	})
}
