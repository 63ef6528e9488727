package simulator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/rally/internal/adapters/http/api"
	service "github.com/okian/rally/internal/app"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func startServer(ctx context.Context) (*httptest.Server, *service.Service) {
	svc := service.New(service.WithWorkerCount(2), service.WithQueueSize(256))
	So(svc.Start(ctx), ShouldBeNil)
	mux := http.NewServeMux()
	api.NewServer(svc, svc).Register(ctx, mux)
	return httptest.NewServer(mux), svc
}

func TestRun(t *testing.T) {
	Convey("Given a running scoring service", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		srv, svc := startServer(ctx)
		defer svc.Stop()
		defer srv.Close()

		Convey("When concurrent scorekeepers play table-tennis matches", func() {
			out := filepath.Join(t.TempDir(), "reports", "run.json")
			report, err := Run(ctx, Config{
				BaseURL:      srv.URL,
				Sport:        model.SportTableTennis,
				Matches:      2,
				Scorekeepers: 3,
				UndoRate:     0.05,
				TimeoutRate:  0.02,
				SubRate:      0.01,
				ViewerRate:   10 * time.Millisecond,
				OutputFile:   out,
			})

			Convey("Then every match finishes and verifies", func() {
				So(err, ShouldBeNil)
				So(report.OK(), ShouldBeTrue)
				So(report.Matches, ShouldHaveLength, 2)
				for _, m := range report.Matches {
					So(m.Status, ShouldEqual, model.StatusFinished)
					So(m.Winner, ShouldNotBeEmpty)
					So(m.SetsWon.Of(m.Winner), ShouldEqual, 3)
					So(m.Problems, ShouldBeEmpty)
					So(m.ViewerUpdates, ShouldBeGreaterThan, 0)
				}
				So(report.Accepted, ShouldBeGreaterThan, 0)
				So(report.Failed, ShouldEqual, 0)
				So(report.Submitted, ShouldEqual, report.Accepted+report.Rejected+report.Failed)
			})

			Convey("And the report is saved", func() {
				_, statErr := os.Stat(out)
				So(statErr, ShouldBeNil)
			})
		})
	})
}

func TestClient(t *testing.T) {
	Convey("Given a client against a live service", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv, svc := startServer(ctx)
		defer svc.Stop()
		defer srv.Close()
		client := NewClient(srv.URL, time.Second)

		snap, err := client.CreateMatch(ctx, MatchRequest{Sport: model.SportTableTennis})
		So(err, ShouldBeNil)
		id := snap.Match.ID

		Convey("When a point is removed from a 0-0 set", func() {
			_, err := client.Point(ctx, id, model.SideHome, -1)

			Convey("Then the 409 rejection is decoded", func() {
				So(IsStatus(err, http.StatusConflict), ShouldBeTrue)
				var apiErr *APIError
				So(errors.As(err, &apiErr), ShouldBeTrue)
				So(apiErr.Code, ShouldEqual, "invalid_transition")
				So(apiErr.Message, ShouldEqual, "the score cannot go below zero")
			})
		})

		Convey("When a timeout and a substitution are recorded", func() {
			_, err := client.Timeout(ctx, id, model.SideAway)
			So(err, ShouldBeNil)
			after, err := client.Substitution(ctx, id, model.SideAway, "p4")
			So(err, ShouldBeNil)

			Convey("Then the snapshot shows the usage", func() {
				So(after.Usage[0].Timeouts.Away, ShouldEqual, 1)
				So(after.MatchUsage.Substitutions.Away, ShouldEqual, 1)
				So(after.Version, ShouldEqual, 3)
			})
		})

		Convey("When the rules are resolved", func() {
			rs, err := client.Rules(ctx, model.SportBeachVolleyball)
			So(err, ShouldBeNil)
			So(rs.TotalSets, ShouldEqual, 3)
			So(rs.MaxSubstitutions, ShouldEqual, 0)
		})

		Convey("When fetching with a current version", func() {
			start := time.Now()
			client.wait = 50 * time.Millisecond
			got, err := client.Fetch(ctx, id, snap.Version)

			Convey("Then the long-poll returns the unchanged snapshot after the wait", func() {
				So(err, ShouldBeNil)
				So(got.Version, ShouldEqual, snap.Version)
				So(int64(time.Since(start)), ShouldBeGreaterThanOrEqualTo, int64(50*time.Millisecond))
			})
		})

		Convey("When the match does not exist", func() {
			_, err := client.Snapshot(ctx, "missing")
			So(IsStatus(err, http.StatusNotFound), ShouldBeTrue)
		})
	})

	Convey("Given a service that is briefly unavailable", t, func() {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) <= 2 {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"code":"unavailable","message":"try again"}`))
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		Convey("Then the client retries until it succeeds", func() {
			So(NewClient(srv.URL, time.Second).Health(context.Background()), ShouldBeNil)
			So(calls.Load(), ShouldEqual, 3)
		})
	})

	Convey("Given a service that stays unavailable", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		Convey("Then the client gives up with ErrUnavailable", func() {
			err := NewClient(srv.URL, time.Second).Health(context.Background())
			So(errors.Is(err, ErrUnavailable), ShouldBeTrue)
		})
	})
}

func finishedSnapshot() types.Snapshot {
	rs := model.RuleSet{
		Sport: model.SportTableTennis, TotalSets: 1, PointsPerSet: 3, MinDifference: 2,
		MaxTimeouts: 1, MaxSubstitutions: 1, SubstitutionScope: model.ScopeMatch,
	}
	snap := types.Snapshot{
		Version: 4,
		Rules:   rs,
		Match: types.Match{
			ID: "m1", Sport: rs.Sport, Status: model.StatusFinished,
			SetsWon: model.Score{Home: 1}, Winner: model.SideHome,
		},
		Sets:  []types.Set{{Number: 1, Score: model.Score{Home: 3}, Status: model.StatusFinished, Winner: model.SideHome, PointsToWin: 3}},
		Usage: []types.SetUsage{{SetNumber: 1}},
	}
	for i := 1; i <= 3; i++ {
		snap.Events = append(snap.Events, types.Event{Seq: int64(i), SetNumber: 1, Kind: model.KindPoint, Side: model.SideHome, Delta: 1})
	}
	return snap
}

func TestVerify(t *testing.T) {
	Convey("Given a sound finished match", t, func() {
		snap := finishedSnapshot()

		Convey("Then it verifies cleanly", func() {
			So(Verify(snap), ShouldBeEmpty)
		})

		Convey("When a set was won without the margin", func() {
			snap.Sets[0].Score = model.Score{Home: 3, Away: 2}
			So(Verify(snap), ShouldNotBeEmpty)
		})

		Convey("When a score is negative", func() {
			snap.Sets[0].Score = model.Score{Home: 3, Away: -1}
			So(Verify(snap), ShouldNotBeEmpty)
		})

		Convey("When the log disagrees with the stored sets", func() {
			snap.Events = snap.Events[:2]
			problems := Verify(snap)
			So(problems, ShouldNotBeEmpty)
			So(problems[len(problems)-1], ShouldStartWith, "replay:")
		})

		Convey("When the log has a gap", func() {
			snap.Events[2].Seq = 7
			So(Verify(snap), ShouldContain, "event log has a gap: position 3 holds seq 7")
		})

		Convey("When a side went over its timeout budget", func() {
			snap.Usage[0].Timeouts = model.Score{Away: 2}
			So(Verify(snap), ShouldContain, "set 1: away used 2 timeouts, max 1")
		})

		Convey("When a side went over its match substitution budget", func() {
			snap.MatchUsage.Substitutions = model.Score{Home: 2}
			So(Verify(snap), ShouldContain, "home used 2 substitutions in the match, max 1")
		})

		Convey("When the match is finished without a majority", func() {
			snap.Match.SetsWon = model.Score{}
			So(Verify(snap), ShouldNotBeEmpty)
		})
	})
}
