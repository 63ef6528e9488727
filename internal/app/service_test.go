package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/rally/internal/adapters/repository"
	service "github.com/okian/rally/internal/app"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/internal/domain/rules"
	"github.com/okian/rally/internal/domain/types"
	"github.com/okian/rally/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

type recordingSink struct {
	mu       sync.Mutex
	messages []service.Message
}

func (r *recordingSink) Deliver(_ context.Context, m service.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
}

func (r *recordingSink) last() service.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return service.Message{}
	}
	return r.messages[len(r.messages)-1]
}

func intp(v int) *int { return &v }

func startService(opts ...service.Option) *service.Service {
	opts = append([]service.Option{
		service.WithWorkerCount(2),
		service.WithRetryBackoff(time.Millisecond, 5*time.Millisecond),
	}, opts...)
	svc := service.New(opts...)
	So(svc.Start(context.Background()), ShouldBeNil)
	return svc
}

// score plays points for side until it has n more points in the current set.
func score(ctx context.Context, svc *service.Service, id string, side model.Side, n int) types.Snapshot {
	var snap types.Snapshot
	var err error
	for range n {
		snap, err = svc.ApplyPoint(ctx, id, side, 1)
		So(err, ShouldBeNil)
	}
	return snap
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New(service.WithWorkerCount(3), service.WithQueueSize(64))
		defer svc.Stop()

		Convey("When it is used before Start", func() {
			_, err := svc.Snapshot(context.Background(), "m1")

			Convey("Then it reports that it is not started", func() {
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})

		Convey("When starting the service", func() {
			So(svc.Start(context.Background()), ShouldBeNil)
			So(svc.Start(context.Background()), ShouldBeNil)

			Convey("Then stats describe the running components", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, true)
				So(stats["workerCount"], ShouldEqual, 3)
				So(stats["queueSize"], ShouldEqual, 64)
				So(stats["matches"], ShouldEqual, 0)
			})

			Convey("And stopping twice is safe", func() {
				svc.Stop()
				svc.Stop()
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})
	})
}

func TestService_CreateMatch(t *testing.T) {
	Convey("Given a running service", t, func() {
		svc := startService()
		defer svc.Stop()
		ctx := context.Background()

		Convey("When a table-tennis match is created", func() {
			snap, err := svc.CreateMatch(ctx, service.CreateMatchRequest{
				Sport: model.SportTableTennis,
				Home:  model.Team{ID: "lin", Name: "Lin"},
				Away:  model.Team{ID: "ma", Name: "Ma"},
			})

			Convey("Then it starts at version 1 with one blank set", func() {
				So(err, ShouldBeNil)
				So(snap.Version, ShouldEqual, 1)
				So(snap.Match.Status, ShouldEqual, model.StatusNotStarted)
				So(snap.Rules.MaxTimeouts, ShouldEqual, 1)
				So(snap.Sets, ShouldHaveLength, 1)
				So(snap.Sets[0].Status, ShouldEqual, model.StatusNotStarted)
				So(snap.Sets[0].PointsToWin, ShouldEqual, 11)
				So(snap.Events, ShouldBeEmpty)
			})

			Convey("And it is listed", func() {
				list, err := svc.Matches(ctx, repository.MatchFilter{Status: model.StatusNotStarted})
				So(err, ShouldBeNil)
				So(list, ShouldHaveLength, 1)
				So(list[0].ID, ShouldEqual, snap.Match.ID)
			})
		})

		Convey("When the overrides are invalid", func() {
			_, err := svc.CreateMatch(ctx, service.CreateMatchRequest{
				Sport:     model.SportVolleyball,
				Overrides: rules.Overrides{TotalSets: intp(4), MinDifference: intp(0)},
			})

			Convey("Then every offending field is reported", func() {
				var verr *model.ValidationError
				So(errors.As(err, &verr), ShouldBeTrue)
				So(verr.Fields, ShouldHaveLength, 2)
				So(service.UserMessage(err), ShouldStartWith, "invalid rules: total_sets")
			})
		})

		Convey("When no sport or team names are given", func() {
			snap, err := svc.CreateMatch(ctx, service.CreateMatchRequest{})

			Convey("Then the defaults apply", func() {
				So(err, ShouldBeNil)
				So(snap.Match.Sport, ShouldEqual, model.SportVolleyball)
				So(snap.Match.Home.Name, ShouldEqual, "Home")
				So(snap.Match.Away.Name, ShouldEqual, "Away")
				So(snap.Match.Home.ID, ShouldNotEqual, snap.Match.Away.ID)
			})
		})

		Convey("When both sides name the same team", func() {
			_, err := svc.CreateMatch(ctx, service.CreateMatchRequest{
				Home: model.Team{ID: "x"}, Away: model.Team{ID: "x"},
			})
			So(errors.Is(err, model.ErrInvalidArgument), ShouldBeTrue)
		})
	})
}

func TestService_ScenarioA(t *testing.T) {
	Convey("Given a best-of-three volleyball match to 25, deciding set to 15, margin 2", t, func() {
		sink := &recordingSink{}
		svc := startService(service.WithMessageSink(sink))
		defer svc.Stop()
		ctx := context.Background()

		snap, err := svc.CreateMatch(ctx, service.CreateMatchRequest{
			Sport:     model.SportVolleyball,
			Home:      model.Team{ID: "a", Name: "Ajax"},
			Away:      model.Team{ID: "b", Name: "Boca"},
			Overrides: rules.Overrides{TotalSets: intp(3)},
		})
		So(err, ShouldBeNil)
		id := snap.Match.ID
		So(snap.Rules.PointsPerSet, ShouldEqual, 25)
		So(snap.Rules.PointsLastSet, ShouldEqual, 15)

		score(ctx, svc, id, model.SideHome, 24)
		snap = score(ctx, svc, id, model.SideAway, 24)

		Convey("When the score reaches 25-24", func() {
			snap = score(ctx, svc, id, model.SideHome, 1)

			Convey("Then the set is not finished", func() {
				So(snap.Sets[0].Score, ShouldResemble, model.Score{Home: 25, Away: 24})
				So(snap.Sets[0].Status, ShouldEqual, model.StatusInProgress)
				So(snap.Sets, ShouldHaveLength, 1)
			})

			Convey("And the next point makes it 26-24 and wins the set", func() {
				snap = score(ctx, svc, id, model.SideHome, 1)
				So(snap.Sets[0].Score, ShouldResemble, model.Score{Home: 26, Away: 24})
				So(snap.Sets[0].Status, ShouldEqual, model.StatusFinished)
				So(snap.Sets[0].Winner, ShouldEqual, model.SideHome)
				So(snap.Match.SetsWon, ShouldResemble, model.Score{Home: 1})
				So(snap.Match.Status, ShouldEqual, model.StatusInProgress)

				So(snap.Sets, ShouldHaveLength, 2)
				So(snap.Sets[1].Status, ShouldEqual, model.StatusNotStarted)
				So(snap.Sets[1].Score, ShouldResemble, model.Score{})

				So(sink.last().Level, ShouldEqual, service.LevelSuccess)
				So(sink.last().Text, ShouldEqual, "Ajax +1; set 1 won by Ajax")
				So(snap.Highlights[len(snap.Highlights)-1].Text, ShouldContainSubstring, "set 1 won by Ajax")
			})
		})

		Convey("When a point is removed", func() {
			snap, err := svc.ApplyPoint(ctx, id, model.SideAway, -1)

			Convey("Then the correction is logged as its own event", func() {
				So(err, ShouldBeNil)
				So(snap.Sets[0].Score, ShouldResemble, model.Score{Home: 24, Away: 23})
				last := snap.Events[len(snap.Events)-1]
				So(last.Kind, ShouldEqual, model.KindPoint)
				So(last.Delta, ShouldEqual, -1)
				So(last.Seq, ShouldEqual, 49)
			})
		})
	})
}

func TestService_ScenarioB(t *testing.T) {
	Convey("Given a table-tennis match with one timeout per set", t, func() {
		sink := &recordingSink{}
		svc := startService(service.WithMessageSink(sink))
		defer svc.Stop()
		ctx := context.Background()

		snap, err := svc.CreateMatch(ctx, service.CreateMatchRequest{Sport: model.SportTableTennis})
		So(err, ShouldBeNil)
		id := snap.Match.ID

		Convey("When A calls a timeout in set 1", func() {
			snap, err := svc.RequestTimeout(ctx, id, model.SideHome)

			Convey("Then it succeeds", func() {
				So(err, ShouldBeNil)
				So(snap.Usage[0].Timeouts, ShouldResemble, model.Score{Home: 1})
				So(snap.MatchUsage.Timeouts.Home, ShouldEqual, 1)
			})

			Convey("And a second timeout in set 1 exceeds the budget", func() {
				before, _ := svc.Snapshot(ctx, id)
				_, err := svc.RequestTimeout(ctx, id, model.SideHome)
				So(errors.Is(err, model.ErrBudgetExceeded), ShouldBeTrue)
				So(sink.last().Level, ShouldEqual, service.LevelError)
				So(sink.last().Text, ShouldEqual, "timeout budget exhausted for this set")

				after, _ := svc.Snapshot(ctx, id)
				So(after.Version, ShouldEqual, before.Version)
				So(after.Events, ShouldHaveLength, len(before.Events))
			})

			Convey("And A's timeout in set 2 succeeds", func() {
				snap := score(ctx, svc, id, model.SideHome, 11)
				So(snap.Sets[0].Status, ShouldEqual, model.StatusFinished)
				So(snap.Sets[1].Number, ShouldEqual, 2)

				snap, err := svc.RequestTimeout(ctx, id, model.SideHome)
				So(err, ShouldBeNil)
				So(snap.Usage[1].Timeouts.Home, ShouldEqual, 1)
				So(snap.MatchUsage.Timeouts.Home, ShouldEqual, 2)
			})
		})

		Convey("When A substitutes in set 1 and again in set 2", func() {
			_, err := svc.RequestSubstitution(ctx, id, model.SideHome, "p7")
			So(err, ShouldBeNil)
			score(ctx, svc, id, model.SideAway, 11)
			_, err = svc.RequestSubstitution(ctx, id, model.SideHome, "p8")

			Convey("Then the per-match substitution budget is spent", func() {
				So(errors.Is(err, model.ErrBudgetExceeded), ShouldBeTrue)
				So(service.UserMessage(err), ShouldEqual, "substitution budget exhausted for this match")
			})
		})
	})
}

func TestService_ScenarioC(t *testing.T) {
	Convey("Given a best-of-three volleyball match", t, func() {
		svc := startService()
		defer svc.Stop()
		ctx := context.Background()

		snap, err := svc.CreateMatch(ctx, service.CreateMatchRequest{
			Sport:     model.SportVolleyball,
			Overrides: rules.Overrides{TotalSets: intp(3)},
		})
		So(err, ShouldBeNil)
		id := snap.Match.ID

		Convey("When A wins set 1 and set 2", func() {
			score(ctx, svc, id, model.SideHome, 25)
			snap = score(ctx, svc, id, model.SideHome, 25)

			Convey("Then the match is finished with A as winner and no set 3", func() {
				So(snap.Match.Status, ShouldEqual, model.StatusFinished)
				So(snap.Match.Winner, ShouldEqual, model.SideHome)
				So(snap.Match.SetsWon, ShouldResemble, model.Score{Home: 2})
				So(snap.Sets, ShouldHaveLength, 2)
			})

			Convey("And another finalize is refused without creating a set", func() {
				_, err := svc.Advance(ctx, id)
				So(errors.Is(err, model.ErrMatchAlreadyDecided), ShouldBeTrue)
				So(errors.Is(err, model.ErrInvalidTransition), ShouldBeTrue)

				after, err := svc.Snapshot(ctx, id)
				So(err, ShouldBeNil)
				So(after.Sets, ShouldHaveLength, 2)
				So(after.Version, ShouldEqual, snap.Version)
			})

			Convey("And further points and timeouts are refused", func() {
				_, err := svc.ApplyPoint(ctx, id, model.SideAway, 1)
				So(errors.Is(err, model.ErrMatchAlreadyDecided), ShouldBeTrue)
				_, err = svc.RequestTimeout(ctx, id, model.SideAway)
				So(errors.Is(err, model.ErrMatchAlreadyDecided), ShouldBeTrue)
				So(service.UserMessage(err), ShouldEqual, "the match is already decided")
			})
		})
	})
}

func TestService_ManualAdvance(t *testing.T) {
	Convey("Given a service with auto-advance off", t, func() {
		svc := startService(service.WithAutoAdvance(false))
		defer svc.Stop()
		ctx := context.Background()

		snap, err := svc.CreateMatch(ctx, service.CreateMatchRequest{Sport: model.SportTableTennis})
		So(err, ShouldBeNil)
		id := snap.Match.ID

		Convey("When a set is won", func() {
			snap = score(ctx, svc, id, model.SideAway, 11)

			Convey("Then the finished set waits for an explicit advance", func() {
				So(snap.Sets, ShouldHaveLength, 1)
				So(snap.Sets[0].Winner, ShouldEqual, model.SideAway)
				So(snap.Match.SetsWon, ShouldResemble, model.Score{})

				_, err := svc.ApplyPoint(ctx, id, model.SideAway, 1)
				So(errors.Is(err, model.ErrSetFinished), ShouldBeTrue)
				So(service.UserMessage(err), ShouldEqual, "this set is already finished")
			})

			Convey("And Advance opens set 2", func() {
				snap, err := svc.Advance(ctx, id)
				So(err, ShouldBeNil)
				So(snap.Sets, ShouldHaveLength, 2)
				So(snap.Match.SetsWon, ShouldResemble, model.Score{Away: 1})

				_, err = svc.Advance(ctx, id)
				So(errors.Is(err, model.ErrInvalidTransition), ShouldBeTrue)
			})
		})

		Convey("When a point is removed from a blank set", func() {
			_, err := svc.ApplyPoint(ctx, id, model.SideHome, -1)

			Convey("Then the score cannot go negative", func() {
				So(errors.Is(err, model.ErrNegativeScore), ShouldBeTrue)
				So(service.UserMessage(err), ShouldEqual, "the score cannot go below zero")
			})
		})

		Convey("When the delta or side is malformed", func() {
			_, err := svc.ApplyPoint(ctx, id, model.SideHome, 2)
			So(errors.Is(err, model.ErrInvalidArgument), ShouldBeTrue)
			_, err = svc.RequestTimeout(ctx, id, model.Side("left"))
			So(errors.Is(err, model.ErrInvalidArgument), ShouldBeTrue)
		})
	})
}

func TestService_SetPeriod(t *testing.T) {
	Convey("Given a started volleyball match", t, func() {
		svc := startService()
		defer svc.Stop()
		ctx := context.Background()

		snap, err := svc.CreateMatch(ctx, service.CreateMatchRequest{Sport: model.SportBeachVolleyball})
		So(err, ShouldBeNil)
		id := snap.Match.ID
		score(ctx, svc, id, model.SideHome, 3)

		Convey("When the operator pauses it", func() {
			snap, err := svc.SetPeriod(ctx, id, model.StatusNotStarted)

			Convey("Then the match is not started and the next point resumes it", func() {
				So(err, ShouldBeNil)
				So(snap.Match.Status, ShouldEqual, model.StatusNotStarted)
				snap = score(ctx, svc, id, model.SideAway, 1)
				So(snap.Match.Status, ShouldEqual, model.StatusInProgress)
			})
		})

		Convey("When the operator sets the current status again", func() {
			before, _ := svc.Snapshot(ctx, id)
			snap, err := svc.SetPeriod(ctx, id, model.StatusInProgress)

			Convey("Then nothing is written", func() {
				So(err, ShouldBeNil)
				So(snap.Version, ShouldEqual, before.Version)
			})
		})

		Convey("When the operator finishes it without a majority", func() {
			_, err := svc.SetPeriod(ctx, id, model.StatusFinished)

			Convey("Then the override is refused", func() {
				So(errors.Is(err, model.ErrInvalidTransition), ShouldBeTrue)
			})
		})

		Convey("When the status is unknown", func() {
			_, err := svc.SetPeriod(ctx, id, model.Status("halftime"))
			So(errors.Is(err, model.ErrInvalidArgument), ShouldBeTrue)
		})
	})
}

func TestService_NotFound(t *testing.T) {
	Convey("Given a running service", t, func() {
		svc := startService()
		defer svc.Stop()

		Convey("Then operations on an unknown match report not found", func() {
			_, err := svc.ApplyPoint(context.Background(), "nope", model.SideHome, 1)
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
			_, err = svc.Snapshot(context.Background(), "nope")
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
			So(service.UserMessage(err), ShouldEqual, "match not found")
		})
	})
}

func TestUserMessage(t *testing.T) {
	Convey("Given errors of every kind", t, func() {
		cases := map[error]string{
			nil:                          "",
			model.ErrConcurrencyConflict: "the score could not be saved, please try again",
			model.ErrStoreUnavailable:    "the score could not be saved, please try again",
			model.ErrInvalidTransition:   "this action is not allowed now",
			service.ErrNotStarted:        "the scoring service is not running, please try again",
			errors.New("disk on fire"):   "something went wrong, please try again",
		}

		Convey("Then each maps to its operator text", func() {
			for err, want := range cases {
				So(service.UserMessage(err), ShouldEqual, want)
			}
		})
	})
}
