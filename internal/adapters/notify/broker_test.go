package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/rally/internal/adapters/notify"
	"github.com/okian/rally/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestBroker(t *testing.T) {
	Convey("Given a broker with a subscriber on m1", t, func() {
		b := notify.NewBroker()
		ch, cancel := b.Subscribe("m1")
		So(b.Subscribers(), ShouldEqual, 1)

		Reset(func() {
			cancel()
			_ = b.Close()
		})

		Convey("When a change for m1 is published", func() {
			n := b.Publish(model.Change{MatchID: "m1", Version: 2})

			Convey("Then the subscriber receives it", func() {
				So(n, ShouldEqual, 1)
				So((<-ch).Version, ShouldEqual, 2)
			})
		})

		Convey("When a change for another match is published", func() {
			So(b.Publish(model.Change{MatchID: "m2", Version: 9}), ShouldEqual, 0)

			Convey("Then nothing is pending", func() {
				So(len(ch), ShouldEqual, 0)
			})
		})

		Convey("When several changes arrive before the subscriber reads", func() {
			b.Publish(model.Change{MatchID: "m1", Version: 3})
			b.Publish(model.Change{MatchID: "m1", Version: 5})
			b.Publish(model.Change{MatchID: "m1", Version: 4})

			Convey("Then only the latest version is pending", func() {
				So(len(ch), ShouldEqual, 1)
				So((<-ch).Version, ShouldEqual, 5)
			})
		})

		Convey("When the subscription is cancelled twice", func() {
			cancel()
			cancel()

			Convey("Then the channel is closed and the count drops", func() {
				_, ok := <-ch
				So(ok, ShouldBeFalse)
				So(b.Subscribers(), ShouldEqual, 0)
			})
		})

		Convey("When the broker is closed", func() {
			So(b.Close(), ShouldBeNil)

			Convey("Then subscribers are released and dispatch fails", func() {
				_, ok := <-ch
				So(ok, ShouldBeFalse)
				err := b.Dispatch(context.Background(), model.Change{MatchID: "m1", Version: 1})
				So(errors.Is(err, notify.ErrClosed), ShouldBeTrue)

				late, _ := b.Subscribe("m1")
				_, ok = <-late
				So(ok, ShouldBeFalse)
			})
		})
	})
}

func TestWait(t *testing.T) {
	Convey("Given a broker", t, func() {
		b := notify.NewBroker()
		Reset(func() { _ = b.Close() })

		Convey("When a waiter expects a version newer than 3", func() {
			ch, cancel := b.Subscribe("m1")
			defer cancel()
			done := make(chan model.Change, 1)
			go func() {
				c, err := notify.WaitOn(context.Background(), ch, 3)
				if err == nil {
					done <- c
				}
			}()
			b.Publish(model.Change{MatchID: "m1", Version: 3})
			b.Publish(model.Change{MatchID: "m1", Version: 4})

			Convey("Then it wakes on version 4", func() {
				select {
				case c := <-done:
					So(c.Version, ShouldEqual, 4)
				case <-time.After(2 * time.Second):
					So("timed out", ShouldBeEmpty)
				}
			})
		})

		Convey("When nothing changes before the deadline", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			_, err := b.Wait(ctx, "m1", 0)

			Convey("Then the wait reports the deadline", func() {
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
				So(b.Subscribers(), ShouldEqual, 0)
			})
		})
	})
}
