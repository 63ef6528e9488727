package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	Convey("Given the global logger", t, func() {
		Convey("When it is initialized", func() {
			So(Init(), ShouldBeNil)

			Convey("Then Get returns it", func() {
				So(Get(), ShouldNotBeNil)
				So(Sync(), ShouldBeNil)
			})
		})

		Convey("When the writer is nil", func() {
			So(InitWithWriter(nil), ShouldNotBeNil)
		})
	})
}

func TestLoggerOutput(t *testing.T) {
	Convey("Given a logger writing to a buffer", t, func() {
		var buf bytes.Buffer
		So(InitWithWriter(&buf), ShouldBeNil)
		So(SetLevelString("info"), ShouldBeNil)
		ctx := context.Background()

		Convey("When a named logger writes structured fields", func() {
			Named("service").Info(ctx, "point applied",
				String("match_id", "m1"),
				Int("set", 2),
				Int64("version", 7),
				Bool("finished", true),
				Duration("took", 3*time.Millisecond),
				Error(errors.New("boom")),
			)
			out := buf.String()

			Convey("Then every field and the caller appear", func() {
				So(out, ShouldContainSubstring, "msg=\"point applied\"")
				So(out, ShouldContainSubstring, "logger=service")
				So(out, ShouldContainSubstring, "match_id=m1")
				So(out, ShouldContainSubstring, "set=2")
				So(out, ShouldContainSubstring, "version=7")
				So(out, ShouldContainSubstring, "finished=true")
				So(out, ShouldContainSubstring, "took=3ms")
				So(out, ShouldContainSubstring, "error=boom")
				So(out, ShouldContainSubstring, "source=")
				So(out, ShouldContainSubstring, "logger_test.go")
			})
		})

		Convey("When debug is below the level", func() {
			Get().Debug(ctx, "hidden")
			So(buf.String(), ShouldNotContainSubstring, "hidden")

			Convey("Then lowering the level shows it", func() {
				So(SetLevelString("DEBUG"), ShouldBeNil)
				Get().Debug(ctx, "shown")
				So(buf.String(), ShouldContainSubstring, "shown")
				So(SetLevelString("info"), ShouldBeNil)
			})
		})

		Convey("When the level is unknown", func() {
			So(SetLevelString("loud"), ShouldNotBeNil)
		})

		Reset(func() {
			_ = Init()
		})
	})
}
