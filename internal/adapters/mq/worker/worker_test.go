package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/rally/internal/adapters/mq/queue"
	"github.com/okian/rally/internal/adapters/mq/worker"
	"github.com/okian/rally/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

type recorder struct {
	mu   sync.Mutex
	seen []model.Change
	fail map[string]error
}

func newRecorder() *recorder { return &recorder{fail: make(map[string]error)} }

func (r *recorder) Dispatch(_ context.Context, c model.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.fail[c.MatchID]; ok {
		return err
	}
	r.seen = append(r.seen, c)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestWorker(t *testing.T) {
	convey.Convey("Given a worker draining an in-memory queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(16))
		rec := newRecorder()
		w := worker.NewInMemoryWorker(q, rec, worker.WithName("test"))
		ctx, cancel := context.WithCancel(context.Background())
		go w.Run(ctx)

		convey.Reset(func() {
			cancel()
			_ = q.Close()
		})

		convey.Convey("When change notices are enqueued", func() {
			for v := int64(1); v <= 3; v++ {
				convey.So(q.Enqueue(ctx, model.Change{MatchID: "m1", Version: v}), convey.ShouldBeTrue)
			}

			convey.Convey("Then each one reaches the dispatcher", func() {
				convey.So(waitFor(func() bool { return rec.count() == 3 }), convey.ShouldBeTrue)
				convey.So(q.Len(ctx), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When a dispatch fails", func() {
			rec.mu.Lock()
			rec.fail["bad"] = errors.New("boom")
			rec.mu.Unlock()
			convey.So(q.Enqueue(ctx, model.Change{MatchID: "bad", Version: 1}), convey.ShouldBeTrue)
			convey.So(q.Enqueue(ctx, model.Change{MatchID: "ok", Version: 1}), convey.ShouldBeTrue)

			convey.Convey("Then the worker keeps going", func() {
				convey.So(waitFor(func() bool { return rec.count() == 1 }), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the worker is shut down", func() {
			sctx, scancel := context.WithTimeout(context.Background(), time.Second)
			defer scancel()
			convey.So(w.Shutdown(sctx), convey.ShouldBeNil)

			convey.Convey("Then Run has returned and a second shutdown is harmless", func() {
				select {
				case <-w.Done():
				default:
					convey.So("worker still running", convey.ShouldBeEmpty)
				}
				convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
			})
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool of four workers", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(256))
		rec := newRecorder()
		p := worker.NewPool(4, q, rec)
		convey.So(p.Size(), convey.ShouldEqual, 4)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		p.Start(ctx)

		convey.Convey("When many notices are enqueued and the pool shuts down", func() {
			for v := int64(1); v <= 100; v++ {
				convey.So(q.Enqueue(ctx, model.Change{MatchID: "m", Version: v}), convey.ShouldBeTrue)
			}
			convey.So(p.Shutdown(context.Background()), convey.ShouldBeNil)

			convey.Convey("Then buffered notices are drained before exit", func() {
				convey.So(rec.count(), convey.ShouldEqual, 100)
				convey.So(p.Processed(), convey.ShouldEqual, 100)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the pool is stopped", func() {
			p.Stop()

			convey.Convey("Then Stop is idempotent", func() {
				p.Stop()
			})
		})
	})

	convey.Convey("Given a non-positive worker count", t, func() {
		p := worker.NewPool(0, queue.NewInMemoryQueue(), worker.DispatcherFunc(func(context.Context, model.Change) error { return nil }))

		convey.Convey("Then the pool falls back to one worker per CPU", func() {
			convey.So(p.Size(), convey.ShouldBeGreaterThan, 0)
		})
	})
}
