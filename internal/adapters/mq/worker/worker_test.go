package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/beatkit/tempo/internal/adapters/mq/queue"
	"github.com/beatkit/tempo/internal/adapters/mq/worker"
	"github.com/beatkit/tempo/internal/domain/model"
	"github.com/beatkit/tempo/internal/domain/track"
	. "github.com/smartystreets/goconvey/convey"
)

// recordingTracker counts tracked events and can be told to fail.
type recordingTracker struct {
	mu      sync.Mutex
	tracked []string
	fail    error
}

func (r *recordingTracker) Track(ctx context.Context, candidate model.CombinedEvent) (track.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return track.Result{}, r.fail
	}
	r.tracked = append(r.tracked, candidate.PlayerID)
	return track.Result{Status: track.StatusNew}, nil
}

func (r *recordingTracker) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tracked)
}

func event(player string) worker.Event {
	return worker.Event{
		PlayerID: player,
		Chart: model.ChartIdentity{
			SongHash:       "ABCD1234",
			Difficulty:     "ExpertPlus",
			Characteristic: "Standard",
		},
		Value: 900000,
	}
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

func TestWorkerProcessing(t *testing.T) {
	Convey("Given a worker draining a queue", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		q := queue.NewInMemoryQueue(queue.WithCapacity(16))
		defer func() { _ = q.Close() }()
		tracker := &recordingTracker{}
		w := worker.NewWorker(q, tracker, worker.WithName("worker-test"))
		go w.Run(ctx)

		Convey("When events are enqueued", func() {
			So(q.Enqueue(ctx, event("P1")), ShouldBeTrue)
			So(q.Enqueue(ctx, event("P2")), ShouldBeTrue)

			Convey("Then the tracker sees them all", func() {
				So(waitFor(func() bool { return tracker.count() == 2 }), ShouldBeTrue)
			})
		})

		Convey("When the tracker rejects events as invalid", func() {
			tracker.fail = track.ErrValidation
			So(q.Enqueue(ctx, event("P1")), ShouldBeTrue)
			So(q.Enqueue(ctx, event("P2")), ShouldBeTrue)

			Convey("Then the worker keeps draining", func() {
				So(waitFor(func() bool { return q.Len(ctx) == 0 }), ShouldBeTrue)

				tracker.mu.Lock()
				tracker.fail = nil
				tracker.mu.Unlock()
				So(q.Enqueue(ctx, event("P3")), ShouldBeTrue)
				So(waitFor(func() bool { return tracker.count() == 1 }), ShouldBeTrue)
			})
		})

		Convey("When the tracker fails hard", func() {
			tracker.fail = errors.New("store down")
			So(q.Enqueue(ctx, event("P1")), ShouldBeTrue)

			Convey("Then the loop survives the error", func() {
				So(waitFor(func() bool { return q.Len(ctx) == 0 }), ShouldBeTrue)

				tracker.mu.Lock()
				tracker.fail = nil
				tracker.mu.Unlock()
				So(q.Enqueue(ctx, event("P2")), ShouldBeTrue)
				So(waitFor(func() bool { return tracker.count() == 1 }), ShouldBeTrue)
			})
		})

		Convey("When the worker is shut down", func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
			defer shutdownCancel()

			So(w.Shutdown(shutdownCtx), ShouldBeNil)
		})
	})
}

func TestPool(t *testing.T) {
	Convey("Given a pool of workers over one queue", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		q := queue.NewInMemoryQueue(queue.WithCapacity(256))
		defer func() { _ = q.Close() }()
		tracker := &recordingTracker{}
		pool := worker.NewPool(4, q, tracker)
		pool.Start(ctx)

		Convey("When a burst of events arrives", func() {
			const n = 100
			for i := 0; i < n; i++ {
				So(q.Enqueue(ctx, event("P1")), ShouldBeTrue)
			}

			Convey("Then all of them are tracked", func() {
				So(waitFor(func() bool { return tracker.count() == n }), ShouldBeTrue)
				pool.Stop()
			})
		})

		Convey("When the pool is stopped idle", func() {
			pool.Stop()
			So(tracker.count(), ShouldEqual, 0)
		})
	})
}
