// Package worker defines the pool that drains settled events into the
// score lifecycle tracker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/beatkit/tempo/internal/domain/model"
	"github.com/beatkit/tempo/internal/domain/track"
	"github.com/beatkit/tempo/pkg/logger"
	"github.com/beatkit/tempo/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()
	workerShutdownTimeout   = 5 * time.Second
)

// Event is what workers read off the queue.
type Event = model.CombinedEvent

// Tracker applies the score lifecycle decision for a settled event.
type Tracker interface {
	Track(ctx context.Context, candidate model.CombinedEvent) (track.Result, error)
}

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
}

// Worker processes settled events through the tracker.
type Worker struct {
	queue   Queue
	tracker Tracker
	name    string

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// Option applies a configuration option to the Worker.
type Option func(*Worker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *Worker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWorker creates a worker with configuration options.
func NewWorker(queue Queue, tracker Tracker, opts ...Option) *Worker {
	w := &Worker{
		queue:    queue,
		tracker:  tracker,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run starts the worker loop until ctx is canceled or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	events := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := w.processEvent(ctx, event); err != nil {
				w.logger.Error(ctx, "event processing failed", logger.Error(err))
			}
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *Worker) Shutdown(ctx context.Context) error {
	close(w.shutdown)
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// processEvent runs one settled event through the tracker. Validation
// rejections are dropped here; they must not poison the worker loop.
func (w *Worker) processEvent(ctx context.Context, event Event) error {
	start := time.Now()
	result, err := w.tracker.Track(ctx, event)
	metrics.RecordTrackLatency(float64(time.Since(start).Milliseconds()))

	if err != nil {
		if errors.Is(err, track.ErrValidation) {
			w.logger.Warn(ctx, "dropping invalid settled event",
				logger.String("playerID", event.PlayerID),
				logger.Error(err),
			)
			return nil
		}
		metrics.RecordWorkerError()
		return fmt.Errorf("track settled event for %s: %w", event.PlayerID, err)
	}

	w.logger.Debug(ctx, "tracked settled event",
		logger.String("playerID", event.PlayerID),
		logger.String("status", string(result.Status)),
	)
	return nil
}

// Pool manages multiple workers draining one queue.
type Pool struct {
	workers []*Worker

	logger logger.Logger
}

// NewPool creates a pool of workerCount workers.
func NewPool(workerCount int, queue Queue, tracker Tracker) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	p := &Pool{
		workers: make([]*Worker, workerCount),
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range p.workers {
		p.workers[i] = NewWorker(queue, tracker, WithName("worker-"+strconv.Itoa(i)))
	}
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Stop gracefully stops all workers, bounded by a per-worker timeout.
func (p *Pool) Stop() {
	for _, w := range p.workers {
		close(w.shutdown)
	}
	for _, w := range p.workers {
		select {
		case <-w.done:
		case <-time.After(workerShutdownTimeout):
		}
	}
	metrics.UpdateWorkerCount(0)
}
