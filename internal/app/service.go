// Package app provides the core service wiring the correlation engine,
// settled-event pipeline, score tracker and ranking cascade together.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/beatkit/tempo/internal/adapters/lookup"
	eventqueue "github.com/beatkit/tempo/internal/adapters/mq/queue"
	workerpool "github.com/beatkit/tempo/internal/adapters/mq/worker"
	"github.com/beatkit/tempo/internal/adapters/repository"
	"github.com/beatkit/tempo/internal/domain/cascade"
	"github.com/beatkit/tempo/internal/domain/correlate"
	"github.com/beatkit/tempo/internal/domain/curve"
	"github.com/beatkit/tempo/internal/domain/model"
	"github.com/beatkit/tempo/internal/domain/track"
	"github.com/beatkit/tempo/pkg/logger"
)

// Service owns the event pipeline: feeds push into the correlation engine,
// settled events flow through the queue into tracking workers, and the
// cascade periodically reconciles chart ranking state.
type Service struct {
	mu sync.Mutex

	// Core components
	store     *repository.MemStore
	engine    *correlate.Engine
	queue     *eventqueue.InMemoryQueue
	pool      *workerpool.Pool
	tracker   *track.Tracker
	refresher *cascade.Refresher
	lookup    lookup.Client
	curve     curve.Curve

	// Configuration
	workerCount       int
	queueSize         int
	correlationWindow time.Duration
	pendingShards     int
	storeShards       int
	cascadeBatchSize  int
	rankedInterval    time.Duration
	qualifiedInterval time.Duration
	lookupBaseURL     string
	lookupRPM         int

	// State
	started bool
	stopCh  chan struct{}

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of tracking workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the settled-event queue capacity.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithCorrelationWindow sets the deadline a lone event waits for its
// counterpart.
func WithCorrelationWindow(window time.Duration) Option {
	return func(s *Service) {
		if window > 0 {
			s.correlationWindow = window
		}
	}
}

// WithShardCounts sets pending-map and store shard counts.
func WithShardCounts(pending, store int) Option {
	return func(s *Service) {
		if pending > 0 {
			s.pendingShards = pending
		}
		if store > 0 {
			s.storeShards = store
		}
	}
}

// WithLookup sets the chart rating lookup client. Without one the ranking
// cascade is disabled.
func WithLookup(client lookup.Client) Option {
	return func(s *Service) {
		s.lookup = client
	}
}

// WithLookupHTTP configures an HTTP lookup client from a base URL and a
// calls-per-minute budget.
func WithLookupHTTP(baseURL string, rpm int) Option {
	return func(s *Service) {
		s.lookupBaseURL = baseURL
		if rpm > 0 {
			s.lookupRPM = rpm
		}
	}
}

// WithCurve sets the pp curve. Defaults to the built-in star curve.
func WithCurve(c curve.Curve) Option {
	return func(s *Service) {
		if c != nil {
			s.curve = c
		}
	}
}

// WithCascadeBatchSize bounds parallel chart processing per refresh.
func WithCascadeBatchSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.cascadeBatchSize = size
		}
	}
}

// WithRefreshIntervals schedules the periodic ranked/qualified refreshes.
func WithRefreshIntervals(ranked, qualified time.Duration) Option {
	return func(s *Service) {
		if ranked > 0 {
			s.rankedInterval = ranked
		}
		if qualified > 0 {
			s.qualifiedInterval = qualified
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:       0, // pool picks a CPU-based default
		queueSize:         10000,
		correlationWindow: 60 * time.Second,
		pendingShards:     32,
		storeShards:       16,
		cascadeBatchSize:  100,
		rankedInterval:    30 * time.Minute,
		qualifiedInterval: 60 * time.Minute,
		lookupRPM:         60,
		stopCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("app")
	}

	s.store = repository.NewMemStore(repository.WithShardCount(s.storeShards))
	if s.curve == nil {
		s.curve = curve.New()
	}
	s.tracker = track.New(s.store)
	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.engine = correlate.New(
		func(ev model.CombinedEvent) {
			if !s.queue.Enqueue(context.Background(), ev) {
				s.logger.Warn(context.Background(), "settled event dropped, queue full",
					logger.String("playerID", ev.PlayerID),
				)
			}
		},
		correlate.WithWindow(s.correlationWindow),
		correlate.WithShardCount(s.pendingShards),
	)
	s.pool = workerpool.NewPool(s.workerCount, s.queue, s.tracker)
	s.pool.Start(ctx)

	if s.lookup == nil && s.lookupBaseURL != "" {
		s.lookup = lookup.NewHTTPClient(s.lookupBaseURL, lookup.WithRequestsPerMinute(s.lookupRPM))
	}
	if s.lookup != nil {
		s.refresher = cascade.New(s.store, s.lookup, s.curve,
			cascade.WithBatchSize(s.cascadeBatchSize),
		)
		go s.runRefreshLoop(ctx, cascade.KindRanked, s.rankedInterval)
		go s.runRefreshLoop(ctx, cascade.KindQualified, s.qualifiedInterval)
	}

	s.started = true
	s.logger.Info(ctx, "score engine started",
		logger.Int("queueSize", s.queueSize),
		logger.Duration("correlationWindow", s.correlationWindow),
		logger.Bool("cascadeEnabled", s.refresher != nil),
	)
	return nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping score engine...")

	s.engine.Close()
	_ = s.queue.Close()
	s.pool.Stop()

	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}

	s.started = false
	s.logger.Info(ctx, "score engine stopped")
}

// OnEvent ingests one upstream feed event. Safe to call from multiple
// concurrent feed handlers.
func (s *Service) OnEvent(ctx context.Context, ev model.ScoreEvent) error {
	return s.engine.OnEvent(ctx, ev)
}

// Track bypasses correlation and tracks an already-combined candidate.
// Used by callers that own their own pairing, and by the feed simulator.
func (s *Service) Track(ctx context.Context, candidate model.CombinedEvent) (track.Result, error) {
	return s.tracker.Track(ctx, candidate)
}

// Refresh runs one ranking refresh of the given kind.
func (s *Service) Refresh(ctx context.Context, kind cascade.Kind) (cascade.Summary, error) {
	if s.refresher == nil {
		return cascade.Summary{}, ErrCascadeDisabled
	}
	return s.refresher.Refresh(ctx, kind)
}

// Store exposes the score store to the surrounding process (feed sims,
// diagnostics). The engine owns its lifecycle.
func (s *Service) Store() *repository.MemStore {
	return s.store
}

// runRefreshLoop fires one refresh per interval until shutdown. Overlap
// within a kind is impossible: the refresher single-flights per kind.
func (s *Service) runRefreshLoop(ctx context.Context, kind cascade.Kind, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.refresher.Refresh(ctx, kind); err != nil {
				s.logger.Error(ctx, "ranking refresh failed",
					logger.String("kind", string(kind)),
					logger.Error(err),
				)
			}
		}
	}
}

// Stats returns service statistics for monitoring.
func (s *Service) Stats(ctx context.Context) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := map[string]interface{}{
		"started": s.started,
	}
	if s.started {
		stats["queueLength"] = s.queue.Len(ctx)
		stats["pendingMatches"] = s.engine.PendingCount()
		stats["currentScores"] = s.store.CountCurrentScores(ctx)
		stats["archivedScores"] = s.store.CountArchivedScores(ctx)
	}
	return stats
}
