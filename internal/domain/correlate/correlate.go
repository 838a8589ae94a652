// Package correlate merges the two upstream score feeds into single settled
// events. Events are paired by correlation key; an event whose counterpart
// does not arrive within the deadline window settles alone.
package correlate

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beatkit/tempo/internal/domain/identity"
	"github.com/beatkit/tempo/internal/domain/model"
	"github.com/beatkit/tempo/pkg/logger"
	"github.com/beatkit/tempo/pkg/metrics"
)

// Default engine configuration constants.
const (
	defaultWindow     = 60 * time.Second
	defaultShardCount = 32
)

// SettleFunc receives each settled event exactly once. It must not block;
// the engine calls it from feed goroutines and timer callbacks.
type SettleFunc func(ev model.CombinedEvent)

// pendingMatch holds the events seen so far for one correlation key.
// Lifecycle: created on the first event for a key, destroyed the instant a
// complementary event arrives or the deadline elapses.
type pendingMatch struct {
	key       string
	live      *model.ScoreEvent
	deep      *model.ScoreEvent
	createdAt time.Time
	timer     *time.Timer
}

// slotFor returns the event stored for a source, if any.
func (p *pendingMatch) slotFor(src model.Source) *model.ScoreEvent {
	if src == model.SourceDeep {
		return p.deep
	}
	return p.live
}

// setSlot stores an event in its source's slot, replacing any earlier
// delivery from the same source.
func (p *pendingMatch) setSlot(ev *model.ScoreEvent) {
	if ev.Source == model.SourceDeep {
		p.deep = ev
	} else {
		p.live = ev
	}
}

// shard owns one partition of the pending-match map. All mutations for a
// key happen under its shard's mutex, making read-then-remove indivisible
// with respect to the competing settlement paths.
type shard struct {
	mu      sync.Mutex
	pending map[string]*pendingMatch
}

// Engine correlates events from the two feeds.
type Engine struct {
	window     time.Duration
	shardCount int
	shards     []*shard
	settle     SettleFunc
	pending    atomic.Int64
	closed     atomic.Bool
	logger     logger.Logger
}

// New creates an Engine that delivers settled events to settle.
func New(settle SettleFunc, opts ...Option) *Engine {
	e := &Engine{
		window:     defaultWindow,
		shardCount: defaultShardCount,
		settle:     settle,
		logger:     logger.Get().Named("correlate"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.shards = make([]*shard, e.shardCount)
	for i := range e.shards {
		e.shards[i] = &shard{pending: make(map[string]*pendingMatch)}
	}
	return e
}

// shardFor picks the shard owning a correlation key.
func (e *Engine) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return e.shards[int(h.Sum32())%e.shardCount]
}

// OnEvent ingests one feed event. It never blocks beyond an in-memory map
// operation: settlement work is handed to the settle callback.
func (e *Engine) OnEvent(ctx context.Context, ev model.ScoreEvent) error {
	if ev.PlayerID == "" || ev.Chart.SongHash == "" {
		return ErrInvalidEvent
	}
	if e.closed.Load() {
		return ErrClosed
	}

	ev.Chart = identity.Normalize(ev.Chart)
	key := identity.CorrelationKey(ev.PlayerID, ev.Chart)
	metrics.RecordFeedEvent(string(ev.Source))

	sh := e.shardFor(key)
	sh.mu.Lock()

	pm, ok := sh.pending[key]
	if ok {
		if other := pm.slotFor(otherSource(ev.Source)); other != nil {
			// Complementary event: consume the match atomically. Whoever
			// removes the entry is the sole settler; the deadline timer
			// finding nothing to remove does nothing further.
			delete(sh.pending, key)
			sh.mu.Unlock()
			pm.timer.Stop()
			e.pending.Add(-1)
			metrics.UpdatePendingMatches(int(e.pending.Load()))

			combined := merge(*other, ev)
			metrics.RecordSettlement("paired")
			e.logger.Debug(ctx, "settled paired event",
				logger.String("key", key),
				logger.String("firstSource", string(other.Source)),
			)
			e.settle(combined)
			return nil
		}

		// Same-source redelivery while still pending: latest wins, and the
		// deadline window restarts.
		pm.setSlot(&ev)
		pm.timer.Reset(e.window)
		sh.mu.Unlock()
		return nil
	}

	// First event for this key (or for a fresh play after an earlier
	// settlement): open a new pending match and arm its deadline.
	pm = &pendingMatch{key: key, createdAt: time.Now()}
	pm.setSlot(&ev)
	pm.timer = time.AfterFunc(e.window, func() { e.expire(key, pm) })
	sh.pending[key] = pm
	sh.mu.Unlock()

	e.pending.Add(1)
	metrics.UpdatePendingMatches(int(e.pending.Load()))
	return nil
}

// expire is the deadline path: it settles a pending match with whatever
// single event is present, unless a complementary event consumed it first.
func (e *Engine) expire(key string, pm *pendingMatch) {
	sh := e.shardFor(key)
	sh.mu.Lock()
	current, ok := sh.pending[key]
	if !ok || current != pm {
		// Already consumed by a pairing (or superseded); nothing to do.
		sh.mu.Unlock()
		return
	}
	delete(sh.pending, key)
	sh.mu.Unlock()

	e.pending.Add(-1)
	metrics.UpdatePendingMatches(int(e.pending.Load()))

	single := pm.live
	if single == nil {
		single = pm.deep
	}
	if single == nil {
		return
	}

	metrics.RecordSettlement("timeout")
	e.logger.Debug(context.Background(), "settled lone event on deadline",
		logger.String("key", key),
		logger.String("source", string(single.Source)),
		logger.Duration("waited", time.Since(pm.createdAt)),
	)
	e.settle(combineSingle(*single))
}

// PendingCount returns the number of in-flight pending matches.
func (e *Engine) PendingCount() int {
	return int(e.pending.Load())
}

// Close stops accepting events and cancels all pending deadline timers.
// In-flight unmatched events are dropped; surviving a restart with pending
// matches is explicitly not a guarantee of this engine.
func (e *Engine) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	for _, sh := range e.shards {
		sh.mu.Lock()
		for key, pm := range sh.pending {
			pm.timer.Stop()
			delete(sh.pending, key)
			e.pending.Add(-1)
		}
		sh.mu.Unlock()
	}
	metrics.UpdatePendingMatches(0)
}

func otherSource(src model.Source) model.Source {
	if src == model.SourceDeep {
		return model.SourceLive
	}
	return model.SourceDeep
}

// merge combines the two source events for one play. The later-arriving
// event's fields are authoritative, with the earlier event filling any
// field the later one lacks (enrichment especially). Because a field is
// only ever present in one feed or carries the same play data in both, the
// result is field-for-field identical for either arrival order.
func merge(first, later model.ScoreEvent) model.CombinedEvent {
	combined := combineSingle(later)
	// Canonical source order keeps the merged event order-independent.
	combined.Sources = []model.Source{model.SourceLive, model.SourceDeep}

	if combined.Enrichment == nil {
		combined.Enrichment = first.Enrichment
	}
	if combined.ScoreID == "" {
		combined.ScoreID = first.ScoreID
	}
	if combined.Value == 0 {
		combined.Value = first.Value
	}
	if combined.Accuracy == 0 {
		combined.Accuracy = first.Accuracy
	}
	if combined.MaxCombo == 0 {
		combined.MaxCombo = first.MaxCombo
	}
	if combined.PP == 0 {
		combined.PP = first.PP
	}
	if combined.Rank == 0 {
		combined.Rank = first.Rank
	}
	if combined.SetAt.IsZero() {
		combined.SetAt = first.SetAt
	}
	combined.FullCombo = combined.FullCombo || first.FullCombo
	return combined
}

// combineSingle lifts one event into a settled CombinedEvent. Absent
// enrichment stays absent; nothing is null-merged in.
func combineSingle(ev model.ScoreEvent) model.CombinedEvent {
	return model.CombinedEvent{
		ScoreID:    ev.ScoreID,
		PlayerID:   ev.PlayerID,
		Chart:      ev.Chart,
		Value:      ev.Value,
		Accuracy:   ev.Accuracy,
		Rank:       ev.Rank,
		PP:         ev.PP,
		MissCount:  ev.MissCount,
		BadCuts:    ev.BadCuts,
		MaxCombo:   ev.MaxCombo,
		FullCombo:  ev.FullCombo,
		SetAt:      ev.SetAt,
		Enrichment: ev.Enrichment,
		Sources:    []model.Source{ev.Source},
	}
}
