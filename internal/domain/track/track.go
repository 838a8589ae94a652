// Package track decides the lifecycle of each settled score event:
// first play on a chart, redelivery of a known play, or an improvement that
// supersedes (and archives) the previous score.
package track

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/beatkit/tempo/internal/adapters/repository"
	"github.com/beatkit/tempo/internal/domain/identity"
	"github.com/beatkit/tempo/internal/domain/model"
	"github.com/beatkit/tempo/pkg/logger"
	"github.com/beatkit/tempo/pkg/metrics"
)

// Status classifies the outcome of tracking one candidate.
type Status string

// Tracking outcomes. Only New and Improved count as newly tracked for
// caller-side counters; Duplicate is a successful no-growth redelivery.
const (
	StatusNew       Status = "new"
	StatusDuplicate Status = "duplicate"
	StatusImproved  Status = "improved"
)

// Result is the sole payload downstream subsystems consume.
type Result struct {
	Status   Status
	Stored   model.CurrentScore
	Archived *model.ArchivedScore // populated on Improved
	Delta    *model.Delta         // populated on Improved
}

// Store is the persistence surface the tracker needs.
type Store interface {
	CurrentScore(ctx context.Context, playerID, chartID string) (model.CurrentScore, error)
	PutCurrentScore(ctx context.Context, score model.CurrentScore) error
	ArchivePreviousScore(ctx context.Context, archived model.ArchivedScore) error
	PlayerCurrentScores(ctx context.Context, playerID string) ([]model.CurrentScore, error)
	SetPlayerDevice(ctx context.Context, playerID, device string) error
}

// Tracker applies the score lifecycle state machine.
type Tracker struct {
	store  Store
	locks  *keyedMutex
	logger logger.Logger
}

// Option applies a configuration option to the Tracker.
type Option func(*Tracker)

// WithLogger sets a custom logger for the tracker.
func WithLogger(l logger.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// New creates a Tracker backed by the given store.
func New(store Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		locks:  newKeyedMutex(),
		logger: logger.Get().Named("track"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track runs the lifecycle decision for one settled candidate.
//
// The read-then-write sequence for one (player, chart) identity is
// serialized by a keyed mutex, so concurrent duplicate settlements for the
// same identity cannot interleave their writes.
func (t *Tracker) Track(ctx context.Context, candidate model.CombinedEvent) (Result, error) {
	if err := validate(candidate); err != nil {
		metrics.RecordValidationRejection()
		return Result{}, err
	}

	candidate.Chart = identity.Normalize(candidate.Chart)
	chartID := identity.ChartID(candidate.Chart)

	unlock := t.locks.Lock(candidate.PlayerID + "|" + chartID)
	defer unlock()

	existing, err := t.store.CurrentScore(ctx, candidate.PlayerID, chartID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return t.trackNew(ctx, candidate, chartID)
	case err != nil:
		return Result{}, fmt.Errorf("read current score: %w", err)
	case existing.Value == candidate.Value:
		return t.trackDuplicate(ctx, candidate, existing)
	default:
		return t.trackImproved(ctx, candidate, chartID, existing)
	}
}

// validate fails fast on candidates missing a resolvable chart identity.
func validate(candidate model.CombinedEvent) error {
	switch {
	case candidate.PlayerID == "":
		return fmt.Errorf("%w: missing playerId", ErrValidation)
	case candidate.Chart.SongHash == "":
		return fmt.Errorf("%w: missing song hash", ErrValidation)
	case candidate.Chart.Difficulty == "":
		return fmt.Errorf("%w: missing difficulty", ErrValidation)
	case candidate.Chart.Characteristic == "":
		return fmt.Errorf("%w: missing characteristic", ErrValidation)
	}
	return nil
}

func (t *Tracker) trackNew(ctx context.Context, candidate model.CombinedEvent, chartID string) (Result, error) {
	stored := scoreFromEvent(candidate, chartID)
	if err := t.store.PutCurrentScore(ctx, stored); err != nil {
		return Result{}, fmt.Errorf("write current score: %w", err)
	}

	t.refreshDeviceProfile(ctx, candidate)
	metrics.RecordTrackResult(string(StatusNew))
	t.logger.Debug(ctx, "tracked new score",
		logger.String("playerID", candidate.PlayerID),
		logger.String("chartID", chartID),
	)
	return Result{Status: StatusNew, Stored: stored}, nil
}

// trackDuplicate treats an equal-value candidate as a redelivery of the
// same play: only the volatile rank/pp fields are refreshed, the archive
// does not grow.
func (t *Tracker) trackDuplicate(ctx context.Context, candidate model.CombinedEvent, existing model.CurrentScore) (Result, error) {
	existing.Rank = candidate.Rank
	existing.PP = candidate.PP
	if err := t.store.PutCurrentScore(ctx, existing); err != nil {
		return Result{}, fmt.Errorf("refresh current score: %w", err)
	}

	metrics.RecordTrackResult(string(StatusDuplicate))
	return Result{Status: StatusDuplicate, Stored: existing}, nil
}

func (t *Tracker) trackImproved(ctx context.Context, candidate model.CombinedEvent, chartID string, existing model.CurrentScore) (Result, error) {
	archived := model.ArchivedScore{
		CurrentScore: existing,
		ArchiveID:    uuid.NewString(),
		ArchivedAt:   time.Now().UTC(),
	}
	if err := t.store.ArchivePreviousScore(ctx, archived); err != nil {
		return Result{}, fmt.Errorf("archive previous score: %w", err)
	}

	stored := scoreFromEvent(candidate, chartID)
	if err := t.store.PutCurrentScore(ctx, stored); err != nil {
		return Result{}, fmt.Errorf("write current score: %w", err)
	}

	delta := model.Delta{
		Value:     stored.Value - archived.Value,
		Accuracy:  stored.Accuracy - archived.Accuracy,
		PP:        stored.PP - archived.PP,
		MissCount: stored.MissCount - archived.MissCount,
		MaxCombo:  stored.MaxCombo - archived.MaxCombo,
	}

	t.refreshDeviceProfile(ctx, candidate)
	metrics.RecordTrackResult(string(StatusImproved))
	t.logger.Debug(ctx, "tracked improved score",
		logger.String("playerID", candidate.PlayerID),
		logger.String("chartID", chartID),
		logger.Int64("valueDelta", delta.Value),
	)
	return Result{Status: StatusImproved, Stored: stored, Archived: &archived, Delta: &delta}, nil
}

// refreshDeviceProfile updates the player's most-used-device attribute from
// this and recent plays. Best effort and non-blocking: failures never
// affect the returned status or roll back the score write.
func (t *Tracker) refreshDeviceProfile(ctx context.Context, candidate model.CombinedEvent) {
	if candidate.Enrichment == nil || candidate.Enrichment.Headset == "" {
		return
	}

	playerID := candidate.PlayerID
	headset := candidate.Enrichment.Headset
	go func() {
		bg := context.WithoutCancel(ctx)
		counts := map[string]int{headset: 1}
		scores, err := t.store.PlayerCurrentScores(bg, playerID)
		if err == nil {
			for _, sc := range scores {
				if sc.Enrichment != nil && sc.Enrichment.Headset != "" {
					counts[sc.Enrichment.Headset]++
				}
			}
		}

		best, bestCount := headset, 0
		for device, n := range counts {
			if n > bestCount || (n == bestCount && device < best) {
				best, bestCount = device, n
			}
		}
		if err := t.store.SetPlayerDevice(bg, playerID, best); err != nil {
			t.logger.Warn(bg, "device profile refresh failed",
				logger.String("playerID", playerID),
				logger.Error(err),
			)
		}
	}()
}

// scoreFromEvent builds the persisted record for a candidate. The upstream
// score id is kept when present so the cascade can match fetched rows.
func scoreFromEvent(candidate model.CombinedEvent, chartID string) model.CurrentScore {
	scoreID := candidate.ScoreID
	if scoreID == "" {
		scoreID = uuid.NewString()
	}
	return model.CurrentScore{
		ScoreID:    scoreID,
		PlayerID:   candidate.PlayerID,
		ChartID:    chartID,
		Value:      candidate.Value,
		Accuracy:   candidate.Accuracy,
		Rank:       candidate.Rank,
		PP:         candidate.PP,
		MaxCombo:   candidate.MaxCombo,
		MissCount:  candidate.MissCount,
		BadCuts:    candidate.BadCuts,
		FullCombo:  candidate.FullCombo,
		SetAt:      candidate.SetAt,
		Enrichment: candidate.Enrichment,
	}
}
