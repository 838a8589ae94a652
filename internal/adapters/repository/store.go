// Package repository defines the score store interface and errors.
package repository

import (
	"context"

	"github.com/beatkit/tempo/internal/domain/model"
)

// PPUpdate carries a recomputed pp/rank/weight for one current score,
// matched by (ScoreID, Value) against the stored row.
type PPUpdate struct {
	ScoreID string
	Value   int64
	PP      float64
	Rank    int
	Weight  float64
}

// WeightUpdate carries a recomputed weight for one of a player's scores.
type WeightUpdate struct {
	ScoreID string
	Weight  float64
}

// Store provides read/write access to current scores, the archive of
// superseded scores, chart ranking metadata, and player attributes.
type Store interface {
	// CurrentScore returns the live score for (playerID, chartID).
	// Returns ErrNotFound if the player has no score on the chart.
	CurrentScore(ctx context.Context, playerID, chartID string) (model.CurrentScore, error)

	// PutCurrentScore upserts the live score for (score.PlayerID, score.ChartID).
	PutCurrentScore(ctx context.Context, score model.CurrentScore) error

	// ArchivePreviousScore appends a superseded-score snapshot.
	ArchivePreviousScore(ctx context.Context, archived model.ArchivedScore) error

	// ChartCurrentScores returns every live score on a chart.
	ChartCurrentScores(ctx context.Context, chartID string) ([]model.CurrentScore, error)

	// ChartArchivedScores returns every archived score on a chart.
	ChartArchivedScores(ctx context.Context, chartID string) ([]model.ArchivedScore, error)

	// PlayerCurrentScores returns a player's live scores ordered by pp descending.
	PlayerCurrentScores(ctx context.Context, playerID string) ([]model.CurrentScore, error)

	// BulkZeroChartScores zeroes pp and weight on every live score on a
	// chart. Returns the number of rows touched.
	BulkZeroChartScores(ctx context.Context, chartID string) (int, error)

	// BulkZeroChartArchive zeroes pp and weight on every archived score on
	// a chart. Returns the number of rows touched.
	BulkZeroChartArchive(ctx context.Context, chartID string) (int, error)

	// BulkUpdateScorePP applies recomputed pp/rank/weight to live scores on
	// a chart. A row is updated only when both ScoreID and Value match.
	// Returns the number of rows updated.
	BulkUpdateScorePP(ctx context.Context, chartID string, updates []PPUpdate) (int, error)

	// UpdateArchivePP rewrites pp on one archived row and zeroes its weight.
	UpdateArchivePP(ctx context.Context, archiveID string, pp float64) error

	// UpdatePlayerScoreWeights applies recomputed weights across a player's
	// live scores (any chart). Returns the number of rows updated.
	UpdatePlayerScoreWeights(ctx context.Context, playerID string, updates []WeightUpdate) (int, error)

	// ChartRankingState returns the stored ranking metadata for a chart.
	// Returns ErrNotFound on first sight of the chart.
	ChartRankingState(ctx context.Context, chartID string) (model.ChartRankingState, error)

	// PutChartRankingState upserts a chart's ranking metadata.
	PutChartRankingState(ctx context.Context, state model.ChartRankingState) error

	// RankedChartStates returns every stored chart currently marked ranked.
	RankedChartStates(ctx context.Context) ([]model.ChartRankingState, error)

	// SetPlayerDevice updates the denormalized most-used-device attribute
	// on the player record.
	SetPlayerDevice(ctx context.Context, playerID, device string) error
}
