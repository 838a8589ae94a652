// Package lookup defines the client contract for the authoritative chart
// rating service the cascade refreshes from.
package lookup

import (
	"context"
	"errors"

	"github.com/beatkit/tempo/internal/domain/model"
)

// Sentinel kinds for lookup errors.
var (
	// ErrFetch wraps any transport or decode failure from the upstream.
	ErrFetch = errors.New("upstream fetch failed")

	// ErrNotFound marks a chart id the upstream does not know.
	ErrNotFound = errors.New("chart not found upstream")
)

// ChartPage is one page of the authoritative chart listing.
type ChartPage struct {
	Items   []model.ChartRankingState
	HasMore bool
}

// ChartScore is one row of a chart's competitive score list, in the
// upstream's rank ordering.
type ChartScore struct {
	ScoreID  string
	PlayerID string
	Value    int64
	Accuracy float64
	Rank     int
}

// ScorePage is one page of a chart's competitive score list.
type ScorePage struct {
	Items   []ChartScore
	HasMore bool
}

// Client fetches authoritative ranking data. Implementations own their own
// politeness (rate limiting); callers just issue sequential paginated calls.
type Client interface {
	// RankedCharts returns one page of ranked charts. Pages start at 1.
	RankedCharts(ctx context.Context, page int) (ChartPage, error)

	// QualifiedCharts returns one page of qualified charts. Pages start at 1.
	QualifiedCharts(ctx context.Context, page int) (ChartPage, error)

	// ChartByID returns the authoritative state of a single chart.
	// Returns ErrNotFound when the upstream does not know the chart.
	ChartByID(ctx context.Context, chartID string) (model.ChartRankingState, error)

	// ChartScores returns one page of a chart's competitive score list.
	ChartScores(ctx context.Context, chartID string, page int) (ScorePage, error)
}
