// Package cascade propagates chart ranking changes into stored scores: it
// diffs freshly fetched chart metadata against stored state and rewrites
// the pp/rank/weight of every affected score, live and archived.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/beatkit/tempo/internal/adapters/lookup"
	"github.com/beatkit/tempo/internal/adapters/repository"
	"github.com/beatkit/tempo/internal/domain/curve"
	"github.com/beatkit/tempo/internal/domain/model"
	"github.com/beatkit/tempo/pkg/logger"
	"github.com/beatkit/tempo/pkg/metrics"
)

// Kind selects which authoritative chart listing a refresh walks.
type Kind string

// Refresh kinds. Ranked and Qualified refreshes may run concurrently with
// each other but never with another refresh of the same kind.
const (
	KindRanked    Kind = "ranked"
	KindQualified Kind = "qualified"
)

// Default refresher configuration constants.
const (
	defaultBatchSize       = 100
	maxConsecutivePageFail = 3
	firstPage              = 1
)

// Summary reports one refresh run to reporting/alerting collaborators.
type Summary struct {
	ChartsSeen    int
	ScoresUpdated int
	ChartsChanged int
}

// Store is the persistence surface the cascade needs.
type Store interface {
	ChartRankingState(ctx context.Context, chartID string) (model.ChartRankingState, error)
	PutChartRankingState(ctx context.Context, state model.ChartRankingState) error
	RankedChartStates(ctx context.Context) ([]model.ChartRankingState, error)
	ChartCurrentScores(ctx context.Context, chartID string) ([]model.CurrentScore, error)
	ChartArchivedScores(ctx context.Context, chartID string) ([]model.ArchivedScore, error)
	PlayerCurrentScores(ctx context.Context, playerID string) ([]model.CurrentScore, error)
	BulkZeroChartScores(ctx context.Context, chartID string) (int, error)
	BulkZeroChartArchive(ctx context.Context, chartID string) (int, error)
	BulkUpdateScorePP(ctx context.Context, chartID string, updates []repository.PPUpdate) (int, error)
	UpdateArchivePP(ctx context.Context, archiveID string, pp float64) error
	UpdatePlayerScoreWeights(ctx context.Context, playerID string, updates []repository.WeightUpdate) (int, error)
}

// Refresher runs ranking refreshes. Safe for concurrent use; overlapping
// calls of the same kind collapse into one run via singleflight.
type Refresher struct {
	store     Store
	lookup    lookup.Client
	curve     curve.Curve
	batchSize int
	group     singleflight.Group
	logger    logger.Logger
}

// Option applies a configuration option to the Refresher.
type Option func(*Refresher)

// WithBatchSize bounds how many charts are processed in parallel against
// the local store. External calls stay serialized by the lookup client.
func WithBatchSize(size int) Option {
	return func(r *Refresher) {
		if size > 0 {
			r.batchSize = size
		}
	}
}

// WithLogger sets a custom logger for the refresher.
func WithLogger(l logger.Logger) Option {
	return func(r *Refresher) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Refresher.
func New(store Store, client lookup.Client, c curve.Curve, opts ...Option) *Refresher {
	r := &Refresher{
		store:     store,
		lookup:    client,
		curve:     c,
		batchSize: defaultBatchSize,
		logger:    logger.Get().Named("cascade"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh walks the authoritative listing for kind and cascades every
// detected change. Re-running after any failure is safe: applying the same
// rating twice produces the same pp values.
func (r *Refresher) Refresh(ctx context.Context, kind Kind) (Summary, error) {
	v, err, _ := r.group.Do(string(kind), func() (any, error) {
		return r.refresh(ctx, kind)
	})
	if err != nil {
		return Summary{}, err
	}
	sum, ok := v.(Summary)
	if !ok {
		return Summary{}, fmt.Errorf("unexpected refresh result type %T", v)
	}
	return sum, nil
}

func (r *Refresher) refresh(ctx context.Context, kind Kind) (Summary, error) {
	start := time.Now()
	metrics.RecordCascadeRun(string(kind))

	fetched, err := r.fetchAllCharts(ctx, kind)
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	sum.ChartsSeen = len(fetched)

	seen := make(map[string]bool, len(fetched))
	for _, state := range fetched {
		seen[state.ChartID] = true
	}

	// Local reads/writes for distinct charts are independent; process them
	// in bounded-parallel batches. The external score re-fetches inside
	// processChart remain serialized by the lookup client's limiter.
	results := make([]chartOutcome, len(fetched))
	for lo := 0; lo < len(fetched); lo += r.batchSize {
		hi := min(lo+r.batchSize, len(fetched))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.batchSize)
		for i := lo; i < hi; i++ {
			i := i
			g.Go(func() error {
				results[i] = r.processChart(gctx, fetched[i])
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return Summary{}, err
		}
	}
	for i := range results {
		sum.ScoresUpdated += results[i].scoresUpdated
		if results[i].changed {
			sum.ChartsChanged++
		}
	}

	// Charts we once marked ranked but the fresh listing no longer
	// contains may have been unranked, or merely lost to a pagination
	// race; a direct lookup decides before any cascade fires.
	if kind == KindRanked {
		out := r.reverifyMissing(ctx, seen)
		sum.ChartsSeen += out.seen
		sum.ScoresUpdated += out.scoresUpdated
		sum.ChartsChanged += out.changed
	}

	metrics.RecordCascadeSummary(string(kind), sum.ChartsSeen, sum.ChartsChanged, sum.ScoresUpdated)
	r.logger.Info(ctx, "ranking refresh finished",
		logger.String("kind", string(kind)),
		logger.Int("chartsSeen", sum.ChartsSeen),
		logger.Int("chartsChanged", sum.ChartsChanged),
		logger.Int("scoresUpdated", sum.ScoresUpdated),
		logger.Duration("elapsed", time.Since(start)),
	)
	return sum, nil
}

// fetchAllCharts paginates the authoritative listing. A failed page is
// logged and skipped; pagination continues until the upstream reports no
// more pages or too many consecutive pages fail.
func (r *Refresher) fetchAllCharts(ctx context.Context, kind Kind) ([]model.ChartRankingState, error) {
	list := func(ctx context.Context, page int) (lookup.ChartPage, error) {
		if kind == KindQualified {
			return r.lookup.QualifiedCharts(ctx, page)
		}
		return r.lookup.RankedCharts(ctx, page)
	}

	var out []model.ChartRankingState
	failures := 0
	for page := firstPage; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chartPage, err := list(ctx, page)
		if err != nil {
			failures++
			r.logger.Warn(ctx, "chart page fetch failed; skipping page",
				logger.String("kind", string(kind)),
				logger.Int("page", page),
				logger.Error(err),
			)
			if failures >= maxConsecutivePageFail {
				break
			}
			continue
		}
		failures = 0
		out = append(out, chartPage.Items...)
		if !chartPage.HasMore {
			break
		}
	}
	return out, nil
}

// chartOutcome reports what processing one chart did.
type chartOutcome struct {
	changed       bool
	scoresUpdated int
}

// processChart diffs one fetched chart against stored state and fires the
// appropriate cascade. Failures are logged and skipped; they never abort
// the batch.
func (r *Refresher) processChart(ctx context.Context, fetched model.ChartRankingState) chartOutcome {
	var out chartOutcome

	stored, err := r.store.ChartRankingState(ctx, fetched.ChartID)
	firstSight := errors.Is(err, repository.ErrNotFound)
	if err != nil && !firstSight {
		r.logger.Warn(ctx, "chart state read failed; skipping chart",
			logger.String("chartID", fetched.ChartID),
			logger.Error(err),
		)
		metrics.RecordCascadeChartFailure()
		return out
	}

	rankedChanged := stored.Ranked != fetched.Ranked
	qualifiedChanged := stored.Qualified != fetched.Qualified
	ratingChanged := stored.DifficultyRating != fetched.DifficultyRating

	switch {
	case rankedChanged && !fetched.Ranked:
		// Chart lost its ranked status: every score and archived snapshot
		// on it must end with pp=0 and weight=0. No recompute needed.
		n, err := r.unrankChart(ctx, fetched.ChartID)
		if err != nil {
			r.logger.Warn(ctx, "unrank cascade failed; skipping chart",
				logger.String("chartID", fetched.ChartID),
				logger.Error(err),
			)
			metrics.RecordCascadeChartFailure()
			return out
		}
		out.changed = true
		out.scoresUpdated = n

	case fetched.Ranked && (ratingChanged || rankedChanged || (qualifiedChanged && fetched.Qualified)):
		n, err := r.recomputeChart(ctx, fetched)
		if err != nil {
			r.logger.Warn(ctx, "pp recompute failed; skipping chart",
				logger.String("chartID", fetched.ChartID),
				logger.Error(err),
			)
			metrics.RecordCascadeChartFailure()
			return out
		}
		out.changed = true
		out.scoresUpdated = n

	case firstSight || rankedChanged || qualifiedChanged || ratingChanged:
		// Metadata moved but no score rewrite is due (e.g. rating drift on
		// an unranked chart). Still counts as a changed chart.
		out.changed = true
	}

	// Stored state advances whether or not a cascade fired.
	fetched.LastRefreshed = time.Now().UTC()
	if err := r.store.PutChartRankingState(ctx, fetched); err != nil {
		r.logger.Warn(ctx, "chart state write failed",
			logger.String("chartID", fetched.ChartID),
			logger.Error(err),
		)
		metrics.RecordCascadeChartFailure()
	}
	return out
}

// unrankChart zeroes pp and weight on every live and archived score of a
// chart.
func (r *Refresher) unrankChart(ctx context.Context, chartID string) (int, error) {
	live, err := r.store.BulkZeroChartScores(ctx, chartID)
	if err != nil {
		return 0, fmt.Errorf("zero chart scores: %w", err)
	}
	archived, err := r.store.BulkZeroChartArchive(ctx, chartID)
	if err != nil {
		return live, fmt.Errorf("zero chart archive: %w", err)
	}
	return live + archived, nil
}

// recomputeChart re-fetches the chart's competitive score list and rewrites
// pp, rank and weight on the matching stored rows.
func (r *Refresher) recomputeChart(ctx context.Context, fetched model.ChartRankingState) (int, error) {
	chartScores, err := r.fetchAllScores(ctx, fetched.ChartID)
	if err != nil {
		return 0, err
	}
	if len(chartScores) == 0 {
		return 0, nil
	}

	local, err := r.store.ChartCurrentScores(ctx, fetched.ChartID)
	if err != nil {
		return 0, fmt.Errorf("read chart scores: %w", err)
	}
	localByScoreID := make(map[string]model.CurrentScore, len(local))
	for _, sc := range local {
		localByScoreID[sc.ScoreID] = sc
	}

	// A fetched row rewrites a stored row only when both scoreId and value
	// match; anything else is a play we have not tracked (or have already
	// superseded) and is left alone.
	updates := make([]repository.PPUpdate, 0, len(chartScores))
	newPP := make(map[string]float64) // scoreID -> recomputed pp
	players := make(map[string]bool)
	for _, fs := range chartScores {
		sc, ok := localByScoreID[fs.ScoreID]
		if !ok || sc.Value != fs.Value {
			continue
		}
		pp := r.curve.PP(fetched.DifficultyRating, sc.Accuracy)
		updates = append(updates, repository.PPUpdate{
			ScoreID: fs.ScoreID,
			Value:   fs.Value,
			PP:      pp,
			Rank:    fs.Rank,
		})
		newPP[fs.ScoreID] = pp
		players[sc.PlayerID] = true
	}
	if len(updates) == 0 {
		return 0, nil
	}

	updated, err := r.store.BulkUpdateScorePP(ctx, fetched.ChartID, updates)
	if err != nil {
		return 0, fmt.Errorf("bulk update pp: %w", err)
	}

	// Every affected player's weights shift: their scores reorder by the
	// new pp, and weight decays by position in that order.
	for playerID := range players {
		n, err := r.reweightPlayer(ctx, playerID, newPP)
		if err != nil {
			r.logger.Warn(ctx, "weight recompute failed for player",
				logger.String("playerID", playerID),
				logger.Error(err),
			)
			continue
		}
		updated += n
	}

	// Archived snapshots on this chart get the new pp too, but their
	// weight stays zero: archived rows never contribute to the live total.
	archivedRows, err := r.store.ChartArchivedScores(ctx, fetched.ChartID)
	if err != nil {
		return updated, fmt.Errorf("read chart archive: %w", err)
	}
	for _, row := range archivedRows {
		if !players[row.PlayerID] {
			continue
		}
		pp := r.curve.PP(fetched.DifficultyRating, row.Accuracy)
		if err := r.store.UpdateArchivePP(ctx, row.ArchiveID, pp); err != nil {
			r.logger.Warn(ctx, "archive pp update failed",
				logger.String("archiveID", row.ArchiveID),
				logger.Error(err),
			)
			continue
		}
		updated++
	}
	return updated, nil
}

// reweightPlayer recomputes weight for all of a player's live scores,
// ordered by pp descending with the just-recomputed values applied.
func (r *Refresher) reweightPlayer(ctx context.Context, playerID string, newPP map[string]float64) (int, error) {
	scores, err := r.store.PlayerCurrentScores(ctx, playerID)
	if err != nil {
		return 0, fmt.Errorf("read player scores: %w", err)
	}
	for i := range scores {
		if pp, ok := newPP[scores[i].ScoreID]; ok {
			scores[i].PP = pp
		}
	}
	sortByPPDesc(scores)

	updates := make([]repository.WeightUpdate, len(scores))
	for i, sc := range scores {
		updates[i] = repository.WeightUpdate{
			ScoreID: sc.ScoreID,
			Weight:  r.curve.Weight(i),
		}
	}
	return r.store.UpdatePlayerScoreWeights(ctx, playerID, updates)
}

// fetchAllScores paginates a chart's competitive score list with the same
// skip-and-continue policy as the chart listing.
func (r *Refresher) fetchAllScores(ctx context.Context, chartID string) ([]lookup.ChartScore, error) {
	var out []lookup.ChartScore
	failures := 0
	for page := firstPage; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scorePage, err := r.lookup.ChartScores(ctx, chartID, page)
		if err != nil {
			failures++
			r.logger.Warn(ctx, "score page fetch failed; skipping page",
				logger.String("chartID", chartID),
				logger.Int("page", page),
				logger.Error(err),
			)
			if failures >= maxConsecutivePageFail {
				break
			}
			continue
		}
		failures = 0
		out = append(out, scorePage.Items...)
		if !scorePage.HasMore {
			break
		}
	}
	return out, nil
}

// missingOutcome aggregates the reverification pass.
type missingOutcome struct {
	seen          int
	changed       int
	scoresUpdated int
}

// reverifyMissing re-checks every chart we hold as ranked that the fresh
// listing did not contain, with a direct single-chart lookup, before
// cascading an unrank. Pagination races must not unrank a chart.
func (r *Refresher) reverifyMissing(ctx context.Context, seen map[string]bool) missingOutcome {
	var out missingOutcome

	rankedStates, err := r.store.RankedChartStates(ctx)
	if err != nil {
		r.logger.Warn(ctx, "ranked chart listing failed; skipping reverification", logger.Error(err))
		return out
	}

	for _, state := range rankedStates {
		if seen[state.ChartID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return out
		}

		fresh, err := r.lookup.ChartByID(ctx, state.ChartID)
		switch {
		case errors.Is(err, lookup.ErrNotFound):
			// Gone upstream entirely: treat as unranked.
			fresh = state
			fresh.Ranked = false
			fresh.Qualified = false
		case err != nil:
			r.logger.Warn(ctx, "chart reverification failed; keeping ranked state",
				logger.String("chartID", state.ChartID),
				logger.Error(err),
			)
			continue
		}

		out.seen++
		res := r.processChart(ctx, fresh)
		out.scoresUpdated += res.scoresUpdated
		if res.changed {
			out.changed++
		}
	}
	return out
}

func sortByPPDesc(scores []model.CurrentScore) {
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].PP != scores[j].PP {
			return scores[i].PP > scores[j].PP
		}
		return scores[i].ScoreID < scores[j].ScoreID
	})
}
