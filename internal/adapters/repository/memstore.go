package repository

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/beatkit/tempo/internal/domain/model"
	"github.com/beatkit/tempo/pkg/metrics"
)

// Sharded, in-memory Store implementation.
//
// Score rows are sharded by playerID so concurrent track() calls for
// different players never contend. Chart-wide reads (the cascade path) scan
// all shards; that path is batch-oriented and tolerates the scan cost.

const defaultShardCount = 16

// shard holds one partition of the score data.
type shard struct {
	mu      sync.RWMutex
	current map[string]map[string]model.CurrentScore // playerID -> chartID -> score
	archive map[string][]model.ArchivedScore         // playerID -> snapshots, append order
	devices map[string]string                        // playerID -> most-used device
}

// MemStore implements Store with sharded in-memory maps.
type MemStore struct {
	shardCount int
	shards     []*shard

	chartMu sync.RWMutex
	charts  map[string]model.ChartRankingState
}

// NewMemStore creates an in-memory store with configuration options.
func NewMemStore(opts ...Option) *MemStore {
	s := &MemStore{
		shardCount: defaultShardCount,
		charts:     make(map[string]model.ChartRankingState),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.shards = make([]*shard, s.shardCount)
	for i := range s.shards {
		s.shards[i] = &shard{
			current: make(map[string]map[string]model.CurrentScore),
			archive: make(map[string][]model.ArchivedScore),
			devices: make(map[string]string),
		}
	}
	return s
}

// shardFor picks the shard owning a player's rows.
func (s *MemStore) shardFor(playerID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(playerID))
	return s.shards[int(h.Sum32())%s.shardCount]
}

// CurrentScore returns the live score for (playerID, chartID).
func (s *MemStore) CurrentScore(ctx context.Context, playerID, chartID string) (model.CurrentScore, error) {
	sh := s.shardFor(playerID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	sc, ok := sh.current[playerID][chartID]
	if !ok {
		return model.CurrentScore{}, ErrNotFound
	}
	return sc, nil
}

// PutCurrentScore upserts the live score for (score.PlayerID, score.ChartID).
func (s *MemStore) PutCurrentScore(ctx context.Context, score model.CurrentScore) error {
	sh := s.shardFor(score.PlayerID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	byChart, ok := sh.current[score.PlayerID]
	if !ok {
		byChart = make(map[string]model.CurrentScore)
		sh.current[score.PlayerID] = byChart
	}
	byChart[score.ChartID] = score
	return nil
}

// ArchivePreviousScore appends a superseded-score snapshot.
func (s *MemStore) ArchivePreviousScore(ctx context.Context, archived model.ArchivedScore) error {
	sh := s.shardFor(archived.PlayerID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.archive[archived.PlayerID] = append(sh.archive[archived.PlayerID], archived)
	metrics.RecordScoreArchived()
	return nil
}

// ChartCurrentScores returns every live score on a chart.
func (s *MemStore) ChartCurrentScores(ctx context.Context, chartID string) ([]model.CurrentScore, error) {
	var out []model.CurrentScore
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, byChart := range sh.current {
			if sc, ok := byChart[chartID]; ok {
				out = append(out, sc)
			}
		}
		sh.mu.RUnlock()
	}
	return out, nil
}

// ChartArchivedScores returns every archived score on a chart.
func (s *MemStore) ChartArchivedScores(ctx context.Context, chartID string) ([]model.ArchivedScore, error) {
	var out []model.ArchivedScore
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, rows := range sh.archive {
			for _, row := range rows {
				if row.ChartID == chartID {
					out = append(out, row)
				}
			}
		}
		sh.mu.RUnlock()
	}
	return out, nil
}

// PlayerCurrentScores returns a player's live scores ordered by pp descending.
func (s *MemStore) PlayerCurrentScores(ctx context.Context, playerID string) ([]model.CurrentScore, error) {
	sh := s.shardFor(playerID)
	sh.mu.RLock()
	byChart := sh.current[playerID]
	out := make([]model.CurrentScore, 0, len(byChart))
	for _, sc := range byChart {
		out = append(out, sc)
	}
	sh.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].PP != out[j].PP {
			return out[i].PP > out[j].PP
		}
		// Deterministic order for equal pp.
		return out[i].ScoreID < out[j].ScoreID
	})
	return out, nil
}

// BulkZeroChartScores zeroes pp and weight on every live score on a chart.
func (s *MemStore) BulkZeroChartScores(ctx context.Context, chartID string) (int, error) {
	touched := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for playerID, byChart := range sh.current {
			if sc, ok := byChart[chartID]; ok {
				sc.PP = 0
				sc.Weight = 0
				sh.current[playerID][chartID] = sc
				touched++
			}
		}
		sh.mu.Unlock()
	}
	return touched, nil
}

// BulkZeroChartArchive zeroes pp and weight on every archived score on a chart.
func (s *MemStore) BulkZeroChartArchive(ctx context.Context, chartID string) (int, error) {
	touched := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for playerID, rows := range sh.archive {
			for i, row := range rows {
				if row.ChartID == chartID {
					row.PP = 0
					row.Weight = 0
					sh.archive[playerID][i] = row
					touched++
				}
			}
		}
		sh.mu.Unlock()
	}
	return touched, nil
}

// BulkUpdateScorePP applies recomputed pp/rank/weight to live scores on a
// chart, matching rows by (ScoreID, Value).
func (s *MemStore) BulkUpdateScorePP(ctx context.Context, chartID string, updates []PPUpdate) (int, error) {
	byScoreID := make(map[string]PPUpdate, len(updates))
	for _, u := range updates {
		byScoreID[u.ScoreID] = u
	}

	updated := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for playerID, byChart := range sh.current {
			sc, ok := byChart[chartID]
			if !ok {
				continue
			}
			u, ok := byScoreID[sc.ScoreID]
			if !ok || u.Value != sc.Value {
				continue
			}
			sc.PP = u.PP
			sc.Rank = u.Rank
			sc.Weight = u.Weight
			sh.current[playerID][chartID] = sc
			updated++
		}
		sh.mu.Unlock()
	}
	return updated, nil
}

// UpdateArchivePP rewrites pp on one archived row and zeroes its weight.
func (s *MemStore) UpdateArchivePP(ctx context.Context, archiveID string, pp float64) error {
	for _, sh := range s.shards {
		sh.mu.Lock()
		for playerID, rows := range sh.archive {
			for i, row := range rows {
				if row.ArchiveID == archiveID {
					row.PP = pp
					row.Weight = 0
					sh.archive[playerID][i] = row
					sh.mu.Unlock()
					return nil
				}
			}
		}
		sh.mu.Unlock()
	}
	return ErrNotFound
}

// UpdatePlayerScoreWeights applies recomputed weights across a player's
// live scores.
func (s *MemStore) UpdatePlayerScoreWeights(ctx context.Context, playerID string, updates []WeightUpdate) (int, error) {
	byScoreID := make(map[string]float64, len(updates))
	for _, u := range updates {
		byScoreID[u.ScoreID] = u.Weight
	}

	sh := s.shardFor(playerID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	updated := 0
	for chartID, sc := range sh.current[playerID] {
		w, ok := byScoreID[sc.ScoreID]
		if !ok {
			continue
		}
		sc.Weight = w
		sh.current[playerID][chartID] = sc
		updated++
	}
	return updated, nil
}

// ChartRankingState returns the stored ranking metadata for a chart.
func (s *MemStore) ChartRankingState(ctx context.Context, chartID string) (model.ChartRankingState, error) {
	s.chartMu.RLock()
	defer s.chartMu.RUnlock()

	state, ok := s.charts[chartID]
	if !ok {
		return model.ChartRankingState{}, ErrNotFound
	}
	return state, nil
}

// PutChartRankingState upserts a chart's ranking metadata.
func (s *MemStore) PutChartRankingState(ctx context.Context, state model.ChartRankingState) error {
	s.chartMu.Lock()
	defer s.chartMu.Unlock()

	s.charts[state.ChartID] = state
	metrics.UpdateStoreCharts(len(s.charts))
	return nil
}

// RankedChartStates returns every stored chart currently marked ranked.
func (s *MemStore) RankedChartStates(ctx context.Context) ([]model.ChartRankingState, error) {
	s.chartMu.RLock()
	defer s.chartMu.RUnlock()

	var out []model.ChartRankingState
	for _, state := range s.charts {
		if state.Ranked {
			out = append(out, state)
		}
	}
	return out, nil
}

// SetPlayerDevice updates the denormalized most-used-device attribute.
func (s *MemStore) SetPlayerDevice(ctx context.Context, playerID, device string) error {
	sh := s.shardFor(playerID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.devices[playerID] = device
	return nil
}

// PlayerDevice returns the recorded most-used device for a player, or ""
// when none has been recorded.
func (s *MemStore) PlayerDevice(ctx context.Context, playerID string) string {
	sh := s.shardFor(playerID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.devices[playerID]
}

// CountCurrentScores returns the total number of live score rows.
func (s *MemStore) CountCurrentScores(ctx context.Context) int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, byChart := range sh.current {
			total += len(byChart)
		}
		sh.mu.RUnlock()
	}
	return total
}

// CountArchivedScores returns the total number of archived score rows.
func (s *MemStore) CountArchivedScores(ctx context.Context) int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, rows := range sh.archive {
			total += len(rows)
		}
		sh.mu.RUnlock()
	}
	return total
}
