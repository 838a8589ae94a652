package model

import "time"

// CurrentScore is the canonical persisted record of a player's live score
// on a chart. One row per (player, chart): mutated in place on a duplicate
// redelivery, replaced (with archival) on an improvement.
type CurrentScore struct {
	ScoreID    string
	PlayerID   string
	ChartID    string
	Value      int64
	Accuracy   float64
	Rank       int
	PP         float64
	Weight     float64
	MaxCombo   int
	MissCount  int
	BadCuts    int
	FullCombo  bool
	SetAt      time.Time
	Enrichment *Enrichment
}

// ArchivedScore is a snapshot of a CurrentScore taken the moment it was
// superseded by an improvement. Append-only; the only later mutation is the
// ranking cascade rewriting PP (and zeroing Weight) when the chart's rating
// changes.
type ArchivedScore struct {
	CurrentScore

	ArchiveID  string
	ArchivedAt time.Time
}

// Delta is the field-wise numeric difference between an improved score and
// the snapshot it superseded.
type Delta struct {
	Value     int64
	Accuracy  float64
	PP        float64
	MissCount int
	MaxCombo  int
}

// ChartRankingState is the per-chart ranking metadata the cascade diffs
// against the authoritative lookup. A chart may keep a historical
// DifficultyRating while unranked.
type ChartRankingState struct {
	ChartID          string
	DifficultyRating float64 // >= 0; 0 means never rated
	Ranked           bool
	Qualified        bool
	LastRefreshed    time.Time
}
