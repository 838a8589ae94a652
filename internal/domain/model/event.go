// Package model contains domain models passed between layers.
package model

import "time"

// Source identifies which upstream feed produced an event.
type Source string

// Known upstream feeds.
const (
	// SourceLive is the realtime leaderboard feed. It carries the
	// authoritative value/rank/pp for a play but no per-hand detail.
	SourceLive Source = "live"

	// SourceDeep is the replay-analysis feed. It arrives later and
	// carries enrichment such as hand accuracy and headset.
	SourceDeep Source = "deep"
)

// ChartIdentity names a single playable chart: one difficulty of one
// characteristic of one song. Hash/difficulty/characteristic formats differ
// between feeds; identity.Normalize produces the canonical form.
type ChartIdentity struct {
	SongHash       string
	Difficulty     string
	Characteristic string
}

// Enrichment holds source-specific extra fields attached to a play.
// Only the deep feed populates it.
type Enrichment struct {
	LeftHandAccuracy  float64
	RightHandAccuracy float64
	Headset           string
	PauseCount        int
}

// ScoreEvent is one upstream notification about a played song.
// Immutable once received.
type ScoreEvent struct {
	Source     Source
	ScoreID    string // upstream score id, when the feed assigns one
	PlayerID   string
	Chart      ChartIdentity
	Value      int64 // raw point total
	Accuracy   float64
	Rank       int     // leaderboard position reported by the feed
	PP         float64 // performance points reported by the feed, if any
	MissCount  int
	BadCuts    int
	MaxCombo   int
	FullCombo  bool
	SetAt      time.Time
	Enrichment *Enrichment
}

// CombinedEvent is the settled result of correlating the two feeds:
// either a merged pair or a single event that timed out alone.
type CombinedEvent struct {
	ScoreID    string
	PlayerID   string
	Chart      ChartIdentity
	Value      int64
	Accuracy   float64
	Rank       int
	PP         float64
	MissCount  int
	BadCuts    int
	MaxCombo   int
	FullCombo  bool
	SetAt      time.Time
	Enrichment *Enrichment
	Sources    []Source // feeds that contributed, in arrival order
}
