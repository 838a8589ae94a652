// Package identity derives the canonical identifiers that tie the two feeds
// together: the normalized chart identity, the per-chart store key, and the
// correlation key used to pair events describing the same play.
package identity

import (
	"strings"

	"github.com/beatkit/tempo/internal/domain/model"
)

// Canonical difficulty names. Feeds disagree on formatting ("Expert+",
// "expertplus", "EXPERT_PLUS"); everything collapses onto these.
const (
	DifficultyEasy       = "Easy"
	DifficultyNormal     = "Normal"
	DifficultyHard       = "Hard"
	DifficultyExpert     = "Expert"
	DifficultyExpertPlus = "ExpertPlus"
)

// DefaultCharacteristic is assumed when a feed omits the characteristic.
const DefaultCharacteristic = "Standard"

// Normalize returns the canonical form of a chart identity: song hash
// uppercased, difficulty and characteristic in canonical casing. Unknown
// difficulty spellings are preserved as-is so validation can reject them
// downstream rather than silently inventing a chart.
func Normalize(c model.ChartIdentity) model.ChartIdentity {
	out := model.ChartIdentity{
		SongHash:       strings.ToUpper(strings.TrimSpace(c.SongHash)),
		Difficulty:     normalizeDifficulty(c.Difficulty),
		Characteristic: normalizeCharacteristic(c.Characteristic),
	}
	return out
}

func normalizeDifficulty(d string) string {
	squashed := strings.ToLower(strings.TrimSpace(d))
	squashed = strings.NewReplacer(" ", "", "_", "", "-", "", "+", "plus").Replace(squashed)
	switch squashed {
	case "easy":
		return DifficultyEasy
	case "normal":
		return DifficultyNormal
	case "hard":
		return DifficultyHard
	case "expert":
		return DifficultyExpert
	case "expertplus":
		return DifficultyExpertPlus
	default:
		return strings.TrimSpace(d)
	}
}

func normalizeCharacteristic(c string) string {
	trimmed := strings.TrimSpace(c)
	if trimmed == "" {
		return DefaultCharacteristic
	}
	// Title-case single word characteristics: "standard" -> "Standard".
	lower := strings.ToLower(trimmed)
	return strings.ToUpper(lower[:1]) + lower[1:]
}

// ChartID returns the store key for a chart, derived from the normalized
// identity. Stable across feeds and restarts.
func ChartID(c model.ChartIdentity) string {
	n := Normalize(c)
	return n.SongHash + "-" + strings.ToUpper(n.Difficulty) + "-" + strings.ToUpper(n.Characteristic)
}

// CorrelationKey returns the deterministic key used to match events from
// different feeds describing the same play, e.g.
// "P1-ABCD1234-EXPERTPLUS-STANDARD".
func CorrelationKey(playerID string, c model.ChartIdentity) string {
	return strings.TrimSpace(playerID) + "-" + ChartID(c)
}
