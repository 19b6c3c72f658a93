package rag

import (
	"cmp"
	"slices"
	"time"

	"github.com/MrWong99/personae/pkg/memory"
)

// Scored is a retrieved memory with its ranking details.
type Scored struct {
	Record memory.Record `json:"record"`

	// Similarity is the unweighted cosine similarity to the query.
	Similarity float64 `json:"similarity"`

	// Score is the final weighted ranking score.
	Score float64 `json:"score"`
}

// importanceMultiplier maps importance tiers onto score multipliers.
var importanceMultiplier = map[memory.Importance]float64{
	memory.ImportanceHigh:   1.3,
	memory.ImportanceMedium: 1.0,
	memory.ImportanceLow:    0.7,
}

// RecencyFactor returns max(floor, 1 - ageDays/30). Memories dated in the
// future count as brand new.
func RecencyFactor(createdAt, now time.Time, floor float64) float64 {
	ageDays := now.Sub(createdAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return max(floor, 1-ageDays/recencyWindowDays)
}

// Score computes the weighted ranking score of n.
func Score(n memory.Neighbor, o Options, now time.Time) Scored {
	base := n.Similarity()
	score := base
	if o.WeightEmotional {
		score *= 1 + n.Record.EmotionalWeight
	}
	if m, ok := importanceMultiplier[n.Record.Importance]; ok {
		score *= m
	}
	if o.BoostRecent {
		score *= RecencyFactor(n.Record.CreatedAt, now, o.RecencyFloor)
	}
	return Scored{Record: n.Record, Similarity: base, Score: score}
}

// Rank scores neighbours, drops those below the similarity floor and returns
// the top o.MaxResults. Equal scores are ordered newest first.
func Rank(neighbors []memory.Neighbor, o Options, now time.Time) []Scored {
	o = o.normalized()
	out := make([]Scored, 0, len(neighbors))
	for _, n := range neighbors {
		if n.Similarity() < o.MinSimilarity {
			continue
		}
		out = append(out, Score(n, o, now))
	}
	slices.SortStableFunc(out, func(a, b Scored) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return b.Record.CreatedAt.Compare(a.Record.CreatedAt)
	})
	if len(out) > o.MaxResults {
		out = out[:o.MaxResults]
	}
	return out
}
