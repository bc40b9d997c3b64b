// Package rank orders digest items into their final, reproducible sequence.
package rank

import (
	"sort"

	"NewsDigest/internal/domain"
)

// neutral is the value an absent external score contributes to ordering.
// With scoring disabled every item compares equal on this key and the
// order degrades to (priority asc, subject asc).
const neutral = 0.0

// Apply attaches external scores to items by message ID. Scores are
// clamped to [0,1]; items without an entry keep a nil score.
func Apply(items []domain.Item, scores map[string]float64) {
	if len(scores) == 0 {
		return
	}
	for i := range items {
		score, ok := scores[items[i].MessageID]
		if !ok {
			continue
		}
		score = clamp(score)
		items[i].Score = &score
	}
}

// Order sorts items in place: external score descending when present,
// then static priority ascending (1 is highest), then subject ascending
// as the deterministic tie-break.
func Order(items []domain.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		si, sj := scoreOf(items[i]), scoreOf(items[j])
		if si != sj {
			return si > sj
		}
		if items[i].Priority != items[j].Priority {
			return items[i].Priority < items[j].Priority
		}
		return items[i].Subject < items[j].Subject
	})
}

func scoreOf(item domain.Item) float64 {
	if item.Score == nil {
		return neutral
	}
	return *item.Score
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
