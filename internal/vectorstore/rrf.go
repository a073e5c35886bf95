package vectorstore

import "sort"

// RRFConstant is the k in 1/(k+rank).
const RRFConstant = 60

// Fused is one candidate after rank fusion.
type Fused struct {
	ID    string
	Score float64
}

// RRF fuses ranked id lists by summing 1/(RRFConstant+rank), rank starting
// at 1. Ties are broken by id so the order is deterministic.
func RRF(lists ...[]string) []Fused {
	scores := make(map[string]float64)
	for _, list := range lists {
		for i, id := range list {
			scores[id] += 1.0 / float64(RRFConstant+i+1)
		}
	}

	out := make([]Fused, 0, len(scores))
	for id, s := range scores {
		out = append(out, Fused{ID: id, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}
