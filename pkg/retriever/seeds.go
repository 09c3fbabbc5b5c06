package retriever

import "sort"

// TopKSeeds reduces a seed weight map to its k heaviest entries. In sparse
// mode only the selected entries are returned; in dense mode every key is
// kept and non-selected weights are zeroed. k <= 0 selects nothing.
func TopKSeeds(weights map[string]float64, k int, sparse bool) map[string]float64 {
	if k <= 0 || len(weights) == 0 {
		if sparse {
			return map[string]float64{}
		}
		out := make(map[string]float64, len(weights))
		for id := range weights {
			out[id] = 0.0
		}
		return out
	}

	type entry struct {
		id     string
		weight float64
	}
	entries := make([]entry, 0, len(weights))
	for id, w := range weights {
		entries = append(entries, entry{id: id, weight: w})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].weight != entries[j].weight {
			return entries[i].weight > entries[j].weight
		}
		return entries[i].id < entries[j].id
	})
	if k > len(entries) {
		k = len(entries)
	}

	keep := make(map[string]struct{}, k)
	for _, e := range entries[:k] {
		keep[e.id] = struct{}{}
	}

	if sparse {
		out := make(map[string]float64, k)
		for _, e := range entries[:k] {
			out[e.id] = e.weight
		}
		return out
	}

	out := make(map[string]float64, len(weights))
	for id, w := range weights {
		if _, ok := keep[id]; ok {
			out[id] = w
		} else {
			out[id] = 0.0
		}
	}
	return out
}

func minMaxNormalize(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	out := make([]float64, len(scores))
	if hi == lo {
		for i := range out {
			out[i] = 1.0
		}
		return out
	}
	for i, s := range scores {
		out[i] = (s - lo) / (hi - lo)
	}
	return out
}
