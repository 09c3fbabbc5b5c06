package graph

import (
	"sort"

	"github.com/OFFIS-RIT/hippo/backend/pkg/common"
)

const (
	// DefaultDamping is the restart-biased damping factor used for
	// retrieval walks.
	DefaultDamping = 0.5

	defaultMaxIterations = 100
	defaultTolerance     = 1e-9
)

// PageRankParams configure a personalized PageRank run.
type PageRankParams struct {
	Damping       float64
	MaxIterations int
	Tolerance     float64
}

func (p *PageRankParams) applyDefaults() {
	if p.Damping <= 0 || p.Damping >= 1 {
		p.Damping = DefaultDamping
	}
	if p.MaxIterations <= 0 {
		p.MaxIterations = defaultMaxIterations
	}
	if p.Tolerance <= 0 {
		p.Tolerance = defaultTolerance
	}
}

// PersonalizedPageRank computes personalized PageRank scores over the given
// weighted directed edge list. Only nodes present in the nodes slice take
// part; edges touching unknown nodes are skipped. Seed weights form the
// restart distribution and are normalized internally. Dangling mass is
// redistributed to the seeds.
//
// The computation is deterministic: node order is fixed by sorting the ids,
// so identical inputs always produce identical scores.
func PersonalizedPageRank(
	nodes []string,
	edges []common.Edge,
	seeds map[string]float64,
	params PageRankParams,
) map[string]float64 {
	params.applyDefaults()

	if len(nodes) == 0 || len(seeds) == 0 {
		return map[string]float64{}
	}

	ids := make([]string, 0, len(nodes))
	seen := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		ids = append(ids, n)
	}
	sort.Strings(ids)

	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	n := len(ids)

	// Restart distribution from the seeds.
	restart := make([]float64, n)
	var seedTotal float64
	for id, w := range seeds {
		if w <= 0 {
			continue
		}
		if i, ok := index[id]; ok {
			restart[i] += w
			seedTotal += w
		}
	}
	if seedTotal == 0 {
		return map[string]float64{}
	}
	for i := range restart {
		restart[i] /= seedTotal
	}

	type outEdge struct {
		dst    int
		weight float64
	}
	outEdges := make([][]outEdge, n)
	outWeight := make([]float64, n)
	for _, e := range edges {
		src, ok := index[e.Src]
		if !ok {
			continue
		}
		dst, ok := index[e.Dst]
		if !ok {
			continue
		}
		w := e.Weight
		if w <= 0 {
			w = 1
		}
		outEdges[src] = append(outEdges[src], outEdge{dst: dst, weight: w})
		outWeight[src] += w
	}

	rank := make([]float64, n)
	copy(rank, restart)
	next := make([]float64, n)

	for iter := 0; iter < params.MaxIterations; iter++ {
		var dangling float64
		for i := range next {
			next[i] = 0
		}
		for i := 0; i < n; i++ {
			if outWeight[i] == 0 {
				dangling += rank[i]
				continue
			}
			share := rank[i] / outWeight[i]
			for _, e := range outEdges[i] {
				next[e.dst] += share * e.weight
			}
		}

		var delta float64
		for i := 0; i < n; i++ {
			v := params.Damping*(next[i]+dangling*restart[i]) + (1-params.Damping)*restart[i]
			d := v - rank[i]
			if d < 0 {
				d = -d
			}
			delta += d
			rank[i] = v
		}
		if delta < params.Tolerance {
			break
		}
	}

	out := make(map[string]float64, n)
	for i, id := range ids {
		out[id] = rank[i]
	}
	return out
}

// TopChunks filters PageRank scores down to chunk nodes and returns the topK
// by score. Ties break on node id so results stay stable.
func TopChunks(
	scores map[string]float64,
	nodeTypes map[string]common.NodeType,
	topK int,
) []ScoredNode {
	ranked := make([]ScoredNode, 0, len(scores))
	for id, score := range scores {
		if nodeTypes[id] != common.NodeTypeChunk {
			continue
		}
		ranked = append(ranked, ScoredNode{ID: id, Score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ID < ranked[j].ID
	})
	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked
}

// ScoredNode pairs a node id with its walk score.
type ScoredNode struct {
	ID    string
	Score float64
}
