package graph

import (
	"testing"

	"github.com/OFFIS-RIT/hippo/backend/pkg/common"
)

func TestPersonalizedPageRankDeterministic(t *testing.T) {
	nodes := []string{"a", "b", "c", "d"}
	edges := []common.Edge{
		{Src: "a", Dst: "b", Weight: 1},
		{Src: "b", Dst: "a", Weight: 1},
		{Src: "b", Dst: "c", Weight: 2},
		{Src: "c", Dst: "b", Weight: 2},
		{Src: "c", Dst: "d", Weight: 1},
		{Src: "d", Dst: "c", Weight: 1},
	}
	seeds := map[string]float64{"a": 1.0}

	first := PersonalizedPageRank(nodes, edges, seeds, PageRankParams{})
	for i := 0; i < 5; i++ {
		again := PersonalizedPageRank(nodes, edges, seeds, PageRankParams{})
		if len(again) != len(first) {
			t.Fatalf("run %d: got %d scores, want %d", i, len(again), len(first))
		}
		for id, score := range first {
			if again[id] != score {
				t.Fatalf("run %d: score for %q changed: %v != %v", i, id, again[id], score)
			}
		}
	}
}

func TestPersonalizedPageRankSeedBias(t *testing.T) {
	nodes := []string{"a", "b", "c"}
	edges := []common.Edge{
		{Src: "a", Dst: "b", Weight: 1},
		{Src: "b", Dst: "c", Weight: 1},
		{Src: "c", Dst: "a", Weight: 1},
	}

	scores := PersonalizedPageRank(nodes, edges, map[string]float64{"a": 1.0}, PageRankParams{})
	if scores["a"] <= scores["c"] {
		t.Fatalf("seed node should outrank distant node: a=%v c=%v", scores["a"], scores["c"])
	}
}

func TestPersonalizedPageRankUnknownNodesSkipped(t *testing.T) {
	nodes := []string{"a", "b"}
	edges := []common.Edge{
		{Src: "a", Dst: "b", Weight: 1},
		{Src: "a", Dst: "ghost", Weight: 5},
		{Src: "ghost", Dst: "b", Weight: 5},
	}

	scores := PersonalizedPageRank(nodes, edges, map[string]float64{"a": 1.0}, PageRankParams{})
	if len(scores) != 2 {
		t.Fatalf("expected scores only for known nodes, got %v", scores)
	}
	if _, ok := scores["ghost"]; ok {
		t.Fatal("ghost node must not appear in scores")
	}
}

func TestPersonalizedPageRankEmptySeeds(t *testing.T) {
	scores := PersonalizedPageRank([]string{"a"}, nil, map[string]float64{}, PageRankParams{})
	if len(scores) != 0 {
		t.Fatalf("expected empty result, got %v", scores)
	}

	scores = PersonalizedPageRank([]string{"a"}, nil, map[string]float64{"unknown": 1}, PageRankParams{})
	if len(scores) != 0 {
		t.Fatalf("expected empty result for seeds outside the graph, got %v", scores)
	}
}

func TestTopChunks(t *testing.T) {
	scores := map[string]float64{
		"chunk-a":  0.5,
		"chunk-b":  0.3,
		"chunk-c":  0.3,
		"entity-x": 0.9,
	}
	types := map[string]common.NodeType{
		"chunk-a":  common.NodeTypeChunk,
		"chunk-b":  common.NodeTypeChunk,
		"chunk-c":  common.NodeTypeChunk,
		"entity-x": common.NodeTypeEntity,
	}

	top := TopChunks(scores, types, 2)
	if len(top) != 2 {
		t.Fatalf("expected 2 results, got %d", len(top))
	}
	if top[0].ID != "chunk-a" {
		t.Fatalf("expected chunk-a first, got %s", top[0].ID)
	}
	// ties break on id
	if top[1].ID != "chunk-b" {
		t.Fatalf("expected chunk-b second, got %s", top[1].ID)
	}
	for _, s := range top {
		if types[s.ID] != common.NodeTypeChunk {
			t.Fatalf("non-chunk node %s in results", s.ID)
		}
	}
}
