package retriever

import (
	"math"
	"testing"
)

func TestTopKSeedsSparse(t *testing.T) {
	weights := map[string]float64{"a": 0.5, "b": 0.9, "c": 0.1, "d": 0.7}

	got := TopKSeeds(weights, 2, true)
	if len(got) != 2 {
		t.Fatalf("expected 2 seeds, got %d", len(got))
	}
	if got["b"] != 0.9 || got["d"] != 0.7 {
		t.Fatalf("unexpected seeds: %v", got)
	}
}

func TestTopKSeedsDense(t *testing.T) {
	weights := map[string]float64{"a": 0.5, "b": 0.9, "c": 0.1}

	got := TopKSeeds(weights, 1, false)
	if len(got) != len(weights) {
		t.Fatalf("dense mode must keep all keys, got %d", len(got))
	}
	if got["b"] != 0.9 {
		t.Fatalf("selected seed lost its weight: %v", got)
	}
	if got["a"] != 0 || got["c"] != 0 {
		t.Fatalf("non-selected seeds must be zeroed: %v", got)
	}
}

func TestTopKSeedsEmptyAndZeroK(t *testing.T) {
	weights := map[string]float64{"a": 0.5}

	if got := TopKSeeds(weights, 0, true); len(got) != 0 {
		t.Fatalf("k=0 sparse should select nothing: %v", got)
	}
	got := TopKSeeds(weights, 0, false)
	if len(got) != 1 || got["a"] != 0 {
		t.Fatalf("k=0 dense should zero every key: %v", got)
	}
	if got := TopKSeeds(nil, 3, true); len(got) != 0 {
		t.Fatalf("empty weights should yield empty seeds: %v", got)
	}
}

func TestTopKSeedsKLargerThanInput(t *testing.T) {
	weights := map[string]float64{"a": 0.5, "b": 0.9}

	got := TopKSeeds(weights, 10, true)
	if len(got) != 2 {
		t.Fatalf("expected all seeds, got %d", len(got))
	}
}

func TestMinMaxNormalize(t *testing.T) {
	got := minMaxNormalize([]float64{2, 4, 6})
	want := []float64{0, 0.5, 1}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("normalize mismatch at %d: %v", i, got)
		}
	}

	got = minMaxNormalize([]float64{3, 3})
	if got[0] != 1 || got[1] != 1 {
		t.Fatalf("constant scores should normalize to 1: %v", got)
	}

	if got := minMaxNormalize(nil); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
}
