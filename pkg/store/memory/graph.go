package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/OFFIS-RIT/hippo/backend/pkg/common"
	"github.com/OFFIS-RIT/hippo/backend/pkg/graph"
	"github.com/OFFIS-RIT/hippo/backend/pkg/store"
)

type edgeKey struct {
	src string
	dst string
}

// GraphStore is an in-memory store.GraphStore. Edges are keyed by
// (src, dst); re-adding an edge overwrites its weight.
type GraphStore struct {
	mu    sync.RWMutex
	nodes map[string]common.Node
	edges map[edgeKey]float64
}

// NewGraphStore creates an empty in-memory graph store.
func NewGraphStore() *GraphStore {
	return &GraphStore{
		nodes: make(map[string]common.Node),
		edges: make(map[edgeKey]float64),
	}
}

func (s *GraphStore) AddNodes(ctx context.Context, nodes []common.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range nodes {
		if _, exists := s.nodes[n.HashID]; exists {
			continue
		}
		s.nodes[n.HashID] = n
	}
	return nil
}

func (s *GraphStore) AddEdges(ctx context.Context, edges []common.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range edges {
		s.edges[edgeKey{src: e.Src, dst: e.Dst}] = e.Weight
	}
	return nil
}

func (s *GraphStore) RemoveNodes(ctx context.Context, hashIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make(map[string]struct{}, len(hashIDs))
	for _, id := range hashIDs {
		delete(s.nodes, id)
		removed[id] = struct{}{}
	}
	for k := range s.edges {
		if _, ok := removed[k.src]; ok {
			delete(s.edges, k)
			continue
		}
		if _, ok := removed[k.dst]; ok {
			delete(s.edges, k)
		}
	}
	return nil
}

func (s *GraphStore) GetNode(ctx context.Context, hashID string) (*common.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[hashID]
	if !ok {
		return nil, nil
	}
	return &n, nil
}

func (s *GraphStore) GetNodes(ctx context.Context, hashIDs []string) ([]common.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]common.Node, 0, len(hashIDs))
	for _, id := range hashIDs {
		if n, ok := s.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *GraphStore) GetNotExistingNodes(ctx context.Context, hashIDs []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	missing := make([]string, 0)
	for _, id := range hashIDs {
		if _, ok := s.nodes[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (s *GraphStore) GetEdgesOfNode(ctx context.Context, hashID string) ([]common.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]common.Edge, 0)
	for k, w := range s.edges {
		if k.src != hashID && k.dst != hashID {
			continue
		}
		out = append(out, common.Edge{Src: k.src, Dst: k.dst, Weight: w})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Src != out[j].Src {
			return out[i].Src < out[j].Src
		}
		return out[i].Dst < out[j].Dst
	})
	return out, nil
}

func (s *GraphStore) NodeDegrees(ctx context.Context, hashIDs []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]struct{}, len(hashIDs))
	for _, id := range hashIDs {
		want[id] = struct{}{}
	}

	degrees := make(map[string]int, len(hashIDs))
	for k := range s.edges {
		if _, ok := want[k.src]; ok {
			degrees[k.src]++
		}
		if _, ok := want[k.dst]; ok {
			degrees[k.dst]++
		}
	}
	return degrees, nil
}

func (s *GraphStore) NodeCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes), nil
}

func (s *GraphStore) EdgeCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges), nil
}

func (s *GraphStore) PersonalizedPageRank(
	ctx context.Context,
	seeds map[string]float64,
	opts store.PPROptions,
) ([]store.Neighbor, error) {
	s.mu.RLock()

	allowed := func(string) bool { return true }
	if len(opts.AllowList) > 0 {
		allowSet := make(map[string]struct{}, len(opts.AllowList))
		for _, id := range opts.AllowList {
			allowSet[id] = struct{}{}
		}
		allowed = func(id string) bool {
			_, ok := allowSet[id]
			return ok
		}
	}

	nodes := make([]string, 0, len(s.nodes))
	nodeTypes := make(map[string]common.NodeType, len(s.nodes))
	for id, n := range s.nodes {
		if !allowed(id) {
			continue
		}
		nodes = append(nodes, id)
		nodeTypes[id] = n.NodeType
	}

	edges := make([]common.Edge, 0, len(s.edges))
	for k, w := range s.edges {
		if !allowed(k.src) || !allowed(k.dst) {
			continue
		}
		edges = append(edges, common.Edge{Src: k.src, Dst: k.dst, Weight: w})
	}
	s.mu.RUnlock()

	scores := graph.PersonalizedPageRank(nodes, edges, seeds, graph.PageRankParams{
		Damping: opts.Damping,
	})

	ranked := graph.TopChunks(scores, nodeTypes, opts.TopK)
	out := make([]store.Neighbor, len(ranked))
	for i, r := range ranked {
		out[i] = store.Neighbor{HashID: r.ID, Score: r.Score}
	}
	return out, nil
}
