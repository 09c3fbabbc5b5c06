package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/OFFIS-RIT/hippo/backend/pkg/common"
	"github.com/OFFIS-RIT/hippo/backend/pkg/store"
)

type embeddingRow struct {
	content string
	vector  []float32
}

// EmbeddingStore is an in-memory store.EmbeddingStore used in tests and
// single-process setups. Safe for concurrent use.
type EmbeddingStore struct {
	mu   sync.RWMutex
	rows map[store.Namespace]map[string]embeddingRow
}

// NewEmbeddingStore creates an empty in-memory embedding store.
func NewEmbeddingStore() *EmbeddingStore {
	return &EmbeddingStore{
		rows: make(map[store.Namespace]map[string]embeddingRow),
	}
}

// namespace returns the rows of a namespace; nil when nothing was ever
// inserted, which reads fine as an empty map.
func (s *EmbeddingStore) namespace(ns store.Namespace) map[string]embeddingRow {
	return s.rows[ns]
}

func (s *EmbeddingStore) Insert(
	ctx context.Context,
	ns store.Namespace,
	rows []common.Row,
	vectors [][]float32,
) error {
	if len(rows) != len(vectors) {
		return fmt.Errorf("rows/vectors length mismatch: %d != %d", len(rows), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.rows[ns]
	if m == nil {
		m = make(map[string]embeddingRow)
		s.rows[ns] = m
	}
	for i, row := range rows {
		if _, exists := m[row.HashID]; exists {
			continue
		}
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		m[row.HashID] = embeddingRow{content: row.Content, vector: vec}
	}
	return nil
}

func (s *EmbeddingStore) Delete(ctx context.Context, ns store.Namespace, hashIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.namespace(ns)
	for _, id := range hashIDs {
		delete(m, id)
	}
	return nil
}

func (s *EmbeddingStore) MissingIDs(
	ctx context.Context,
	ns store.Namespace,
	hashIDs []string,
) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.namespace(ns)
	missing := make([]string, 0)
	for _, id := range hashIDs {
		if _, ok := m[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (s *EmbeddingStore) DeleteNamespace(ctx context.Context, ns store.Namespace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rows, ns)
	return nil
}

func (s *EmbeddingStore) Search(
	ctx context.Context,
	ns store.Namespace,
	query []float32,
	topK int,
	allowedIDs []string,
) ([]store.Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var allowed map[string]struct{}
	if allowedIDs != nil {
		allowed = make(map[string]struct{}, len(allowedIDs))
		for _, id := range allowedIDs {
			allowed[id] = struct{}{}
		}
	}

	m := s.namespace(ns)
	neighbors := make([]store.Neighbor, 0, len(m))
	for id, row := range m {
		if allowed != nil {
			if _, ok := allowed[id]; !ok {
				continue
			}
		}
		neighbors = append(neighbors, store.Neighbor{
			HashID: id,
			Score:  cosineSimilarity(query, row.vector),
		})
	}
	sortNeighbors(neighbors)
	if topK > 0 && len(neighbors) > topK {
		neighbors = neighbors[:topK]
	}
	return neighbors, nil
}

func (s *EmbeddingStore) KNNByIDs(
	ctx context.Context,
	ns store.Namespace,
	hashIDs []string,
	topK int,
) (map[string][]store.Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.namespace(ns)
	out := make(map[string][]store.Neighbor, len(hashIDs))
	for _, id := range hashIDs {
		source, ok := m[id]
		if !ok {
			continue
		}
		neighbors := make([]store.Neighbor, 0, len(m))
		for otherID, row := range m {
			if otherID == id {
				continue
			}
			neighbors = append(neighbors, store.Neighbor{
				HashID: otherID,
				Score:  cosineSimilarity(source.vector, row.vector),
			})
		}
		sortNeighbors(neighbors)
		if topK > 0 && len(neighbors) > topK {
			neighbors = neighbors[:topK]
		}
		out[id] = neighbors
	}
	return out, nil
}

func (s *EmbeddingStore) GetRows(
	ctx context.Context,
	ns store.Namespace,
	hashIDs []string,
) (map[string]common.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.namespace(ns)
	out := make(map[string]common.Row, len(hashIDs))
	for _, id := range hashIDs {
		if row, ok := m[id]; ok {
			out[id] = common.Row{HashID: id, Content: row.content}
		}
	}
	return out, nil
}

func (s *EmbeddingStore) ListIDs(ctx context.Context, ns store.Namespace) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.namespace(ns)
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *EmbeddingStore) Count(ctx context.Context, ns store.Namespace) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.namespace(ns)), nil
}

// Vector returns a copy of the stored vector, for tests.
func (s *EmbeddingStore) Vector(ns store.Namespace, hashID string) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.namespace(ns)[hashID]
	if !ok {
		return nil, false
	}
	vec := make([]float32, len(row.vector))
	copy(vec, row.vector)
	return vec, true
}

func sortNeighbors(neighbors []store.Neighbor) {
	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Score != neighbors[j].Score {
			return neighbors[i].Score > neighbors[j].Score
		}
		return neighbors[i].HashID < neighbors[j].HashID
	})
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
