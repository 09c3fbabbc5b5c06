package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/OFFIS-RIT/hippo/backend/pkg/common"
)

// StateStore is an in-memory store.StateStore.
type StateStore struct {
	mu           sync.RWMutex
	docs         map[string]common.Document
	entityChunks map[string]map[string]struct{}
	tripleDocs   map[string]map[string]struct{}
}

// NewStateStore creates an empty in-memory state store.
func NewStateStore() *StateStore {
	return &StateStore{
		docs:         make(map[string]common.Document),
		entityChunks: make(map[string]map[string]struct{}),
		tripleDocs:   make(map[string]map[string]struct{}),
	}
}

func (s *StateStore) SaveDocuments(ctx context.Context, docs []common.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range docs {
		s.docs[d.Idx] = d
	}
	return nil
}

func (s *StateStore) GetDocuments(ctx context.Context, hashIDs []string) ([]common.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]common.Document, 0, len(hashIDs))
	for _, id := range hashIDs {
		if d, ok := s.docs[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *StateStore) GetAllDocuments(ctx context.Context) ([]common.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]common.Document, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.docs[id])
	}
	return out, nil
}

func (s *StateStore) ListDocuments(ctx context.Context, offset, limit int) ([]common.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if offset < 0 {
		offset = 0
	}
	if offset >= len(ids) {
		return []common.Document{}, nil
	}
	ids = ids[offset:]
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]common.Document, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.docs[id])
	}
	return out, nil
}

func (s *StateStore) DeleteDocuments(ctx context.Context, hashIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range hashIDs {
		delete(s.docs, id)
	}
	return nil
}

func (s *StateStore) FindDocumentsByMetadata(
	ctx context.Context,
	filters map[string][]string,
) ([]common.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]common.Document, 0)
	for _, id := range ids {
		d := s.docs[id]
		if metadataMatches(d.Metadata, filters) {
			out = append(out, d)
		}
	}
	return out, nil
}

// metadataMatches checks that the document carries, for every filter key,
// at least one of that key's wanted values. The attribute may hold a single
// string or a list.
func metadataMatches(metadata map[string]any, filters map[string][]string) bool {
	for attr, wanted := range filters {
		if len(wanted) == 0 {
			continue
		}
		raw, ok := metadata[attr]
		if !ok {
			return false
		}
		have := make(map[string]struct{})
		switch v := raw.(type) {
		case string:
			have[v] = struct{}{}
		case []string:
			for _, s := range v {
				have[s] = struct{}{}
			}
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					have[s] = struct{}{}
				}
			}
		default:
			return false
		}
		matched := false
		for _, w := range wanted {
			if _, ok := have[w]; ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func (s *StateStore) LinkEntityToChunks(ctx context.Context, entityID string, chunkIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.entityChunks[entityID]
	if !ok {
		set = make(map[string]struct{})
		s.entityChunks[entityID] = set
	}
	for _, id := range chunkIDs {
		set[id] = struct{}{}
	}
	return nil
}

func (s *StateStore) ChunksForEntity(ctx context.Context, entityID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sortedKeys(s.entityChunks[entityID]), nil
}

func (s *StateStore) UnlinkChunk(ctx context.Context, chunkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for entityID, set := range s.entityChunks {
		delete(set, chunkID)
		if len(set) == 0 {
			delete(s.entityChunks, entityID)
		}
	}
	return nil
}

func (s *StateStore) LinkTripleToDocs(ctx context.Context, tripleID string, docIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.tripleDocs[tripleID]
	if !ok {
		set = make(map[string]struct{})
		s.tripleDocs[tripleID] = set
	}
	for _, id := range docIDs {
		set[id] = struct{}{}
	}
	return nil
}

func (s *StateStore) DocsForTriple(ctx context.Context, tripleID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sortedKeys(s.tripleDocs[tripleID]), nil
}

func (s *StateStore) UnlinkDocFromTriples(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for tripleID, set := range s.tripleDocs {
		delete(set, docID)
		if len(set) == 0 {
			delete(s.tripleDocs, tripleID)
		}
	}
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
