package memory

import (
	"context"
	"testing"

	"github.com/OFFIS-RIT/hippo/backend/pkg/common"
	"github.com/OFFIS-RIT/hippo/backend/pkg/store"
)

func TestEmbeddingStoreInsertIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewEmbeddingStore()

	rows := []common.Row{{HashID: "h1", Content: "alice"}}
	first := [][]float32{{1, 0, 0}}
	if err := s.Insert(ctx, store.NamespaceEntity, rows, first); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Re-inserting the same hash must not overwrite the stored vector.
	second := [][]float32{{0, 1, 0}}
	if err := s.Insert(ctx, store.NamespaceEntity, rows, second); err != nil {
		t.Fatalf("reinsert: %v", err)
	}

	vec, ok := s.Vector(store.NamespaceEntity, "h1")
	if !ok {
		t.Fatal("missing vector")
	}
	if vec[0] != 1 || vec[1] != 0 {
		t.Fatalf("vector overwritten: %v", vec)
	}

	count, err := s.Count(ctx, store.NamespaceEntity)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
}

func TestEmbeddingStoreSearchOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewEmbeddingStore()

	rows := []common.Row{
		{HashID: "a", Content: "a"},
		{HashID: "b", Content: "b"},
		{HashID: "c", Content: "c"},
	}
	vectors := [][]float32{
		{1, 0},
		{0.9, 0.1},
		{0, 1},
	}
	if err := s.Insert(ctx, store.NamespaceChunk, rows, vectors); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.Search(ctx, store.NamespaceChunk, []float32{1, 0}, 2, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].HashID != "a" || got[1].HashID != "b" {
		t.Fatalf("unexpected order: %+v", got)
	}

	got, err = s.Search(ctx, store.NamespaceChunk, []float32{1, 0}, 2, []string{"b", "c"})
	if err != nil {
		t.Fatalf("filtered search: %v", err)
	}
	if len(got) != 2 || got[0].HashID != "b" || got[1].HashID != "c" {
		t.Fatalf("unexpected filtered result: %+v", got)
	}
}

func TestEmbeddingStoreKNNExcludesSelf(t *testing.T) {
	ctx := context.Background()
	s := NewEmbeddingStore()

	rows := []common.Row{
		{HashID: "a", Content: "a"},
		{HashID: "b", Content: "b"},
	}
	vectors := [][]float32{{1, 0}, {1, 0}}
	if err := s.Insert(ctx, store.NamespaceEntity, rows, vectors); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.KNNByIDs(ctx, store.NamespaceEntity, []string{"a", "missing"}, 5)
	if err != nil {
		t.Fatalf("knn: %v", err)
	}
	if _, ok := got["missing"]; ok {
		t.Fatal("missing id should not appear in results")
	}
	neighbors := got["a"]
	if len(neighbors) != 1 || neighbors[0].HashID != "b" {
		t.Fatalf("expected only b as neighbor of a, got %+v", neighbors)
	}
}

func TestEmbeddingStoreMissingIDs(t *testing.T) {
	ctx := context.Background()
	s := NewEmbeddingStore()

	rows := []common.Row{{HashID: "a", Content: "a"}}
	if err := s.Insert(ctx, store.NamespaceChunk, rows, [][]float32{{1, 0}}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	missing, err := s.MissingIDs(ctx, store.NamespaceChunk, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("missing: %v", err)
	}
	if len(missing) != 2 || missing[0] != "b" || missing[1] != "c" {
		t.Fatalf("expected [b c], got %v", missing)
	}

	// same hash in another namespace is still missing
	missing, err = s.MissingIDs(ctx, store.NamespaceEntity, []string{"a"})
	if err != nil {
		t.Fatalf("missing: %v", err)
	}
	if len(missing) != 1 {
		t.Fatalf("expected [a], got %v", missing)
	}
}

func TestEmbeddingStoreDeleteNamespace(t *testing.T) {
	ctx := context.Background()
	s := NewEmbeddingStore()

	if err := s.Insert(ctx, store.NamespaceChunk,
		[]common.Row{{HashID: "a", Content: "a"}}, [][]float32{{1, 0}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Insert(ctx, store.NamespaceEntity,
		[]common.Row{{HashID: "b", Content: "b"}}, [][]float32{{0, 1}}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := s.DeleteNamespace(ctx, store.NamespaceChunk); err != nil {
		t.Fatalf("delete namespace: %v", err)
	}

	count, err := s.Count(ctx, store.NamespaceChunk)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty chunk namespace, got %d rows", count)
	}
	count, err = s.Count(ctx, store.NamespaceEntity)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("entity namespace should survive, got %d rows", count)
	}
}

func TestGraphStoreNodeOps(t *testing.T) {
	ctx := context.Background()
	s := NewGraphStore()

	nodes := []common.Node{
		{HashID: "e1", Content: "alice", NodeType: common.NodeTypeEntity},
		{HashID: "c1", Content: "chunk one", NodeType: common.NodeTypeChunk},
	}
	if err := s.AddNodes(ctx, nodes); err != nil {
		t.Fatalf("add nodes: %v", err)
	}

	missing, err := s.GetNotExistingNodes(ctx, []string{"e1", "e2"})
	if err != nil {
		t.Fatalf("missing: %v", err)
	}
	if len(missing) != 1 || missing[0] != "e2" {
		t.Fatalf("expected [e2], got %v", missing)
	}

	if err := s.AddEdges(ctx, []common.Edge{
		{Src: "e1", Dst: "c1", Weight: 1},
		{Src: "c1", Dst: "e1", Weight: 1},
	}); err != nil {
		t.Fatalf("add edges: %v", err)
	}

	degrees, err := s.NodeDegrees(ctx, []string{"e1"})
	if err != nil {
		t.Fatalf("degrees: %v", err)
	}
	if degrees["e1"] != 2 {
		t.Fatalf("expected degree 2, got %d", degrees["e1"])
	}

	if err := s.RemoveNodes(ctx, []string{"c1"}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	edgeCount, err := s.EdgeCount(ctx)
	if err != nil {
		t.Fatalf("edge count: %v", err)
	}
	if edgeCount != 0 {
		t.Fatalf("expected edges removed with node, got %d", edgeCount)
	}
}

func TestGraphStoreGetEdgesOfNode(t *testing.T) {
	ctx := context.Background()
	s := NewGraphStore()

	if err := s.AddEdges(ctx, []common.Edge{
		{Src: "e1", Dst: "c1", Weight: 1},
		{Src: "c1", Dst: "e1", Weight: 1},
		{Src: "e2", Dst: "c2", Weight: 1},
	}); err != nil {
		t.Fatalf("add edges: %v", err)
	}

	edges, err := s.GetEdgesOfNode(ctx, "e1")
	if err != nil {
		t.Fatalf("edges: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("expected both directions, got %+v", edges)
	}
	if edges[0].Src != "c1" || edges[1].Src != "e1" {
		t.Fatalf("unexpected edge order: %+v", edges)
	}
}

func TestGraphStorePPRChunksOnlyAndAllowList(t *testing.T) {
	ctx := context.Background()
	s := NewGraphStore()

	nodes := []common.Node{
		{HashID: "e1", Content: "alice", NodeType: common.NodeTypeEntity},
		{HashID: "c1", Content: "chunk one", NodeType: common.NodeTypeChunk},
		{HashID: "c2", Content: "chunk two", NodeType: common.NodeTypeChunk},
	}
	if err := s.AddNodes(ctx, nodes); err != nil {
		t.Fatalf("add nodes: %v", err)
	}
	if err := s.AddEdges(ctx, []common.Edge{
		{Src: "e1", Dst: "c1", Weight: 1},
		{Src: "c1", Dst: "e1", Weight: 1},
		{Src: "e1", Dst: "c2", Weight: 1},
		{Src: "c2", Dst: "e1", Weight: 1},
	}); err != nil {
		t.Fatalf("add edges: %v", err)
	}

	got, err := s.PersonalizedPageRank(ctx, map[string]float64{"e1": 1}, store.PPROptions{
		TopK:      10,
		AllowList: []string{"e1", "c1"},
	})
	if err != nil {
		t.Fatalf("ppr: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected only c1, got %+v", got)
	}
	if got[0].HashID != "c1" {
		t.Fatalf("expected c1, got %s", got[0].HashID)
	}
}

func TestStateStoreMetadataFilter(t *testing.T) {
	ctx := context.Background()
	s := NewStateStore()

	docs := []common.Document{
		{Idx: "d1", Passage: "one", Metadata: map[string]any{"project": []any{"alpha", "beta"}}},
		{Idx: "d2", Passage: "two", Metadata: map[string]any{"project": "alpha"}},
		{Idx: "d3", Passage: "three", Metadata: map[string]any{"project": "gamma"}},
	}
	if err := s.SaveDocuments(ctx, docs); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.FindDocumentsByMetadata(ctx, map[string][]string{"project": {"alpha"}})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 docs, got %d (%+v)", len(got), got)
	}

	// any value of a key may match, so alpha-or-gamma covers all three
	got, err = s.FindDocumentsByMetadata(ctx, map[string][]string{"project": {"alpha", "gamma"}})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 docs, got %d (%+v)", len(got), got)
	}

	got, err = s.FindDocumentsByMetadata(ctx, map[string][]string{
		"project": {"alpha"},
		"lang":    {"en"},
	})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("every key must match, got %+v", got)
	}
}

func TestStateStoreMetadataFilterMultiValueScalar(t *testing.T) {
	ctx := context.Background()
	s := NewStateStore()

	docs := []common.Document{
		{Idx: "d1", Passage: "one", Metadata: map[string]any{"project": "p1"}},
		{Idx: "d2", Passage: "two", Metadata: map[string]any{"project": "p2"}},
		{Idx: "d3", Passage: "three", Metadata: map[string]any{"project": "p3"}},
	}
	if err := s.SaveDocuments(ctx, docs); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.FindDocumentsByMetadata(ctx, map[string][]string{"project": {"p1", "p2"}})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 2 || got[0].Idx != "d1" || got[1].Idx != "d2" {
		t.Fatalf("expected [d1 d2], got %+v", got)
	}
}

func TestStateStoreListDocumentsPaging(t *testing.T) {
	ctx := context.Background()
	s := NewStateStore()

	docs := []common.Document{
		{Idx: "a", Passage: "one"},
		{Idx: "b", Passage: "two"},
		{Idx: "c", Passage: "three"},
	}
	if err := s.SaveDocuments(ctx, docs); err != nil {
		t.Fatalf("save: %v", err)
	}

	page, err := s.ListDocuments(ctx, 1, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 1 || page[0].Idx != "b" {
		t.Fatalf("expected [b], got %+v", page)
	}

	page, err = s.ListDocuments(ctx, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 3 {
		t.Fatalf("limit 0 should return all, got %d", len(page))
	}

	page, err = s.ListDocuments(ctx, 5, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 0 {
		t.Fatalf("offset past end should be empty, got %+v", page)
	}
}

func TestStateStoreLinks(t *testing.T) {
	ctx := context.Background()
	s := NewStateStore()

	if err := s.LinkEntityToChunks(ctx, "e1", []string{"c1", "c2"}); err != nil {
		t.Fatalf("link: %v", err)
	}
	if err := s.LinkEntityToChunks(ctx, "e1", []string{"c2"}); err != nil {
		t.Fatalf("relink: %v", err)
	}

	chunks, err := s.ChunksForEntity(ctx, "e1")
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected deduped links, got %v", chunks)
	}

	if err := s.UnlinkChunk(ctx, "c1"); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	chunks, err = s.ChunksForEntity(ctx, "e1")
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}
	if len(chunks) != 1 || chunks[0] != "c2" {
		t.Fatalf("expected [c2], got %v", chunks)
	}

	if err := s.LinkTripleToDocs(ctx, "t1", []string{"d1", "d2"}); err != nil {
		t.Fatalf("link triple: %v", err)
	}
	if err := s.UnlinkDocFromTriples(ctx, "d1"); err != nil {
		t.Fatalf("unlink doc: %v", err)
	}
	docsLeft, err := s.DocsForTriple(ctx, "t1")
	if err != nil {
		t.Fatalf("docs: %v", err)
	}
	if len(docsLeft) != 1 || docsLeft[0] != "d2" {
		t.Fatalf("expected [d2], got %v", docsLeft)
	}
}
