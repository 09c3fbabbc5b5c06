package indexer

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/hippo/backend/internal/util"
	"github.com/OFFIS-RIT/hippo/backend/pkg/ai"
	"github.com/OFFIS-RIT/hippo/backend/pkg/common"
	"github.com/OFFIS-RIT/hippo/backend/pkg/openie"
	"github.com/OFFIS-RIT/hippo/backend/pkg/splitter"
	"github.com/OFFIS-RIT/hippo/backend/pkg/store"
	"github.com/OFFIS-RIT/hippo/backend/pkg/store/memory"
)

type fakeClient struct {
	embeddings map[string][]float32
}

func pseudoVec(text string) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()
	vec := make([]float32, 4)
	for i := range vec {
		seed = seed*1664525 + 1013904223
		vec[i] = float32(seed%1000) / 1000
	}
	return vec
}

func (f *fakeClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	if vec, ok := f.embeddings[string(input)]; ok {
		return vec, nil
	}
	return pseudoVec(string(input)), nil
}

func (f *fakeClient) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, input := range inputs {
		vec, err := f.GenerateEmbedding(ctx, input)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeClient) GenerateCompletion(
	ctx context.Context, prompt string, opts ...ai.GenerateOption,
) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (f *fakeClient) GenerateCompletionWithFormat(
	ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption,
) error {
	return fmt.Errorf("not implemented")
}

func (f *fakeClient) GenerateChat(
	ctx context.Context, messages []ai.ChatMessage, opts ...ai.GenerateOption,
) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (f *fakeClient) GenerateChatWithFormat(
	ctx context.Context, name, description string, messages []ai.ChatMessage, out any, opts ...ai.GenerateOption,
) error {
	return fmt.Errorf("not implemented")
}

func (f *fakeClient) GenerateChatStream(
	ctx context.Context, messages []ai.ChatMessage, opts ...ai.GenerateOption,
) (<-chan ai.StreamEvent, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeClient) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

// fakeExtractor returns scripted extraction results keyed by passage text.
type fakeExtractor struct {
	entities map[string][]string
	triples  map[string][]common.Triple
	failing  map[string]bool
	calls    int
}

func (f *fakeExtractor) BatchOpenIE(
	ctx context.Context, chunks map[string]string,
) (*openie.BatchResult, error) {
	f.calls++
	result := &openie.BatchResult{
		NER:     map[string]openie.NERResult{},
		Triples: map[string]openie.TripleResult{},
		Errors:  map[string]error{},
	}
	for id, passage := range chunks {
		if f.failing[passage] {
			result.Errors[id] = fmt.Errorf("extraction failed")
			continue
		}
		result.NER[id] = openie.NERResult{ChunkID: id, Entities: f.entities[passage]}
		result.Triples[id] = openie.TripleResult{ChunkID: id, Triples: f.triples[passage]}
	}
	return result, nil
}

// sentenceSplitter avoids pulling token encodings into unit tests.
type sentenceSplitter struct{}

func (sentenceSplitter) Split(text string) ([]splitter.Chunk, error) {
	parts := strings.Split(text, ". ")
	chunks := make([]splitter.Chunk, 0, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.HasSuffix(part, ".") {
			part += "."
		}
		chunks = append(chunks, splitter.Chunk{ID: fmt.Sprint(i), Text: part})
	}
	return chunks, nil
}

type harness struct {
	embeddings *memory.EmbeddingStore
	graph      *memory.GraphStore
	state      *memory.StateStore
	extractor  *fakeExtractor
	client     *fakeClient
	indexer    *Indexer
}

func newHarness(extractor *fakeExtractor, client *fakeClient) *harness {
	h := &harness{
		embeddings: memory.NewEmbeddingStore(),
		graph:      memory.NewGraphStore(),
		state:      memory.NewStateStore(),
		extractor:  extractor,
		client:     client,
	}
	h.indexer = NewIndexer(
		h.embeddings, h.graph, h.state, extractor, sentenceSplitter{}, client, DefaultConfig(),
	)
	return h
}

func TestIndexBuildsGraph(t *testing.T) {
	ctx := context.Background()
	passage := "Alice works at Acme."
	extractor := &fakeExtractor{
		entities: map[string][]string{passage: {"Alice", "Acme"}},
		triples: map[string][]common.Triple{
			passage: {{Subject: "Alice,", Predicate: "works at", Object: "Acme!"}},
		},
	}
	h := newHarness(extractor, &fakeClient{})

	if err := h.indexer.Index(ctx, []string{passage}, map[string]any{"project": "p1"}); err != nil {
		t.Fatalf("index: %v", err)
	}

	chunkID := util.HashID(passage)
	node, err := h.graph.GetNode(ctx, chunkID)
	if err != nil || node == nil {
		t.Fatalf("chunk node missing: %v", err)
	}
	if node.NodeType != common.NodeTypeChunk {
		t.Fatalf("unexpected node type %q", node.NodeType)
	}

	// triple fields are normalized before they become node identities
	aliceID := util.HashID("alice")
	acmeID := util.HashID("acme")
	for _, id := range []string{aliceID, acmeID} {
		node, err := h.graph.GetNode(ctx, id)
		if err != nil || node == nil {
			t.Fatalf("entity node %s missing: %v", id, err)
		}
	}

	docs, err := h.state.GetDocuments(ctx, []string{chunkID})
	if err != nil || len(docs) != 1 {
		t.Fatalf("document not saved: %v", err)
	}
	triples := docs[0].ExtractedTriples
	if len(triples) != 1 || triples[0].Subject != "alice" || triples[0].Object != "acme" {
		t.Fatalf("triples not normalized: %+v", triples)
	}

	factCount, err := h.embeddings.Count(ctx, store.NamespaceFact)
	if err != nil || factCount != 1 {
		t.Fatalf("expected 1 fact embedding, got %d (%v)", factCount, err)
	}

	linked, err := h.state.ChunksForEntity(ctx, aliceID)
	if err != nil || len(linked) != 1 || linked[0] != chunkID {
		t.Fatalf("entity not linked to chunk: %v %v", linked, err)
	}
	tripleID := util.HashID(triples[0].Key())
	tripleDocs, err := h.state.DocsForTriple(ctx, tripleID)
	if err != nil || len(tripleDocs) != 1 {
		t.Fatalf("triple not linked to doc: %v %v", tripleDocs, err)
	}

	edgeCount, err := h.graph.EdgeCount(ctx)
	if err != nil {
		t.Fatalf("edge count: %v", err)
	}
	// fact edge and two passage edges, each in both directions
	if edgeCount < 6 {
		t.Fatalf("expected at least 6 edges, got %d", edgeCount)
	}
}

func TestIndexIsIdempotent(t *testing.T) {
	ctx := context.Background()
	passage := "Alice works at Acme."
	extractor := &fakeExtractor{
		entities: map[string][]string{passage: {"Alice", "Acme"}},
		triples: map[string][]common.Triple{
			passage: {{Subject: "Alice", Predicate: "works at", Object: "Acme"}},
		},
	}
	h := newHarness(extractor, &fakeClient{})

	if err := h.indexer.Index(ctx, []string{passage}, nil); err != nil {
		t.Fatalf("first index: %v", err)
	}
	nodesBefore, _ := h.graph.NodeCount(ctx)
	edgesBefore, _ := h.graph.EdgeCount(ctx)

	if err := h.indexer.Index(ctx, []string{passage}, nil); err != nil {
		t.Fatalf("second index: %v", err)
	}
	if extractor.calls != 1 {
		t.Fatalf("expected extraction to be skipped on re-index, got %d calls", extractor.calls)
	}

	nodesAfter, _ := h.graph.NodeCount(ctx)
	edgesAfter, _ := h.graph.EdgeCount(ctx)
	if nodesAfter != nodesBefore || edgesAfter != edgesBefore {
		t.Fatalf("re-index changed the graph: %d->%d nodes, %d->%d edges",
			nodesBefore, nodesAfter, edgesBefore, edgesAfter)
	}
}

func TestIndexPartialExtractionFailure(t *testing.T) {
	ctx := context.Background()
	good := "Alice works at Acme."
	broken := "Unparsable gibberish passage."
	extractor := &fakeExtractor{
		entities: map[string][]string{good: {"Alice", "Acme"}},
		triples: map[string][]common.Triple{
			good: {{Subject: "Alice", Predicate: "works at", Object: "Acme"}},
		},
		failing: map[string]bool{broken: true},
	}
	h := newHarness(extractor, &fakeClient{})

	if err := h.indexer.Index(ctx, []string{good, broken}, nil); err != nil {
		t.Fatalf("index: %v", err)
	}

	brokenID := util.HashID(broken)
	docs, err := h.state.GetDocuments(ctx, []string{brokenID})
	if err != nil || len(docs) != 1 {
		t.Fatalf("failed chunk must still be recorded: %v", err)
	}
	if len(docs[0].ExtractedEntities) != 0 || len(docs[0].ExtractedTriples) != 0 {
		t.Fatalf("failed chunk should have empty extraction: %+v", docs[0])
	}

	// still dense-searchable
	count, err := h.embeddings.Count(ctx, store.NamespaceChunk)
	if err != nil || count != 2 {
		t.Fatalf("expected both chunk embeddings, got %d (%v)", count, err)
	}
	node, err := h.graph.GetNode(ctx, brokenID)
	if err != nil || node == nil {
		t.Fatalf("failed chunk node missing: %v", err)
	}
}

func TestDeleteKeepsSharedEntities(t *testing.T) {
	ctx := context.Background()
	passageA := "Alice works at Acme."
	passageB := "Alice lives in Berlin."
	extractor := &fakeExtractor{
		entities: map[string][]string{
			passageA: {"Alice", "Acme"},
			passageB: {"Alice", "Berlin"},
		},
		triples: map[string][]common.Triple{
			passageA: {{Subject: "Alice", Predicate: "works at", Object: "Acme"}},
			passageB: {{Subject: "Alice", Predicate: "lives in", Object: "Berlin"}},
		},
	}
	h := newHarness(extractor, &fakeClient{})

	if err := h.indexer.Index(ctx, []string{passageA, passageB}, nil); err != nil {
		t.Fatalf("index: %v", err)
	}
	if err := h.indexer.Delete(ctx, []string{passageA}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	chunkA := util.HashID(passageA)
	if node, _ := h.graph.GetNode(ctx, chunkA); node != nil {
		t.Fatal("deleted chunk node still present")
	}
	if docs, _ := h.state.GetDocuments(ctx, []string{chunkA}); len(docs) != 0 {
		t.Fatal("deleted document still present")
	}

	// alice occurs in the surviving passage, acme does not
	if node, _ := h.graph.GetNode(ctx, util.HashID("alice")); node == nil {
		t.Fatal("shared entity was deleted")
	}
	if node, _ := h.graph.GetNode(ctx, util.HashID("acme")); node != nil {
		t.Fatal("orphaned entity survived the delete")
	}

	factA := common.Triple{Subject: "alice", Predicate: "works at", Object: "acme"}
	rows, err := h.embeddings.GetRows(ctx, store.NamespaceFact, []string{util.HashID(factA.Key())})
	if err != nil || len(rows) != 0 {
		t.Fatalf("orphaned fact embedding survived: %v %v", rows, err)
	}
}

func TestDeleteUnknownPassagesIsNoop(t *testing.T) {
	h := newHarness(&fakeExtractor{}, &fakeClient{})
	if err := h.indexer.Delete(context.Background(), []string{"never indexed"}); err != nil {
		t.Fatalf("delete of unknown passage should be a no-op: %v", err)
	}
}

func TestSynonymEdgesConnectParaphrases(t *testing.T) {
	ctx := context.Background()
	passageA := "Alice Smith works at Acme."
	passageB := "Alicia Smith lives in Berlin."
	extractor := &fakeExtractor{
		entities: map[string][]string{
			passageA: {"Alice Smith", "Acme"},
			passageB: {"Alicia Smith", "Berlin"},
		},
		triples: map[string][]common.Triple{
			passageA: {{Subject: "Alice Smith", Predicate: "works at", Object: "Acme"}},
			passageB: {{Subject: "Alicia Smith", Predicate: "lives in", Object: "Berlin"}},
		},
	}
	client := &fakeClient{embeddings: map[string][]float32{
		"alice smith":  {1, 0, 0, 0},
		"alicia smith": {0.99, 0.01, 0, 0},
		"acme":         {0, 1, 0, 0},
		"berlin":       {0, 0, 1, 0},
	}}
	h := newHarness(extractor, client)

	if err := h.indexer.Index(ctx, []string{passageA, passageB}, nil); err != nil {
		t.Fatalf("index: %v", err)
	}

	// passage B is only reachable from alice smith through the synonym edge
	results, err := h.graph.PersonalizedPageRank(
		ctx,
		map[string]float64{util.HashID("alice smith"): 1.0},
		store.PPROptions{Damping: 0.5, TopK: 10},
	)
	if err != nil {
		t.Fatalf("pagerank: %v", err)
	}
	chunkB := util.HashID(passageB)
	found := false
	for _, r := range results {
		if r.HashID == chunkB && r.Score > 0 {
			found = true
		}
	}
	if !found {
		t.Fatalf("synonym edge did not connect paraphrased entities: %+v", results)
	}
}

func TestCreateAndDeleteDocument(t *testing.T) {
	ctx := context.Background()
	sentenceA := "Alice works at Acme."
	sentenceB := "Bob works at Betacorp."
	extractor := &fakeExtractor{
		entities: map[string][]string{
			sentenceA: {"Alice", "Acme"},
			sentenceB: {"Bob", "Betacorp"},
		},
		triples: map[string][]common.Triple{
			sentenceA: {{Subject: "Alice", Predicate: "works at", Object: "Acme"}},
			sentenceB: {{Subject: "Bob", Predicate: "works at", Object: "Betacorp"}},
		},
	}
	h := newHarness(extractor, &fakeClient{})

	doc := Document{
		ID:       "doc-1",
		Content:  sentenceA + " " + sentenceB,
		Metadata: map[string]any{"source": "unit"},
	}
	if err := h.indexer.CreateDocument(ctx, doc, "tenant-a"); err != nil {
		t.Fatalf("create document: %v", err)
	}

	exists, err := h.indexer.DoesObjectWithMetadataExist(
		ctx, map[string]string{docIDAttribute: "doc-1"}, "tenant-a",
	)
	if err != nil || !exists {
		t.Fatalf("expected document to exist: %v", err)
	}
	exists, err = h.indexer.DoesObjectWithMetadataExist(
		ctx, map[string]string{docIDAttribute: "doc-1"}, "tenant-b",
	)
	if err != nil || exists {
		t.Fatalf("document must not leak across collections: %v", err)
	}

	if err := h.indexer.DeleteDocument(ctx, "doc-1"); err != nil {
		t.Fatalf("delete document: %v", err)
	}
	exists, err = h.indexer.DoesObjectWithMetadataExist(
		ctx, map[string]string{docIDAttribute: "doc-1"}, "tenant-a",
	)
	if err != nil || exists {
		t.Fatalf("document still exists after delete: %v", err)
	}
}

func TestMoveCollection(t *testing.T) {
	ctx := context.Background()
	sentence := "Alice works at Acme."
	extractor := &fakeExtractor{
		entities: map[string][]string{sentence: {"Alice", "Acme"}},
		triples: map[string][]common.Triple{
			sentence: {{Subject: "Alice", Predicate: "works at", Object: "Acme"}},
		},
	}
	h := newHarness(extractor, &fakeClient{})

	doc := Document{ID: "doc-1", Content: sentence}
	if err := h.indexer.CreateDocument(ctx, doc, "tenant-a"); err != nil {
		t.Fatalf("create document: %v", err)
	}

	if err := h.indexer.MoveCollection(ctx, "tenant-a", "tenant-b"); err != nil {
		t.Fatalf("move collection: %v", err)
	}

	exists, err := h.indexer.DoesObjectWithMetadataExist(
		ctx, map[string]string{docIDAttribute: "doc-1"}, "tenant-a",
	)
	if err != nil || exists {
		t.Fatalf("document still in source collection: %v", err)
	}
	exists, err = h.indexer.DoesObjectWithMetadataExist(
		ctx, map[string]string{docIDAttribute: "doc-1"}, "tenant-b",
	)
	if err != nil || !exists {
		t.Fatalf("document missing from target collection: %v", err)
	}

	// moving an empty collection is a no-op
	if err := h.indexer.MoveCollection(ctx, "tenant-c", "tenant-d"); err != nil {
		t.Fatalf("move empty collection: %v", err)
	}
}

func TestFindSimilarNodes(t *testing.T) {
	ctx := context.Background()
	passageA := "Alice works at Acme."
	passageB := "Bob works at Betacorp."
	extractor := &fakeExtractor{
		entities: map[string][]string{passageA: {"Alice"}, passageB: {"Bob"}},
		triples:  map[string][]common.Triple{},
	}
	client := &fakeClient{embeddings: map[string][]float32{
		passageA:                 {1, 0, 0, 0},
		passageB:                 {0, 1, 0, 0},
		"Where does Alice work?": {1, 0, 0, 0},
	}}
	h := newHarness(extractor, client)

	if err := h.indexer.Index(ctx, []string{passageA}, map[string]any{CollectionFilterAttribute: "a"}); err != nil {
		t.Fatalf("index a: %v", err)
	}
	if err := h.indexer.Index(ctx, []string{passageB}, map[string]any{CollectionFilterAttribute: "b"}); err != nil {
		t.Fatalf("index b: %v", err)
	}

	nodes, err := h.indexer.FindSimilarNodes(ctx, "Where does Alice work?", 5, nil, "")
	if err != nil {
		t.Fatalf("find similar: %v", err)
	}
	if len(nodes) != 2 || nodes[0].Content != passageA {
		t.Fatalf("unexpected ranking: %+v", nodes)
	}

	nodes, err = h.indexer.FindSimilarNodes(ctx, "Where does Alice work?", 5, nil, "b")
	if err != nil {
		t.Fatalf("find similar filtered: %v", err)
	}
	if len(nodes) != 1 || nodes[0].Content != passageB {
		t.Fatalf("collection filter not applied: %+v", nodes)
	}

	if _, err := h.indexer.FindSimilarNodes(ctx, "anything", 5, nil, "missing"); err == nil {
		t.Fatal("expected error for empty collection")
	}
}

func TestRebuildGraphAndVectorStore(t *testing.T) {
	ctx := context.Background()
	passage := "Alice works at Acme."
	extractor := &fakeExtractor{
		entities: map[string][]string{passage: {"Alice", "Acme"}},
		triples: map[string][]common.Triple{
			passage: {{Subject: "Alice", Predicate: "works at", Object: "Acme"}},
		},
	}
	h := newHarness(extractor, &fakeClient{})

	if err := h.indexer.Index(ctx, []string{passage}, nil); err != nil {
		t.Fatalf("index: %v", err)
	}

	// simulate losing the derived stores while the extraction records survive
	fresh := newHarness(extractor, &fakeClient{})
	docs, err := h.state.GetAllDocuments(ctx)
	if err != nil {
		t.Fatalf("load documents: %v", err)
	}
	if err := fresh.state.SaveDocuments(ctx, docs); err != nil {
		t.Fatalf("seed documents: %v", err)
	}

	if err := fresh.indexer.RebuildGraphAndVectorStore(ctx); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	wantNodes, _ := h.graph.NodeCount(ctx)
	gotNodes, _ := fresh.graph.NodeCount(ctx)
	if wantNodes != gotNodes {
		t.Fatalf("rebuild node count mismatch: want %d, got %d", wantNodes, gotNodes)
	}
	count, err := fresh.embeddings.Count(ctx, store.NamespaceChunk)
	if err != nil || count != 1 {
		t.Fatalf("chunk embedding not rebuilt: %d (%v)", count, err)
	}
}
