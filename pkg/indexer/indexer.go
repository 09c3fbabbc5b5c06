package indexer

import (
	"context"
	"fmt"
	"sort"

	"github.com/OFFIS-RIT/hippo/backend/internal/util"
	"github.com/OFFIS-RIT/hippo/backend/pkg/ai"
	"github.com/OFFIS-RIT/hippo/backend/pkg/common"
	"github.com/OFFIS-RIT/hippo/backend/pkg/logger"
	"github.com/OFFIS-RIT/hippo/backend/pkg/openie"
	"github.com/OFFIS-RIT/hippo/backend/pkg/splitter"
	"github.com/OFFIS-RIT/hippo/backend/pkg/store"
)

// CollectionFilterAttribute is the metadata key carrying the collection a
// document was indexed into.
const CollectionFilterAttribute = "project"

// docIDAttribute carries the source document id on every chunk, so a whole
// document can be deleted again.
const docIDAttribute = "doc_id"

// Config holds the graph construction parameters.
type Config struct {
	// SynonymyEdgeTopK is the number of nearest entities considered when
	// linking paraphrased entity nodes.
	SynonymyEdgeTopK int
	// SynonymyEdgeSimThreshold is the minimum cosine similarity for a
	// synonym edge.
	SynonymyEdgeSimThreshold float64
	// Workers bounds the number of chunks indexed concurrently.
	Workers int
}

// DefaultConfig returns the standard graph construction parameters.
func DefaultConfig() Config {
	return Config{
		SynonymyEdgeTopK:         5,
		SynonymyEdgeSimThreshold: 0.8,
		Workers:                  4,
	}
}

// Document is a source document handed to the indexer before splitting.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]any
}

// Extractor provides batch open information extraction over chunks.
type Extractor interface {
	BatchOpenIE(ctx context.Context, chunks map[string]string) (*openie.BatchResult, error)
}

// Indexer builds the knowledge graph: it splits documents, extracts
// entities and triples, embeds chunks, entities and facts, and wires fact,
// passage and synonym edges between the resulting nodes. Re-indexing the
// same content is a no-op.
type Indexer struct {
	embeddings store.EmbeddingStore
	graph      store.GraphStore
	state      store.StateStore
	extractor  Extractor
	splitter   splitter.Splitter
	client     ai.LLMClient
	config     Config
}

// NewIndexer wires an indexer over the given stores and clients.
func NewIndexer(
	embeddings store.EmbeddingStore,
	graph store.GraphStore,
	state store.StateStore,
	extractor Extractor,
	split splitter.Splitter,
	client ai.LLMClient,
	config Config,
) *Indexer {
	defaults := DefaultConfig()
	if config.SynonymyEdgeTopK <= 0 {
		config.SynonymyEdgeTopK = defaults.SynonymyEdgeTopK
	}
	if config.SynonymyEdgeSimThreshold <= 0 {
		config.SynonymyEdgeSimThreshold = defaults.SynonymyEdgeSimThreshold
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	return &Indexer{
		embeddings: embeddings,
		graph:      graph,
		state:      state,
		extractor:  extractor,
		splitter:   split,
		client:     client,
		config:     config,
	}
}

// CreateDocument splits a document into chunks and indexes them under the
// given collection. Chunks are processed by a bounded worker pool; the
// first failure aborts the remaining work.
func (ix *Indexer) CreateDocument(ctx context.Context, doc Document, collection string) error {
	chunks, err := ix.splitter.Split(doc.Content)
	if err != nil {
		return err
	}

	metadata := make(map[string]any, len(doc.Metadata)+2)
	for k, v := range doc.Metadata {
		metadata[k] = v
	}
	metadata[docIDAttribute] = doc.ID
	if collection != "" {
		metadata[CollectionFilterAttribute] = collection
	}

	return util.RunQueue(ctx, chunks, ix.config.Workers, func(ctx context.Context, chunk splitter.Chunk) error {
		return ix.Index(ctx, []string{chunk.Text}, metadata)
	})
}

// UpdateDocument replaces a previously indexed document.
func (ix *Indexer) UpdateDocument(ctx context.Context, doc Document, collection string) error {
	if err := ix.DeleteDocument(ctx, doc.ID); err != nil {
		return err
	}
	return ix.CreateDocument(ctx, doc, collection)
}

// DeleteDocument removes every chunk indexed for the given document id.
func (ix *Indexer) DeleteDocument(ctx context.Context, docID string) error {
	docs, err := ix.state.FindDocumentsByMetadata(ctx, map[string][]string{
		docIDAttribute: {docID},
	})
	if err != nil {
		return err
	}
	passages := make([]string, len(docs))
	for i, doc := range docs {
		passages[i] = doc.Passage
	}
	return ix.Delete(ctx, passages)
}

// Index extracts and persists the given passages. Passages whose content
// hash already exists are skipped; extraction failures on single chunks
// degrade to passages without graph links instead of failing the batch.
func (ix *Indexer) Index(ctx context.Context, docs []string, metadata map[string]any) error {
	if len(docs) == 0 {
		return nil
	}

	chunks := make(map[string]string, len(docs))
	chunkIDs := make([]string, 0, len(docs))
	texts := make([]string, 0, len(docs))
	for _, doc := range docs {
		id := util.HashID(doc)
		if _, ok := chunks[id]; ok {
			continue
		}
		chunks[id] = doc
		chunkIDs = append(chunkIDs, id)
		texts = append(texts, doc)
	}

	if err := ix.insertEmbeddings(ctx, store.NamespaceChunk, chunkIDs, texts); err != nil {
		return err
	}

	newIDs, err := ix.graph.GetNotExistingNodes(ctx, chunkIDs)
	if err != nil {
		return err
	}
	if len(newIDs) == 0 {
		logger.Info("no new chunks to process")
		return nil
	}
	sort.Strings(newIDs)
	logger.Info("indexing chunks", "count", len(newIDs))

	newChunks := make(map[string]string, len(newIDs))
	for _, id := range newIDs {
		newChunks[id] = chunks[id]
	}

	batch, err := ix.extractor.BatchOpenIE(ctx, newChunks)
	if err != nil {
		return err
	}
	for id, extractErr := range batch.Errors {
		logger.Warn("chunk extraction failed, indexing as plain passage",
			"chunk_id", id, "error", extractErr)
	}

	documents := make([]common.Document, 0, len(newIDs))
	for _, id := range newIDs {
		documents = append(documents, common.Document{
			Idx:               id,
			Passage:           newChunks[id],
			ExtractedEntities: batch.NER[id].Entities,
			ExtractedTriples:  normalizeTriples(batch.Triples[id].Triples),
			Metadata:          metadata,
		})
	}
	if err := ix.state.SaveDocuments(ctx, documents); err != nil {
		return err
	}

	return ix.buildGraph(ctx, documents)
}

// Delete removes the given passages from every store. Triples and entities
// still referenced by passages that are not being removed stay in place.
func (ix *Indexer) Delete(ctx context.Context, docs []string) error {
	if len(docs) == 0 {
		return nil
	}

	chunkIDSet := make(map[string]struct{}, len(docs))
	chunkIDs := make([]string, 0, len(docs))
	for _, doc := range docs {
		id := util.HashID(doc)
		if _, ok := chunkIDSet[id]; ok {
			continue
		}
		chunkIDSet[id] = struct{}{}
		chunkIDs = append(chunkIDs, id)
	}

	records, err := ix.state.GetDocuments(ctx, chunkIDs)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	// Triples only referenced by the deleted chunks.
	tripleIDs := make([]string, 0)
	orphanedTriples := make([]common.Triple, 0)
	seenTriples := make(map[string]struct{})
	for _, record := range records {
		for _, triple := range record.ExtractedTriples {
			tripleID := util.HashID(triple.Key())
			if _, ok := seenTriples[tripleID]; ok {
				continue
			}
			seenTriples[tripleID] = struct{}{}

			docIDs, err := ix.state.DocsForTriple(ctx, tripleID)
			if err != nil {
				return err
			}
			if anyOutside(docIDs, chunkIDSet) {
				continue
			}
			tripleIDs = append(tripleIDs, tripleID)
			orphanedTriples = append(orphanedTriples, triple)
		}
	}

	// Entities of those triples that no surviving chunk still uses.
	entityIDs := make([]string, 0)
	seenEntities := make(map[string]struct{})
	for _, triple := range orphanedTriples {
		for _, entity := range []string{triple.Subject, triple.Object} {
			entityID := util.HashID(entity)
			if _, ok := seenEntities[entityID]; ok {
				continue
			}
			seenEntities[entityID] = struct{}{}

			linked, err := ix.state.ChunksForEntity(ctx, entityID)
			if err != nil {
				return err
			}
			if anyOutside(linked, chunkIDSet) {
				continue
			}
			entityIDs = append(entityIDs, entityID)
		}
	}

	logger.Info("deleting chunks", "chunks", len(chunkIDs),
		"triples", len(tripleIDs), "entities", len(entityIDs))

	if err := ix.embeddings.Delete(ctx, store.NamespaceEntity, entityIDs); err != nil {
		return err
	}
	if err := ix.embeddings.Delete(ctx, store.NamespaceFact, tripleIDs); err != nil {
		return err
	}
	if err := ix.embeddings.Delete(ctx, store.NamespaceChunk, chunkIDs); err != nil {
		return err
	}
	if err := ix.graph.RemoveNodes(ctx, append(append([]string{}, entityIDs...), chunkIDs...)); err != nil {
		return err
	}

	for _, chunkID := range chunkIDs {
		if err := ix.state.UnlinkChunk(ctx, chunkID); err != nil {
			return err
		}
		if err := ix.state.UnlinkDocFromTriples(ctx, chunkID); err != nil {
			return err
		}
	}
	return ix.state.DeleteDocuments(ctx, chunkIDs)
}

// MoveCollection reassigns every document in one collection to another.
// An empty target removes the collection attribute.
func (ix *Indexer) MoveCollection(ctx context.Context, from, to string) error {
	docs, err := ix.state.FindDocumentsByMetadata(ctx, map[string][]string{
		CollectionFilterAttribute: {from},
	})
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	for i := range docs {
		metadata := make(map[string]any, len(docs[i].Metadata))
		for k, v := range docs[i].Metadata {
			metadata[k] = v
		}
		if to == "" {
			delete(metadata, CollectionFilterAttribute)
		} else {
			metadata[CollectionFilterAttribute] = to
		}
		docs[i].Metadata = metadata
	}

	logger.Info("moving collection", "from", from, "to", to, "documents", len(docs))
	return ix.state.SaveDocuments(ctx, docs)
}

const rebuildPageSize = 200

// RebuildGraphAndVectorStore re-derives every embedding, node and edge from
// the persisted extraction records, paging through the state store. Used
// after switching embedding models or losing the derived stores.
func (ix *Indexer) RebuildGraphAndVectorStore(ctx context.Context) error {
	offset := 0
	for {
		documents, err := ix.state.ListDocuments(ctx, offset, rebuildPageSize)
		if err != nil {
			return err
		}
		if len(documents) == 0 {
			return nil
		}
		logger.Info("rebuilding graph and vector store", "offset", offset, "documents", len(documents))

		chunkIDs := make([]string, len(documents))
		texts := make([]string, len(documents))
		for i, doc := range documents {
			chunkIDs[i] = doc.Idx
			texts[i] = doc.Passage
		}
		if err := ix.insertEmbeddings(ctx, store.NamespaceChunk, chunkIDs, texts); err != nil {
			return err
		}
		if err := ix.buildGraph(ctx, documents); err != nil {
			return err
		}

		if len(documents) < rebuildPageSize {
			return nil
		}
		offset += len(documents)
	}
}

// FindSimilarNodes ranks stored passages by embedding similarity to the
// query, optionally restricted by metadata and collection.
func (ix *Indexer) FindSimilarNodes(
	ctx context.Context,
	query string,
	topK int,
	metadata map[string][]string,
	collection string,
) ([]common.RetrievedChunk, error) {
	filters := metadata
	if collection != "" {
		if filters == nil {
			filters = map[string][]string{}
		}
		filters[CollectionFilterAttribute] = []string{collection}
	}

	var allowed []string
	if filters != nil {
		docs, err := ix.state.FindDocumentsByMetadata(ctx, filters)
		if err != nil {
			return nil, err
		}
		if len(docs) == 0 {
			return nil, fmt.Errorf("no nodes found for the given filters")
		}
		allowed = make([]string, len(docs))
		for i, doc := range docs {
			allowed[i] = doc.Idx
		}
	}

	queryVec, err := ix.client.GenerateEmbedding(ctx, []byte(query))
	if err != nil {
		return nil, err
	}
	hits, err := ix.embeddings.Search(ctx, store.NamespaceChunk, queryVec, topK, allowed)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(hits))
	scores := make(map[string]float64, len(hits))
	for i, hit := range hits {
		ids[i] = hit.HashID
		scores[hit.HashID] = hit.Score
	}
	docs, err := ix.state.GetDocuments(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("no nodes found")
	}

	out := make([]common.RetrievedChunk, 0, len(docs))
	for _, doc := range docs {
		out = append(out, common.RetrievedChunk{
			ID:       doc.Idx,
			Content:  doc.Passage,
			Score:    scores[doc.Idx],
			Metadata: doc.Metadata,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DoesObjectWithMetadataExist reports whether any indexed chunk carries all
// the given metadata values.
func (ix *Indexer) DoesObjectWithMetadataExist(
	ctx context.Context,
	metadata map[string]string,
	collection string,
) (bool, error) {
	filters := make(map[string][]string, len(metadata)+1)
	for k, v := range metadata {
		filters[k] = []string{v}
	}
	if collection != "" {
		filters[CollectionFilterAttribute] = []string{collection}
	}
	docs, err := ix.state.FindDocumentsByMetadata(ctx, filters)
	if err != nil {
		return false, err
	}
	return len(docs) > 0, nil
}

// buildGraph derives entity and fact embeddings, graph nodes, edges and
// occurrence links from extraction records whose chunk embeddings are
// already stored.
func (ix *Indexer) buildGraph(ctx context.Context, documents []common.Document) error {
	entitySet := make(map[string]struct{})
	entityTexts := make([]string, 0)
	factSet := make(map[string]struct{})
	factTriples := make([]common.Triple, 0)
	chunkEntities := make(map[string][]string, len(documents))

	for _, doc := range documents {
		perChunk := make(map[string]struct{})
		for _, triple := range doc.ExtractedTriples {
			if _, ok := factSet[triple.Key()]; !ok {
				factSet[triple.Key()] = struct{}{}
				factTriples = append(factTriples, triple)
			}
			for _, entity := range []string{triple.Subject, triple.Object} {
				perChunk[entity] = struct{}{}
				if _, ok := entitySet[entity]; !ok {
					entitySet[entity] = struct{}{}
					entityTexts = append(entityTexts, entity)
				}
			}
		}
		entities := make([]string, 0, len(perChunk))
		for entity := range perChunk {
			entities = append(entities, entity)
		}
		sort.Strings(entities)
		chunkEntities[doc.Idx] = entities
	}
	logger.Info("constructing graph",
		"facts", len(factTriples), "entities", len(entityTexts))

	entityIDs := make([]string, len(entityTexts))
	for i, entity := range entityTexts {
		entityIDs[i] = util.HashID(entity)
	}
	if err := ix.insertEmbeddings(ctx, store.NamespaceEntity, entityIDs, entityTexts); err != nil {
		return err
	}

	factIDs := make([]string, len(factTriples))
	factTexts := make([]string, len(factTriples))
	for i, triple := range factTriples {
		factTexts[i] = triple.Key()
		factIDs[i] = util.HashID(triple.Key())
	}
	if err := ix.insertEmbeddings(ctx, store.NamespaceFact, factIDs, factTexts); err != nil {
		return err
	}

	type edgeKey struct{ src, dst string }
	edgeWeights := make(map[edgeKey]float64)
	addEdge := func(src, dst string, weight float64, accumulate bool) {
		if src == dst {
			return
		}
		key := edgeKey{src: src, dst: dst}
		if accumulate {
			edgeWeights[key] += weight
		} else {
			edgeWeights[key] = weight
		}
	}

	for _, doc := range documents {
		for _, triple := range doc.ExtractedTriples {
			subjectID := util.HashID(triple.Subject)
			objectID := util.HashID(triple.Object)
			addEdge(subjectID, objectID, 1, true)
			addEdge(objectID, subjectID, 1, true)
		}
		for _, entity := range chunkEntities[doc.Idx] {
			entityID := util.HashID(entity)
			addEdge(doc.Idx, entityID, 1, false)
			addEdge(entityID, doc.Idx, 1, false)
		}
	}

	if err := ix.addSynonymEdges(ctx, entityTexts, addEdge); err != nil {
		return err
	}

	newEntityIDs, err := ix.graph.GetNotExistingNodes(ctx, entityIDs)
	if err != nil {
		return err
	}
	newEntitySet := make(map[string]struct{}, len(newEntityIDs))
	for _, id := range newEntityIDs {
		newEntitySet[id] = struct{}{}
	}

	nodes := make([]common.Node, 0, len(documents)+len(newEntityIDs))
	for _, doc := range documents {
		nodes = append(nodes, common.Node{
			HashID:   doc.Idx,
			Content:  doc.Passage,
			NodeType: common.NodeTypeChunk,
		})
	}
	for i, entity := range entityTexts {
		if _, ok := newEntitySet[entityIDs[i]]; !ok {
			continue
		}
		nodes = append(nodes, common.Node{
			HashID:   entityIDs[i],
			Content:  entity,
			NodeType: common.NodeTypeEntity,
		})
	}
	if err := ix.graph.AddNodes(ctx, nodes); err != nil {
		return err
	}

	edges := make([]common.Edge, 0, len(edgeWeights))
	for key, weight := range edgeWeights {
		edges = append(edges, common.Edge{Src: key.src, Dst: key.dst, Weight: weight})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Src != edges[j].Src {
			return edges[i].Src < edges[j].Src
		}
		return edges[i].Dst < edges[j].Dst
	})
	if err := ix.graph.AddEdges(ctx, edges); err != nil {
		return err
	}

	for _, doc := range documents {
		for _, entity := range chunkEntities[doc.Idx] {
			err := ix.state.LinkEntityToChunks(ctx, util.HashID(entity), []string{doc.Idx})
			if err != nil {
				return err
			}
		}
		for _, triple := range doc.ExtractedTriples {
			err := ix.state.LinkTripleToDocs(ctx, util.HashID(triple.Key()), []string{doc.Idx})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// addSynonymEdges links paraphrased entity nodes: each new entity is
// compared against the stored entity vectors and edges are added to the
// nearest ones above the similarity threshold. Very short entities are
// skipped, their neighborhoods are dominated by noise.
func (ix *Indexer) addSynonymEdges(
	ctx context.Context,
	entityTexts []string,
	addEdge func(src, dst string, weight float64, accumulate bool),
) error {
	queryIDs := make([]string, 0, len(entityTexts))
	for _, entity := range entityTexts {
		if len(entity) <= 2 {
			continue
		}
		queryIDs = append(queryIDs, util.HashID(entity))
	}
	if len(queryIDs) == 0 {
		return nil
	}

	neighborsByID, err := ix.embeddings.KNNByIDs(
		ctx, store.NamespaceEntity, queryIDs, ix.config.SynonymyEdgeTopK,
	)
	if err != nil {
		return err
	}

	for _, id := range queryIDs {
		for _, neighbor := range neighborsByID[id] {
			if neighbor.HashID == id {
				continue
			}
			if neighbor.Score < ix.config.SynonymyEdgeSimThreshold {
				continue
			}
			addEdge(id, neighbor.HashID, neighbor.Score, false)
			addEdge(neighbor.HashID, id, neighbor.Score, false)
		}
	}
	return nil
}

func (ix *Indexer) insertEmbeddings(
	ctx context.Context,
	ns store.Namespace,
	ids []string,
	texts []string,
) error {
	if len(ids) == 0 {
		return nil
	}

	// only embed what the store does not hold yet, embedding is the
	// expensive part
	textByID := make(map[string]string, len(ids))
	for i, id := range ids {
		textByID[id] = texts[i]
	}
	missing, err := ix.embeddings.MissingIDs(ctx, ns, ids)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}

	missingTexts := make([]string, len(missing))
	for i, id := range missing {
		missingTexts[i] = textByID[id]
	}
	vectors, err := store.EmbedTexts(ctx, ix.client, missingTexts)
	if err != nil {
		return err
	}
	rows := make([]common.Row, len(missing))
	for i, id := range missing {
		rows[i] = common.Row{HashID: id, Content: missingTexts[i]}
	}
	return ix.embeddings.Insert(ctx, ns, rows, vectors)
}

// normalizeTriples lower-cases and strips punctuation from every triple
// field, dropping triples that collapse to duplicates or empty fields.
// Entity identity in the graph is computed over this normalized form.
func normalizeTriples(triples []common.Triple) []common.Triple {
	out := make([]common.Triple, 0, len(triples))
	seen := make(map[string]struct{}, len(triples))
	for _, triple := range triples {
		normalized := common.Triple{
			Subject:   util.NormalizeWord(triple.Subject),
			Predicate: util.NormalizeWord(triple.Predicate),
			Object:    util.NormalizeWord(triple.Object),
		}
		if normalized.Subject == "" || normalized.Predicate == "" || normalized.Object == "" {
			continue
		}
		if _, ok := seen[normalized.Key()]; ok {
			continue
		}
		seen[normalized.Key()] = struct{}{}
		out = append(out, normalized)
	}
	return out
}

func anyOutside(ids []string, set map[string]struct{}) bool {
	for _, id := range ids {
		if _, ok := set[id]; !ok {
			return true
		}
	}
	return false
}
