package retriever

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/hippo/backend/internal/util"
	"github.com/OFFIS-RIT/hippo/backend/pkg/ai"
	"github.com/OFFIS-RIT/hippo/backend/pkg/common"
	"github.com/OFFIS-RIT/hippo/backend/pkg/logger"
	"github.com/OFFIS-RIT/hippo/backend/pkg/store"
)

// ErrNoChunks reports that the stores hold no passage reachable for the
// query, as opposed to a store or model call failing.
var ErrNoChunks = errors.New("no chunks retrieved")

// Config holds the retrieval pipeline parameters.
type Config struct {
	// RetrievalTopK is the number of fact hits fetched per query and the
	// number of passages returned per retrieval.
	RetrievalTopK int
	// LinkingTopK bounds both the rerank candidate set and the number of
	// entity seeds kept for the graph walk.
	LinkingTopK int
	// PassageNodeWeight scales the dense chunk signal when it is merged
	// into the seed distribution.
	PassageNodeWeight float64
	// QATopK is the number of passages handed to the answer generator.
	QATopK int
	// Damping is the PageRank walk-continuation probability.
	Damping float64
	// ChunkSeedTopK is the number of dense chunk hits merged into the
	// seed distribution.
	ChunkSeedTopK int
}

// DefaultConfig returns the standard pipeline parameters.
func DefaultConfig() Config {
	return Config{
		RetrievalTopK:     10,
		LinkingTopK:       5,
		PassageNodeWeight: 0.05,
		QATopK:            3,
		Damping:           0.5,
		ChunkSeedTopK:     30,
	}
}

// Reranker filters and orders candidate facts by relevance to a query.
type Reranker interface {
	Rerank(
		ctx context.Context,
		query string,
		candidateItems []common.Triple,
		candidateIndices []int,
		limit int,
	) ([]int, []common.Triple, error)
}

// Retriever runs the graph-augmented retrieval pipeline: fact search,
// rerank, entity seeding, personalized PageRank and passage ranking, with
// a dense-only fallback when no facts survive.
type Retriever struct {
	embeddings store.EmbeddingStore
	graph      store.GraphStore
	state      store.StateStore
	reranker   Reranker
	client     ai.LLMClient
	config     Config
}

// NewRetriever wires a retriever over the given stores and clients.
func NewRetriever(
	embeddings store.EmbeddingStore,
	graph store.GraphStore,
	state store.StateStore,
	reranker Reranker,
	client ai.LLMClient,
	config Config,
) *Retriever {
	if config.RetrievalTopK <= 0 {
		config.RetrievalTopK = DefaultConfig().RetrievalTopK
	}
	if config.LinkingTopK <= 0 {
		config.LinkingTopK = DefaultConfig().LinkingTopK
	}
	if config.PassageNodeWeight <= 0 {
		config.PassageNodeWeight = DefaultConfig().PassageNodeWeight
	}
	if config.QATopK <= 0 {
		config.QATopK = DefaultConfig().QATopK
	}
	if config.Damping <= 0 || config.Damping >= 1 {
		config.Damping = DefaultConfig().Damping
	}
	if config.ChunkSeedTopK <= 0 {
		config.ChunkSeedTopK = DefaultConfig().ChunkSeedTopK
	}
	return &Retriever{
		embeddings: embeddings,
		graph:      graph,
		state:      state,
		reranker:   reranker,
		client:     client,
		config:     config,
	}
}

// allowedSets restricts a retrieval to the documents matching a metadata
// filter. A nil *allowedSets means the whole corpus is searchable.
type allowedSets struct {
	chunks   []string
	triples  []string
	entities []string
}

func (a *allowedSets) empty() bool {
	return a != nil && len(a.chunks) == 0
}

func (a *allowedSets) chunkIDs() []string {
	if a == nil {
		return nil
	}
	return a.chunks
}

func (a *allowedSets) tripleIDs() []string {
	if a == nil {
		return nil
	}
	return a.triples
}

func (r *Retriever) resolveFilters(
	ctx context.Context,
	filters map[string][]string,
) (*allowedSets, error) {
	if filters == nil {
		return nil, nil
	}

	docs, err := r.state.FindDocumentsByMetadata(ctx, filters)
	if err != nil {
		return nil, err
	}

	sets := &allowedSets{
		chunks:   make([]string, 0, len(docs)),
		triples:  []string{},
		entities: []string{},
	}
	seenTriples := make(map[string]struct{})
	seenEntities := make(map[string]struct{})
	for _, doc := range docs {
		sets.chunks = append(sets.chunks, doc.Idx)
		for _, triple := range doc.ExtractedTriples {
			tripleID := util.HashID(triple.Key())
			if _, ok := seenTriples[tripleID]; !ok {
				seenTriples[tripleID] = struct{}{}
				sets.triples = append(sets.triples, tripleID)
			}
			for _, entity := range []string{triple.Subject, triple.Object} {
				entityID := util.HashID(strings.ToLower(entity))
				if _, ok := seenEntities[entityID]; !ok {
					seenEntities[entityID] = struct{}{}
					sets.entities = append(sets.entities, entityID)
				}
			}
		}
	}
	return sets, nil
}

// Retrieve runs the full pipeline for one query and returns the ranked
// passages. A non-nil filters map restricts the search to documents
// matching any value of every filter key; no matching documents yields an
// empty solution, not an error.
func (r *Retriever) Retrieve(
	ctx context.Context,
	query string,
	filters map[string][]string,
) (common.QuerySolution, error) {
	solution := common.QuerySolution{Question: query, Docs: []common.RetrievedChunk{}}

	allowed, err := r.resolveFilters(ctx, filters)
	if err != nil {
		return solution, err
	}
	if allowed.empty() {
		return solution, nil
	}

	queryVec, err := r.client.GenerateEmbedding(ctx, []byte(query))
	if err != nil {
		return solution, err
	}

	factHits, err := r.embeddings.Search(
		ctx,
		store.NamespaceFact,
		queryVec,
		r.config.RetrievalTopK,
		allowed.tripleIDs(),
	)
	if err != nil {
		return solution, err
	}

	topFacts, factScores, err := r.rerankFacts(ctx, query, factHits)
	if err != nil {
		return solution, err
	}

	var ranked []store.Neighbor
	if len(topFacts) == 0 {
		logger.Warn("no facts after rerank, falling back to dense retrieval", "query", query)
		ranked, err = r.searchPassages(ctx, queryVec, r.config.RetrievalTopK, allowed)
	} else {
		ranked, err = r.graphSearch(ctx, queryVec, topFacts, factScores, allowed)
	}
	if err != nil {
		return solution, err
	}
	if len(ranked) == 0 {
		return solution, fmt.Errorf("query %q: %w", query, ErrNoChunks)
	}

	docs, err := r.chunksFromNeighbors(ctx, ranked)
	if err != nil {
		return solution, err
	}
	solution.Docs = docs
	return solution, nil
}

// RetrieveDense ranks passages purely by embedding similarity, without the
// fact graph.
func (r *Retriever) RetrieveDense(
	ctx context.Context,
	query string,
	filters map[string][]string,
) (common.QuerySolution, error) {
	solution := common.QuerySolution{Question: query, Docs: []common.RetrievedChunk{}}

	allowed, err := r.resolveFilters(ctx, filters)
	if err != nil {
		return solution, err
	}
	if allowed.empty() {
		return solution, nil
	}

	queryVec, err := r.client.GenerateEmbedding(ctx, []byte(query))
	if err != nil {
		return solution, err
	}

	hits, err := r.searchPassages(ctx, queryVec, r.config.RetrievalTopK, allowed)
	if err != nil {
		return solution, err
	}

	docs, err := r.chunksFromNeighbors(ctx, hits)
	if err != nil {
		return solution, err
	}
	solution.Docs = docs
	return solution, nil
}

// rerankFacts sorts the fact hits, parses their stored payloads back into
// triples and asks the reranker which ones matter for the query. The
// returned scores are the retrieval scores of the surviving facts. An
// empty result means the dense fallback should be used.
func (r *Retriever) rerankFacts(
	ctx context.Context,
	query string,
	factHits []store.Neighbor,
) ([]common.Triple, []float64, error) {
	if len(factHits) == 0 {
		logger.Warn("no relevant facts were retrieved", "query", query)
		return nil, nil, nil
	}

	hits := make([]store.Neighbor, len(factHits))
	copy(hits, factHits)
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].HashID < hits[j].HashID
	})
	if len(hits) > r.config.LinkingTopK {
		hits = hits[:r.config.LinkingTopK]
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.HashID
	}
	rows, err := r.embeddings.GetRows(ctx, store.NamespaceFact, ids)
	if err != nil {
		return nil, nil, err
	}

	candidates := make([]common.Triple, 0, len(hits))
	candidateHits := make([]store.Neighbor, 0, len(hits))
	for _, hit := range hits {
		row, ok := rows[hit.HashID]
		if !ok {
			logger.Warn("fact row missing for hit", "hash_id", hit.HashID)
			continue
		}
		triple, ok := parseFactPayload(row.Content)
		if !ok {
			logger.Warn("could not parse fact payload", "hash_id", hit.HashID)
			continue
		}
		candidates = append(candidates, triple)
		candidateHits = append(candidateHits, hit)
	}
	if len(candidates) == 0 {
		return nil, nil, nil
	}

	indices := make([]int, len(candidates))
	for i := range indices {
		indices[i] = i
	}
	topIndices, topFacts, err := r.reranker.Rerank(
		ctx, query, candidates, indices, r.config.LinkingTopK,
	)
	if err != nil {
		return nil, nil, err
	}

	scores := make([]float64, len(topIndices))
	for i, idx := range topIndices {
		scores[i] = candidateHits[idx].Score
	}
	return topFacts, scores, nil
}

// graphSearch turns the surviving facts into a seed distribution and runs
// personalized PageRank over the knowledge graph.
//
// Each fact entity is seeded with the fact's retrieval score divided by the
// number of chunks the entity occurs in, averaged over the facts that
// mention it. Dense chunk similarity is min-max normalized, scaled by the
// passage node weight and merged in so that passages the query matches
// directly stay reachable even without a fact path.
func (r *Retriever) graphSearch(
	ctx context.Context,
	queryVec []float32,
	topFacts []common.Triple,
	factScores []float64,
	allowed *allowedSets,
) ([]store.Neighbor, error) {
	phraseWeights := make(map[string]float64)
	occurrences := make(map[string]int)

	var allowedEntities map[string]struct{}
	var allowedChunks map[string]struct{}
	if allowed != nil {
		allowedEntities = make(map[string]struct{}, len(allowed.entities))
		for _, id := range allowed.entities {
			allowedEntities[id] = struct{}{}
		}
		allowedChunks = make(map[string]struct{}, len(allowed.chunks))
		for _, id := range allowed.chunks {
			allowedChunks[id] = struct{}{}
		}
	}

	for rank, fact := range topFacts {
		score := factScores[rank]
		if score < 0 {
			score = 0
		}

		for _, entity := range []string{
			strings.ToLower(fact.Subject),
			strings.ToLower(fact.Object),
		} {
			entityID := util.HashID(entity)
			if allowedEntities != nil {
				if _, ok := allowedEntities[entityID]; !ok {
					continue
				}
			}

			node, err := r.graph.GetNode(ctx, entityID)
			if err != nil {
				return nil, err
			}
			if node == nil {
				continue
			}

			chunkIDs, err := r.state.ChunksForEntity(ctx, entityID)
			if err != nil {
				return nil, err
			}
			degree := 0
			for _, chunkID := range chunkIDs {
				if allowedChunks != nil {
					if _, ok := allowedChunks[chunkID]; !ok {
						continue
					}
				}
				degree++
			}
			if degree == 0 {
				degree = 1
			}

			phraseWeights[entityID] += score / float64(degree)
			occurrences[entityID]++
		}
	}

	for entityID, count := range occurrences {
		if count > 0 {
			phraseWeights[entityID] /= float64(count)
		}
	}

	seeds := TopKSeeds(phraseWeights, r.config.LinkingTopK, true)

	chunkHits, err := r.searchPassages(ctx, queryVec, r.config.ChunkSeedTopK, allowed)
	if err != nil {
		return nil, err
	}
	chunkScores := make([]float64, len(chunkHits))
	for i, hit := range chunkHits {
		chunkScores[i] = hit.Score
	}
	for i, norm := range minMaxNormalize(chunkScores) {
		seeds[chunkHits[i].HashID] = norm * r.config.PassageNodeWeight
	}

	total := 0.0
	for _, w := range seeds {
		total += w
	}
	if total <= 0 {
		return nil, fmt.Errorf("no graph nodes matched the query facts")
	}

	var allowList []string
	if allowed != nil {
		allowList = append(allowList, allowed.chunks...)
		allowList = append(allowList, allowed.entities...)
	}

	return r.graph.PersonalizedPageRank(ctx, seeds, store.PPROptions{
		Damping:   r.config.Damping,
		TopK:      r.config.RetrievalTopK,
		AllowList: allowList,
	})
}

func (r *Retriever) searchPassages(
	ctx context.Context,
	queryVec []float32,
	topK int,
	allowed *allowedSets,
) ([]store.Neighbor, error) {
	return r.embeddings.Search(
		ctx,
		store.NamespaceChunk,
		queryVec,
		topK,
		allowed.chunkIDs(),
	)
}

func (r *Retriever) chunksFromNeighbors(
	ctx context.Context,
	neighbors []store.Neighbor,
) ([]common.RetrievedChunk, error) {
	ids := make([]string, len(neighbors))
	scores := make(map[string]float64, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.HashID
		scores[n.HashID] = n.Score
	}

	docs, err := r.state.GetDocuments(ctx, ids)
	if err != nil {
		return nil, err
	}

	chunks := make([]common.RetrievedChunk, 0, len(docs))
	for _, doc := range docs {
		chunks = append(chunks, common.RetrievedChunk{
			ID:       doc.Idx,
			Content:  doc.Passage,
			Score:    scores[doc.Idx],
			Metadata: doc.Metadata,
		})
	}
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return chunks[i].ID < chunks[j].ID
	})
	return chunks, nil
}

// parseFactPayload reverses common.Triple.Key. Triple fields are normalized
// at index time and cannot contain commas or parentheses.
func parseFactPayload(payload string) (common.Triple, bool) {
	trimmed := strings.TrimSpace(payload)
	if !strings.HasPrefix(trimmed, "(") || !strings.HasSuffix(trimmed, ")") {
		return common.Triple{}, false
	}
	parts := strings.Split(trimmed[1:len(trimmed)-1], ", ")
	if len(parts) != 3 {
		return common.Triple{}, false
	}
	return common.Triple{
		Subject:   parts[0],
		Predicate: parts[1],
		Object:    parts[2],
	}, true
}
