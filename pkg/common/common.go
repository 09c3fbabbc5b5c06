package common

// NodeType classifies a graph node as either an extracted entity or a
// passage chunk.
type NodeType string

const (
	NodeTypeEntity NodeType = "entity"
	NodeTypeChunk  NodeType = "chunk"
)

// Triple is an ordered (subject, predicate, object) fact extracted from a
// passage. Subject and object become entity nodes, the whole triple becomes
// a fact embedding.
type Triple struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

// Key returns the canonical string form of a triple used for hashing and
// fact-store payloads. The same triple always produces the same key.
func (t Triple) Key() string {
	return "(" + t.Subject + ", " + t.Predicate + ", " + t.Object + ")"
}

// Node represents a vertex in the knowledge graph. HashID is the
// content-addressed identifier derived from the node content, so
// re-indexing the same text always resolves to the same node.
type Node struct {
	HashID   string   `json:"hash_id"`
	Content  string   `json:"content"`
	NodeType NodeType `json:"node_type"`
}

// Edge represents a directed, weighted edge between two nodes identified
// by their hash IDs. Extracted-triple edges carry co-occurrence counts;
// synonym edges carry the embedding similarity in (0,1].
type Edge struct {
	Src    string  `json:"src"`
	Dst    string  `json:"dst"`
	Weight float64 `json:"weight"`
}

// Document is the durable extraction record for one chunk of source text.
// It is written once per chunk by the indexer and only removed on delete.
type Document struct {
	Idx               string         `json:"idx"`
	Passage           string         `json:"passage"`
	ExtractedEntities []string       `json:"extracted_entities"`
	ExtractedTriples  []Triple       `json:"extracted_triples"`
	Metadata          map[string]any `json:"metadata"`
}

// Row is the text backing a stored embedding vector.
type Row struct {
	HashID  string `json:"hash_id"`
	Content string `json:"content"`
}

// SimilarNode is a single nearest-neighbor hit from an embedding store
// query. Payload carries the stored text.
type SimilarNode struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Payload string  `json:"payload"`
}

// RetrievedChunk is one ranked passage in a query solution.
type RetrievedChunk struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// QuerySolution is the transient result of a single retrieval, optionally
// enriched with a generated answer. It is constructed fresh per query and
// never persisted.
type QuerySolution struct {
	Question string           `json:"question"`
	Docs     []RetrievedChunk `json:"docs"`
	Answer   string           `json:"answer,omitempty"`
}
