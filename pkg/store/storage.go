package store

import (
	"context"

	"github.com/OFFIS-RIT/hippo/backend/pkg/common"
)

// Namespace partitions embedding rows by what the vector describes.
type Namespace string

const (
	NamespaceEntity Namespace = "entity"
	NamespaceChunk  Namespace = "chunk"
	NamespaceFact   Namespace = "fact"
)

// Neighbor is a single KNN result for a stored row.
type Neighbor struct {
	HashID string
	Score  float64
}

// EmbeddingStore persists embedding vectors per namespace, keyed by the
// content hash of the embedded text. Inserting a hash_id that already exists
// in a namespace is a no-op.
type EmbeddingStore interface {
	Insert(
		ctx context.Context,
		namespace Namespace,
		rows []common.Row,
		vectors [][]float32,
	) error
	Delete(ctx context.Context, namespace Namespace, hashIDs []string) error
	// MissingIDs filters the given ids down to those not stored in the
	// namespace, preserving order.
	MissingIDs(
		ctx context.Context,
		namespace Namespace,
		hashIDs []string,
	) ([]string, error)
	// DeleteNamespace drops every row in the namespace.
	DeleteNamespace(ctx context.Context, namespace Namespace) error
	// Search returns the nearest stored rows for the query vector. A non-nil
	// allowedIDs restricts the result to those rows.
	Search(
		ctx context.Context,
		namespace Namespace,
		query []float32,
		topK int,
		allowedIDs []string,
	) ([]Neighbor, error)
	// KNNByIDs returns, for each given row, its nearest stored neighbors in
	// the namespace excluding the row itself.
	KNNByIDs(
		ctx context.Context,
		namespace Namespace,
		hashIDs []string,
		topK int,
	) (map[string][]Neighbor, error)
	GetRows(
		ctx context.Context,
		namespace Namespace,
		hashIDs []string,
	) (map[string]common.Row, error)
	ListIDs(ctx context.Context, namespace Namespace) ([]string, error)
	Count(ctx context.Context, namespace Namespace) (int, error)
}

// PPROptions control a personalized PageRank run.
type PPROptions struct {
	Damping   float64
	TopK      int
	AllowList []string // node ids the walk may visit; empty means all
}

// GraphStore is the knowledge graph over entity and chunk nodes. Node ids
// are content hashes shared with the embedding and state stores.
type GraphStore interface {
	AddNodes(ctx context.Context, nodes []common.Node) error
	AddEdges(ctx context.Context, edges []common.Edge) error
	RemoveNodes(ctx context.Context, hashIDs []string) error
	GetNode(ctx context.Context, hashID string) (*common.Node, error)
	GetNodes(ctx context.Context, hashIDs []string) ([]common.Node, error)
	// GetNotExistingNodes filters the given ids down to those absent from
	// the graph.
	GetNotExistingNodes(ctx context.Context, hashIDs []string) ([]string, error)
	// GetEdgesOfNode returns every edge touching the node, in either
	// direction.
	GetEdgesOfNode(ctx context.Context, hashID string) ([]common.Edge, error)
	NodeDegrees(ctx context.Context, hashIDs []string) (map[string]int, error)
	NodeCount(ctx context.Context) (int, error)
	EdgeCount(ctx context.Context) (int, error)
	// PersonalizedPageRank runs a random walk with restart from the given
	// seed weights and returns the top chunk nodes by visiting probability.
	PersonalizedPageRank(
		ctx context.Context,
		seeds map[string]float64,
		opts PPROptions,
	) ([]Neighbor, error)
}

// StateStore keeps the extraction bookkeeping: per-document OpenIE results
// and the entity→chunk and triple→document occurrence links used for seed
// weighting and reference-counted deletes.
type StateStore interface {
	SaveDocuments(ctx context.Context, docs []common.Document) error
	GetDocuments(ctx context.Context, hashIDs []string) ([]common.Document, error)
	GetAllDocuments(ctx context.Context) ([]common.Document, error)
	// ListDocuments pages through all documents ordered by idx. A limit <= 0
	// means no limit.
	ListDocuments(ctx context.Context, offset, limit int) ([]common.Document, error)
	DeleteDocuments(ctx context.Context, hashIDs []string) error
	// FindDocumentsByMetadata returns documents matching the filters: for
	// each attribute any one of its values suffices, and every attribute
	// must match. An attribute with no values is ignored.
	FindDocumentsByMetadata(
		ctx context.Context,
		filters map[string][]string,
	) ([]common.Document, error)

	LinkEntityToChunks(ctx context.Context, entityID string, chunkIDs []string) error
	ChunksForEntity(ctx context.Context, entityID string) ([]string, error)
	UnlinkChunk(ctx context.Context, chunkID string) error

	LinkTripleToDocs(ctx context.Context, tripleID string, docIDs []string) error
	DocsForTriple(ctx context.Context, tripleID string) ([]string, error)
	UnlinkDocFromTriples(ctx context.Context, docID string) error
}
