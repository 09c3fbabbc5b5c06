package pgx

import (
	"context"

	"github.com/OFFIS-RIT/hippo/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// Stores bundles the three PostgreSQL-backed stores over one connection
// pool.
type Stores struct {
	Embeddings *EmbeddingStore
	Graph      *GraphStore
	State      *StateStore
}

// NewStores creates the embedding, graph and state stores on top of the
// given connection. The schema must already be migrated.
func NewStores(conn pgxIConn) *Stores {
	return &Stores{
		Embeddings: &EmbeddingStore{conn: conn},
		Graph:      &GraphStore{conn: conn},
		State:      &StateStore{conn: conn},
	}
}

func scanNeighbors(rows pgxv5.Rows) ([]store.Neighbor, error) {
	out := make([]store.Neighbor, 0)
	for rows.Next() {
		var n store.Neighbor
		if err := rows.Scan(&n.HashID, &n.Score); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
