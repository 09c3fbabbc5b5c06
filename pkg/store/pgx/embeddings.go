package pgx

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/hippo/backend/pkg/common"
	"github.com/OFFIS-RIT/hippo/backend/pkg/store"

	"github.com/pgvector/pgvector-go"
)

// EmbeddingStore persists embedding vectors in the embeddings table with a
// pgvector column, keyed by (namespace, hash_id).
type EmbeddingStore struct {
	conn pgxIConn
}

const insertBatchSize = 500

func (s *EmbeddingStore) Insert(
	ctx context.Context,
	ns store.Namespace,
	rows []common.Row,
	vectors [][]float32,
) error {
	if len(rows) != len(vectors) {
		return fmt.Errorf("rows/vectors length mismatch: %d != %d", len(rows), len(vectors))
	}
	if len(rows) == 0 {
		return nil
	}

	return store.ChunkRange(len(rows), insertBatchSize, func(start, end int) error {
		tx, err := s.conn.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		for i := start; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO embeddings (namespace, hash_id, content, embedding)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (namespace, hash_id) DO NOTHING
			`, string(ns), rows[i].HashID, rows[i].Content, pgvector.NewVector(vectors[i]))
			if err != nil {
				return err
			}
		}
		return tx.Commit(ctx)
	})
}

func (s *EmbeddingStore) Delete(ctx context.Context, ns store.Namespace, hashIDs []string) error {
	if len(hashIDs) == 0 {
		return nil
	}
	_, err := s.conn.Exec(ctx, `
		DELETE FROM embeddings
		WHERE namespace = $1 AND hash_id = ANY($2)
	`, string(ns), hashIDs)
	return err
}

func (s *EmbeddingStore) MissingIDs(
	ctx context.Context,
	ns store.Namespace,
	hashIDs []string,
) ([]string, error) {
	if len(hashIDs) == 0 {
		return []string{}, nil
	}
	rows, err := s.conn.Query(ctx, `
		SELECT hash_id FROM embeddings
		WHERE namespace = $1 AND hash_id = ANY($2)
	`, string(ns), hashIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	existing := make(map[string]struct{}, len(hashIDs))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		existing[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	missing := make([]string, 0)
	for _, id := range hashIDs {
		if _, ok := existing[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (s *EmbeddingStore) DeleteNamespace(ctx context.Context, ns store.Namespace) error {
	_, err := s.conn.Exec(ctx, `
		DELETE FROM embeddings WHERE namespace = $1
	`, string(ns))
	return err
}

func (s *EmbeddingStore) Search(
	ctx context.Context,
	ns store.Namespace,
	query []float32,
	topK int,
	allowedIDs []string,
) ([]store.Neighbor, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT hash_id, 1 - (embedding <=> $2) AS score
		FROM embeddings
		WHERE namespace = $1 AND ($4::text[] IS NULL OR hash_id = ANY($4))
		ORDER BY embedding <=> $2, hash_id
		LIMIT $3
	`, string(ns), pgvector.NewVector(query), topK, allowedIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanNeighbors(rows)
}

func (s *EmbeddingStore) KNNByIDs(
	ctx context.Context,
	ns store.Namespace,
	hashIDs []string,
	topK int,
) (map[string][]store.Neighbor, error) {
	out := make(map[string][]store.Neighbor, len(hashIDs))
	for _, id := range hashIDs {
		rows, err := s.conn.Query(ctx, `
			SELECT e.hash_id, 1 - (e.embedding <=> src.embedding) AS score
			FROM embeddings e,
			     (SELECT embedding FROM embeddings WHERE namespace = $1 AND hash_id = $2) src
			WHERE e.namespace = $1 AND e.hash_id <> $2
			ORDER BY e.embedding <=> src.embedding, e.hash_id
			LIMIT $3
		`, string(ns), id, topK)
		if err != nil {
			return nil, err
		}
		neighbors, err := scanNeighbors(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		if len(neighbors) > 0 {
			out[id] = neighbors
		} else {
			// distinguish "no neighbors" from "row missing"
			var exists bool
			err := s.conn.QueryRow(ctx, `
				SELECT EXISTS(SELECT 1 FROM embeddings WHERE namespace = $1 AND hash_id = $2)
			`, string(ns), id).Scan(&exists)
			if err != nil {
				return nil, err
			}
			if exists {
				out[id] = neighbors
			}
		}
	}
	return out, nil
}

func (s *EmbeddingStore) GetRows(
	ctx context.Context,
	ns store.Namespace,
	hashIDs []string,
) (map[string]common.Row, error) {
	if len(hashIDs) == 0 {
		return map[string]common.Row{}, nil
	}
	rows, err := s.conn.Query(ctx, `
		SELECT hash_id, content
		FROM embeddings
		WHERE namespace = $1 AND hash_id = ANY($2)
	`, string(ns), hashIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]common.Row, len(hashIDs))
	for rows.Next() {
		var r common.Row
		if err := rows.Scan(&r.HashID, &r.Content); err != nil {
			return nil, err
		}
		out[r.HashID] = r
	}
	return out, rows.Err()
}

func (s *EmbeddingStore) ListIDs(ctx context.Context, ns store.Namespace) ([]string, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT hash_id FROM embeddings WHERE namespace = $1 ORDER BY hash_id
	`, string(ns))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *EmbeddingStore) Count(ctx context.Context, ns store.Namespace) (int, error) {
	var count int
	err := s.conn.QueryRow(ctx, `
		SELECT COUNT(*) FROM embeddings WHERE namespace = $1
	`, string(ns)).Scan(&count)
	return count, err
}
