package pgx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/hippo/backend/pkg/common"
	"github.com/OFFIS-RIT/hippo/backend/pkg/store"
)

// StateStore persists extraction bookkeeping in the openie_documents,
// entity_chunks and triple_docs tables. Document metadata lives in a jsonb
// column; filters match both scalar and list-valued attributes.
type StateStore struct {
	conn pgxIConn
}

func (s *StateStore) SaveDocuments(ctx context.Context, docs []common.Document) error {
	if len(docs) == 0 {
		return nil
	}
	return store.ChunkRange(len(docs), insertBatchSize, func(start, end int) error {
		tx, err := s.conn.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		for _, d := range docs[start:end] {
			entities, err := json.Marshal(d.ExtractedEntities)
			if err != nil {
				return err
			}
			triples, err := json.Marshal(d.ExtractedTriples)
			if err != nil {
				return err
			}
			metadata, err := json.Marshal(d.Metadata)
			if err != nil {
				return err
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO openie_documents (idx, passage, extracted_entities, extracted_triples, metadata)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (idx) DO UPDATE SET
					passage = EXCLUDED.passage,
					extracted_entities = EXCLUDED.extracted_entities,
					extracted_triples = EXCLUDED.extracted_triples,
					metadata = EXCLUDED.metadata
			`, d.Idx, d.Passage, entities, triples, metadata)
			if err != nil {
				return err
			}
		}
		return tx.Commit(ctx)
	})
}

func (s *StateStore) GetDocuments(ctx context.Context, hashIDs []string) ([]common.Document, error) {
	if len(hashIDs) == 0 {
		return nil, nil
	}
	return s.queryDocuments(ctx, `
		SELECT idx, passage, extracted_entities, extracted_triples, metadata
		FROM openie_documents
		WHERE idx = ANY($1)
	`, hashIDs)
}

func (s *StateStore) GetAllDocuments(ctx context.Context) ([]common.Document, error) {
	return s.queryDocuments(ctx, `
		SELECT idx, passage, extracted_entities, extracted_triples, metadata
		FROM openie_documents
		ORDER BY idx
	`)
}

func (s *StateStore) ListDocuments(ctx context.Context, offset, limit int) ([]common.Document, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		return s.queryDocuments(ctx, `
			SELECT idx, passage, extracted_entities, extracted_triples, metadata
			FROM openie_documents
			ORDER BY idx
			OFFSET $1
		`, offset)
	}
	return s.queryDocuments(ctx, `
		SELECT idx, passage, extracted_entities, extracted_triples, metadata
		FROM openie_documents
		ORDER BY idx
		OFFSET $1 LIMIT $2
	`, offset, limit)
}

func (s *StateStore) DeleteDocuments(ctx context.Context, hashIDs []string) error {
	if len(hashIDs) == 0 {
		return nil
	}
	_, err := s.conn.Exec(ctx, `
		DELETE FROM openie_documents WHERE idx = ANY($1)
	`, hashIDs)
	return err
}

// FindDocumentsByMetadata filters in the database with jsonb containment:
// within one key any wanted value may match, every key must match. Each
// value is checked in both its scalar and its list shape so filters hit
// attributes stored either way.
func (s *StateStore) FindDocumentsByMetadata(
	ctx context.Context,
	filters map[string][]string,
) ([]common.Document, error) {
	attrs := make([]string, 0, len(filters))
	for attr, values := range filters {
		if len(values) == 0 {
			continue
		}
		attrs = append(attrs, attr)
	}
	if len(attrs) == 0 {
		return s.GetAllDocuments(ctx)
	}
	sort.Strings(attrs)

	conds := make([]string, 0, len(attrs))
	args := make([]any, 0)
	for _, attr := range attrs {
		valueConds := make([]string, 0, len(filters[attr])*2)
		for _, value := range filters[attr] {
			scalar, err := json.Marshal(map[string]any{attr: value})
			if err != nil {
				return nil, err
			}
			list, err := json.Marshal(map[string]any{attr: []string{value}})
			if err != nil {
				return nil, err
			}
			args = append(args, string(scalar))
			valueConds = append(valueConds, fmt.Sprintf("metadata @> $%d::jsonb", len(args)))
			args = append(args, string(list))
			valueConds = append(valueConds, fmt.Sprintf("metadata @> $%d::jsonb", len(args)))
		}
		conds = append(conds, "("+strings.Join(valueConds, " OR ")+")")
	}

	return s.queryDocuments(ctx, `
		SELECT idx, passage, extracted_entities, extracted_triples, metadata
		FROM openie_documents
		WHERE `+strings.Join(conds, " AND ")+`
		ORDER BY idx
	`, args...)
}

func (s *StateStore) queryDocuments(
	ctx context.Context,
	sql string,
	args ...any,
) ([]common.Document, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]common.Document, 0)
	for rows.Next() {
		var (
			d        common.Document
			entities []byte
			triples  []byte
			metadata []byte
		)
		if err := rows.Scan(&d.Idx, &d.Passage, &entities, &triples, &metadata); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(entities, &d.ExtractedEntities); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(triples, &d.ExtractedTriples); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(metadata, &d.Metadata); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *StateStore) LinkEntityToChunks(ctx context.Context, entityID string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, chunkID := range chunkIDs {
		_, err := tx.Exec(ctx, `
			INSERT INTO entity_chunks (entity_id, chunk_id)
			VALUES ($1, $2)
			ON CONFLICT (entity_id, chunk_id) DO NOTHING
		`, entityID, chunkID)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *StateStore) ChunksForEntity(ctx context.Context, entityID string) ([]string, error) {
	return s.queryStrings(ctx, `
		SELECT chunk_id FROM entity_chunks WHERE entity_id = $1 ORDER BY chunk_id
	`, entityID)
}

func (s *StateStore) UnlinkChunk(ctx context.Context, chunkID string) error {
	_, err := s.conn.Exec(ctx, `
		DELETE FROM entity_chunks WHERE chunk_id = $1
	`, chunkID)
	return err
}

func (s *StateStore) LinkTripleToDocs(ctx context.Context, tripleID string, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, docID := range docIDs {
		_, err := tx.Exec(ctx, `
			INSERT INTO triple_docs (triple_id, doc_id)
			VALUES ($1, $2)
			ON CONFLICT (triple_id, doc_id) DO NOTHING
		`, tripleID, docID)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *StateStore) DocsForTriple(ctx context.Context, tripleID string) ([]string, error) {
	return s.queryStrings(ctx, `
		SELECT doc_id FROM triple_docs WHERE triple_id = $1 ORDER BY doc_id
	`, tripleID)
}

func (s *StateStore) UnlinkDocFromTriples(ctx context.Context, docID string) error {
	_, err := s.conn.Exec(ctx, `
		DELETE FROM triple_docs WHERE doc_id = $1
	`, docID)
	return err
}

func (s *StateStore) queryStrings(ctx context.Context, sql string, args ...any) ([]string, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
