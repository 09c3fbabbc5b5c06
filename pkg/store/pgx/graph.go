package pgx

import (
	"context"

	"github.com/OFFIS-RIT/hippo/backend/pkg/common"
	"github.com/OFFIS-RIT/hippo/backend/pkg/graph"
	"github.com/OFFIS-RIT/hippo/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

// GraphStore persists the knowledge graph in the graph_nodes and
// graph_edges tables. Personalized PageRank runs in-process on the loaded
// subgraph.
type GraphStore struct {
	conn pgxIConn
}

func (s *GraphStore) AddNodes(ctx context.Context, nodes []common.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	return store.ChunkRange(len(nodes), insertBatchSize, func(start, end int) error {
		tx, err := s.conn.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		for _, n := range nodes[start:end] {
			_, err := tx.Exec(ctx, `
				INSERT INTO graph_nodes (hash_id, content, node_type)
				VALUES ($1, $2, $3)
				ON CONFLICT (hash_id) DO NOTHING
			`, n.HashID, n.Content, string(n.NodeType))
			if err != nil {
				return err
			}
		}
		return tx.Commit(ctx)
	})
}

func (s *GraphStore) AddEdges(ctx context.Context, edges []common.Edge) error {
	if len(edges) == 0 {
		return nil
	}
	return store.ChunkRange(len(edges), insertBatchSize, func(start, end int) error {
		tx, err := s.conn.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		for _, e := range edges[start:end] {
			_, err := tx.Exec(ctx, `
				INSERT INTO graph_edges (src, dst, weight)
				VALUES ($1, $2, $3)
				ON CONFLICT (src, dst) DO UPDATE SET weight = EXCLUDED.weight
			`, e.Src, e.Dst, e.Weight)
			if err != nil {
				return err
			}
		}
		return tx.Commit(ctx)
	})
}

func (s *GraphStore) RemoveNodes(ctx context.Context, hashIDs []string) error {
	if len(hashIDs) == 0 {
		return nil
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM graph_edges WHERE src = ANY($1) OR dst = ANY($1)
	`, hashIDs); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM graph_nodes WHERE hash_id = ANY($1)
	`, hashIDs); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *GraphStore) GetNode(ctx context.Context, hashID string) (*common.Node, error) {
	var n common.Node
	err := s.conn.QueryRow(ctx, `
		SELECT hash_id, content, node_type FROM graph_nodes WHERE hash_id = $1
	`, hashID).Scan(&n.HashID, &n.Content, &n.NodeType)
	if err == pgxv5.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *GraphStore) GetNodes(ctx context.Context, hashIDs []string) ([]common.Node, error) {
	if len(hashIDs) == 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, `
		SELECT hash_id, content, node_type FROM graph_nodes WHERE hash_id = ANY($1)
	`, hashIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanNodes(rows)
}

func (s *GraphStore) GetNotExistingNodes(ctx context.Context, hashIDs []string) ([]string, error) {
	if len(hashIDs) == 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, `
		SELECT candidate.id
		FROM unnest($1::text[]) AS candidate(id)
		WHERE NOT EXISTS (SELECT 1 FROM graph_nodes WHERE hash_id = candidate.id)
	`, hashIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	missing := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		missing = append(missing, id)
	}
	return missing, rows.Err()
}

func (s *GraphStore) GetEdgesOfNode(ctx context.Context, hashID string) ([]common.Edge, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT src, dst, weight FROM graph_edges
		WHERE src = $1 OR dst = $1
		ORDER BY src, dst
	`, hashID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]common.Edge, 0)
	for rows.Next() {
		var e common.Edge
		if err := rows.Scan(&e.Src, &e.Dst, &e.Weight); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *GraphStore) NodeDegrees(ctx context.Context, hashIDs []string) (map[string]int, error) {
	if len(hashIDs) == 0 {
		return map[string]int{}, nil
	}
	rows, err := s.conn.Query(ctx, `
		SELECT node, COUNT(*) FROM (
			SELECT src AS node FROM graph_edges WHERE src = ANY($1)
			UNION ALL
			SELECT dst AS node FROM graph_edges WHERE dst = ANY($1)
		) touched
		GROUP BY node
	`, hashIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	degrees := make(map[string]int, len(hashIDs))
	for rows.Next() {
		var id string
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		degrees[id] = count
	}
	return degrees, rows.Err()
}

func (s *GraphStore) NodeCount(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRow(ctx, `SELECT COUNT(*) FROM graph_nodes`).Scan(&count)
	return count, err
}

func (s *GraphStore) EdgeCount(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRow(ctx, `SELECT COUNT(*) FROM graph_edges`).Scan(&count)
	return count, err
}

func (s *GraphStore) PersonalizedPageRank(
	ctx context.Context,
	seeds map[string]float64,
	opts store.PPROptions,
) ([]store.Neighbor, error) {
	nodes, nodeTypes, err := s.loadNodes(ctx, opts.AllowList)
	if err != nil {
		return nil, err
	}
	edges, err := s.loadEdges(ctx, opts.AllowList)
	if err != nil {
		return nil, err
	}

	scores := graph.PersonalizedPageRank(nodes, edges, seeds, graph.PageRankParams{
		Damping: opts.Damping,
	})

	ranked := graph.TopChunks(scores, nodeTypes, opts.TopK)
	out := make([]store.Neighbor, len(ranked))
	for i, r := range ranked {
		out[i] = store.Neighbor{HashID: r.ID, Score: r.Score}
	}
	return out, nil
}

func (s *GraphStore) loadNodes(
	ctx context.Context,
	allowList []string,
) ([]string, map[string]common.NodeType, error) {
	var (
		rows pgxv5.Rows
		err  error
	)
	if len(allowList) > 0 {
		rows, err = s.conn.Query(ctx, `
			SELECT hash_id, node_type FROM graph_nodes WHERE hash_id = ANY($1)
		`, allowList)
	} else {
		rows, err = s.conn.Query(ctx, `SELECT hash_id, node_type FROM graph_nodes`)
	}
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	types := make(map[string]common.NodeType)
	for rows.Next() {
		var id string
		var nodeType common.NodeType
		if err := rows.Scan(&id, &nodeType); err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		types[id] = nodeType
	}
	return ids, types, rows.Err()
}

func (s *GraphStore) loadEdges(ctx context.Context, allowList []string) ([]common.Edge, error) {
	var (
		rows pgxv5.Rows
		err  error
	)
	if len(allowList) > 0 {
		rows, err = s.conn.Query(ctx, `
			SELECT src, dst, weight FROM graph_edges
			WHERE src = ANY($1) AND dst = ANY($1)
		`, allowList)
	} else {
		rows, err = s.conn.Query(ctx, `SELECT src, dst, weight FROM graph_edges`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	edges := make([]common.Edge, 0)
	for rows.Next() {
		var e common.Edge
		if err := rows.Scan(&e.Src, &e.Dst, &e.Weight); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func scanNodes(rows pgxv5.Rows) ([]common.Node, error) {
	out := make([]common.Node, 0)
	for rows.Next() {
		var n common.Node
		if err := rows.Scan(&n.HashID, &n.Content, &n.NodeType); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
