package graph

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Store is a per-project persistent directed labeled multigraph backed by a
// single sqlite file. Handles are safe for concurrent use; write batches are
// serialized by the pipeline's per-file locks.
type Store struct {
	db   *sql.DB
	path string
}

const graphSchema = `
CREATE TABLE IF NOT EXISTS nodes (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	name       TEXT NOT NULL,
	file_path  TEXT NOT NULL DEFAULT '',
	start_line INTEGER NOT NULL DEFAULT 0,
	end_line   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_nodes_file ON nodes(file_path);
CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes(name);

CREATE TABLE IF NOT EXISTS edges (
	source_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	relation  TEXT NOT NULL,
	PRIMARY KEY (source_id, target_id, relation)
);

CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id);
`

// OpenStore opens (or creates) the graph database file. Structural damage is
// detected here and surfaced as an error so the project can be disabled.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create graph store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph store: %w", err)
	}

	var check string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&check); err != nil || check != "ok" {
		db.Close()
		if err == nil {
			err = fmt.Errorf("quick_check reported %q", check)
		}
		return nil, fmt.Errorf("graph store %s is corrupt: %w", path, err)
	}

	if _, err := db.Exec(graphSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize graph schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ApplyDiff applies a batch of mutations in one transaction. Nodes are
// inserted before edges so readers never observe an edge without both
// endpoints.
func (s *Store) ApplyDiff(ctx context.Context, diff Diff) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin graph transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Every edge a file contributes is sourced from one of its nodes, so
	// clearing by source replaces the file's edge set without touching
	// other files' edges
	for _, relPath := range diff.ClearEdgesFrom {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM edges WHERE source_id IN (SELECT id FROM nodes WHERE file_path = ?)",
			relPath); err != nil {
			return fmt.Errorf("failed to clear edges for %s: %w", relPath, err)
		}
	}

	for _, edge := range diff.RemoveEdges {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM edges WHERE source_id = ? AND target_id = ? AND relation = ?",
			edge.SourceID, edge.TargetID, edge.Relation); err != nil {
			return fmt.Errorf("failed to remove edge: %w", err)
		}
	}

	for _, id := range diff.RemoveNodes {
		if _, err := tx.ExecContext(ctx, "DELETE FROM edges WHERE source_id = ? OR target_id = ?", id, id); err != nil {
			return fmt.Errorf("failed to remove incident edges: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM nodes WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to remove node: %w", err)
		}
	}

	for _, node := range diff.AddNodes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO nodes (id, kind, name, file_path, start_line, end_line)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				kind=excluded.kind,
				name=excluded.name,
				file_path=excluded.file_path,
				start_line=excluded.start_line,
				end_line=excluded.end_line`,
			node.ID, node.Kind, node.Name, node.FilePath, node.StartLine, node.EndLine); err != nil {
			return fmt.Errorf("failed to upsert node %s: %w", node.ID, err)
		}
	}

	for _, edge := range diff.AddEdges {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO edges (source_id, target_id, relation)
			VALUES (?, ?, ?)
			ON CONFLICT(source_id, target_id, relation) DO NOTHING`,
			edge.SourceID, edge.TargetID, edge.Relation); err != nil {
			return fmt.Errorf("failed to insert edge: %w", err)
		}
	}

	return tx.Commit()
}

// Neighbors returns the nodes one hop from id. direction is "in", "out", or
// "both"; relations optionally restricts edge labels.
func (s *Store) Neighbors(ctx context.Context, id, direction string, relations []string) ([]Neighbor, error) {
	var neighbors []Neighbor

	if direction == "out" || direction == "both" || direction == "" {
		out, err := s.neighborQuery(ctx, id, "out", relations)
		if err != nil {
			return nil, err
		}
		neighbors = append(neighbors, out...)
	}
	if direction == "in" || direction == "both" || direction == "" {
		in, err := s.neighborQuery(ctx, id, "in", relations)
		if err != nil {
			return nil, err
		}
		neighbors = append(neighbors, in...)
	}
	return neighbors, nil
}

func (s *Store) neighborQuery(ctx context.Context, id, direction string, relations []string) ([]Neighbor, error) {
	join, match := "e.target_id", "e.source_id"
	if direction == "in" {
		join, match = "e.source_id", "e.target_id"
	}

	query := fmt.Sprintf(`
		SELECT n.id, n.kind, n.name, n.file_path, n.start_line, n.end_line, e.relation
		FROM edges e JOIN nodes n ON n.id = %s
		WHERE %s = ?`, join, match)
	args := []any{id}

	if len(relations) > 0 {
		query += " AND e.relation IN (" + placeholders(len(relations)) + ")"
		for _, rel := range relations {
			args = append(args, rel)
		}
	}
	query += " ORDER BY n.name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query neighbors: %w", err)
	}
	defer rows.Close()

	var neighbors []Neighbor
	for rows.Next() {
		var nb Neighbor
		nb.Direction = direction
		if err := rows.Scan(&nb.Node.ID, &nb.Node.Kind, &nb.Node.Name, &nb.Node.FilePath,
			&nb.Node.StartLine, &nb.Node.EndLine, &nb.Relation); err != nil {
			return nil, err
		}
		neighbors = append(neighbors, nb)
	}
	return neighbors, rows.Err()
}

// GetNode fetches a single node by id.
func (s *Store) GetNode(ctx context.Context, id string) (Node, bool, error) {
	var n Node
	err := s.db.QueryRowContext(ctx,
		"SELECT id, kind, name, file_path, start_line, end_line FROM nodes WHERE id = ?", id).
		Scan(&n.ID, &n.Kind, &n.Name, &n.FilePath, &n.StartLine, &n.EndLine)
	if err == sql.ErrNoRows {
		return Node{}, false, nil
	}
	if err != nil {
		return Node{}, false, err
	}
	return n, true, nil
}

// SearchNodes finds nodes whose name or file path contains the substring.
func (s *Store) SearchNodes(ctx context.Context, substring string, kinds []string) ([]Node, error) {
	pattern := "%" + escapeLike(substring) + "%"
	query := `
		SELECT id, kind, name, file_path, start_line, end_line FROM nodes
		WHERE (name LIKE ? ESCAPE '\' OR file_path LIKE ? ESCAPE '\')`
	args := []any{pattern, pattern}

	if len(kinds) > 0 {
		query += " AND kind IN (" + placeholders(len(kinds)) + ")"
		for _, k := range kinds {
			args = append(args, k)
		}
	}
	query += " ORDER BY file_path, start_line LIMIT 200"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search nodes: %w", err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.ID, &n.Kind, &n.Name, &n.FilePath, &n.StartLine, &n.EndLine); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// EdgeHit is an edge joined with its endpoint names for search results.
type EdgeHit struct {
	Edge       Edge
	SourceName string
	TargetName string
}

// SearchEdges finds edges whose endpoints or relation contain the substring.
func (s *Store) SearchEdges(ctx context.Context, substring string) ([]EdgeHit, error) {
	pattern := "%" + escapeLike(substring) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.source_id, e.target_id, e.relation, src.name, dst.name
		FROM edges e
		JOIN nodes src ON src.id = e.source_id
		JOIN nodes dst ON dst.id = e.target_id
		WHERE src.name LIKE ? ESCAPE '\' OR dst.name LIKE ? ESCAPE '\' OR e.relation LIKE ? ESCAPE '\'
		ORDER BY src.name, dst.name LIMIT 200`,
		pattern, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search edges: %w", err)
	}
	defer rows.Close()

	var hits []EdgeHit
	for rows.Next() {
		var h EdgeHit
		if err := rows.Scan(&h.Edge.SourceID, &h.Edge.TargetID, &h.Edge.Relation,
			&h.SourceName, &h.TargetName); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// NodesByFile lists node ids attributed to a file.
func (s *Store) NodesByFile(ctx context.Context, relPath string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM nodes WHERE file_path = ?", relPath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RemoveByFile deletes every node attributed to a file, cascading to
// incident edges, in one transaction.
func (s *Store) RemoveByFile(ctx context.Context, relPath string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin graph transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM edges WHERE source_id IN (SELECT id FROM nodes WHERE file_path = ?)
		   OR target_id IN (SELECT id FROM nodes WHERE file_path = ?)`,
		relPath, relPath); err != nil {
		return fmt.Errorf("failed to remove edges for %s: %w", relPath, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM nodes WHERE file_path = ?", relPath); err != nil {
		return fmt.Errorf("failed to remove nodes for %s: %w", relPath, err)
	}
	return tx.Commit()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func escapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}
