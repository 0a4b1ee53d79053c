package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/wangdangel/augmentorium/internal/chunker"
)

// SQLiteStore is the local vector store backend: one sqlite file per project
// under the data directory, vectors stored as little-endian float32 blobs,
// similarity computed in Go.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

const vectorSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	id         TEXT PRIMARY KEY,
	rel_path   TEXT NOT NULL,
	language   TEXT NOT NULL DEFAULT '',
	kind       TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	start_line INTEGER NOT NULL,
	end_line   INTEGER NOT NULL,
	parent_id  TEXT NOT NULL DEFAULT '',
	text       TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	vector     BLOB NOT NULL,
	model_id   TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(rel_path);
CREATE INDEX IF NOT EXISTS idx_chunks_kind ON chunks(kind);
`

// OpenSQLite opens (or creates) the collection file. Structural damage is
// surfaced as an error so the project can be disabled.
func OpenSQLite(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create vector store directory: %w", err)
	}
	path := filepath.Join(dir, "chunks.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	var check string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&check); err != nil || check != "ok" {
		db.Close()
		if err == nil {
			err = fmt.Errorf("quick_check reported %q", check)
		}
		return nil, fmt.Errorf("vector store %s is corrupt: %w", path, err)
	}

	if _, err := db.Exec(vectorSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize vector schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertMany writes chunks with their vectors in one transaction.
func (s *SQLiteStore) UpsertMany(ctx context.Context, chunks []EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin vector transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, rel_path, language, kind, name, start_line, end_line, parent_id, text, metadata, vector, model_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			rel_path=excluded.rel_path,
			language=excluded.language,
			kind=excluded.kind,
			name=excluded.name,
			start_line=excluded.start_line,
			end_line=excluded.end_line,
			parent_id=excluded.parent_id,
			text=excluded.text,
			metadata=excluded.metadata,
			vector=excluded.vector,
			model_id=excluded.model_id`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, ec := range chunks {
		meta, err := json.Marshal(ec.Chunk.Metadata)
		if err != nil {
			meta = []byte("{}")
		}
		if _, err := stmt.ExecContext(ctx,
			ec.Chunk.ID, ec.Chunk.RelPath, ec.Chunk.Language, ec.Chunk.Kind, ec.Chunk.Name,
			ec.Chunk.StartLine, ec.Chunk.EndLine, ec.Chunk.ParentID, ec.Chunk.Text,
			string(meta), serializeVector(ec.Vector), ec.ModelID); err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", ec.Chunk.ID, err)
		}
	}
	return tx.Commit()
}

// DeleteMany removes chunks by id.
func (s *SQLiteStore) DeleteMany(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	args := make([]any, len(chunkIDs))
	for i, id := range chunkIDs {
		args[i] = id
	}
	query := "DELETE FROM chunks WHERE id IN (" + strings.TrimSuffix(strings.Repeat("?,", len(chunkIDs)), ",") + ")"
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// DeleteByPath removes every chunk attributed to a file.
func (s *SQLiteStore) DeleteByPath(ctx context.Context, relPath string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM chunks WHERE rel_path = ?", relPath)
	return err
}

// ListByPath lists chunk ids for a file in positional order.
func (s *SQLiteStore) ListByPath(ctx context.Context, relPath string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM chunks WHERE rel_path = ? ORDER BY start_line, kind, name", relPath)
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

// KNN scans candidate vectors matching the filter and ranks them by cosine
// similarity in Go.
func (s *SQLiteStore) KNN(ctx context.Context, vector []float32, k int, filter *Filter) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}

	query := `SELECT id, rel_path, language, kind, name, start_line, end_line, parent_id, text, metadata, vector FROM chunks WHERE 1=1`
	var args []any
	if filter != nil {
		if filter.Language != "" {
			query += " AND language = ?"
			args = append(args, filter.Language)
		}
		if filter.Kind != "" {
			query += " AND kind = ?"
			args = append(args, filter.Kind)
		}
		if filter.PathPrefix != "" {
			query += ` AND rel_path LIKE ? ESCAPE '\'`
			args = append(args, escapeLikePrefix(filter.PathPrefix)+"%")
		}
		if filter.Name != "" {
			query += " AND name = ?"
			args = append(args, filter.Name)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			ch   chunker.Chunk
			meta string
			blob []byte
		)
		if err := rows.Scan(&ch.ID, &ch.RelPath, &ch.Language, &ch.Kind, &ch.Name,
			&ch.StartLine, &ch.EndLine, &ch.ParentID, &ch.Text, &meta, &blob); err != nil {
			return nil, err
		}
		candidate := deserializeVector(blob)
		if len(candidate) != len(vector) {
			continue
		}
		if meta != "" && meta != "{}" {
			_ = json.Unmarshal([]byte(meta), &ch.Metadata)
		}
		hits = append(hits, Hit{Chunk: ch, Score: cosineSimilarity(vector, candidate)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Count returns the number of stored chunks.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n)
	return n, err
}

// serializeVector converts a float32 slice to a little-endian byte blob.
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice.
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func escapeLikePrefix(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}
