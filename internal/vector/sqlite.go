package vector

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kioku/internal/models"
)

// SQLiteIndex persists vectors as little-endian float32 BLOBs and scores them by brute-force
// cosine similarity within a namespace.
type SQLiteIndex struct {
	db         *sql.DB
	dimensions int
}

// NewSQLiteIndex opens or creates a vector database at dbPath.
func NewSQLiteIndex(dbPath string, dimensions int) (*SQLiteIndex, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create vector directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open vector database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS vectors (
		namespace TEXT NOT NULL,
		id TEXT NOT NULL,
		dimensions INTEGER NOT NULL,
		embedding BLOB NOT NULL,
		PRIMARY KEY (namespace, id)
	);`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize vector schema: %w", err)
	}
	return &SQLiteIndex{db: db, dimensions: dimensions}, nil
}

// Upsert writes all records in one transaction.
func (s *SQLiteIndex) Upsert(ctx context.Context, records []models.VectorRecord) error {
	for _, r := range records {
		if len(r.Values) == 0 {
			return fmt.Errorf("vector for %s is empty", r.ID)
		}
		if s.dimensions > 0 && len(r.Values) != s.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(r.Values), s.dimensions)
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO vectors (namespace, id, dimensions, embedding) VALUES (?, ?, ?, ?)
		 ON CONFLICT(namespace, id) DO UPDATE SET dimensions = excluded.dimensions, embedding = excluded.embedding`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Namespace, r.ID, len(r.Values), float32SliceToBytes(r.Values)); err != nil {
			return fmt.Errorf("failed to upsert vector %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// Query scans the namespace and returns the topK most similar vectors.
func (s *SQLiteIndex) Query(ctx context.Context, vector []float32, topKCount int, namespace string) ([]*Match, error) {
	if s.dimensions > 0 && len(vector) != s.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(vector), s.dimensions)
	}
	if topKCount <= 0 {
		return []*Match{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, embedding FROM vectors WHERE namespace = ? AND dimensions = ?`, namespace, len(vector))
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer rows.Close()
	matches := make([]*Match, 0)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		matches = append(matches, &Match{ID: id, Score: CosineSimilarity(vector, bytesToFloat32Slice(blob))})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return topK(matches, topKCount), nil
}

// DeleteByIDs removes ids from namespace.
func (s *SQLiteIndex) DeleteByIDs(ctx context.Context, ids []string, namespace string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, namespace)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM vectors WHERE namespace = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	return nil
}

// Count returns the number of stored vectors.
func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors`).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}
