// Package vector provides vector indexes keyed by note ID and partitioned by namespace.
package vector

import (
	"context"

	"github.com/hyperjump/kioku/internal/models"
)

// VectorIndex stores one vector per ID within a namespace and answers similarity queries.
type VectorIndex interface {
	// Upsert inserts or replaces records. Re-upserting an ID overwrites its vector.
	Upsert(ctx context.Context, records []models.VectorRecord) error
	// Query returns up to topK matches in namespace ordered by decreasing score.
	Query(ctx context.Context, vector []float32, topK int, namespace string) ([]*Match, error)
	// DeleteByIDs removes the given IDs from namespace. Missing IDs are ignored.
	DeleteByIDs(ctx context.Context, ids []string, namespace string) error
	// Count returns the number of stored vectors across namespaces.
	Count(ctx context.Context) (int, error)
	Close() error
}

// Match is a single similarity hit. ID is the note ID.
type Match struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}
