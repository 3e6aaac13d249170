package vector

import (
	"context"
	"fmt"

	"github.com/hyperjump/kioku/internal/config"
)

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeSQLite stores vectors in a local SQLite file. The default.
	IndexTypeSQLite IndexType = "sqlite"
	// IndexTypeMemory keeps vectors in memory and rewrites a snapshot file after every change.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeQdrant uses a Qdrant server over REST.
	IndexTypeQdrant IndexType = "qdrant"
	// IndexTypeChroma uses a Chroma server.
	IndexTypeChroma IndexType = "chroma"
)

// NewVectorIndex creates the index selected by cfg. path is the local file used by the
// sqlite and memory backends.
func NewVectorIndex(ctx context.Context, cfg config.VectorConfig, path string, dimensions int) (VectorIndex, error) {
	switch IndexType(cfg.IndexType) {
	case IndexTypeSQLite, "":
		return NewSQLiteIndex(path, dimensions)
	case IndexTypeMemory:
		return NewMemoryIndex(dimensions, path)
	case IndexTypeQdrant:
		return NewQdrantIndex(cfg.Endpoint, cfg.Collection, dimensions)
	case IndexTypeChroma:
		return NewChromaIndex(ctx, cfg.Endpoint, cfg.Collection, cfg.Namespace)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: sqlite, memory, qdrant, chroma)", cfg.IndexType)
	}
}
