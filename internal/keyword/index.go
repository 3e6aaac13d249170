// Package keyword provides full-text search over notes, alongside the semantic vector index.
package keyword

import (
	"context"

	"github.com/hyperjump/kioku/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// FuzzyEnabled matches terms within Fuzziness edits for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance (1 or 2). Default is 1.
	Fuzziness int
	// PhraseBoost multiplies the score of notes containing the query as a phrase.
	// Values <= 1 disable the boost.
	PhraseBoost float64
}

// KeywordIndex defines keyword search operations over notes.
type KeywordIndex interface {
	Index(ctx context.Context, note *models.Note) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, id string) error
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	ID    string
	Score float64
}
