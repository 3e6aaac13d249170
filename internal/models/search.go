package models

import (
	"fmt"
	"strings"
)

// NoteSearchQuery is a keyword and/or semantic search over stored notes. A zero weight turns
// that side of the search off; both zero means an even blend.
type NoteSearchQuery struct {
	Query          string  `json:"query"`
	Limit          int     `json:"limit"`
	KeywordWeight  float64 `json:"keyword_weight"`
	SemanticWeight float64 `json:"semantic_weight"`
	MinScore       float64 `json:"min_score"`
	Fuzzy          bool    `json:"fuzzy"`
}

// Validate applies defaults and rejects a blank query or negative weights.
func (q *NoteSearchQuery) Validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return fmt.Errorf("%w: query is required", ErrValidation)
	}
	if q.KeywordWeight < 0 || q.SemanticWeight < 0 {
		return fmt.Errorf("%w: weights must not be negative", ErrValidation)
	}
	if q.KeywordWeight == 0 && q.SemanticWeight == 0 {
		q.KeywordWeight, q.SemanticWeight = 0.5, 0.5
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	return nil
}

// NoteSearchResult is one ranked note.
type NoteSearchResult struct {
	Note          *Note   `json:"note"`
	Snippet       string  `json:"snippet"`
	Score         float64 `json:"score"`
	KeywordScore  float64 `json:"keyword_score"`
	SemanticScore float64 `json:"semantic_score"`
	Rank          int     `json:"rank"`
}

// NoteSearchResponse is the result of a note search. QueryTime is in milliseconds.
type NoteSearchResponse struct {
	Results   []*NoteSearchResult `json:"results"`
	Total     int                 `json:"total"`
	QueryTime int64               `json:"query_time_ms"`
	Query     string              `json:"query"`
}
