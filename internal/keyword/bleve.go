package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/kioku/internal/models"
)

const noteType = "note"

// noteDoc is the shape stored in the index; the note id is the bleve document id.
type noteDoc struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Type implements bleve's classifier so notes use the note mapping.
func (noteDoc) Type() string { return noteType }

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path.
// If you change the index mapping in code, remove the index directory; the server backfills it
// from the note store on the next start.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, noteMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// NewMemoryBleveIndex creates an index that lives only in memory.
func NewMemoryBleveIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(noteMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func noteMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so exact words match as typed.
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("text", textField)
	docMapping.AddFieldMappingsAt("created_at", bleve.NewDateTimeFieldMapping())
	im.AddDocumentMapping(noteType, docMapping)
	im.DefaultType = noteType
	im.DefaultMapping = docMapping
	return im
}

// Index adds or replaces note in the index.
func (b *BleveIndex) Index(ctx context.Context, note *models.Note) error {
	return b.index.Index(note.ID, noteDoc{Text: note.Text, CreatedAt: note.CreatedAt})
}

// Search runs a match (or fuzzy) query over note text and returns up to limit results.
// With a phrase boost, notes containing the whole query as a phrase are scored higher.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return []*KeywordResult{}, nil
	}
	fuzzy := false
	fuzziness := 1
	phraseBoost := 1.0
	if opts != nil {
		fuzzy = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
		if opts.PhraseBoost > 0 {
			phraseBoost = opts.PhraseBoost
		}
	}

	var q blevequery.Query
	if fuzzy {
		q = buildFuzzyQuery(query, fuzziness)
	} else {
		mq := bleve.NewMatchQuery(query)
		mq.SetField("text")
		q = mq
	}
	reqSize := limit
	terms := tokenizeQuery(query)
	boostPhrases := phraseBoost > 1 && len(terms) > 1
	if boostPhrases && reqSize < 50 {
		// Fetch extra hits so boosted notes outside the first page can move up.
		reqSize = 50
	}
	req := bleve.NewSearchRequestOptions(q, reqSize, 0, false)
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}

	out := make([]*KeywordResult, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &KeywordResult{ID: hit.ID, Score: hit.Score}
	}
	if boostPhrases {
		phrases, err := b.phraseMatches(ctx, query, reqSize)
		if err != nil {
			return nil, err
		}
		for _, r := range out {
			if phrases[r.ID] {
				r.Score *= phraseBoost
			}
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildFuzzyQuery ORs one fuzzy query per term over the text field.
func buildFuzzyQuery(query string, fuzziness int) blevequery.Query {
	terms := tokenizeQuery(query)
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField("text")
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// phraseMatches returns the ids of notes containing query as a phrase.
func (b *BleveIndex) phraseMatches(ctx context.Context, query string, size int) (map[string]bool, error) {
	pq := bleve.NewMatchPhraseQuery(query)
	pq.SetField("text")
	results, err := b.index.SearchInContext(ctx, bleve.NewSearchRequestOptions(pq, size, 0, false))
	if err != nil {
		return nil, fmt.Errorf("Bleve phrase search failed: %w", err)
	}
	matches := make(map[string]bool, len(results.Hits))
	for _, hit := range results.Hits {
		matches[hit.ID] = true
	}
	return matches, nil
}

// Delete removes a note from the index. Deleting an unknown id is not an error.
func (b *BleveIndex) Delete(ctx context.Context, id string) error {
	return b.index.Delete(id)
}

// DocCount returns the total number of notes in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
