package vector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	chromago "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"

	"github.com/hyperjump/kioku/internal/models"
)

// ChromaIndex implements VectorIndex on a Chroma server, one collection per namespace.
// Embeddings are always supplied by the caller, so the collections never embed on their own.
type ChromaIndex struct {
	client      chromago.Client
	prefix      string
	collections map[string]chromago.Collection
	mu          sync.Mutex
}

// NewChromaIndex connects to the Chroma server at endpoint (the client default when empty) and
// opens the collection of defaultNamespace.
func NewChromaIndex(ctx context.Context, endpoint, prefix, defaultNamespace string) (*ChromaIndex, error) {
	var opts []chromago.ClientOption
	if endpoint != "" {
		opts = append(opts, chromago.WithBaseURL(endpoint))
	}
	client, err := chromago.NewHTTPClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create chroma client: %w", err)
	}
	c := &ChromaIndex{
		client:      client,
		prefix:      prefix,
		collections: make(map[string]chromago.Collection),
	}
	if _, err := c.collection(ctx, defaultNamespace); err != nil {
		_ = client.Close()
		return nil, err
	}
	return c, nil
}

// errCallerEmbeds is returned if Chroma is ever asked to embed text itself.
var errCallerEmbeds = errors.New("chroma collections store caller supplied embeddings only")

// callerEmbeddings stops the client from loading its default local embedding model, which it
// otherwise downloads when a collection is created without an embedding function.
type callerEmbeddings struct{}

func (callerEmbeddings) EmbedDocuments(context.Context, []string) ([]embeddings.Embedding, error) {
	return nil, errCallerEmbeds
}

func (callerEmbeddings) EmbedQuery(context.Context, string) (embeddings.Embedding, error) {
	return nil, errCallerEmbeds
}

func (c *ChromaIndex) collection(ctx context.Context, namespace string) (chromago.Collection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if col, ok := c.collections[namespace]; ok {
		return col, nil
	}
	name := c.prefix + "-" + namespace
	col, err := c.client.GetOrCreateCollection(ctx, name,
		chromago.WithEmbeddingFunctionCreate(callerEmbeddings{}),
		chromago.WithCollectionMetadataCreate(
			chromago.NewMetadata(
				chromago.NewStringAttribute("namespace", namespace),
				chromago.NewStringAttribute("created_by", "kioku"),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create collection %s: %w", name, err)
	}
	c.collections[namespace] = col
	return col, nil
}

// Upsert groups records by namespace and upserts each group.
func (c *ChromaIndex) Upsert(ctx context.Context, records []models.VectorRecord) error {
	groups := make(map[string][]models.VectorRecord)
	for _, r := range records {
		groups[r.Namespace] = append(groups[r.Namespace], r)
	}
	for ns, group := range groups {
		col, err := c.collection(ctx, ns)
		if err != nil {
			return err
		}
		ids := make([]chromago.DocumentID, len(group))
		embs := make([]embeddings.Embedding, len(group))
		for i, r := range group {
			ids[i] = chromago.DocumentID(r.ID)
			embs[i] = embeddings.NewEmbeddingFromFloat32(r.Values)
		}
		if err := col.Upsert(ctx, chromago.WithIDs(ids...), chromago.WithEmbeddings(embs...)); err != nil {
			return fmt.Errorf("failed to upsert into chroma: %w", err)
		}
	}
	return nil
}

// Query returns the nearest records in namespace. Chroma reports distances, which are mapped to
// scores with 1/(1+d) so that a smaller distance yields a larger score.
func (c *ChromaIndex) Query(ctx context.Context, vector []float32, topKCount int, namespace string) ([]*Match, error) {
	if topKCount <= 0 {
		return []*Match{}, nil
	}
	col, err := c.collection(ctx, namespace)
	if err != nil {
		return nil, err
	}
	res, err := col.Query(ctx,
		chromago.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(vector)),
		chromago.WithNResults(topKCount),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chroma: %w", err)
	}
	matches := make([]*Match, 0, topKCount)
	idGroups := res.GetIDGroups()
	distGroups := res.GetDistancesGroups()
	if len(idGroups) == 0 {
		return matches, nil
	}
	for i, id := range idGroups[0] {
		score := 0.0
		if len(distGroups) > 0 && i < len(distGroups[0]) {
			score = 1 / (1 + float64(distGroups[0][i]))
		}
		matches = append(matches, &Match{ID: string(id), Score: score})
	}
	return topK(matches, topKCount), nil
}

// DeleteByIDs removes ids from the namespace collection.
func (c *ChromaIndex) DeleteByIDs(ctx context.Context, ids []string, namespace string) error {
	if len(ids) == 0 {
		return nil
	}
	col, err := c.collection(ctx, namespace)
	if err != nil {
		return err
	}
	docIDs := make([]chromago.DocumentID, len(ids))
	for i, id := range ids {
		docIDs[i] = chromago.DocumentID(id)
	}
	if err := col.Delete(ctx, chromago.WithIDsDelete(docIDs...)); err != nil {
		return fmt.Errorf("failed to delete from chroma: %w", err)
	}
	return nil
}

// Count sums the record counts of the collections opened by this process.
func (c *ChromaIndex) Count(ctx context.Context) (int, error) {
	c.mu.Lock()
	cols := make([]chromago.Collection, 0, len(c.collections))
	for _, col := range c.collections {
		cols = append(cols, col)
	}
	c.mu.Unlock()
	total := 0
	for _, col := range cols {
		n, err := col.Count(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to count chroma collection: %w", err)
		}
		total += n
	}
	return total, nil
}

// Close releases the client.
func (c *ChromaIndex) Close() error {
	return c.client.Close()
}
