package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/kioku/internal/models"
)

// QdrantIndex implements VectorIndex using Qdrant's REST API. All namespaces share one collection;
// the namespace is stored in the point payload and used as a query filter.
type QdrantIndex struct {
	endpoint   string
	collection string
	dimensions int
	client     *http.Client

	ensureOnce sync.Once
	ensureErr  error
}

// NewQdrantIndex creates a Qdrant-backed index. The collection is created on first use.
func NewQdrantIndex(endpoint, collection string, dimensions int) (*QdrantIndex, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("qdrant endpoint is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("qdrant requires positive dimensions")
	}
	return &QdrantIndex{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		collection: collection,
		dimensions: dimensions,
		client:     &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// pointID produces a deterministic uint64 FNV-1a hash of namespace and id for use as a Qdrant point ID.
func pointID(namespace, id string) uint64 {
	key := namespace + "\x00" + id
	var h uint64 = 14695981039346656037
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211
	}
	return h
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	q.ensureOnce.Do(func() {
		url := fmt.Sprintf("%s/collections/%s", q.endpoint, q.collection)
		resp, err := q.do(ctx, http.MethodGet, url, nil)
		if err != nil {
			q.ensureErr = err
			return
		}
		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return
		}
		body := map[string]any{
			"vectors": map[string]any{
				"size":     q.dimensions,
				"distance": "Cosine",
			},
		}
		resp, err = q.do(ctx, http.MethodPut, url, body)
		if err != nil {
			q.ensureErr = err
			return
		}
		q.ensureErr = checkResponse(resp, "create collection")
	})
	return q.ensureErr
}

// Upsert writes all records as points in one request.
func (q *QdrantIndex) Upsert(ctx context.Context, records []models.VectorRecord) error {
	if err := q.ensureCollection(ctx); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}
	points := make([]any, 0, len(records))
	for _, r := range records {
		if len(r.Values) != q.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(r.Values), q.dimensions)
		}
		points = append(points, map[string]any{
			"id":     pointID(r.Namespace, r.ID),
			"vector": r.Values,
			"payload": map[string]string{
				"_id":        r.ID,
				"_namespace": r.Namespace,
			},
		})
	}
	url := fmt.Sprintf("%s/collections/%s/points?wait=true", q.endpoint, q.collection)
	resp, err := q.do(ctx, http.MethodPut, url, map[string]any{"points": points})
	if err != nil {
		return err
	}
	return checkResponse(resp, "qdrant upsert")
}

// Query searches the namespace with a payload filter.
func (q *QdrantIndex) Query(ctx context.Context, vector []float32, topKCount int, namespace string) ([]*Match, error) {
	if err := q.ensureCollection(ctx); err != nil {
		return nil, fmt.Errorf("ensure collection: %w", err)
	}
	if topKCount <= 0 {
		return []*Match{}, nil
	}
	body := map[string]any{
		"vector":       vector,
		"top":          topKCount,
		"with_payload": true,
		"filter": map[string]any{
			"must": []any{map[string]any{
				"key":   "_namespace",
				"match": map[string]any{"value": namespace},
			}},
		},
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", q.endpoint, q.collection)
	resp, err := q.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("qdrant search failed: %s %s", resp.Status, string(b))
	}

	var result struct {
		Result []struct {
			Score   float64           `json:"score"`
			Payload map[string]string `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	matches := make([]*Match, 0, len(result.Result))
	for _, r := range result.Result {
		matches = append(matches, &Match{ID: r.Payload["_id"], Score: r.Score})
	}
	return matches, nil
}

// DeleteByIDs deletes the points of ids in namespace.
func (q *QdrantIndex) DeleteByIDs(ctx context.Context, ids []string, namespace string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := q.ensureCollection(ctx); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}
	points := make([]uint64, len(ids))
	for i, id := range ids {
		points[i] = pointID(namespace, id)
	}
	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", q.endpoint, q.collection)
	resp, err := q.do(ctx, http.MethodPost, url, map[string]any{"points": points})
	if err != nil {
		return err
	}
	return checkResponse(resp, "qdrant delete")
}

// Count returns the exact number of points in the collection.
func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	if err := q.ensureCollection(ctx); err != nil {
		return 0, fmt.Errorf("ensure collection: %w", err)
	}
	url := fmt.Sprintf("%s/collections/%s/points/count", q.endpoint, q.collection)
	resp, err := q.do(ctx, http.MethodPost, url, map[string]any{"exact": true})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("qdrant count failed: %s %s", resp.Status, string(b))
	}
	var result struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decode count response: %w", err)
	}
	return result.Result.Count, nil
}

// Close is a no-op; the HTTP client holds no resources that need releasing.
func (q *QdrantIndex) Close() error {
	return nil
}

func (q *QdrantIndex) do(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return q.client.Do(req)
}

func checkResponse(resp *http.Response, op string) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s failed: %s %s", op, resp.Status, string(b))
	}
	return nil
}
