package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/hyperjump/kioku/internal/models"
)

const chromaCollectionsPath = "/api/v2/tenants/default_tenant/databases/default_database/collections"

// fakeChroma serves the subset of the Chroma v2 REST API used by ChromaIndex.
type fakeChroma struct {
	mu          sync.Mutex
	byName      map[string]string
	vectors     map[string]map[string][]float64
	createCalls []map[string]any
	failUpsert  bool
}

func newFakeChroma() *fakeChroma {
	return &fakeChroma{
		byName:  map[string]string{},
		vectors: map[string]map[string][]float64{},
	}
}

func (f *fakeChroma) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var body map[string]any
	if r.Method == http.MethodPost {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && path == "/api/v2/pre-flight-checks":
		_, _ = w.Write([]byte(`{}`))
	case r.Method == http.MethodPost && path == chromaCollectionsPath:
		f.createCalls = append(f.createCalls, body)
		name := body["name"].(string)
		id, ok := f.byName[name]
		if !ok {
			id = fmt.Sprintf("col-%d", len(f.byName)+1)
			f.byName[name] = id
			f.vectors[id] = map[string][]float64{}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": id, "name": name, "tenant": "default_tenant", "database": "default_database",
		})
	case strings.HasPrefix(path, chromaCollectionsPath+"/"):
		parts := strings.Split(strings.TrimPrefix(path, chromaCollectionsPath+"/"), "/")
		if len(parts) != 2 {
			http.Error(w, "unexpected path "+path, http.StatusBadRequest)
			return
		}
		points, ok := f.vectors[parts[0]]
		if !ok {
			http.Error(w, `{"error":"NotFoundError"}`, http.StatusNotFound)
			return
		}
		f.collectionOp(w, r.Method, parts[1], points, body)
	default:
		http.Error(w, "unexpected "+r.Method+" "+path, http.StatusBadRequest)
	}
}

func (f *fakeChroma) collectionOp(w http.ResponseWriter, method, op string, points map[string][]float64, body map[string]any) {
	switch {
	case method == http.MethodPost && op == "upsert":
		if f.failUpsert {
			http.Error(w, `{"error":"InternalError"}`, http.StatusInternalServerError)
			return
		}
		ids := body["ids"].([]any)
		embs := body["embeddings"].([]any)
		for i, id := range ids {
			points[id.(string)] = floats(embs[i])
		}
		_, _ = w.Write([]byte(`{}`))
	case method == http.MethodPost && op == "query":
		q := floats(body["query_embeddings"].([]any)[0])
		n := int(body["n_results"].(float64))
		type hit struct {
			id   string
			dist float64
		}
		hits := make([]hit, 0, len(points))
		for id, v := range points {
			var d float64
			for i := range v {
				diff := v[i] - q[i]
				d += diff * diff
			}
			hits = append(hits, hit{id, d})
		}
		sort.Slice(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })
		if n < len(hits) {
			hits = hits[:n]
		}
		ids := make([]string, len(hits))
		dists := make([]float64, len(hits))
		for i, h := range hits {
			ids[i] = h.id
			dists[i] = h.dist
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ids": [][]string{ids}, "distances": [][]float64{dists}})
	case method == http.MethodPost && op == "delete":
		for _, id := range body["ids"].([]any) {
			delete(points, id.(string))
		}
		_, _ = w.Write([]byte(`{}`))
	case method == http.MethodGet && op == "count":
		_, _ = fmt.Fprintf(w, "%d", len(points))
	default:
		http.Error(w, "unexpected collection op "+op, http.StatusBadRequest)
	}
}

func (f *fakeChroma) creates() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.createCalls...)
}

func (f *fakeChroma) hasCollection(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.byName[name]
	return ok
}

func floats(v any) []float64 {
	raw := v.([]any)
	out := make([]float64, len(raw))
	for i, x := range raw {
		out[i] = x.(float64)
	}
	return out
}

func newTestChroma(t *testing.T) (*ChromaIndex, *fakeChroma) {
	t.Helper()
	fake := newFakeChroma()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	idx, err := NewChromaIndex(context.Background(), srv.URL, "kioku", "default")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx, fake
}

func TestChromaIndex_OpensDefaultCollection(t *testing.T) {
	_, fake := newTestChroma(t)
	calls := fake.creates()
	if len(calls) != 1 {
		t.Fatalf("create calls = %d, want 1", len(calls))
	}
	call := calls[0]
	if call["name"] != "kioku-default" {
		t.Errorf("collection name = %v", call["name"])
	}
	if call["get_or_create"] != true {
		t.Errorf("collection should be opened with get_or_create, got %v", call["get_or_create"])
	}
}

func TestChromaIndex_RoundTrip(t *testing.T) {
	idx, fake := newTestChroma(t)
	ctx := context.Background()

	err := idx.Upsert(ctx, []models.VectorRecord{
		{ID: "1", Values: []float32{1, 0}, Namespace: "default"},
		{ID: "2", Values: []float32{0.6, 0.8}, Namespace: "default"},
		{ID: "3", Values: []float32{0, 1}, Namespace: "default"},
		{ID: "4", Values: []float32{1, 0}, Namespace: "other"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !fake.hasCollection("kioku-other") {
		t.Error("a collection should be created for the other namespace")
	}

	results, err := idx.Query(ctx, []float32{1, 0}, 2, "default")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].ID != "1" || results[1].ID != "2" {
		t.Fatalf("unexpected results: %+v", results)
	}
	if results[0].Score != 1 || results[1].Score >= results[0].Score {
		t.Errorf("scores should fall with distance: %v, %v", results[0].Score, results[1].Score)
	}

	other, err := idx.Query(ctx, []float32{1, 0}, 5, "other")
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 1 || other[0].ID != "4" {
		t.Errorf("namespace results leaked: %+v", other)
	}

	n, err := idx.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("Count = %d, want 4", n)
	}

	if err := idx.DeleteByIDs(ctx, []string{"1"}, "default"); err != nil {
		t.Fatal(err)
	}
	results, err = idx.Query(ctx, []float32{1, 0}, 5, "default")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].ID != "2" {
		t.Errorf("results after delete: %+v", results)
	}
	if n, _ := idx.Count(ctx); n != 3 {
		t.Errorf("Count after delete = %d, want 3", n)
	}
}

func TestChromaIndex_EmptyInputs(t *testing.T) {
	idx, _ := newTestChroma(t)
	ctx := context.Background()
	results, err := idx.Query(ctx, []float32{1, 0}, 0, "default")
	if err != nil || len(results) != 0 {
		t.Errorf("Query with topK 0 = %v, %v", results, err)
	}
	if err := idx.DeleteByIDs(ctx, nil, "default"); err != nil {
		t.Errorf("DeleteByIDs(nil) = %v", err)
	}
	results, err = idx.Query(ctx, []float32{1, 0}, 5, "default")
	if err != nil || len(results) != 0 {
		t.Errorf("Query on empty collection = %v, %v", results, err)
	}
}

func TestChromaIndex_UpsertError(t *testing.T) {
	idx, fake := newTestChroma(t)
	fake.mu.Lock()
	fake.failUpsert = true
	fake.mu.Unlock()
	err := idx.Upsert(context.Background(), []models.VectorRecord{{ID: "1", Values: []float32{1, 0}, Namespace: "default"}})
	if err == nil || !strings.Contains(err.Error(), "failed to upsert into chroma") {
		t.Errorf("expected upsert error, got %v", err)
	}
}

func TestCallerEmbeddings_RefusesToEmbed(t *testing.T) {
	if _, err := (callerEmbeddings{}).EmbedDocuments(context.Background(), []string{"x"}); err != errCallerEmbeds {
		t.Errorf("EmbedDocuments err = %v", err)
	}
	if _, err := (callerEmbeddings{}).EmbedQuery(context.Background(), "x"); err != errCallerEmbeds {
		t.Errorf("EmbedQuery err = %v", err)
	}
}
