package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
)

func TestQdrantStore_BasicFlow(t *testing.T) {
	t.Parallel()

	var createCollectionCalls atomic.Int64
	var upsertCalls atomic.Int64
	var searchCalls atomic.Int64
	var deleteCalls atomic.Int64
	var countCalls atomic.Int64

	mux := http.NewServeMux()

	mux.HandleFunc("/collections/building_code", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("unexpected method: %s", r.Method)
		}
		createCollectionCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","result":{}}`))
	})

	mux.HandleFunc("/collections/building_code/points", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if !strings.Contains(r.URL.RawQuery, "wait=true") {
			t.Errorf("expected wait=true query, got: %q", r.URL.RawQuery)
		}
		upsertCalls.Add(1)

		var req struct {
			Points []struct {
				ID      string         `json:"id"`
				Vector  []float32      `json:"vector"`
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode upsert: %v", err)
		}
		if len(req.Points) != 2 {
			t.Errorf("expected 2 points, got %d", len(req.Points))
		}
		for _, p := range req.Points {
			if p.ID == "" {
				t.Errorf("expected non-empty point id")
			}
			if len(p.Vector) == 0 {
				t.Errorf("expected vector values")
			}
			if _, ok := p.Payload["doc_id"]; !ok {
				t.Errorf("expected payload doc_id")
			}
			if _, ok := p.Payload["content"]; !ok {
				t.Errorf("expected payload content")
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","result":{"operation_id":1}}`))
	})

	mux.HandleFunc("/collections/building_code/points/search", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		searchCalls.Add(1)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status":"ok",
			"result":[
				{"id":"00000000-0000-0000-0000-000000000001","score":0.9,"payload":{"doc_id":"chunk-0","content":"9.8.2.1 stair width","metadata":{"index":0}}},
				{"id":"00000000-0000-0000-0000-000000000002","score":0.8,"payload":{"doc_id":"chunk-1","content":"9.8.4.1 riser height","metadata":{"index":1}}}
			]
		}`))
	})

	mux.HandleFunc("/collections/building_code/points/delete", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if !strings.Contains(r.URL.RawQuery, "wait=true") {
			t.Errorf("expected wait=true query, got: %q", r.URL.RawQuery)
		}
		deleteCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","result":{"operation_id":2}}`))
	})

	mux.HandleFunc("/collections/building_code/points/count", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		countCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","result":{"count":2}}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store := NewQdrantStore(QdrantConfig{
		BaseURL:              srv.URL,
		Collection:           "building_code",
		AutoCreateCollection: true,
	}, zap.NewNop())

	ctx := context.Background()

	docs := []Document{
		{ID: "chunk-0", Content: "9.8.2.1 stair width", Metadata: map[string]any{"index": 0}, Embedding: []float32{0.1, 0.2}},
		{ID: "chunk-1", Content: "9.8.4.1 riser height", Metadata: map[string]any{"index": 1}, Embedding: []float32{0.2, 0.1}},
	}

	if err := store.AddDocuments(ctx, docs); err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}

	results, err := store.Search(ctx, []float32{0.1, 0.2}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "chunk-0" || results[0].Content != "9.8.2.1 stair width" {
		t.Fatalf("unexpected result[0]: %+v", results[0])
	}
	if results[0].Score != 0.9 {
		t.Fatalf("unexpected score: %v", results[0].Score)
	}

	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected count=2, got %d", n)
	}

	if err := store.DeleteDocuments(ctx, []string{"chunk-0", "chunk-1"}); err != nil {
		t.Fatalf("DeleteDocuments: %v", err)
	}

	// 确保各端点都被击中且只击中一次。
	if createCollectionCalls.Load() != 1 {
		t.Fatalf("expected create collection 1 call, got %d", createCollectionCalls.Load())
	}
	if upsertCalls.Load() != 1 {
		t.Fatalf("expected upsert 1 call, got %d", upsertCalls.Load())
	}
	if searchCalls.Load() != 1 {
		t.Fatalf("expected search 1 call, got %d", searchCalls.Load())
	}
	if deleteCalls.Load() != 1 {
		t.Fatalf("expected delete 1 call, got %d", deleteCalls.Load())
	}
	if countCalls.Load() != 1 {
		t.Fatalf("expected count 1 call, got %d", countCalls.Load())
	}
}

func TestQdrantStore_InfoAndDrop(t *testing.T) {
	t.Parallel()

	var dropped atomic.Bool

	mux := http.NewServeMux()
	mux.HandleFunc("/collections/building_code", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if dropped.Load() {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"status":{"error":"Collection not found"}}`))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"status":"ok",
				"result":{
					"points_count":42,
					"config":{"params":{"vectors":{"size":1536,"distance":"Cosine"}}}
				}
			}`))
		case http.MethodDelete:
			dropped.Store(true)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok","result":true}`))
		default:
			t.Errorf("unexpected method: %s", r.Method)
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store := NewQdrantStore(QdrantConfig{
		BaseURL:    srv.URL,
		Collection: "building_code",
	}, zap.NewNop())

	ctx := context.Background()

	info, err := store.Info(ctx)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if !info.Exists {
		t.Fatalf("expected collection to exist")
	}
	if info.VectorSize != 1536 {
		t.Fatalf("expected vector size 1536, got %d", info.VectorSize)
	}
	if info.Points != 42 {
		t.Fatalf("expected 42 points, got %d", info.Points)
	}

	if err := store.Drop(ctx); err != nil {
		t.Fatalf("Drop: %v", err)
	}

	info, err = store.Info(ctx)
	if err != nil {
		t.Fatalf("Info after drop: %v", err)
	}
	if info.Exists {
		t.Fatalf("expected collection to be gone after drop")
	}
}

func TestQdrantStore_DimensionMismatchRejected(t *testing.T) {
	t.Parallel()

	store := NewQdrantStore(QdrantConfig{
		BaseURL:    "http://localhost:1", // 不应被访问
		Collection: "building_code",
		VectorSize: 3,
	}, zap.NewNop())

	err := store.AddDocuments(context.Background(), []Document{
		{ID: "d1", Content: "x", Embedding: []float32{0.1, 0.2}},
	})
	if err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
	if !strings.Contains(err.Error(), "dimension mismatch") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQdrantPointID_Stable(t *testing.T) {
	t.Parallel()

	a := qdrantPointID("chunk-7")
	b := qdrantPointID("chunk-7")
	c := qdrantPointID("chunk-8")

	if a != b {
		t.Fatalf("point id must be deterministic: %s != %s", a, b)
	}
	if a == c {
		t.Fatalf("different documents must map to different point ids")
	}
}
