package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func embeddingOf(dim int, fill float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = fill
	}
	return v
}

func TestClient_Embed_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req wireEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		require.Len(t, req.Input, 2)

		// Return vectors out of order; the client must restore input order.
		json.NewEncoder(w).Encode(wireEmbeddingResponse{
			Data: []wireEmbeddingData{
				{Index: 1, Embedding: embeddingOf(4, 0.2)},
				{Index: 0, Embedding: embeddingOf(4, 0.1)},
			},
			Usage: &wireUsage{PromptTokens: 8, TotalTokens: 8},
		})
	}))
	t.Cleanup(server.Close)

	c := NewClient(Config{APIKey: "k", BaseURL: server.URL, Dimensions: 4}, zap.NewNop())
	vecs, err := c.Embed(context.Background(), []string{"stair width", "guard height"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, float32(0.1), vecs[0][0])
	assert.Equal(t, float32(0.2), vecs[1][0])
}

func TestClient_Embed_EmptyInput(t *testing.T) {
	c := NewClient(Config{APIKey: "k"}, zap.NewNop())
	vecs, err := c.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestClient_Embed_CountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(wireEmbeddingResponse{
			Data: []wireEmbeddingData{{Index: 0, Embedding: embeddingOf(4, 0.5)}},
		})
	}))
	t.Cleanup(server.Close)

	c := NewClient(Config{APIKey: "k", BaseURL: server.URL, Dimensions: 4}, zap.NewNop())
	_, err := c.Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding count mismatch")
}

func TestClient_Embed_DimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(wireEmbeddingResponse{
			Data: []wireEmbeddingData{{Index: 0, Embedding: embeddingOf(8, 0.5)}},
		})
	}))
	t.Cleanup(server.Close)

	c := NewClient(Config{APIKey: "k", BaseURL: server.URL, Dimensions: 4}, zap.NewNop())
	_, err := c.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension mismatch")
}

func TestClient_Embed_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key"}}`)
	}))
	t.Cleanup(server.Close)

	c := NewClient(Config{APIKey: "k", BaseURL: server.URL}, zap.NewNop())
	_, err := c.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
}
