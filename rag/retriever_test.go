package rag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubEmbedder 把每条文本映射为单元素向量 [index]。
type stubEmbedder struct {
	err   error
	calls int
}

func (e *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{float32(i)}
	}
	return vectors, nil
}

func (e *stubEmbedder) Dimensions() int { return 1 }
func (e *stubEmbedder) Model() string   { return "stub-embedding" }

// stubSearchStore 按向量首元素返回可识别的片段，便于断言顺序。
type stubSearchStore struct {
	mu       sync.Mutex
	searches [][]float32
	failOn   float32
	err      error
}

func (s *stubSearchStore) AddDocuments(ctx context.Context, docs []Document) error { return nil }

func (s *stubSearchStore) Search(ctx context.Context, vector []float32, topK int) ([]Passage, error) {
	s.mu.Lock()
	s.searches = append(s.searches, vector)
	s.mu.Unlock()

	if s.err != nil && vector[0] == s.failOn {
		return nil, s.err
	}

	passages := make([]Passage, topK)
	for i := range passages {
		passages[i] = Passage{
			ID:      fmt.Sprintf("v%.0f-%d", vector[0], i),
			Content: fmt.Sprintf("passage %v rank %d", vector[0], i),
			Score:   1.0 - float32(i)*0.1,
		}
	}
	return passages, nil
}

func (s *stubSearchStore) DeleteDocuments(ctx context.Context, ids []string) error { return nil }
func (s *stubSearchStore) Count(ctx context.Context) (int, error)                  { return 0, nil }

func TestRetriever_Retrieve_OrderAndTopK(t *testing.T) {
	embedder := &stubEmbedder{}
	store := &stubSearchStore{}
	r := NewRetriever(embedder, store, RetrieverConfig{TopK: 3}, zap.NewNop())

	queries := []string{"stair width", "riser height", "guard spacing"}
	sets, err := r.Retrieve(context.Background(), queries)
	require.NoError(t, err)
	require.Len(t, sets, 3)

	// 批量嵌入只调用一次。
	assert.Equal(t, 1, embedder.calls)

	// results[i] 对应 queries[i]，每组恰好 top-k 条。
	for i, set := range sets {
		assert.Equal(t, queries[i], set.Query)
		require.Len(t, set.Passages, 3)
		assert.Equal(t, fmt.Sprintf("v%d-0", i), set.Passages[0].ID)
	}
}

func TestRetriever_Retrieve_Empty(t *testing.T) {
	r := NewRetriever(&stubEmbedder{}, &stubSearchStore{}, DefaultRetrieverConfig(), zap.NewNop())

	sets, err := r.Retrieve(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, sets)
}

func TestRetriever_Retrieve_EmbedFailureFailsAll(t *testing.T) {
	embedder := &stubEmbedder{err: errors.New("embedding quota exhausted")}
	store := &stubSearchStore{}
	r := NewRetriever(embedder, store, DefaultRetrieverConfig(), zap.NewNop())

	sets, err := r.Retrieve(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Nil(t, sets)
	assert.Empty(t, store.searches, "no lookup should run when embedding fails")
}

func TestRetriever_Retrieve_LookupFailureFailsAll(t *testing.T) {
	// 第二条查询的检索失败，整体必须失败，不返回部分结果。
	embedder := &stubEmbedder{}
	store := &stubSearchStore{failOn: 1, err: errors.New("qdrant unavailable")}
	r := NewRetriever(embedder, store, RetrieverConfig{TopK: 2, MaxConcurrency: 1}, zap.NewNop())

	sets, err := r.Retrieve(context.Background(), []string{"a", "b", "c"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "qdrant unavailable")
	assert.Nil(t, sets)
}
