package rag

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmaurinjones/Ontario-Building-Code-Chat/internal/cache"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/llm"
)

// countingEmbedder 记录每次收到的文本，向量取文本长度便于断言。
type countingEmbedder struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.calls = append(c.calls, append([]string(nil), texts...))
	c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = []float32{float32(len(text))}
	}
	return vectors, nil
}

func (c *countingEmbedder) Dimensions() int { return 1 }
func (c *countingEmbedder) Model() string   { return "counting" }

func setupCachedEmbedder(t *testing.T) (*miniredis.Miniredis, *countingEmbedder, *CachedEmbedder) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inner := &countingEmbedder{}
	embedder := NewCachedEmbedder(inner, cache.NewEmbeddingCache(rdb, cache.Config{TTL: time.Hour}, nil), nil)
	return mr, inner, embedder
}

func TestCachedEmbedder_SecondCallHitsCache(t *testing.T) {
	mr, inner, embedder := setupCachedEmbedder(t)
	defer mr.Close()
	ctx := context.Background()

	texts := []string{"stair width", "guard height"}

	first, err := embedder.Embed(ctx, texts)
	require.NoError(t, err)

	second, err := embedder.Embed(ctx, texts)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	// 第二次完全命中，内层只被调用一次
	assert.Len(t, inner.calls, 1)
}

func TestCachedEmbedder_PartialHitEmbedsOnlyMisses(t *testing.T) {
	mr, inner, embedder := setupCachedEmbedder(t)
	defer mr.Close()
	ctx := context.Background()

	_, err := embedder.Embed(ctx, []string{"ramp slope"})
	require.NoError(t, err)

	vectors, err := embedder.Embed(ctx, []string{"door width", "ramp slope", "ceiling height"})
	require.NoError(t, err)

	require.Len(t, vectors, 3)
	assert.Equal(t, []float32{float32(len("door width"))}, vectors[0])
	assert.Equal(t, []float32{float32(len("ramp slope"))}, vectors[1])
	assert.Equal(t, []float32{float32(len("ceiling height"))}, vectors[2])

	require.Len(t, inner.calls, 2)
	assert.Equal(t, []string{"door width", "ceiling height"}, inner.calls[1])
}

func TestCachedEmbedder_CacheDownFallsBack(t *testing.T) {
	mr, inner, embedder := setupCachedEmbedder(t)
	mr.Close()
	ctx := context.Background()

	vectors, err := embedder.Embed(ctx, []string{"exit sign"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Equal(t, []float32{float32(len("exit sign"))}, vectors[0])
	assert.Len(t, inner.calls, 1)
}

func TestCachedEmbedder_InnerErrorPropagates(t *testing.T) {
	mr, inner, embedder := setupCachedEmbedder(t)
	defer mr.Close()

	inner.err = errors.New("provider down")
	_, err := embedder.Embed(context.Background(), []string{"anything"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider down")
}

func TestCachedEmbedder_Delegates(t *testing.T) {
	mr, _, embedder := setupCachedEmbedder(t)
	defer mr.Close()

	assert.Equal(t, 1, embedder.Dimensions())
	assert.Equal(t, "counting", embedder.Model())
}

func TestCachedEmbedder_ImplementsEmbeddingProvider(t *testing.T) {
	var _ llm.EmbeddingProvider = (*CachedEmbedder)(nil)
}
