package rag

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kmaurinjones/Ontario-Building-Code-Chat/internal/cache"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/llm"
)

// CachedEmbedder 在嵌入提供方前面加一层 Redis 向量缓存。
// 查询扩展每轮重复嵌入原始问题，常见问题跨会话反复出现，命中即省一次
// 计费调用。缓存读写失败都只降级为直接嵌入，不影响检索结果。
type CachedEmbedder struct {
	inner  llm.EmbeddingProvider
	cache  *cache.EmbeddingCache
	logger *zap.Logger
}

// NewCachedEmbedder 包装一个嵌入提供方。
func NewCachedEmbedder(inner llm.EmbeddingProvider, c *cache.EmbeddingCache, logger *zap.Logger) *CachedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{
		inner:  inner,
		cache:  c,
		logger: logger.With(zap.String("component", "cached_embedder")),
	}
}

// Embed 先查缓存，只嵌入未命中的文本，再把新向量回填缓存。
// 返回向量与输入顺序一致。
func (e *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	model := e.inner.Model()

	vectors, hits, err := e.cache.GetBatch(ctx, model, texts)
	if err != nil {
		e.logger.Warn("embedding cache read failed, embedding directly", zap.Error(err))
		return e.inner.Embed(ctx, texts)
	}
	if hits == len(texts) {
		return vectors, nil
	}

	missIndexes := make([]int, 0, len(texts)-hits)
	missTexts := make([]string, 0, len(texts)-hits)
	for i := range texts {
		if vectors[i] == nil {
			missIndexes = append(missIndexes, i)
			missTexts = append(missTexts, texts[i])
		}
	}

	fresh, err := e.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d vectors for %d texts", len(fresh), len(missTexts))
	}
	for j, idx := range missIndexes {
		vectors[idx] = fresh[j]
	}

	if err := e.cache.PutBatch(ctx, model, missTexts, fresh); err != nil {
		e.logger.Warn("embedding cache write failed", zap.Error(err))
	}

	e.logger.Debug("embedding cache lookup",
		zap.Int("texts", len(texts)),
		zap.Int("hits", hits),
		zap.Int("misses", len(missTexts)))
	return vectors, nil
}

// Dimensions 透传内层维度。
func (e *CachedEmbedder) Dimensions() int { return e.inner.Dimensions() }

// Model 透传内层模型标识。
func (e *CachedEmbedder) Model() string { return e.inner.Model() }
