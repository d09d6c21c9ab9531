package rag

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kmaurinjones/Ontario-Building-Code-Chat/llm"
)

// RetrieverConfig 配置多查询检索器。
type RetrieverConfig struct {
	// TopK 每条查询返回的片段数，默认 3。
	TopK int `json:"top_k"`

	// EmbedTimeout 批量嵌入调用超时，默认 15s。
	EmbedTimeout time.Duration `json:"embed_timeout"`

	// LookupTimeout 单次向量检索超时，默认 10s。
	LookupTimeout time.Duration `json:"lookup_timeout"`

	// MaxConcurrency 并行检索上限，默认 4。
	MaxConcurrency int `json:"max_concurrency"`
}

// DefaultRetrieverConfig 返回默认配置。
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		TopK:           3,
		EmbedTimeout:   15 * time.Second,
		LookupTimeout:  10 * time.Second,
		MaxConcurrency: 4,
	}
}

// Retriever 对一组查询逐条执行向量检索。
// 全部查询先在一次调用里批量嵌入，再并行检索；结果与输入查询同序。
// 任何一步失败都让整体失败，不返回部分结果。
type Retriever struct {
	embedder llm.EmbeddingProvider
	store    VectorStore
	cfg      RetrieverConfig
	logger   *zap.Logger
}

// NewRetriever 创建检索器。
func NewRetriever(embedder llm.EmbeddingProvider, store VectorStore, cfg RetrieverConfig, logger *zap.Logger) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 15 * time.Second
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 10 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		embedder: embedder,
		store:    store,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "retriever")),
	}
}

// Retrieve 为每条查询执行一次 top-k 检索。
// 返回的候选集与 queries 同序，results[i] 对应 queries[i]。
func (r *Retriever) Retrieve(ctx context.Context, queries []string) ([]CandidateSet, error) {
	if len(queries) == 0 {
		return []CandidateSet{}, nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, r.cfg.EmbedTimeout)
	vectors, err := r.embedder.Embed(embedCtx, queries)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("embed queries: %w", err)
	}
	if len(vectors) != len(queries) {
		return nil, fmt.Errorf("embed queries: got %d vectors for %d queries", len(vectors), len(queries))
	}

	results := make([]CandidateSet, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxConcurrency)

	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			lookupCtx, cancel := context.WithTimeout(gctx, r.cfg.LookupTimeout)
			defer cancel()

			passages, err := r.store.Search(lookupCtx, vectors[i], r.cfg.TopK)
			if err != nil {
				return fmt.Errorf("search %q: %w", q, err)
			}
			results[i] = CandidateSet{Query: q, Passages: passages}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, set := range results {
		total += len(set.Passages)
	}
	r.logger.Debug("retrieval completed",
		zap.Int("queries", len(queries)),
		zap.Int("passages", total))

	return results, nil
}
