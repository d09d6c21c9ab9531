package corpus

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kmaurinjones/Ontario-Building-Code-Chat/llm"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/rag"
)

// dimensionProbe 用于探测嵌入模型实际输出维度的固定文本。
const dimensionProbe = "dimension probe"

// Store 汇总摄取流程需要的向量库能力。
// rag.QdrantStore 完整实现了该接口。
type Store interface {
	rag.VectorStore

	// Info 返回集合的存在性、维度与点数
	Info(ctx context.Context) (rag.CollectionInfo, error)

	// Drop 删除集合
	Drop(ctx context.Context) error
}

// IngestorConfig 配置摄取器。
type IngestorConfig struct {
	BatchSize int  `json:"batch_size"` // 每次嵌入调用的最大分块数
	Force     bool `json:"force"`      // 为 true 时重建集合并强制刷新缓存
}

// DefaultIngestorConfig 返回摄取默认值。
func DefaultIngestorConfig() IngestorConfig {
	return IngestorConfig{BatchSize: 100}
}

// IngestReport 汇总单次摄取的结果。
type IngestReport struct {
	Skipped     bool          `json:"skipped"`      // 集合已有数据且未强制时为 true
	Chunks      int           `json:"chunks"`       // 写入的分块数
	Batches     int           `json:"batches"`      // 嵌入批次数
	TotalTokens int           `json:"total_tokens"` // 写入分块的 token 总量
	Duration    time.Duration `json:"duration"`     // 摄取耗时
}

// Ingestor 将源文档幂等地摄取进向量库：
// 获取 → 分块 → 批量嵌入 → 写入。
// 集合已有数据时跳过；集合维度与嵌入模型不一致时重建集合，
// 保证写入与查询使用同一模型维度。
type Ingestor struct {
	config   IngestorConfig
	source   *Source
	chunker  *rag.TokenChunker
	embedder llm.EmbeddingProvider
	store    Store
	logger   *zap.Logger
}

// NewIngestor 创建摄取器。
func NewIngestor(config IngestorConfig, source *Source, chunker *rag.TokenChunker, embedder llm.EmbeddingProvider, store Store, logger *zap.Logger) *Ingestor {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultIngestorConfig().BatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		config:   config,
		source:   source,
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		logger:   logger,
	}
}

// Run 执行一次摄取并返回统计结果。
func (ing *Ingestor) Run(ctx context.Context) (*IngestReport, error) {
	start := time.Now()

	info, err := ing.store.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspect collection: %w", err)
	}

	dims, err := ing.probeDimensions(ctx)
	if err != nil {
		return nil, err
	}

	// 维度不一致说明集合是别的模型写的，旧向量已不可检索
	if info.Exists && info.VectorSize > 0 && info.VectorSize != dims {
		ing.logger.Warn("collection dimensionality does not match embedding model, recreating",
			zap.Int("collection_size", info.VectorSize),
			zap.Int("model_size", dims),
			zap.String("model", ing.embedder.Model()))
		if err := ing.store.Drop(ctx); err != nil {
			return nil, fmt.Errorf("drop stale collection: %w", err)
		}
		info = rag.CollectionInfo{}
	}

	if info.Exists && info.Points > 0 {
		if !ing.config.Force {
			ing.logger.Info("collection already populated, skipping ingest",
				zap.Int("points", info.Points))
			return &IngestReport{Skipped: true, Duration: time.Since(start)}, nil
		}
		ing.logger.Info("force ingest requested, dropping existing collection",
			zap.Int("points", info.Points))
		if err := ing.store.Drop(ctx); err != nil {
			return nil, fmt.Errorf("drop collection for reingest: %w", err)
		}
	}

	content, err := ing.source.Content(ctx, ing.config.Force)
	if err != nil {
		return nil, err
	}

	chunks := ing.chunker.Split(content)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("source document produced no chunks")
	}

	report := &IngestReport{Chunks: len(chunks)}
	for startIdx := 0; startIdx < len(chunks); startIdx += ing.config.BatchSize {
		end := startIdx + ing.config.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[startIdx:end]

		texts := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Content
		}

		vecs, err := ing.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed batch %d: %w", report.Batches, err)
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("embed batch %d: got %d vectors for %d chunks",
				report.Batches, len(vecs), len(batch))
		}

		docs := make([]rag.Document, len(batch))
		for i, ch := range batch {
			docs[i] = rag.Document{
				ID:        fmt.Sprintf("chunk_%d", ch.Index),
				Content:   ch.Content,
				Metadata:  map[string]any{"tokens": ch.TokenCount},
				Embedding: vecs[i],
			}
			report.TotalTokens += ch.TokenCount
		}

		if err := ing.store.AddDocuments(ctx, docs); err != nil {
			return nil, fmt.Errorf("upsert batch %d: %w", report.Batches, err)
		}
		report.Batches++
		ing.logger.Debug("ingested batch",
			zap.Int("batch", report.Batches),
			zap.Int("chunks", len(batch)))
	}

	report.Duration = time.Since(start)
	ing.logger.Info("ingest complete",
		zap.Int("chunks", report.Chunks),
		zap.Int("batches", report.Batches),
		zap.Int("total_tokens", report.TotalTokens),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// probeDimensions 嵌入一段探测文本，返回模型实际输出的向量维度。
func (ing *Ingestor) probeDimensions(ctx context.Context) (int, error) {
	vecs, err := ing.embedder.Embed(ctx, []string{dimensionProbe})
	if err != nil {
		return 0, fmt.Errorf("probe embedding dimensions: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return 0, fmt.Errorf("probe embedding returned no vector")
	}
	return len(vecs[0]), nil
}
