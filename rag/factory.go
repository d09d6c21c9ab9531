// Config → RAG 桥接层。
//
// 提供工厂函数，将全局 config.Config 转换为 rag 包的运行时实例，
// 消除 config 包和 rag 包之间的手动配置映射。
package rag

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kmaurinjones/Ontario-Building-Code-Chat/config"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/llm"
)

// VectorStoreType 标识要创建的向量存储后端。
type VectorStoreType string

const (
	VectorStoreMemory VectorStoreType = "memory"
	VectorStoreQdrant VectorStoreType = "qdrant"
)

// NewVectorStoreFromConfig 根据全局配置创建 VectorStore。
// cfg.RAG.Store 为空字符串时默认使用 InMemory 后端。
func NewVectorStoreFromConfig(cfg *config.Config, logger *zap.Logger) (VectorStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	switch VectorStoreType(cfg.RAG.Store) {
	case VectorStoreMemory, "":
		return NewInMemoryVectorStore(logger), nil

	case VectorStoreQdrant:
		return NewQdrantStore(mapQdrantConfig(cfg), logger), nil

	default:
		return nil, fmt.Errorf("unsupported vector store type: %s", cfg.RAG.Store)
	}
}

// NewPipelineFromConfig 一键创建完整的检索管线。
// provider 承担查询扩展调用，embedder 承担查询向量化。
func NewPipelineFromConfig(
	cfg *config.Config,
	provider llm.Provider,
	embedder llm.EmbeddingProvider,
	logger *zap.Logger,
) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := NewVectorStoreFromConfig(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create vector store: %w", err)
	}

	return NewPipelineWithStore(cfg, provider, embedder, store, logger)
}

// NewPipelineWithStore 用外部提供的 VectorStore 创建检索管线。
// 调用方需要同一个 store 实例做健康检查时使用。
func NewPipelineWithStore(
	cfg *config.Config,
	provider llm.Provider,
	embedder llm.EmbeddingProvider,
	store VectorStore,
	logger *zap.Logger,
) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if provider == nil {
		return nil, fmt.Errorf("llm provider is nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedding provider is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tokenizer := TokenizerForModel(cfg.LLM.ChatModel, logger)

	expander := NewQueryExpander(provider, ExpanderConfig{
		Model:         cfg.LLM.ChatModel,
		Count:         cfg.RAG.ExpansionCount,
		Temperature:   cfg.RAG.ExpansionTemperature,
		Timeout:       cfg.RAG.ExpansionTimeout,
		HistoryWindow: cfg.RAG.ExpansionHistoryWindow,
	}, logger)

	retriever := NewRetriever(embedder, store, RetrieverConfig{
		TopK:           cfg.RAG.TopK,
		EmbedTimeout:   cfg.RAG.EmbedTimeout,
		LookupTimeout:  cfg.RAG.LookupTimeout,
		MaxConcurrency: cfg.RAG.MaxConcurrency,
	}, logger)

	assembler := NewContextAssembler(tokenizer, AssemblerConfig{
		MaxTokens: cfg.RAG.MaxContextTokens,
		Policy:    TruncationPolicy(cfg.RAG.TruncationPolicy),
	}, logger)

	return NewPipeline(expander, retriever, assembler, NewPromptBuilder(), logger), nil
}

// NewChunkerFromConfig 创建语料入库用的分块器。
func NewChunkerFromConfig(cfg *config.Config, logger *zap.Logger) *TokenChunker {
	tokenizer := TokenizerForModel(cfg.LLM.ChatModel, logger)
	return NewTokenChunker(tokenizer, ChunkerConfig{
		ChunkSize: cfg.RAG.ChunkSize,
		Overlap:   cfg.RAG.ChunkOverlap,
	}, logger)
}

// --- 内部配置映射函数 ---

func mapQdrantConfig(cfg *config.Config) QdrantConfig {
	return QdrantConfig{
		Host:                 cfg.Qdrant.Host,
		Port:                 cfg.Qdrant.Port,
		BaseURL:              cfg.Qdrant.BaseURL,
		APIKey:               cfg.Qdrant.APIKey,
		Collection:           cfg.Qdrant.Collection,
		Timeout:              cfg.Qdrant.Timeout,
		AutoCreateCollection: true,
		VectorSize:           cfg.Embedding.Dimensions,
	}
}
