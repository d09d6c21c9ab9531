package rag

import (
	"go.uber.org/zap"
)

// ChunkerConfig 配置 token 窗口分块器。
type ChunkerConfig struct {
	// ChunkSize 单块最大 token 数，默认 2000。
	ChunkSize int `json:"chunk_size"`

	// Overlap 相邻块重叠 token 数，默认 200。
	// 大于等于 ChunkSize 时压缩到 ChunkSize 的四分之一。
	Overlap int `json:"overlap"`
}

// DefaultChunkerConfig 返回默认配置。
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		ChunkSize: 2000,
		Overlap:   200,
	}
}

// Chunk 分块结果。
type Chunk struct {
	// Index 块在文档中的序号，从 0 开始。
	Index int `json:"index"`

	// Content 块文本。
	Content string `json:"content"`

	// TokenCount 块的 token 数。
	TokenCount int `json:"token_count"`
}

// TokenChunker 按固定 token 窗口分块，相邻块带重叠。
// 分块边界落在 token 边界上，Encode/Decode 必须来自真实分词器。
type TokenChunker struct {
	tokenizer Tokenizer
	cfg       ChunkerConfig
	logger    *zap.Logger
}

// NewTokenChunker 创建分块器。
func NewTokenChunker(tokenizer Tokenizer, cfg ChunkerConfig, logger *zap.Logger) *TokenChunker {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 2000
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 0
	}
	if cfg.Overlap >= cfg.ChunkSize {
		cfg.Overlap = cfg.ChunkSize / 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenChunker{
		tokenizer: tokenizer,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "token_chunker")),
	}
}

// Split 将文本切为 token 窗口块。空文本返回空切片。
func (c *TokenChunker) Split(text string) []Chunk {
	ids := c.tokenizer.Encode(text)
	if len(ids) == 0 {
		return []Chunk{}
	}

	step := c.cfg.ChunkSize - c.cfg.Overlap
	chunks := make([]Chunk, 0, (len(ids)+step-1)/step)

	for start := 0; start < len(ids); start += step {
		end := start + c.cfg.ChunkSize
		if end > len(ids) {
			end = len(ids)
		}

		window := ids[start:end]
		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			Content:    c.tokenizer.Decode(window),
			TokenCount: len(window),
		})

		if end >= len(ids) {
			break
		}
	}

	c.logger.Debug("text chunked",
		zap.Int("tokens", len(ids)),
		zap.Int("chunks", len(chunks)),
		zap.Int("chunk_size", c.cfg.ChunkSize),
		zap.Int("overlap", c.cfg.Overlap))

	return chunks
}
