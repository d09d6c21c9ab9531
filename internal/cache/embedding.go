// =============================================================================
// 💾 嵌入向量缓存
// =============================================================================
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config 缓存配置。
type Config struct {
	// 键前缀
	KeyPrefix string `json:"key_prefix"`
	// 过期时间
	TTL time.Duration `json:"ttl"`
}

// DefaultConfig 返回默认键前缀与 TTL。
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "obcchat:embed:",
		TTL:       24 * time.Hour,
	}
}

// EmbeddingCache 按 模型+文本 缓存嵌入向量。
// 同一文本换模型后键不同，切换嵌入模型不会读到旧向量。
type EmbeddingCache struct {
	rdb    *redis.Client
	config Config
	logger *zap.Logger
}

// NewEmbeddingCache 创建嵌入缓存。rdb 由调用方管理生命周期。
func NewEmbeddingCache(rdb *redis.Client, config Config, logger *zap.Logger) *EmbeddingCache {
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultConfig().KeyPrefix
	}
	if config.TTL <= 0 {
		config.TTL = DefaultConfig().TTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmbeddingCache{
		rdb:    rdb,
		config: config,
		logger: logger.With(zap.String("component", "embedding_cache")),
	}
}

// key 生成缓存键。文本取 SHA-256，避免把规范原文塞进键名。
func (c *EmbeddingCache) key(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.config.KeyPrefix + model + ":" + hex.EncodeToString(sum[:])
}

// GetBatch 批量查询。返回与 texts 等长的向量列表，未命中位置为 nil，
// 第二个返回值是命中数。
func (c *EmbeddingCache) GetBatch(ctx context.Context, model string, texts []string) ([][]float32, int, error) {
	vectors := make([][]float32, len(texts))
	if len(texts) == 0 {
		return vectors, 0, nil
	}

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = c.key(model, text)
	}

	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return vectors, 0, fmt.Errorf("mget embeddings: %w", err)
	}

	hits := 0
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var vector []float32
		if err := json.Unmarshal([]byte(raw), &vector); err != nil {
			// 坏条目当未命中处理，等待覆盖
			c.logger.Warn("dropping undecodable cache entry", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		vectors[i] = vector
		hits++
	}
	return vectors, hits, nil
}

// PutBatch 批量写入，带 TTL。texts 与 vectors 必须等长。
func (c *EmbeddingCache) PutBatch(ctx context.Context, model string, texts []string, vectors [][]float32) error {
	if len(texts) != len(vectors) {
		return fmt.Errorf("texts and vectors length mismatch: %d vs %d", len(texts), len(vectors))
	}
	if len(texts) == 0 {
		return nil
	}

	pipe := c.rdb.Pipeline()
	for i, text := range texts {
		data, err := json.Marshal(vectors[i])
		if err != nil {
			return fmt.Errorf("marshal embedding: %w", err)
		}
		pipe.Set(ctx, c.key(model, text), data, c.config.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write embeddings: %w", err)
	}
	return nil
}

// Ping 检查 Redis 可用性。
func (c *EmbeddingCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
