// =============================================================================
// 📦 OBC Chat 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"path/filepath"
	"time"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Auth:      DefaultAuthConfig(),
		LLM:       DefaultLLMConfig(),
		Embedding: DefaultEmbeddingConfig(),
		Qdrant:    DefaultQdrantConfig(),
		RAG:       DefaultRAGConfig(),
		Corpus:    DefaultCorpusConfig(),
		Chat:      DefaultChatConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:           8080,
		MetricsPort:        9091,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       0,
		IdleTimeout:        2 * time.Minute,
		ShutdownTimeout:    15 * time.Second,
		RateLimitRPS:       20,
		RateLimitBurst:     40,
		CORSAllowedOrigins: []string{"*"},
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "obcchat",
		SampleRate:   0.1,
	}
}

// DefaultAuthConfig 返回默认认证配置
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		Enabled:      false,
		PasswordHash: "",
		JWTSecret:    "",
		TokenTTL:     7 * 24 * time.Hour,
	}
}

// DefaultLLMConfig 返回默认补全配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		APIKey:    "",
		BaseURL:   "",
		ChatModel: "gpt-4o-mini",
		Timeout:   2 * time.Minute,
	}
}

// DefaultEmbeddingConfig 返回默认嵌入配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
	}
}

// DefaultQdrantConfig 返回默认 Qdrant 配置
func DefaultQdrantConfig() QdrantConfig {
	return QdrantConfig{
		Host:       "localhost",
		Port:       6333,
		BaseURL:    "",
		APIKey:     "",
		Collection: "building_code",
		Timeout:    30 * time.Second,
	}
}

// DefaultRAGConfig 返回默认检索管线配置
func DefaultRAGConfig() RAGConfig {
	return RAGConfig{
		Store:                  "qdrant",
		ExpansionCount:         5,
		ExpansionTemperature:   0.7,
		ExpansionTimeout:       30 * time.Second,
		ExpansionHistoryWindow: 6,
		TopK:                   3,
		EmbedTimeout:           15 * time.Second,
		LookupTimeout:          10 * time.Second,
		MaxConcurrency:         4,
		MaxContextTokens:       8000,
		TruncationPolicy:       "hard_stop",
		ChunkSize:              2000,
		ChunkOverlap:           200,
		EmbedCacheTTL:          0,
	}
}

// DefaultCorpusConfig 返回默认语料配置
func DefaultCorpusConfig() CorpusConfig {
	return CorpusConfig{
		SourceURL:        "https://www.ontario.ca/laws/regulation/120332/v25",
		FirecrawlAPIKey:  "",
		FirecrawlBaseURL: "",
		CacheDir:         filepath.Join("data", "content"),
		CacheMaxAge:      30 * 24 * time.Hour,
		BatchSize:        100,
	}
}

// DefaultChatConfig 返回默认对话配置。
// 费率是 gpt-4o-mini 的公开档位（美元/百万 token）。
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		Temperature:         0,
		MaxTokens:           0,
		PromptCostPer1M:     0.15,
		CompletionCostPer1M: 0.60,
		SessionStore:        "memory",
		SessionTTL:          24 * time.Hour,
		ArchiveEnabled:      true,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "obcchat",
		Password:        "",
		Name:            filepath.Join("data", "obcchat.db"),
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}
