package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	// Each sub-config should be non-zero
	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	assert.NotEqual(t, AuthConfig{}, cfg.Auth)
	assert.NotEqual(t, LLMConfig{}, cfg.LLM)
	assert.NotEqual(t, EmbeddingConfig{}, cfg.Embedding)
	assert.NotEqual(t, QdrantConfig{}, cfg.Qdrant)
	assert.NotEqual(t, RAGConfig{}, cfg.RAG)
	assert.NotEqual(t, CorpusConfig{}, cfg.Corpus)
	assert.NotEqual(t, ChatConfig{}, cfg.Chat)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
}

func TestDefaultConfig_PassesValidation(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

// --- Individual Default*Config functions ---

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, time.Duration(0), cfg.WriteTimeout)
	assert.Equal(t, 2*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 20, cfg.RateLimitRPS)
	assert.Equal(t, 40, cfg.RateLimitBurst)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.True(t, cfg.EnableCaller)
	assert.False(t, cfg.EnableStacktrace)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "obcchat", cfg.ServiceName)
	assert.InDelta(t, 0.1, cfg.SampleRate, 0.001)
}

func TestDefaultAuthConfig(t *testing.T) {
	cfg := DefaultAuthConfig()
	assert.False(t, cfg.Enabled)
	assert.Empty(t, cfg.PasswordHash)
	assert.Empty(t, cfg.JWTSecret)
	assert.Equal(t, 7*24*time.Hour, cfg.TokenTTL)
}

func TestDefaultLLMConfig(t *testing.T) {
	cfg := DefaultLLMConfig()
	assert.Empty(t, cfg.APIKey)
	assert.Empty(t, cfg.BaseURL)
	assert.Equal(t, "gpt-4o-mini", cfg.ChatModel)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
}

func TestDefaultEmbeddingConfig(t *testing.T) {
	cfg := DefaultEmbeddingConfig()
	assert.Equal(t, "text-embedding-3-small", cfg.Model)
	assert.Equal(t, 1536, cfg.Dimensions)
}

func TestDefaultQdrantConfig(t *testing.T) {
	cfg := DefaultQdrantConfig()
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6333, cfg.Port)
	assert.Empty(t, cfg.BaseURL)
	assert.Empty(t, cfg.APIKey)
	assert.Equal(t, "building_code", cfg.Collection)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
}

func TestDefaultRAGConfig(t *testing.T) {
	cfg := DefaultRAGConfig()
	assert.Equal(t, "qdrant", cfg.Store)
	assert.Equal(t, 5, cfg.ExpansionCount)
	assert.InDelta(t, 0.7, cfg.ExpansionTemperature, 0.001)
	assert.Equal(t, 30*time.Second, cfg.ExpansionTimeout)
	assert.Equal(t, 6, cfg.ExpansionHistoryWindow)
	assert.Equal(t, 3, cfg.TopK)
	assert.Equal(t, 15*time.Second, cfg.EmbedTimeout)
	assert.Equal(t, 10*time.Second, cfg.LookupTimeout)
	assert.Equal(t, 4, cfg.MaxConcurrency)
	assert.Equal(t, 8000, cfg.MaxContextTokens)
	assert.Equal(t, "hard_stop", cfg.TruncationPolicy)
	assert.Equal(t, 2000, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Zero(t, cfg.EmbedCacheTTL)
}

func TestDefaultCorpusConfig(t *testing.T) {
	cfg := DefaultCorpusConfig()
	assert.Contains(t, cfg.SourceURL, "ontario.ca")
	assert.Empty(t, cfg.FirecrawlAPIKey)
	assert.Empty(t, cfg.FirecrawlBaseURL)
	assert.Equal(t, filepath.Join("data", "content"), cfg.CacheDir)
	assert.Equal(t, 30*24*time.Hour, cfg.CacheMaxAge)
	assert.Equal(t, 100, cfg.BatchSize)
}

func TestDefaultChatConfig(t *testing.T) {
	cfg := DefaultChatConfig()
	assert.Equal(t, float32(0), cfg.Temperature)
	assert.Equal(t, 0, cfg.MaxTokens)
	assert.InDelta(t, 0.15, cfg.PromptCostPer1M, 0.0001)
	assert.InDelta(t, 0.60, cfg.CompletionCostPer1M, 0.0001)
	assert.Equal(t, "memory", cfg.SessionStore)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.True(t, cfg.ArchiveEnabled)
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Empty(t, cfg.Password)
	assert.Equal(t, 0, cfg.DB)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, 2, cfg.MinIdleConns)
}

func TestDefaultDatabaseConfig(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.Equal(t, "sqlite", cfg.Driver)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "obcchat", cfg.User)
	assert.Empty(t, cfg.Password)
	assert.Equal(t, filepath.Join("data", "obcchat.db"), cfg.Name)
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
}
