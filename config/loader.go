// =============================================================================
// 📦 OBC Chat 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("OBCCHAT").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 OBC Chat 的完整配置结构
type Config struct {
	// Server HTTP 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Auth 访问认证配置
	Auth AuthConfig `yaml:"auth" env:"AUTH"`

	// LLM 补全服务配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Embedding 嵌入服务配置
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// Qdrant 向量存储配置
	Qdrant QdrantConfig `yaml:"qdrant" env:"QDRANT"`

	// RAG 检索管线配置
	RAG RAGConfig `yaml:"rag" env:"RAG"`

	// Corpus 语料获取与摄取配置
	Corpus CorpusConfig `yaml:"corpus" env:"CORPUS"`

	// Chat 对话服务配置
	Chat ChatConfig `yaml:"chat" env:"CHAT"`

	// Redis 会话热存储配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 对话归档数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时。0 表示不限制：SSE/WebSocket 长流不能有全局写超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 空闲连接超时
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每 IP 限流速率（请求/秒）
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发容量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// CORS 允许的来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// AuthConfig 访问认证配置。
// 单口令模式：登录口令的 SHA-256 十六进制摘要写在配置里，
// 校验通过后签发 HS256 JWT。
type AuthConfig struct {
	// 是否启用认证（关闭时 /v1 接口全部开放）
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 登录口令的 SHA-256 摘要（十六进制小写）
	PasswordHash string `yaml:"password_hash" env:"PASSWORD_HASH"`
	// JWT 签名密钥
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	// 签发的令牌有效期
	TokenTTL time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
}

// LLMConfig 补全服务配置
type LLMConfig struct {
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL（OpenAI 兼容端点，空值用官方地址）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 补全模型
	ChatModel string `yaml:"chat_model" env:"CHAT_MODEL"`
	// 非流式请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// EmbeddingConfig 嵌入服务配置。
// 写入与查询必须使用同一模型和维度，换模型要重建集合。
type EmbeddingConfig struct {
	// 嵌入模型
	Model string `yaml:"model" env:"MODEL"`
	// 向量维度
	Dimensions int `yaml:"dimensions" env:"DIMENSIONS"`
}

// QdrantConfig Qdrant 向量存储配置
type QdrantConfig struct {
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// HTTP 端口
	Port int `yaml:"port" env:"PORT"`
	// 完整基础 URL，非空时覆盖 Host/Port
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key（可选）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 集合名
	Collection string `yaml:"collection" env:"COLLECTION"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RAGConfig 检索管线配置
type RAGConfig struct {
	// 向量存储后端: memory, qdrant
	Store string `yaml:"store" env:"STORE"`
	// 每次扩展生成的改写查询数
	ExpansionCount int `yaml:"expansion_count" env:"EXPANSION_COUNT"`
	// 扩展调用温度
	ExpansionTemperature float32 `yaml:"expansion_temperature" env:"EXPANSION_TEMPERATURE"`
	// 扩展调用超时
	ExpansionTimeout time.Duration `yaml:"expansion_timeout" env:"EXPANSION_TIMEOUT"`
	// 扩展请求附带的历史消息条数
	ExpansionHistoryWindow int `yaml:"expansion_history_window" env:"EXPANSION_HISTORY_WINDOW"`
	// 每条查询检索的片段数
	TopK int `yaml:"top_k" env:"TOP_K"`
	// 查询嵌入超时
	EmbedTimeout time.Duration `yaml:"embed_timeout" env:"EMBED_TIMEOUT"`
	// 单条查询向量检索超时
	LookupTimeout time.Duration `yaml:"lookup_timeout" env:"LOOKUP_TIMEOUT"`
	// 并行检索的最大并发
	MaxConcurrency int `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	// 上下文 token 预算
	MaxContextTokens int `yaml:"max_context_tokens" env:"MAX_CONTEXT_TOKENS"`
	// 截断策略: hard_stop, best_fit
	TruncationPolicy string `yaml:"truncation_policy" env:"TRUNCATION_POLICY"`
	// 摄取分块大小（token）
	ChunkSize int `yaml:"chunk_size" env:"CHUNK_SIZE"`
	// 相邻分块重叠（token）
	ChunkOverlap int `yaml:"chunk_overlap" env:"CHUNK_OVERLAP"`
	// 查询嵌入缓存 TTL，0 关闭。开启需要可用的 Redis
	EmbedCacheTTL time.Duration `yaml:"embed_cache_ttl" env:"EMBED_CACHE_TTL"`
}

// CorpusConfig 语料获取与摄取配置
type CorpusConfig struct {
	// 源文档 URL，空值使用安大略省建筑规范官方页面
	SourceURL string `yaml:"source_url" env:"SOURCE_URL"`
	// Firecrawl API Key，空值回退到直接抓取 HTML
	FirecrawlAPIKey string `yaml:"firecrawl_api_key" env:"FIRECRAWL_API_KEY"`
	// Firecrawl 基础 URL（可选，自建实例用）
	FirecrawlBaseURL string `yaml:"firecrawl_base_url" env:"FIRECRAWL_BASE_URL"`
	// 内容缓存目录
	CacheDir string `yaml:"cache_dir" env:"CACHE_DIR"`
	// 缓存过期时间
	CacheMaxAge time.Duration `yaml:"cache_max_age" env:"CACHE_MAX_AGE"`
	// 嵌入批大小（每次嵌入调用的文本数）
	BatchSize int `yaml:"batch_size" env:"BATCH_SIZE"`
}

// ChatConfig 对话服务配置
type ChatConfig struct {
	// 补全温度。答案要贴合规范原文，默认 0
	Temperature float32 `yaml:"temperature" env:"TEMPERATURE"`
	// 单轮补全 token 上限，0 表示不限制
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 每百万输入 token 的美元价格
	PromptCostPer1M float64 `yaml:"prompt_cost_per_1m" env:"PROMPT_COST_PER_1M"`
	// 每百万输出 token 的美元价格
	CompletionCostPer1M float64 `yaml:"completion_cost_per_1m" env:"COMPLETION_COST_PER_1M"`
	// 会话存储后端: memory, redis
	SessionStore string `yaml:"session_store" env:"SESSION_STORE"`
	// Redis 会话过期时间，每次写入续期
	SessionTTL time.Duration `yaml:"session_ttl" env:"SESSION_TTL"`
	// 是否把完成的回合归档到数据库
	ArchiveEnabled bool `yaml:"archive_enabled" env:"ARCHIVE_ENABLED"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "OBCCHAT",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	// 验证服务器配置
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.MetricsPort == c.Server.HTTPPort {
		errs = append(errs, "metrics port must differ from HTTP port")
	}

	// 验证 RAG 配置
	if c.RAG.ExpansionCount < 1 {
		errs = append(errs, "expansion_count must be at least 1")
	}
	if c.RAG.ExpansionTemperature < 0 || c.RAG.ExpansionTemperature > 2 {
		errs = append(errs, "expansion_temperature must be between 0 and 2")
	}
	if c.RAG.TopK < 1 {
		errs = append(errs, "top_k must be at least 1")
	}
	if c.RAG.MaxContextTokens <= 0 {
		errs = append(errs, "max_context_tokens must be positive")
	}
	if c.RAG.ChunkSize <= 0 {
		errs = append(errs, "chunk_size must be positive")
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		errs = append(errs, "chunk_overlap must be non-negative and smaller than chunk_size")
	}
	if c.RAG.EmbedCacheTTL < 0 {
		errs = append(errs, "embed_cache_ttl must be non-negative")
	}
	switch c.RAG.Store {
	case "", "memory", "qdrant":
	default:
		errs = append(errs, fmt.Sprintf("unknown vector store %q", c.RAG.Store))
	}
	switch c.RAG.TruncationPolicy {
	case "", "hard_stop", "best_fit":
	default:
		errs = append(errs, fmt.Sprintf("unknown truncation policy %q", c.RAG.TruncationPolicy))
	}

	// 验证嵌入配置
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, "embedding dimensions must be positive")
	}

	// 验证对话配置
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		errs = append(errs, "chat temperature must be between 0 and 2")
	}
	if c.Chat.PromptCostPer1M < 0 || c.Chat.CompletionCostPer1M < 0 {
		errs = append(errs, "cost rates must be non-negative")
	}
	switch c.Chat.SessionStore {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unknown session store %q", c.Chat.SessionStore))
	}

	// 验证认证配置
	if c.Auth.Enabled {
		if c.Auth.PasswordHash == "" {
			errs = append(errs, "auth enabled but password_hash is empty")
		}
		if c.Auth.JWTSecret == "" {
			errs = append(errs, "auth enabled but jwt_secret is empty")
		}
	}

	// 验证数据库配置
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("unknown database driver %q", c.Database.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
