package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kmaurinjones/Ontario-Building-Code-Chat/api/handlers"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/chat"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/config"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/internal/cache"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/internal/metrics"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/internal/server"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/internal/telemetry"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/llm"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/llm/openai"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/rag"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 OBC Chat 的主服务器
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	logLevel   zap.AtomicLevel

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// Handlers
	healthHandler  *handlers.HealthHandler
	authHandler    *handlers.AuthHandler
	chatHandler    *handlers.ChatHandler
	sessionHandler *handlers.SessionHandler

	// 对话服务与其依赖
	chatService  *chat.Service
	sessionStore chat.SessionStore
	redisClient  *redis.Client
	db           *gorm.DB
	sqlDB        *sql.DB

	// 指标收集器
	metricsCollector *metrics.Collector

	// 遥测
	otelProviders *telemetry.Providers

	// 热更新管理器
	reloadManager *config.ReloadManager

	// 后台 goroutine 生命周期管理
	rateLimiterCancel context.CancelFunc
	samplerCancel     context.CancelFunc

	wg sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, logLevel zap.AtomicLevel, otelProviders *telemetry.Providers, db *gorm.DB) *Server {
	return &Server{
		cfg:           cfg,
		configPath:    configPath,
		logger:        logger,
		logLevel:      logLevel,
		otelProviders: otelProviders,
		db:            db,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("obcchat", s.logger)

	// 2. 初始化 Handlers
	if err := s.initHandlers(); err != nil {
		return fmt.Errorf("failed to init handlers: %w", err)
	}

	// 3. 初始化热更新管理器
	if err := s.initReloadManager(); err != nil {
		return fmt.Errorf("failed to init reload manager: %w", err)
	}

	// 4. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 5. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 6. 启动后台指标采样
	s.startSampler()

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() error {
	// 健康检查 handler
	s.healthHandler = handlers.NewHealthHandler(s.logger)

	// 登录 handler。未配置口令时登录接口返回 503
	s.authHandler = handlers.NewAuthHandler(
		s.cfg.Auth.PasswordHash,
		s.cfg.Auth.JWTSecret,
		s.cfg.Auth.TokenTTL,
		s.logger,
	)

	// 初始化 LLM 客户端与检索管线
	if s.cfg.LLM.APIKey == "" {
		s.logger.Info("LLM API key not configured, chat endpoints disabled")
		return nil
	}

	client := openai.NewClient(openai.Config{
		APIKey:         s.cfg.LLM.APIKey,
		BaseURL:        s.cfg.LLM.BaseURL,
		ChatModel:      s.cfg.LLM.ChatModel,
		EmbeddingModel: s.cfg.Embedding.Model,
		Dimensions:     s.cfg.Embedding.Dimensions,
		Timeout:        s.cfg.LLM.Timeout,
	}, s.logger)

	store, err := rag.NewVectorStoreFromConfig(s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("create vector store: %w", err)
	}

	// 查询嵌入缓存：开启后相同文本在 TTL 内只嵌入一次
	var embedder llm.EmbeddingProvider = client
	if s.cfg.RAG.EmbedCacheTTL > 0 {
		embedCache := cache.NewEmbeddingCache(s.ensureRedisClient(), cache.Config{
			TTL: s.cfg.RAG.EmbedCacheTTL,
		}, s.logger)
		embedder = rag.NewCachedEmbedder(client, embedCache, s.logger)
		s.logger.Info("Embedding cache enabled", zap.Duration("ttl", s.cfg.RAG.EmbedCacheTTL))
	}

	pipeline, err := rag.NewPipelineWithStore(s.cfg, client, embedder, store, s.logger)
	if err != nil {
		return fmt.Errorf("create rag pipeline: %w", err)
	}

	// 会话存储：memory 或 redis
	switch s.cfg.Chat.SessionStore {
	case "redis":
		storeCfg := chat.DefaultRedisStoreConfig()
		if s.cfg.Chat.SessionTTL > 0 {
			storeCfg.TTL = s.cfg.Chat.SessionTTL
		}
		redisStore := chat.NewRedisSessionStore(s.ensureRedisClient(), storeCfg, s.logger)
		s.sessionStore = redisStore
		s.healthHandler.RegisterCheck(handlers.NewPingHealthCheck("redis", redisStore.Ping))
		s.logger.Info("Session store initialized", zap.String("backend", "redis"))
	default:
		s.sessionStore = chat.NewInMemorySessionStore(s.logger)
		s.logger.Info("Session store initialized", zap.String("backend", "memory"))
	}

	// 对话归档。数据库不可用只降级归档，不影响问答
	var archive *chat.Archive
	if s.db != nil {
		archive = chat.NewArchive(s.db, s.logger)
		if err := archive.AutoMigrate(); err != nil {
			s.logger.Error("Archive auto-migrate failed, archive disabled", zap.Error(err))
			archive = nil
		} else if sqlDB, dbErr := s.db.DB(); dbErr == nil {
			s.sqlDB = sqlDB
			s.healthHandler.RegisterCheck(handlers.NewPingHealthCheck("archive_db", sqlDB.PingContext))
		}
	}

	// 对话服务
	s.chatService = chat.NewService(chat.ServiceConfig{
		Model:               s.cfg.LLM.ChatModel,
		Temperature:         s.cfg.Chat.Temperature,
		MaxTokens:           s.cfg.Chat.MaxTokens,
		PromptCostPer1M:     s.cfg.Chat.PromptCostPer1M,
		CompletionCostPer1M: s.cfg.Chat.CompletionCostPer1M,
	}, client, pipeline, s.sessionStore, archive, s.logger)

	s.chatHandler = handlers.NewChatHandler(s.chatService, s.metricsCollector, s.cfg.LLM.ChatModel, s.logger)
	s.sessionHandler = handlers.NewSessionHandler(s.chatService, s.metricsCollector, s.logger)

	// 就绪检查：Provider 可达 + 向量库有数据
	s.healthHandler.RegisterCheck(handlers.NewProviderHealthCheck(client))
	s.healthHandler.RegisterCheck(handlers.NewVectorStoreHealthCheck(store))

	s.logger.Info("Handlers initialized",
		zap.String("chat_model", s.cfg.LLM.ChatModel),
		zap.String("vector_store", s.cfg.RAG.Store),
		zap.Bool("archive_enabled", archive != nil),
	)
	return nil
}

// ensureRedisClient 按需创建共享的 Redis 客户端。
// 嵌入缓存和 Redis 会话存储复用同一个连接池。
func (s *Server) ensureRedisClient() *redis.Client {
	if s.redisClient == nil {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:         s.cfg.Redis.Addr,
			Password:     s.cfg.Redis.Password,
			DB:           s.cfg.Redis.DB,
			PoolSize:     s.cfg.Redis.PoolSize,
			MinIdleConns: s.cfg.Redis.MinIdleConns,
		})
	}
	return s.redisClient
}

// initReloadManager 初始化配置热更新管理器
func (s *Server) initReloadManager() error {
	opts := []config.ReloadOption{
		config.WithReloadLogger(s.logger),
	}

	if s.configPath != "" {
		opts = append(opts, config.WithConfigPath(s.configPath))
	}

	s.reloadManager = config.NewReloadManager(s.cfg, opts...)

	// 注册配置变更回调
	s.reloadManager.OnChange(func(change config.ConfigChange) {
		s.logger.Info("Configuration changed",
			zap.String("path", change.Path),
			zap.String("source", change.Source),
			zap.Bool("requires_restart", change.RequiresRestart),
		)
	})

	// 注册配置重载回调。日志级别即时生效，其余字段等待重启
	s.reloadManager.OnReload(func(oldConfig, newConfig *config.Config) {
		s.logger.Info("Configuration reloaded")
		s.cfg = newConfig

		if oldConfig.Log.Level != newConfig.Log.Level {
			if err := s.logLevel.UnmarshalText([]byte(newConfig.Log.Level)); err != nil {
				s.logger.Warn("invalid log level in reloaded config",
					zap.String("level", newConfig.Log.Level), zap.Error(err))
			} else {
				s.logger.Info("log level updated", zap.String("level", newConfig.Log.Level))
			}
		}
	})

	// 启动热更新管理器
	ctx := context.Background()
	if err := s.reloadManager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reload manager: %w", err)
	}

	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查与版本端点
	// ========================================
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// 认证端点
	// ========================================
	mux.HandleFunc("POST /v1/auth/login", s.authHandler.HandleLogin)

	// ========================================
	// 问答与会话端点
	// ========================================
	if s.chatHandler != nil {
		mux.HandleFunc("POST /v1/chat", s.chatHandler.HandleTurn)
		mux.HandleFunc("GET /v1/chat/ws", s.chatHandler.HandleWS)
		mux.HandleFunc("POST /v1/sessions", s.sessionHandler.HandleCreate)
		mux.HandleFunc("GET /v1/sessions/{id}", s.sessionHandler.HandleGet)
		mux.HandleFunc("DELETE /v1/sessions/{id}", s.sessionHandler.HandleDelete)
		s.logger.Info("Chat API routes registered")
	}

	// ========================================
	// 构建中间件链
	// ========================================
	skipAuthPaths := []string{"/healthz", "/readyz", "/version", "/v1/auth/login"}
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.metricsCollector, s.logger),
	}
	if s.cfg.Auth.Enabled {
		// WebSocket 客户端无法设置请求头，允许 token 走查询参数
		middlewares = append(middlewares, JWTAuth(s.cfg.Auth, skipAuthPaths, true, s.logger))
	}
	handler := Chain(mux, middlewares...)

	// ========================================
	// 使用 internal/server.Manager
	// ========================================
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     s.cfg.Server.IdleTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 📈 后台指标采样
// =============================================================================

// startSampler 周期性采样活跃会话数与归档库连接池状态
func (s *Server) startSampler() {
	if s.sessionStore == nil && s.sqlDB == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.samplerCancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sampleOnce(ctx)
			}
		}
	}()
}

// sampleOnce 执行一轮采样
func (s *Server) sampleOnce(ctx context.Context) {
	sampleCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if s.sessionStore != nil {
		if n, err := s.sessionStore.Count(sampleCtx); err == nil {
			s.metricsCollector.SetActiveSessions(n)
		} else {
			s.logger.Debug("session count sampling failed", zap.Error(err))
		}
	}

	if s.sqlDB != nil {
		stats := s.sqlDB.Stats()
		s.metricsCollector.RecordDBConnections("archive", stats.OpenConnections, stats.Idle)
	}
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	// 使用 httpManager 的 WaitForShutdown（它会监听信号）
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}

	// 执行清理
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 0. 停止后台采样与 rate limiter 清理 goroutine
	if s.samplerCancel != nil {
		s.samplerCancel()
	}
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 1. 停止热更新管理器
	if s.reloadManager != nil {
		if err := s.reloadManager.Stop(); err != nil {
			s.logger.Error("Reload manager shutdown error", zap.Error(err))
		}
	}

	// 2. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 4. 关闭 Redis 连接
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Redis close error", zap.Error(err))
		}
	}

	// 5. 关闭遥测导出器
	if s.otelProviders != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
		if err := s.otelProviders.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
		cancel()
	}

	// 6. 等待所有 goroutine 完成
	s.wg.Wait()

	s.logger.Info("Graceful shutdown completed")
}
