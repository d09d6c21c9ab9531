// =============================================================================
// OBC Chat 主入口
// =============================================================================
// 安大略省建筑规范问答服务的入口点，包含 HTTP/WebSocket 服务、
// 语料摄取、健康检查、Prometheus 指标
//
// 使用方法:
//
//	obcchat serve                       # 启动服务
//	obcchat serve --config config.yaml  # 指定配置文件
//	obcchat ingest                      # 抓取建筑规范并写入向量库
//	obcchat ingest --force              # 重建集合并强制刷新缓存
//	obcchat version                     # 显示版本信息
//	obcchat health                      # 健康检查
//	obcchat migrate up                  # 运行归档数据库迁移
//	obcchat migrate down                # 回滚最后一次迁移
//	obcchat migrate status              # 查看迁移状态
// =============================================================================

// @title OBC Chat API
// @version 1.0.0
// @description OBC Chat is a retrieval-augmented question answering service for the Ontario Building Code.
// @description
// @description ## Features
// @description - Retrieval-augmented answers grounded in the Building Code text
// @description - Streaming responses via SSE and WebSocket
// @description - Session transcripts with token usage and cost accounting
// @description - Health monitoring and metrics

// @contact.name OBC Chat
// @contact.url https://github.com/kmaurinjones/Ontario-Building-Code-Chat

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Bearer JWT obtained from /v1/auth/login

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/kmaurinjones/Ontario-Building-Code-Chat/config"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/corpus"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/internal/telemetry"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/llm/openai"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/rag"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "ingest":
		runIngest(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	// 解析命令行参数
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)

	// 初始化日志
	logger, logLevel := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting OBC Chat",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	// Initialize OpenTelemetry
	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	// 归档数据库连接，不可用时只降级归档功能
	var db *gorm.DB
	if cfg.Chat.ArchiveEnabled {
		db, err = openDatabase(cfg.Database, logger)
		if err != nil {
			logger.Warn("Database not available, conversation archive disabled", zap.Error(err))
		}
	}

	// 创建服务器（传入配置文件路径以支持热更新）
	server := NewServer(cfg, *configPath, logger, logLevel, otelProviders, db)

	// 启动服务器
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	// 等待关闭信号
	server.WaitForShutdown()

	logger.Info("OBC Chat stopped")
}

// =============================================================================
// 📥 ingest 命令
// =============================================================================

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	force := fs.Bool("force", false, "Rebuild the collection and refresh the content cache")
	fs.Parse(args)

	cfg := loadConfig(*configPath)

	logger, _ := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting corpus ingest",
		zap.String("source_url", cfg.Corpus.SourceURL),
		zap.String("store", cfg.RAG.Store),
		zap.Bool("force", *force),
	)

	client := openai.NewClient(openai.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		ChatModel:      cfg.LLM.ChatModel,
		EmbeddingModel: cfg.Embedding.Model,
		Dimensions:     cfg.Embedding.Dimensions,
		Timeout:        cfg.LLM.Timeout,
	}, logger)

	vectorStore, err := rag.NewVectorStoreFromConfig(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create vector store", zap.Error(err))
	}
	store, ok := vectorStore.(corpus.Store)
	if !ok {
		logger.Fatal("Vector store backend does not support ingest, use qdrant",
			zap.String("store", cfg.RAG.Store))
	}

	source, err := corpus.NewSourceFromConfig(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create corpus source", zap.Error(err))
	}

	ingestor, err := corpus.NewIngestorFromConfig(cfg, source, rag.NewChunkerFromConfig(cfg, logger), client, store, *force, logger)
	if err != nil {
		logger.Fatal("Failed to create ingestor", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := ingestor.Run(ctx)
	if err != nil {
		logger.Fatal("Ingest failed", zap.Error(err))
	}

	if report.Skipped {
		fmt.Println("Collection already populated, nothing to do (use --force to rebuild)")
		return
	}
	fmt.Printf("Ingested %d chunks (%d tokens) in %d batches, took %s\n",
		report.Chunks, report.TotalTokens, report.Batches, report.Duration.Round(time.Millisecond))
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("OBC Chat %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`OBC Chat - Ontario Building Code Assistant

Usage:
  obcchat <command> [options]

Commands:
  serve     Start the OBC Chat server
  ingest    Fetch the Building Code and load it into the vector store
  migrate   Archive database migration commands
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Options for 'ingest':
  --config <path>   Path to configuration file (YAML)
  --force           Rebuild the collection and refresh the content cache

Migration subcommands:
  migrate up        Apply all pending migrations
  migrate down      Rollback the last migration
  migrate status    Show migration status
  migrate version   Show current migration version
  migrate goto <v>  Migrate to a specific version
  migrate force <v> Force set migration version
  migrate reset     Rollback all migrations

Examples:
  obcchat serve
  obcchat serve --config /etc/obcchat/config.yaml
  obcchat ingest --force
  obcchat migrate up
  obcchat migrate status
  obcchat health --addr http://localhost:8080
  obcchat version`)
}

// =============================================================================
// 🔧 配置与日志初始化
// =============================================================================

// loadConfig 加载并验证配置，失败直接退出进程。
func loadConfig(configPath string) *config.Config {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	return cfg
}

// initLogger 构建 zap logger。返回的 AtomicLevel 供配置热重载
// 即时调整日志级别。
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	// 解析日志级别
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}
	atomicLevel := zap.NewAtomicLevelAt(level)

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	// 构建配置
	zapConfig := zap.Config{
		Level:            atomicLevel,
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	var opts []zap.Option
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	// 构建 logger
	logger, err := zapConfig.Build(opts...)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger, atomicLevel
}

// openDatabase 根据配置打开归档数据库连接
func openDatabase(dbCfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	if dbCfg.Driver == "" {
		return nil, fmt.Errorf("database driver not configured")
	}

	var dialector gorm.Dialector
	switch dbCfg.Driver {
	case "postgres":
		dialector = postgres.Open(dbCfg.DSN())
	case "mysql":
		dialector = mysql.Open(dbCfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(dbCfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql, sqlite)", dbCfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// 连接池参数
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	if dbCfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(dbCfg.MaxOpenConns)
	}
	if dbCfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(dbCfg.MaxIdleConns)
	}
	if dbCfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(dbCfg.ConnMaxLifetime)
	}

	logger.Info("Database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}
