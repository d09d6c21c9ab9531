// Config → 语料桥接层。
//
// 提供工厂函数，将全局 config.Config 转换为 corpus 包的运行时实例，
// 消除 config 包和 corpus 包之间的手动配置映射。
package corpus

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kmaurinjones/Ontario-Building-Code-Chat/config"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/llm"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/rag"
)

// NewSourceFromConfig 根据全局配置创建语料入口。
// 配置了 Firecrawl API Key 时使用 Firecrawl 抓取，否则回退到
// 直接抓取页面并抽取正文。
func NewSourceFromConfig(cfg *config.Config, logger *zap.Logger) (*Source, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cacheCfg := DefaultCacheConfig()
	if cfg.Corpus.CacheDir != "" {
		cacheCfg.Dir = cfg.Corpus.CacheDir
	}
	if cfg.Corpus.CacheMaxAge > 0 {
		cacheCfg.MaxAge = cfg.Corpus.CacheMaxAge
	}
	cache := NewContentCache(cacheCfg, logger)

	var fetcher Fetcher
	if cfg.Corpus.FirecrawlAPIKey != "" {
		fcCfg := DefaultFirecrawlConfig()
		fcCfg.APIKey = cfg.Corpus.FirecrawlAPIKey
		if cfg.Corpus.FirecrawlBaseURL != "" {
			fcCfg.BaseURL = cfg.Corpus.FirecrawlBaseURL
		}
		fetcher = NewFirecrawlClient(fcCfg, logger)
	} else {
		logger.Info("no Firecrawl API key configured, using direct page fetch")
		fetcher = NewHTMLFetcher(DefaultHTMLConfig(), logger)
	}

	return NewSource(cfg.Corpus.SourceURL, fetcher, cache, logger), nil
}

// NewIngestorFromConfig 根据全局配置创建摄取器。
// force 为 true 时重建集合并强制刷新缓存。
func NewIngestorFromConfig(cfg *config.Config, source *Source, chunker *rag.TokenChunker, embedder llm.EmbeddingProvider, store Store, force bool, logger *zap.Logger) (*Ingestor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if source == nil || chunker == nil || embedder == nil || store == nil {
		return nil, fmt.Errorf("source, chunker, embedder and store are required")
	}

	icfg := DefaultIngestorConfig()
	if cfg.Corpus.BatchSize > 0 {
		icfg.BatchSize = cfg.Corpus.BatchSize
	}
	icfg.Force = force

	return NewIngestor(icfg, source, chunker, embedder, store, logger), nil
}
