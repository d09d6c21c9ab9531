package corpus

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// DefaultSourceURL 指向安大略省建筑规范条例全文（O. Reg. 332/12）。
const DefaultSourceURL = "https://www.ontario.ca/laws/regulation/120332/v25"

// Fetcher 抓取单个页面并返回其文本内容。
type Fetcher interface {
	// Fetch 抓取 pageURL 并返回文本（Markdown 或纯文本）
	Fetch(ctx context.Context, pageURL string) (string, error)

	// Name 返回获取器的唯一标识
	Name() string
}

// Source 是缓存感知的语料入口：缓存新鲜时直接读盘，
// 过期或强制刷新时经 Fetcher 拉取并回写缓存。
type Source struct {
	url     string
	fetcher Fetcher
	cache   *ContentCache
	logger  *zap.Logger
}

// NewSource 创建语料入口。url 为空时使用 DefaultSourceURL，
// cache 为 nil 时每次都直接抓取。
func NewSource(url string, fetcher Fetcher, cache *ContentCache, logger *zap.Logger) *Source {
	if url == "" {
		url = DefaultSourceURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		url:     url,
		fetcher: fetcher,
		cache:   cache,
		logger:  logger,
	}
}

// URL 返回源文档地址。
func (s *Source) URL() string { return s.url }

// Content 返回源文档内容。force 为 true 时绕过缓存强制抓取。
// 缓存读取失败只降级为重新抓取，缓存写入失败只记录告警。
func (s *Source) Content(ctx context.Context, force bool) (string, error) {
	if !force && s.cache != nil && s.cache.Fresh() {
		content, err := s.cache.Load()
		if err == nil {
			s.logger.Info("using cached source document",
				zap.String("url", s.url),
				zap.Int("bytes", len(content)))
			return content, nil
		}
		s.logger.Warn("cache load failed, refetching", zap.Error(err))
	}

	content, err := s.fetcher.Fetch(ctx, s.url)
	if err != nil {
		return "", fmt.Errorf("fetch source document: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Store(s.url, content); err != nil {
			s.logger.Warn("cache store failed", zap.Error(err))
		}
	}

	s.logger.Info("fetched source document",
		zap.String("url", s.url),
		zap.String("fetcher", s.fetcher.Name()),
		zap.Int("bytes", len(content)))
	return content, nil
}
