package corpus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Cache file names under CacheConfig.Dir.
const (
	cacheContentFile  = "building_code.md"
	cacheMetadataFile = "scrape_info.json"
)

// CacheConfig configures the on-disk content cache.
type CacheConfig struct {
	Dir    string        `json:"dir"`     // Cache directory
	MaxAge time.Duration `json:"max_age"` // Age after which content is refetched
}

// DefaultCacheConfig returns the default cache location and staleness window.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Dir:    filepath.Join("data", "content"),
		MaxAge: 30 * 24 * time.Hour,
	}
}

// CacheMetadata records when and from where the cached content was fetched.
type CacheMetadata struct {
	URL          string    `json:"url"`
	FetchedAt    time.Time `json:"fetched_at"`
	ContentBytes int       `json:"content_bytes"`
}

// ContentCache persists fetched source content on disk so restarts and
// repeated ingests do not hit the upstream site.
type ContentCache struct {
	config CacheConfig
	logger *zap.Logger
}

// NewContentCache creates a disk cache rooted at config.Dir.
func NewContentCache(config CacheConfig, logger *zap.Logger) *ContentCache {
	if config.Dir == "" {
		config.Dir = DefaultCacheConfig().Dir
	}
	if config.MaxAge <= 0 {
		config.MaxAge = DefaultCacheConfig().MaxAge
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentCache{config: config, logger: logger}
}

func (c *ContentCache) contentPath() string {
	return filepath.Join(c.config.Dir, cacheContentFile)
}

func (c *ContentCache) metadataPath() string {
	return filepath.Join(c.config.Dir, cacheMetadataFile)
}

// Fresh reports whether cached content exists and is younger than MaxAge.
func (c *ContentCache) Fresh() bool {
	meta, err := c.Metadata()
	if err != nil {
		return false
	}
	if _, err := os.Stat(c.contentPath()); err != nil {
		return false
	}
	age := time.Since(meta.FetchedAt)
	fresh := age < c.config.MaxAge
	c.logger.Debug("cache freshness checked",
		zap.Duration("age", age),
		zap.Duration("max_age", c.config.MaxAge),
		zap.Bool("fresh", fresh))
	return fresh
}

// Load reads the cached content from disk.
func (c *ContentCache) Load() (string, error) {
	data, err := os.ReadFile(c.contentPath())
	if err != nil {
		return "", fmt.Errorf("read cached content: %w", err)
	}
	c.logger.Debug("cache loaded", zap.Int("bytes", len(data)))
	return string(data), nil
}

// Store writes content and its metadata to disk, creating the cache
// directory if needed.
func (c *ContentCache) Store(sourceURL, content string) error {
	if err := os.MkdirAll(c.config.Dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	if err := os.WriteFile(c.contentPath(), []byte(content), 0o644); err != nil {
		return fmt.Errorf("write cached content: %w", err)
	}

	meta := CacheMetadata{
		URL:          sourceURL,
		FetchedAt:    time.Now().UTC(),
		ContentBytes: len(content),
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache metadata: %w", err)
	}
	if err := os.WriteFile(c.metadataPath(), data, 0o644); err != nil {
		return fmt.Errorf("write cache metadata: %w", err)
	}

	c.logger.Info("cache updated",
		zap.String("url", sourceURL),
		zap.Int("bytes", len(content)))
	return nil
}

// Metadata reads the cache metadata from disk.
func (c *ContentCache) Metadata() (*CacheMetadata, error) {
	data, err := os.ReadFile(c.metadataPath())
	if err != nil {
		return nil, fmt.Errorf("read cache metadata: %w", err)
	}
	var meta CacheMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse cache metadata: %w", err)
	}
	return &meta, nil
}
