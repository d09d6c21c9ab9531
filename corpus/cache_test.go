package corpus

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewContentCache_Defaults(t *testing.T) {
	t.Parallel()

	cache := NewContentCache(CacheConfig{}, nil)

	assert.Equal(t, filepath.Join("data", "content"), cache.config.Dir)
	assert.Equal(t, 30*24*time.Hour, cache.config.MaxAge)
	assert.NotNil(t, cache.logger)
}

func TestContentCache_StoreLoadRoundTrip(t *testing.T) {
	t.Parallel()

	cache := NewContentCache(CacheConfig{Dir: t.TempDir()}, zap.NewNop())

	content := "# Ontario Building Code\n\nSection 9.8.4.1"
	require.NoError(t, cache.Store(DefaultSourceURL, content))

	loaded, err := cache.Load()
	require.NoError(t, err)
	assert.Equal(t, content, loaded)

	meta, err := cache.Metadata()
	require.NoError(t, err)
	assert.Equal(t, DefaultSourceURL, meta.URL)
	assert.Equal(t, len(content), meta.ContentBytes)
	assert.WithinDuration(t, time.Now(), meta.FetchedAt, time.Minute)
}

func TestContentCache_FreshLifecycle(t *testing.T) {
	t.Parallel()

	cache := NewContentCache(CacheConfig{Dir: t.TempDir()}, zap.NewNop())

	assert.False(t, cache.Fresh(), "empty cache must not be fresh")

	require.NoError(t, cache.Store(DefaultSourceURL, "content"))
	assert.True(t, cache.Fresh())
}

func TestContentCache_StaleAfterMaxAge(t *testing.T) {
	t.Parallel()

	cache := NewContentCache(CacheConfig{Dir: t.TempDir()}, zap.NewNop())
	require.NoError(t, cache.Store(DefaultSourceURL, "content"))

	// Rewrite the metadata as if the scrape happened 31 days ago.
	meta := CacheMetadata{
		URL:          DefaultSourceURL,
		FetchedAt:    time.Now().UTC().Add(-31 * 24 * time.Hour),
		ContentBytes: len("content"),
	}
	data, err := json.Marshal(meta)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cache.metadataPath(), data, 0o644))

	assert.False(t, cache.Fresh())
}

func TestContentCache_MissingContentFileNotFresh(t *testing.T) {
	t.Parallel()

	cache := NewContentCache(CacheConfig{Dir: t.TempDir()}, zap.NewNop())
	require.NoError(t, cache.Store(DefaultSourceURL, "content"))
	require.NoError(t, os.Remove(cache.contentPath()))

	assert.False(t, cache.Fresh())

	_, err := cache.Load()
	assert.Error(t, err)
}

func TestContentCache_CorruptMetadata(t *testing.T) {
	t.Parallel()

	cache := NewContentCache(CacheConfig{Dir: t.TempDir()}, zap.NewNop())
	require.NoError(t, cache.Store(DefaultSourceURL, "content"))
	require.NoError(t, os.WriteFile(cache.metadataPath(), []byte("{not json"), 0o644))

	_, err := cache.Metadata()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse cache metadata")
	assert.False(t, cache.Fresh())
}
