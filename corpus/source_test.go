package corpus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubFetcher 固定返回内容的 Fetcher，记录调用次数。
type stubFetcher struct {
	content string
	err     error
	calls   int
	lastURL string
}

func (f *stubFetcher) Fetch(_ context.Context, pageURL string) (string, error) {
	f.calls++
	f.lastURL = pageURL
	if f.err != nil {
		return "", f.err
	}
	return f.content, nil
}

func (f *stubFetcher) Name() string { return "stub" }

func TestNewSource_DefaultURL(t *testing.T) {
	t.Parallel()

	src := NewSource("", &stubFetcher{}, nil, nil)
	assert.Equal(t, DefaultSourceURL, src.URL())
	assert.Equal(t, "https://www.ontario.ca/laws/regulation/120332/v25", src.URL())
}

func TestSource_Content_FetchThenCacheHit(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{content: "# Building Code"}
	cache := NewContentCache(CacheConfig{Dir: t.TempDir()}, zap.NewNop())
	src := NewSource("https://example.com/code", fetcher, cache, zap.NewNop())

	content, err := src.Content(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "# Building Code", content)
	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, "https://example.com/code", fetcher.lastURL)
	assert.True(t, cache.Fresh())

	// Second read comes from the cache.
	content, err = src.Content(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "# Building Code", content)
	assert.Equal(t, 1, fetcher.calls)
}

func TestSource_Content_ForceBypassesCache(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{content: "# Building Code"}
	cache := NewContentCache(CacheConfig{Dir: t.TempDir()}, zap.NewNop())
	src := NewSource("https://example.com/code", fetcher, cache, zap.NewNop())

	_, err := src.Content(context.Background(), false)
	require.NoError(t, err)

	_, err = src.Content(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.calls)
}

func TestSource_Content_StaleCacheRefetches(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{content: "# Building Code"}
	cache := NewContentCache(CacheConfig{Dir: t.TempDir(), MaxAge: time.Millisecond}, zap.NewNop())
	src := NewSource("https://example.com/code", fetcher, cache, zap.NewNop())

	_, err := src.Content(context.Background(), false)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	_, err = src.Content(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.calls)
}

func TestSource_Content_NilCacheAlwaysFetches(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{content: "# Building Code"}
	src := NewSource("https://example.com/code", fetcher, nil, zap.NewNop())

	_, err := src.Content(context.Background(), false)
	require.NoError(t, err)
	_, err = src.Content(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.calls)
}

func TestSource_Content_FetchError(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{err: fmt.Errorf("upstream down")}
	src := NewSource("https://example.com/code", fetcher, nil, zap.NewNop())

	_, err := src.Content(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch source document")
	assert.Contains(t, err.Error(), "upstream down")
}
