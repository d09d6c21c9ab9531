package corpus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kmaurinjones/Ontario-Building-Code-Chat/internal/tlsutil"
)

// FirecrawlConfig 配置 Firecrawl 抓取客户端。
type FirecrawlConfig struct {
	BaseURL    string        `json:"base_url"`    // Firecrawl API base URL
	APIKey     string        `json:"-"`           // API key (not serialized)
	Timeout    time.Duration `json:"timeout"`     // HTTP request timeout
	RetryCount int           `json:"retry_count"` // Number of retries on failure
	RetryDelay time.Duration `json:"retry_delay"` // Delay between retries
}

// DefaultFirecrawlConfig 返回抓取的合理默认值。
func DefaultFirecrawlConfig() FirecrawlConfig {
	return FirecrawlConfig{
		BaseURL:    "https://api.firecrawl.dev",
		Timeout:    60 * time.Second,
		RetryCount: 3,
		RetryDelay: 2 * time.Second,
	}
}

// FirecrawlClient 通过 Firecrawl API 抓取页面并返回 Markdown。
type FirecrawlClient struct {
	config FirecrawlConfig
	client *http.Client
	logger *zap.Logger
}

// NewFirecrawlClient 创建 Firecrawl 抓取客户端。
func NewFirecrawlClient(config FirecrawlConfig, logger *zap.Logger) *FirecrawlClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FirecrawlClient{
		config: config,
		client: tlsutil.SecureHTTPClient(config.Timeout),
		logger: logger,
	}
}

// Name 返回获取器名称。
func (f *FirecrawlClient) Name() string { return "firecrawl" }

type firecrawlScrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
}

type firecrawlScrapeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    struct {
		Markdown string `json:"markdown"`
		Metadata struct {
			Title      string `json:"title"`
			SourceURL  string `json:"sourceURL"`
			StatusCode int    `json:"statusCode"`
		} `json:"metadata"`
	} `json:"data"`
}

// Fetch 抓取页面并返回其 Markdown 内容。
func (f *FirecrawlClient) Fetch(ctx context.Context, pageURL string) (string, error) {
	f.logger.Info("scraping page via Firecrawl", zap.String("url", pageURL))

	// 带重试执行
	var body []byte
	var err error
	for attempt := 0; attempt <= f.config.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(f.config.RetryDelay):
			}
			f.logger.Debug("retrying Firecrawl scrape", zap.Int("attempt", attempt))
		}

		body, err = f.doScrape(ctx, pageURL)
		if err == nil {
			break
		}
		f.logger.Warn("Firecrawl scrape failed", zap.Int("attempt", attempt), zap.Error(err))
	}
	if err != nil {
		return "", fmt.Errorf("Firecrawl scrape failed after %d retries: %w", f.config.RetryCount, err)
	}

	var scrapeResp firecrawlScrapeResponse
	if err := json.Unmarshal(body, &scrapeResp); err != nil {
		return "", fmt.Errorf("failed to parse Firecrawl response: %w", err)
	}
	if !scrapeResp.Success {
		return "", fmt.Errorf("Firecrawl scrape rejected: %s", scrapeResp.Error)
	}
	if scrapeResp.Data.Markdown == "" {
		return "", fmt.Errorf("no markdown content in Firecrawl response")
	}

	f.logger.Info("Firecrawl scrape completed",
		zap.String("url", pageURL),
		zap.Int("bytes", len(scrapeResp.Data.Markdown)))

	return scrapeResp.Data.Markdown, nil
}

// doScrape 执行单次 scrape 请求。
func (f *FirecrawlClient) doScrape(ctx context.Context, pageURL string) ([]byte, error) {
	payload, err := json.Marshal(firecrawlScrapeRequest{
		URL:     pageURL,
		Formats: []string{"markdown"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	requestURL := fmt.Sprintf("%s/v1/scrape", f.config.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if f.config.APIKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", f.config.APIKey))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Firecrawl API returned status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}
