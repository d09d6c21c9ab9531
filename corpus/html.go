package corpus

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/kmaurinjones/Ontario-Building-Code-Chat/internal/tlsutil"
)

// HTMLConfig configures the plain-HTML fallback fetcher.
type HTMLConfig struct {
	Timeout    time.Duration `json:"timeout"`     // HTTP request timeout
	RetryCount int           `json:"retry_count"` // Number of retries on failure
	RetryDelay time.Duration `json:"retry_delay"` // Delay between retries
	UserAgent  string        `json:"user_agent"`  // User-Agent header for page requests
}

// DefaultHTMLConfig returns sensible defaults for direct page fetches.
func DefaultHTMLConfig() HTMLConfig {
	return HTMLConfig{
		Timeout:    60 * time.Second,
		RetryCount: 3,
		RetryDelay: 2 * time.Second,
		UserAgent:  "obcchat/1.0",
	}
}

// HTMLFetcher fetches a page directly and extracts its visible text.
// It is the fallback used when no Firecrawl API key is configured.
type HTMLFetcher struct {
	config HTMLConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTMLFetcher creates a direct-fetch text extractor.
func NewHTMLFetcher(config HTMLConfig, logger *zap.Logger) *HTMLFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTMLFetcher{
		config: config,
		client: tlsutil.SecureHTTPClient(config.Timeout),
		logger: logger,
	}
}

// Name returns the fetcher name.
func (h *HTMLFetcher) Name() string { return "html" }

// Fetch downloads the page and returns its extracted text.
func (h *HTMLFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	h.logger.Info("fetching page", zap.String("url", pageURL))

	// Execute with retry
	var body []byte
	var err error
	for attempt := 0; attempt <= h.config.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(h.config.RetryDelay):
			}
			h.logger.Debug("retrying page fetch", zap.Int("attempt", attempt))
		}

		body, err = h.doRequest(ctx, pageURL)
		if err == nil {
			break
		}
		h.logger.Warn("page fetch failed", zap.Int("attempt", attempt), zap.Error(err))
	}
	if err != nil {
		return "", fmt.Errorf("page fetch failed after %d retries: %w", h.config.RetryCount, err)
	}

	text, err := ExtractText(body)
	if err != nil {
		return "", fmt.Errorf("failed to extract page text: %w", err)
	}
	if text == "" {
		return "", fmt.Errorf("page contained no extractable text")
	}

	h.logger.Info("page fetch completed",
		zap.String("url", pageURL),
		zap.Int("bytes", len(text)))

	return text, nil
}

// doRequest executes a single HTTP GET for the page.
func (h *HTMLFetcher) doRequest(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/html")
	if h.config.UserAgent != "" {
		req.Header.Set("User-Agent", h.config.UserAgent)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("page fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return body, nil
}

// skipElements are subtrees that never contribute visible text.
var skipElements = map[string]struct{}{
	"head":     {},
	"iframe":   {},
	"noscript": {},
	"script":   {},
	"style":    {},
	"svg":      {},
	"template": {},
}

// blockElements terminate the current text line when closed.
var blockElements = map[string]struct{}{
	"address": {}, "article": {}, "aside": {}, "blockquote": {},
	"caption": {}, "dd": {}, "div": {}, "dl": {}, "dt": {},
	"fieldset": {}, "figure": {}, "footer": {}, "form": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
	"header": {}, "hr": {}, "li": {}, "main": {}, "nav": {},
	"ol": {}, "p": {}, "pre": {}, "section": {}, "table": {},
	"td": {}, "th": {}, "tr": {}, "ul": {},
}

// ExtractText parses an HTML document and returns its visible text.
// Text from the same block element stays on one line; blank-line runs
// are collapsed to a single blank line.
func ExtractText(page []byte) (string, error) {
	root, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("HTML parse error: %w", err)
	}

	var sb strings.Builder
	appendNodeText(root, &sb)
	return normalizeText(sb.String()), nil
}

// appendNodeText walks the node tree collecting visible text.
func appendNodeText(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		if text := strings.TrimSpace(n.Data); text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
		return
	case html.ElementNode:
		if _, skip := skipElements[n.Data]; skip {
			return
		}
		if n.Data == "br" {
			sb.WriteString("\n")
			return
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		appendNodeText(c, sb)
	}

	if n.Type == html.ElementNode {
		if _, block := blockElements[n.Data]; block {
			sb.WriteString("\n")
		}
	}
}

// normalizeText collapses intra-line whitespace and blank-line runs.
func normalizeText(raw string) string {
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	blankPending := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blankPending = len(out) > 0
			continue
		}
		if blankPending {
			out = append(out, "")
			blankPending = false
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
