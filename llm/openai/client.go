package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kmaurinjones/Ontario-Building-Code-Chat/internal/tlsutil"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/llm"
	"go.uber.org/zap"
)

const (
	defaultBaseURL        = "https://api.openai.com"
	defaultChatModel      = "gpt-4o-mini"
	defaultEmbeddingModel = "text-embedding-3-small"
	defaultDimensions     = 1536
	defaultTimeout        = 30 * time.Second

	chatEndpoint       = "/v1/chat/completions"
	embeddingsEndpoint = "/v1/embeddings"
	modelsEndpoint     = "/v1/models"

	providerName = "openai"
)

// Config 是 OpenAI 客户端配置.
type Config struct {
	// APIKey 认证密钥.
	APIKey string

	// BaseURL API 基础地址, 默认 https://api.openai.com.
	BaseURL string

	// ChatModel 请求未指定模型时使用的补全模型.
	ChatModel string

	// EmbeddingModel 嵌入模型.
	EmbeddingModel string

	// Dimensions 嵌入向量维度.
	Dimensions int

	// Timeout 非流式请求的 HTTP 超时, 默认 30s.
	Timeout time.Duration
}

// Client 同时实现 llm.Provider 与 llm.EmbeddingProvider.
type Client struct {
	cfg          Config
	client       *http.Client
	streamClient *http.Client
	logger       *zap.Logger
}

// NewClient 创建 OpenAI 客户端.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = defaultChatModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = defaultEmbeddingModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = defaultDimensions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:          cfg,
		client:       tlsutil.SecureHTTPClient(cfg.Timeout),
		streamClient: tlsutil.SecureStreamingClient(),
		logger:       logger.With(zap.String("component", "openai_client")),
	}
}

// Name 返回 Provider 标识.
func (c *Client) Name() string { return providerName }

// endpoint 拼接完整 URL.
func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

// buildHeaders 设置认证与内容类型.
func (c *Client) buildHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
}

// model 解析请求使用的模型.
func (c *Client) model(req *llm.ChatRequest) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	return c.cfg.ChatModel
}

// Completion 发起同步聊天补全.
func (c *Client) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	body := wireChatRequest{
		Model:       c.model(req),
		Messages:    convertMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		Stop:        req.Stop,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(chatEndpoint), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.buildHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: providerName,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrorMessage(resp.Body)
		return nil, mapHTTPError(resp.StatusCode, msg, providerName)
	}

	var wireResp wireChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&wireResp); err != nil {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: providerName,
		}
	}

	result := toChatResponse(wireResp, providerName)
	if wireResp.Created != 0 {
		result.CreatedAt = time.Unix(wireResp.Created, 0)
	}
	return result, nil
}

// Stream 发起流式聊天补全 (SSE).
// 请求 include_usage, 最后一个数据块（choices 为空）携带 usage 统计.
func (c *Client) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	body := wireChatRequest{
		Model:         c.model(req),
		Messages:      convertMessages(req.Messages),
		Temperature:   req.Temperature,
		MaxTokens:     req.MaxTokens,
		TopP:          req.TopP,
		Stop:          req.Stop,
		Stream:        true,
		StreamOptions: &wireStreamOptions{IncludeUsage: true},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(chatEndpoint), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.buildHeaders(httpReq)

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: providerName,
		}
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg := readErrorMessage(resp.Body)
		return nil, mapHTTPError(resp.StatusCode, msg, providerName)
	}

	return streamSSE(ctx, resp.Body), nil
}

// streamSSE 解析 SSE 流并转换为 StreamChunk 通道.
// 读取/解析失败会发送带 Err 的 chunk 后关闭通道.
func streamSSE(ctx context.Context, body io.ReadCloser) <-chan llm.StreamChunk {
	ch := make(chan llm.StreamChunk)
	go func() {
		defer body.Close()
		defer close(ch)
		reader := bufio.NewReader(body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					select {
					case <-ctx.Done():
						return
					case ch <- llm.StreamChunk{Err: &llm.Error{
						Code: llm.ErrUpstreamError, Message: err.Error(),
						HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: providerName,
					}}:
					}
				}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var wireResp wireChatResponse
			if err := json.Unmarshal([]byte(data), &wireResp); err != nil {
				select {
				case <-ctx.Done():
					return
				case ch <- llm.StreamChunk{Err: &llm.Error{
					Code: llm.ErrUpstreamError, Message: err.Error(),
					HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: providerName,
				}}:
				}
				return
			}

			var usage *llm.ChatUsage
			if wireResp.Usage != nil {
				usage = &llm.ChatUsage{
					PromptTokens:     wireResp.Usage.PromptTokens,
					CompletionTokens: wireResp.Usage.CompletionTokens,
					TotalTokens:      wireResp.Usage.TotalTokens,
				}
			}

			// include_usage 的最终块 choices 为空, 仅携带 usage.
			if len(wireResp.Choices) == 0 {
				if usage == nil {
					continue
				}
				select {
				case <-ctx.Done():
					return
				case ch <- llm.StreamChunk{
					ID:       wireResp.ID,
					Provider: providerName,
					Model:    wireResp.Model,
					Usage:    usage,
				}:
				}
				continue
			}

			for _, choice := range wireResp.Choices {
				chunk := llm.StreamChunk{
					ID:           wireResp.ID,
					Provider:     providerName,
					Model:        wireResp.Model,
					Index:        choice.Index,
					FinishReason: choice.FinishReason,
					Usage:        usage,
					Delta: llm.Message{
						Role: llm.RoleAssistant,
					},
				}
				if choice.Delta != nil {
					chunk.Delta.Content = choice.Delta.Content
				}
				select {
				case <-ctx.Done():
					return
				case ch <- chunk:
				}
			}
		}
	}()
	return ch
}

// HealthCheck 验证上游可达性.
func (c *Client) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(modelsEndpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.buildHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := readErrorMessage(resp.Body)
		return &llm.HealthStatus{Healthy: false, Latency: latency},
			fmt.Errorf("openai health check failed: status=%d msg=%s", resp.StatusCode, msg)
	}

	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}
