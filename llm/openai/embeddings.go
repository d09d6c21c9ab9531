package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kmaurinjones/Ontario-Building-Code-Chat/llm"
	"go.uber.org/zap"
)

// Embed 批量嵌入文本, 返回与输入等长、顺序一致的向量列表.
// 上游按 data[].index 标注顺序, 这里显式按 index 归位.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body := wireEmbeddingRequest{
		Model: c.cfg.EmbeddingModel,
		Input: texts,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(embeddingsEndpoint), bytes.NewReader(payload))
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

	var wireResp wireEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&wireResp); err != nil {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: providerName,
		}
	}

	if len(wireResp.Data) != len(texts) {
		return nil, &llm.Error{
			Code:       llm.ErrUpstreamError,
			Message:    fmt.Sprintf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(wireResp.Data)),
			HTTPStatus: http.StatusBadGateway,
			Provider:   providerName,
		}
	}

	vectors := make([][]float32, len(texts))
	for _, d := range wireResp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, &llm.Error{
				Code:       llm.ErrUpstreamError,
				Message:    fmt.Sprintf("embedding index %d out of range", d.Index),
				HTTPStatus: http.StatusBadGateway,
				Provider:   providerName,
			}
		}
		vectors[d.Index] = d.Embedding
	}

	// 维度守护: 与配置不符说明索引/查询模型漂移, 检索会静默失效.
	for i, v := range vectors {
		if len(v) != c.cfg.Dimensions {
			c.logger.Warn("embedding dimension mismatch",
				zap.Int("index", i),
				zap.Int("got", len(v)),
				zap.Int("want", c.cfg.Dimensions),
			)
			return nil, &llm.Error{
				Code:       llm.ErrUpstreamError,
				Message:    fmt.Sprintf("embedding dimension mismatch: got %d, want %d", len(v), c.cfg.Dimensions),
				HTTPStatus: http.StatusBadGateway,
				Provider:   providerName,
			}
		}
	}

	return vectors, nil
}

// Dimensions 返回配置的嵌入向量维度.
func (c *Client) Dimensions() int { return c.cfg.Dimensions }

// Model 返回嵌入模型标识.
func (c *Client) Model() string { return c.cfg.EmbeddingModel }
