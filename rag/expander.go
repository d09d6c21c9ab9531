package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kmaurinjones/Ontario-Building-Code-Chat/llm"
)

// ExpansionFailure 扩展失败的类型化原因。
// 空串表示扩展成功；其余值对应一种退化路径，调用方据此打日志和指标。
type ExpansionFailure string

const (
	FailureNone          ExpansionFailure = ""
	FailureTransport     ExpansionFailure = "transport"      // 请求失败或上游错误
	FailureEmptyResponse ExpansionFailure = "empty_response" // 上游返回空补全
	FailureMalformedJSON ExpansionFailure = "malformed_json" // 不是合法 JSON 数组
	FailureNotStrings    ExpansionFailure = "non_string"     // 数组元素不是字符串
	FailureEmptyQuery    ExpansionFailure = "empty_query"    // 数组含空白字符串
	FailureWrongCount    ExpansionFailure = "wrong_count"    // 数量与要求不符
)

// Expansion 一次查询扩展的结果。
// 成功时 Queries 为 n 条改写查询（不含原始查询）；
// 失败时 Queries 恰好为 [原始查询]，Failure 标明原因。
// 无论成败，Usage 记录扩展调用实际消耗的 token。
type Expansion struct {
	Original string
	Queries  []string
	Usage    llm.ChatUsage
	Failure  ExpansionFailure
}

// Meaningful 报告扩展是否产生了值得检索的查询。
// 失败退化的结果恰好是单元素 [原始查询]，因此多于一条即为有效扩展。
func (e Expansion) Meaningful() bool {
	return len(e.Queries) > 1
}

// RetrievalQueries 返回用于检索的完整查询列表：原始查询在前，改写查询随后。
// 无效扩展时只含原始查询。
func (e Expansion) RetrievalQueries() []string {
	if !e.Meaningful() {
		return []string{e.Original}
	}
	queries := make([]string, 0, len(e.Queries)+1)
	queries = append(queries, e.Original)
	queries = append(queries, e.Queries...)
	return queries
}

const expansionPromptTemplate = `You are an expert at reformulating questions about building codes into
optimal search queries. Generate queries that would work well with
embedding-based similarity search. Focus on key terms and concepts.
Generate exactly %d queries.

Format your response as a JSON list of strings. Example:
["query 1", "query 2", "query 3"]

Make queries concise and focused on different aspects of the question, as well as potentially reasonably related to the original query.

You always aim to retrieve sections, subsections, tables, or any other relevant information that can be used as a citation from the building code, in addition to the original query.

You format everything as strict JSON, without including any other text or characters. No backticks, no code blocks, no markdown.`

// ExpanderConfig 配置查询扩展器。
type ExpanderConfig struct {
	// Model 扩展调用使用的模型，空值由 provider 决定默认。
	Model string `json:"model"`

	// Count 每次生成的改写查询数量，默认 5。
	Count int `json:"count"`

	// Temperature 扩展调用温度，改写需要多样性，默认 0.7。
	Temperature float32 `json:"temperature"`

	// Timeout 单次扩展调用超时，默认 30s。
	Timeout time.Duration `json:"timeout"`

	// HistoryWindow 随扩展请求附带的历史消息条数上限，默认 6。
	// 只取最近的几条，避免历史淹没当前问题。
	HistoryWindow int `json:"history_window"`
}

// DefaultExpanderConfig 返回默认配置。
func DefaultExpanderConfig() ExpanderConfig {
	return ExpanderConfig{
		Count:         5,
		Temperature:   0.7,
		Timeout:       30 * time.Second,
		HistoryWindow: 6,
	}
}

// QueryExpander 用 LLM 将用户问题改写为多条检索查询。
type QueryExpander struct {
	provider llm.Provider
	cfg      ExpanderConfig
	logger   *zap.Logger
}

// NewQueryExpander 创建查询扩展器。
func NewQueryExpander(provider llm.Provider, cfg ExpanderConfig, logger *zap.Logger) *QueryExpander {
	if cfg.Count <= 0 {
		cfg.Count = 5
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.7
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 6
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryExpander{
		provider: provider,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "query_expander")),
	}
}

// Expand 生成改写查询。不返回 error：任何失败都退化为只含原始查询的
// Expansion，调用方通过 Failure 字段区分原因。响应必须是严格的 JSON
// 字符串数组且数量恰好等于配置值，任何偏差都走退化路径。
//
// history 为此前的对话消息（只读，可为 nil）。最近的 HistoryWindow 条
// 会折叠进请求作为上下文；当前问题始终是最后一条 user 消息，保证改写
// 以它为主。
func (x *QueryExpander) Expand(ctx context.Context, query string, history []llm.Message) Expansion {
	fallback := Expansion{Original: query, Queries: []string{query}}

	ctx, cancel := context.WithTimeout(ctx, x.cfg.Timeout)
	defer cancel()

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: fmt.Sprintf(expansionPromptTemplate, x.cfg.Count),
	})
	messages = append(messages, x.historyWindow(history)...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: query})

	req := &llm.ChatRequest{
		Model:       x.cfg.Model,
		Temperature: x.cfg.Temperature,
		Messages:    messages,
	}

	resp, err := x.provider.Completion(ctx, req)
	if err != nil {
		x.logger.Warn("query expansion call failed, falling back to original query",
			zap.Error(err))
		fallback.Failure = FailureTransport
		return fallback
	}
	fallback.Usage = resp.Usage

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		x.logger.Warn("query expansion returned empty completion")
		fallback.Failure = FailureEmptyResponse
		return fallback
	}
	content := resp.Choices[0].Message.Content

	queries, failure := parseExpansion(content, x.cfg.Count)
	if failure != FailureNone {
		x.logger.Warn("query expansion response rejected, falling back to original query",
			zap.String("reason", string(failure)),
			zap.Int("want", x.cfg.Count))
		fallback.Failure = failure
		return fallback
	}

	x.logger.Debug("query expanded",
		zap.Int("count", len(queries)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))

	return Expansion{
		Original: query,
		Queries:  queries,
		Usage:    resp.Usage,
	}
}

// historyWindow 返回最近 HistoryWindow 条 user/assistant 消息。
func (x *QueryExpander) historyWindow(history []llm.Message) []llm.Message {
	window := make([]llm.Message, 0, len(history))
	for _, msg := range history {
		if msg.Role == llm.RoleUser || msg.Role == llm.RoleAssistant {
			window = append(window, msg)
		}
	}
	if len(window) > x.cfg.HistoryWindow {
		window = window[len(window)-x.cfg.HistoryWindow:]
	}
	return window
}

// parseExpansion 严格解析扩展响应：JSON 字符串数组、无空白元素、数量精确。
func parseExpansion(content string, want int) ([]string, ExpansionFailure) {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, FailureMalformedJSON
	}

	queries := make([]string, 0, len(raw))
	for _, elem := range raw {
		var s string
		if err := json.Unmarshal(elem, &s); err != nil {
			return nil, FailureNotStrings
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, FailureEmptyQuery
		}
		queries = append(queries, s)
	}

	if len(queries) != want {
		return nil, FailureWrongCount
	}
	return queries, FailureNone
}
