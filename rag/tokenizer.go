package rag

import (
	"fmt"

	"go.uber.org/zap"

	lltok "github.com/kmaurinjones/Ontario-Building-Code-Chat/llm/tokenizer"
)

// Tokenizer 分词器接口。
// 装配器只用 CountTokens；分块器额外需要 Encode/Decode 做 token 窗口切分。
type Tokenizer interface {
	CountTokens(text string) int
	Encode(text string) []int
	Decode(ids []int) string
}

// LLMTokenizerAdapter 将 llm/tokenizer.Tokenizer 适配为 rag.Tokenizer 接口。
// 当底层 tokenizer 返回 error 时，回退到字符估算并记录警告日志。
type LLMTokenizerAdapter struct {
	inner  lltok.Tokenizer
	logger *zap.Logger
}

// NewLLMTokenizerAdapter 创建适配器。
func NewLLMTokenizerAdapter(inner lltok.Tokenizer, logger *zap.Logger) *LLMTokenizerAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMTokenizerAdapter{inner: inner, logger: logger}
}

// CountTokens 返回文本的 token 数。
// 底层 tokenizer 出错时回退到 len(text)/4 估算。
func (a *LLMTokenizerAdapter) CountTokens(text string) int {
	count, err := a.inner.CountTokens(text)
	if err != nil {
		a.logger.Warn("tokenizer CountTokens failed, falling back to estimate",
			zap.Error(err))
		return len(text) / 4
	}
	return count
}

// Encode 将文本转换为 token ID 列表。
// 底层 tokenizer 出错时回退到伪 token ID 序列。
func (a *LLMTokenizerAdapter) Encode(text string) []int {
	tokens, err := a.inner.Encode(text)
	if err != nil {
		a.logger.Warn("tokenizer Encode failed, falling back to estimate",
			zap.Error(err))
		result := make([]int, len(text)/4)
		for i := range result {
			result[i] = i
		}
		return result
	}
	return tokens
}

// Decode 将 token ID 列表还原为文本。
// 底层 tokenizer 不支持解码时返回空串并记录警告；
// token 窗口分块依赖真实解码，调用方应优先使用 tiktoken 适配器。
func (a *LLMTokenizerAdapter) Decode(ids []int) string {
	text, err := a.inner.Decode(ids)
	if err != nil {
		a.logger.Warn("tokenizer Decode failed", zap.Error(err))
		return ""
	}
	return text
}

// NewTiktokenAdapter 创建一个基于 tiktoken 的 rag.Tokenizer 适配器。
// model 参数指定 tiktoken 模型（如 "gpt-4o", "gpt-4o-mini", "gpt-3.5-turbo"）。
func NewTiktokenAdapter(model string, logger *zap.Logger) (Tokenizer, error) {
	tok, err := lltok.NewTiktokenTokenizer(model)
	if err != nil {
		return nil, fmt.Errorf("create tiktoken tokenizer: %w", err)
	}
	return NewLLMTokenizerAdapter(tok, logger), nil
}

// NewEstimatorAdapter 创建一个基于字符估算的 rag.Tokenizer 适配器。
// 不需要外部编码数据下载，适合测试和离线环境；不支持真实 Decode。
func NewEstimatorAdapter(model string, maxTokens int, logger *zap.Logger) Tokenizer {
	est := lltok.NewEstimatorTokenizer(model, maxTokens)
	return NewLLMTokenizerAdapter(est, logger)
}

// TokenizerForModel 为指定模型创建最合适的适配器：
// 已知模型用 tiktoken，未知模型回退到估算器并记录警告。
func TokenizerForModel(model string, logger *zap.Logger) Tokenizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	tok, err := NewTiktokenAdapter(model, logger)
	if err != nil {
		logger.Warn("tiktoken unavailable for model, using estimator",
			zap.String("model", model),
			zap.Error(err))
		return NewEstimatorAdapter(model, 0, logger)
	}
	return tok
}
