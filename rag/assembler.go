package rag

import (
	"strings"

	"go.uber.org/zap"
)

// TruncationPolicy 上下文超出 token 预算时的截断策略。
type TruncationPolicy string

const (
	// TruncateHardStop 在第一个放不下的片段处停止，后续片段即使更小也不再考虑。
	// 保持"最相关优先"的严格前缀语义，是默认策略。
	TruncateHardStop TruncationPolicy = "hard_stop"

	// TruncateBestFit 跳过放不下的片段，继续尝试后面的片段填满预算。
	TruncateBestFit TruncationPolicy = "best_fit"
)

// AssemblerConfig 配置上下文装配器。
type AssemblerConfig struct {
	// MaxTokens 上下文 token 预算（只计片段本身），默认 6000。
	MaxTokens int `json:"max_tokens"`

	// Policy 截断策略，默认 hard_stop。
	Policy TruncationPolicy `json:"policy"`

	// Separator 片段拼接分隔符，默认 "\n\n"。
	Separator string `json:"separator"`
}

// DefaultAssemblerConfig 返回默认配置。
func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{
		MaxTokens: 6000,
		Policy:    TruncateHardStop,
		Separator: "\n\n",
	}
}

// AssembledContext 装配完成的上下文。
type AssembledContext struct {
	// Text 拼接后的上下文文本，无片段时为空串。
	Text string `json:"text"`

	// Passages 实际进入上下文的片段，保持装配顺序。
	Passages []Passage `json:"passages"`

	// TokenCount 进入上下文的片段 token 总数（不含分隔符）。
	TokenCount int `json:"token_count"`

	// Truncated 是否有片段因预算被丢弃。
	Truncated bool `json:"truncated"`

	// Dropped 因预算被丢弃的片段数（不含去重丢弃）。
	Dropped int `json:"dropped"`
}

// ContextAssembler 将多条查询的候选集装配为单个上下文。
// 装配顺序：按候选集顺序展平，跨查询按内容精确去重（保留首次出现），
// 然后按截断策略套用 token 预算。
type ContextAssembler struct {
	tokenizer Tokenizer
	cfg       AssemblerConfig
	logger    *zap.Logger
}

// NewContextAssembler 创建装配器。
func NewContextAssembler(tokenizer Tokenizer, cfg AssemblerConfig, logger *zap.Logger) *ContextAssembler {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 6000
	}
	if cfg.Policy == "" {
		cfg.Policy = TruncateHardStop
	}
	if cfg.Separator == "" {
		cfg.Separator = "\n\n"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextAssembler{
		tokenizer: tokenizer,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "context_assembler")),
	}
}

// Assemble 装配上下文。输入为空或全部片段都放不下时返回空上下文。
func (a *ContextAssembler) Assemble(sets []CandidateSet) AssembledContext {
	unique := dedupeByContent(sets)

	included := make([]Passage, 0, len(unique))
	total := 0
	dropped := 0

	for i, p := range unique {
		cost := a.tokenizer.CountTokens(p.Content)
		if total+cost > a.cfg.MaxTokens {
			if a.cfg.Policy == TruncateHardStop {
				// hard_stop: 第一个放不下的片段及其后全部丢弃
				dropped = len(unique) - i
				break
			}
			dropped++
			continue
		}
		included = append(included, p)
		total += cost
	}

	parts := make([]string, len(included))
	for i, p := range included {
		parts[i] = p.Content
	}

	result := AssembledContext{
		Text:       strings.Join(parts, a.cfg.Separator),
		Passages:   included,
		TokenCount: total,
		Truncated:  dropped > 0,
		Dropped:    dropped,
	}

	a.logger.Debug("context assembled",
		zap.Int("candidates", len(unique)),
		zap.Int("included", len(included)),
		zap.Int("dropped", dropped),
		zap.Int("tokens", total))

	return result
}

// dedupeByContent 按候选集顺序展平并按内容精确去重，保留首次出现。
func dedupeByContent(sets []CandidateSet) []Passage {
	seen := make(map[string]struct{})
	unique := make([]Passage, 0)

	for _, set := range sets {
		for _, p := range set.Passages {
			if _, ok := seen[p.Content]; ok {
				continue
			}
			seen[p.Content] = struct{}{}
			unique = append(unique, p)
		}
	}
	return unique
}
