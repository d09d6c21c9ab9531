package chat

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kmaurinjones/Ontario-Building-Code-Chat/llm"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/rag"
)

const instrumentationName = "github.com/kmaurinjones/Ontario-Building-Code-Chat/chat"

// ServiceConfig 配置对话服务。
type ServiceConfig struct {
	// Model 补全模型，空串使用 Provider 默认模型。
	Model string `json:"model"`

	// Temperature 补全温度。答案需要贴合规范原文，默认 0。
	Temperature float32 `json:"temperature"`

	// MaxTokens 单轮补全上限，0 表示不限制。
	MaxTokens int `json:"max_tokens"`

	// PromptCostPer1M 每百万输入 token 的美元价格。
	PromptCostPer1M float64 `json:"prompt_cost_per_1m"`

	// CompletionCostPer1M 每百万输出 token 的美元价格。
	CompletionCostPer1M float64 `json:"completion_cost_per_1m"`
}

// DefaultServiceConfig 返回 gpt-4o-mini 档位的默认费率与温度 0。
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Temperature:         0,
		PromptCostPer1M:     0.15,
		CompletionCostPer1M: 0.60,
	}
}

// Event 流式回合事件。三种载荷互斥：增量文本、最终用量（回合成功
// 的最后一个事件）、错误（回合失败的最后一个事件）。
type Event struct {
	Delta string      `json:"delta,omitempty"`
	Usage *UsageTally `json:"usage,omitempty"`
	Err   error       `json:"-"`
}

// Service 对话服务：检索准备 → 流式补全 → 会话持久化与归档。
type Service struct {
	config   ServiceConfig
	provider llm.Provider
	pipeline *rag.Pipeline
	store    SessionStore
	archive  *Archive
	logger   *zap.Logger
}

// NewService 创建对话服务。archive 可为 nil（不归档）。
func NewService(config ServiceConfig, provider llm.Provider, pipeline *rag.Pipeline, store SessionStore, archive *Archive, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		config:   config,
		provider: provider,
		pipeline: pipeline,
		store:    store,
		archive:  archive,
		logger:   logger.With(zap.String("component", "chat_service")),
	}
}

// CreateSession 新建空会话并持久化。
func (s *Service) CreateSession(ctx context.Context) (*Session, error) {
	session := NewSession("")
	if err := s.store.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.logger.Info("session created", zap.String("session_id", session.ID))
	return session, nil
}

// GetSession 读取会话。
func (s *Service) GetSession(ctx context.Context, id string) (*Session, error) {
	return s.store.Get(ctx, id)
}

// DeleteSession 删除会话。
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("session deleted", zap.String("session_id", id))
	return nil
}

// ProcessTurn 处理一轮问答，返回事件通道。通道在回合结束后关闭；
// 最后一个事件要么携带 Usage（成功）要么携带 Err（失败）。
// 会话历史只在成功后追加，失败的回合不留痕迹。
func (s *Service) ProcessTurn(ctx context.Context, sessionID, query string) (<-chan Event, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}

	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	events := make(chan Event, 16)
	go s.runTurn(ctx, session, query, events)
	return events, nil
}

func (s *Service) runTurn(ctx context.Context, session *Session, query string, events chan<- Event) {
	defer close(events)

	// 历史只供查询扩展参考，补全请求本身依旧是 [system, user] 两条。
	turn, err := s.pipeline.Prepare(ctx, query, session.Messages)
	if err != nil {
		events <- Event{Err: fmt.Errorf("prepare turn: %w", err)}
		return
	}

	req := &llm.ChatRequest{
		Model:       s.config.Model,
		Messages:    turn.Messages,
		Temperature: s.config.Temperature,
		MaxTokens:   s.config.MaxTokens,
	}

	streamCtx, span := otel.Tracer(instrumentationName).Start(ctx, "llm.completion",
		trace.WithAttributes(
			attribute.String("llm.provider", s.provider.Name()),
			attribute.String("llm.model", s.config.Model),
		))

	chunks, err := s.provider.Stream(streamCtx, req)
	if err != nil {
		span.End()
		events <- Event{Err: fmt.Errorf("start completion: %w", err)}
		return
	}

	var answer strings.Builder
	var completion llm.ChatUsage
	for chunk := range chunks {
		if chunk.Err != nil {
			span.SetAttributes(attribute.String("error.code", string(chunk.Err.Code)))
			span.End()
			// 补全失败让整轮显式失败，调用方可重试
			events <- Event{Err: fmt.Errorf("completion stream: %w", chunk.Err)}
			return
		}
		if chunk.Delta.Content != "" {
			answer.WriteString(chunk.Delta.Content)
			events <- Event{Delta: chunk.Delta.Content}
		}
		if chunk.Usage != nil {
			completion = *chunk.Usage
		}
	}

	span.SetAttributes(
		attribute.Int("llm.tokens.prompt", completion.PromptTokens),
		attribute.Int("llm.tokens.completion", completion.CompletionTokens),
	)
	span.End()

	usage := s.tallyTurn(turn, completion)

	// 历史存裸查询与完整回答，塞满上下文的系统提示不落盘
	session.Messages = append(session.Messages,
		llm.Message{Role: llm.RoleUser, Content: query},
		llm.Message{Role: llm.RoleAssistant, Content: answer.String()},
	)
	session.Usage.Add(usage)
	session.Version++

	if err := s.store.Save(ctx, session); err != nil {
		s.logger.Warn("save session failed",
			zap.String("session_id", session.ID),
			zap.Error(err))
	}

	if s.archive != nil {
		if err := s.archive.RecordTurn(ctx, session.ID, query, answer.String(), usage); err != nil {
			s.logger.Warn("archive turn failed",
				zap.String("session_id", session.ID),
				zap.Error(err))
		}
	}

	s.logger.Info("turn completed",
		zap.String("session_id", session.ID),
		zap.Int("passages", len(turn.Context.Passages)),
		zap.Int("context_tokens", turn.Context.TokenCount),
		zap.Int("completion_tokens", usage.CompletionTokens),
		zap.Float64("cost_usd", usage.CostUSD))

	events <- Event{Usage: &usage}
}

// tallyTurn 汇总一轮的分项用量并按配置费率折算成本。
func (s *Service) tallyTurn(turn *rag.TurnContext, completion llm.ChatUsage) UsageTally {
	usage := UsageTally{
		ExpansionPromptTokens:     turn.Expansion.Usage.PromptTokens,
		ExpansionCompletionTokens: turn.Expansion.Usage.CompletionTokens,
		ContextTokens:             turn.Context.TokenCount,
		PromptTokens:              completion.PromptTokens,
		CompletionTokens:          completion.CompletionTokens,
	}
	in := float64(usage.ExpansionPromptTokens + usage.PromptTokens)
	out := float64(usage.ExpansionCompletionTokens + usage.CompletionTokens)
	usage.CostUSD = in/1e6*s.config.PromptCostPer1M + out/1e6*s.config.CompletionCostPer1M
	return usage
}
