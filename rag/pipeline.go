package rag

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kmaurinjones/Ontario-Building-Code-Chat/llm"
)

const instrumentationName = "github.com/kmaurinjones/Ontario-Building-Code-Chat/rag"

// TurnContext 单轮对话的检索产物：扩展结果、候选集、装配好的上下文
// 和可直接发给补全调用的消息列表。
type TurnContext struct {
	Expansion Expansion
	Sets      []CandidateSet
	Context   AssembledContext
	Messages  []llm.Message
}

// Pipeline 将查询扩展、多查询检索、上下文装配和提示词构建串联为一次调用。
type Pipeline struct {
	expander  *QueryExpander
	retriever *Retriever
	assembler *ContextAssembler
	prompts   *PromptBuilder
	logger    *zap.Logger
}

// NewPipeline 创建检索管线。
func NewPipeline(
	expander *QueryExpander,
	retriever *Retriever,
	assembler *ContextAssembler,
	prompts *PromptBuilder,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		expander:  expander,
		retriever: retriever,
		assembler: assembler,
		prompts:   prompts,
		logger:    logger.With(zap.String("component", "rag_pipeline")),
	}
}

// Prepare 为一条用户问题准备补全调用。history 是此前的对话消息，
// 只供查询扩展参考，这里不修改也不持久化。
//
// 流程：扩展查询；扩展无效时跳过检索，上下文为空；扩展有效时对
// 原始查询加全部改写查询逐条检索、去重装配。检索失败让整轮失败，
// 扩展失败只是退化。返回的 TurnContext 总是带有可用的消息列表。
func (p *Pipeline) Prepare(ctx context.Context, query string, history []llm.Message) (*TurnContext, error) {
	tracer := otel.Tracer(instrumentationName)
	turn := &TurnContext{}

	expandCtx, expandSpan := tracer.Start(ctx, "rag.expand")
	turn.Expansion = p.expander.Expand(expandCtx, query, history)
	expandSpan.SetAttributes(
		attribute.Bool("rag.expansion.meaningful", turn.Expansion.Meaningful()),
		attribute.Int("rag.expansion.queries", len(turn.Expansion.Queries)),
		attribute.String("rag.expansion.failure", string(turn.Expansion.Failure)),
	)
	expandSpan.End()

	if turn.Expansion.Meaningful() {
		queries := turn.Expansion.RetrievalQueries()

		retrieveCtx, retrieveSpan := tracer.Start(ctx, "rag.retrieve",
			trace.WithAttributes(attribute.Int("rag.retrieve.queries", len(queries))))
		sets, err := p.retriever.Retrieve(retrieveCtx, queries)
		if err != nil {
			retrieveSpan.End()
			return nil, fmt.Errorf("retrieve context: %w", err)
		}
		turn.Sets = sets
		turn.Context = p.assembler.Assemble(sets)
		retrieveSpan.SetAttributes(
			attribute.Int("rag.context.passages", len(turn.Context.Passages)),
			attribute.Int("rag.context.tokens", turn.Context.TokenCount),
		)
		retrieveSpan.End()
	} else {
		p.logger.Debug("expansion not meaningful, skipping retrieval",
			zap.String("reason", string(turn.Expansion.Failure)))
	}

	turn.Messages = p.prompts.Messages(turn.Context.Text, query)

	p.logger.Info("turn prepared",
		zap.Bool("expanded", turn.Expansion.Meaningful()),
		zap.Int("queries", len(turn.Expansion.Queries)),
		zap.Int("passages", len(turn.Context.Passages)),
		zap.Int("context_tokens", turn.Context.TokenCount))

	return turn, nil
}
