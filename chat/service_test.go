package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kmaurinjones/Ontario-Building-Code-Chat/llm"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/rag"
)

// scriptedProvider 按脚本回放扩展补全与流式回答。
type scriptedProvider struct {
	expansion      string
	expansionUsage llm.ChatUsage
	expansionErr   error
	streamErr      error
	chunks         []llm.StreamChunk

	mu      sync.Mutex
	lastReq *llm.ChatRequest
	streams int
}

func (p *scriptedProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if p.expansionErr != nil {
		return nil, p.expansionErr
	}
	return &llm.ChatResponse{
		Model: "stub",
		Choices: []llm.ChatChoice{
			{Index: 0, FinishReason: "stop", Message: llm.Message{Role: llm.RoleAssistant, Content: p.expansion}},
		},
		Usage: p.expansionUsage,
	}, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	p.mu.Lock()
	p.lastReq = req
	p.streams++
	p.mu.Unlock()

	if p.streamErr != nil {
		return nil, p.streamErr
	}
	out := make(chan llm.StreamChunk, len(p.chunks))
	for _, chunk := range p.chunks {
		out <- chunk
	}
	close(out)
	return out, nil
}

func (p *scriptedProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = []float32{1, 0}
	}
	return vectors, nil
}

func (fixedEmbedder) Dimensions() int { return 2 }
func (fixedEmbedder) Model() string   { return "stub-embedding" }

type fieldsTokenizer struct{}

func (fieldsTokenizer) CountTokens(text string) int { return len(strings.Fields(text)) }

func (fieldsTokenizer) Encode(text string) []int {
	ids := make([]int, len(strings.Fields(text)))
	for i := range ids {
		ids[i] = i
	}
	return ids
}

func (fieldsTokenizer) Decode(ids []int) string { return "" }

type brokenStore struct{}

func (brokenStore) AddDocuments(ctx context.Context, docs []rag.Document) error { return nil }

func (brokenStore) Search(ctx context.Context, vector []float32, topK int) ([]rag.Passage, error) {
	return nil, errors.New("store down")
}

func (brokenStore) DeleteDocuments(ctx context.Context, ids []string) error { return nil }
func (brokenStore) Count(ctx context.Context) (int, error)                  { return 0, nil }

// deltaChunk 单条增量文本。
func deltaChunk(text string) llm.StreamChunk {
	return llm.StreamChunk{Delta: llm.Message{Role: llm.RoleAssistant, Content: text}}
}

// usageChunk 流末尾的用量块。
func usageChunk(prompt, completion int) llm.StreamChunk {
	return llm.StreamChunk{
		FinishReason: "stop",
		Usage:        &llm.ChatUsage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion},
	}
}

// newChatService 用真实管线和内存存储搭一个对话服务。
// 语料：两段 1 级向量可检索的条文，token 计数按空白分词。
func newChatService(t *testing.T, provider llm.Provider, store rag.VectorStore, archive *Archive) (*Service, *InMemorySessionStore) {
	t.Helper()
	logger := zap.NewNop()

	if store == nil {
		mem := rag.NewInMemoryVectorStore(logger)
		require.NoError(t, mem.AddDocuments(context.Background(), []rag.Document{
			{ID: "c1", Content: "Stairs require a clear width of 860 mm.", Embedding: []float32{1, 0}},
			{ID: "c2", Content: "Risers must not exceed 200 mm in height.", Embedding: []float32{0.6, 0.8}},
		}))
		store = mem
	}

	expander := rag.NewQueryExpander(provider, rag.ExpanderConfig{Count: 2}, logger)
	retriever := rag.NewRetriever(fixedEmbedder{}, store, rag.RetrieverConfig{TopK: 2}, logger)
	assembler := rag.NewContextAssembler(fieldsTokenizer{}, rag.AssemblerConfig{MaxTokens: 1000}, logger)
	pipeline := rag.NewPipeline(expander, retriever, assembler, rag.NewPromptBuilder(), logger)

	sessions := NewInMemorySessionStore(logger)
	config := DefaultServiceConfig()
	config.Model = "gpt-4o-mini"
	return NewService(config, provider, pipeline, sessions, archive, logger), sessions
}

// collectEvents 读完事件通道，返回拼接的增量、最终用量与失败原因。
func collectEvents(events <-chan Event) (string, *UsageTally, error) {
	var answer strings.Builder
	var usage *UsageTally
	var failure error
	for ev := range events {
		switch {
		case ev.Err != nil:
			failure = ev.Err
		case ev.Usage != nil:
			usage = ev.Usage
		default:
			answer.WriteString(ev.Delta)
		}
	}
	return answer.String(), usage, failure
}

func TestService_ProcessTurn_StreamsAndPersists(t *testing.T) {
	provider := &scriptedProvider{
		expansion:      `["stair width", "riser height"]`,
		expansionUsage: llm.ChatUsage{PromptTokens: 100, CompletionTokens: 30, TotalTokens: 130},
		chunks: []llm.StreamChunk{
			deltaChunk("Stairs "),
			deltaChunk("need 860 mm."),
			usageChunk(950, 120),
		},
	}
	svc, sessions := newChatService(t, provider, nil, nil)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx)
	require.NoError(t, err)

	events, err := svc.ProcessTurn(ctx, session.ID, "how wide must stairs be?")
	require.NoError(t, err)

	answer, usage, failure := collectEvents(events)
	require.NoError(t, failure)
	assert.Equal(t, "Stairs need 860 mm.", answer)

	require.NotNil(t, usage)
	assert.Equal(t, 100, usage.ExpansionPromptTokens)
	assert.Equal(t, 30, usage.ExpansionCompletionTokens)
	// 两段条文各 8 个空白分词。
	assert.Equal(t, 16, usage.ContextTokens)
	assert.Equal(t, 950, usage.PromptTokens)
	assert.Equal(t, 120, usage.CompletionTokens)
	// 输入 1050 tok * $0.15/M + 输出 150 tok * $0.60/M。
	assert.InDelta(t, 0.0002475, usage.CostUSD, 1e-9)

	// 补全请求带着装配好的提示词和配置的模型。
	require.NotNil(t, provider.lastReq)
	assert.Equal(t, "gpt-4o-mini", provider.lastReq.Model)
	require.Len(t, provider.lastReq.Messages, 2)
	assert.Equal(t, llm.RoleSystem, provider.lastReq.Messages[0].Role)
	assert.Contains(t, provider.lastReq.Messages[0].Content, "860 mm")

	// 历史只存裸查询与完整回答，版本推进一格。
	stored, err := sessions.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version)
	require.Len(t, stored.Messages, 2)
	assert.Equal(t, llm.RoleUser, stored.Messages[0].Role)
	assert.Equal(t, "how wide must stairs be?", stored.Messages[0].Content)
	assert.NotContains(t, stored.Messages[0].Content, "<|context|>")
	assert.Equal(t, llm.RoleAssistant, stored.Messages[1].Role)
	assert.Equal(t, "Stairs need 860 mm.", stored.Messages[1].Content)
	assert.Equal(t, *usage, stored.Usage)
}

func TestService_ProcessTurn_SecondTurnAccumulates(t *testing.T) {
	provider := &scriptedProvider{
		expansion:      `["q1", "q2"]`,
		expansionUsage: llm.ChatUsage{PromptTokens: 100, CompletionTokens: 30},
		chunks:         []llm.StreamChunk{deltaChunk("Answer."), usageChunk(950, 120)},
	}
	svc, sessions := newChatService(t, provider, nil, nil)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		events, err := svc.ProcessTurn(ctx, session.ID, "next question")
		require.NoError(t, err)
		_, usage, failure := collectEvents(events)
		require.NoError(t, failure)
		require.NotNil(t, usage)
	}

	stored, err := sessions.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Version)
	assert.Len(t, stored.Messages, 4)
	assert.Equal(t, 240, stored.Usage.CompletionTokens)
	assert.Equal(t, 200, stored.Usage.ExpansionPromptTokens)
	assert.Equal(t, 2, provider.streams)
}

func TestService_ProcessTurn_CompletionFailureFailsTurn(t *testing.T) {
	provider := &scriptedProvider{
		expansion: `["q1", "q2"]`,
		chunks: []llm.StreamChunk{
			deltaChunk("Stairs are"),
			{Err: &llm.Error{Code: llm.ErrUpstreamError, Message: "upstream 502"}},
		},
	}
	svc, sessions := newChatService(t, provider, nil, nil)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx)
	require.NoError(t, err)

	events, err := svc.ProcessTurn(ctx, session.ID, "stair width?")
	require.NoError(t, err)

	answer, usage, failure := collectEvents(events)
	assert.Equal(t, "Stairs are", answer)
	assert.Nil(t, usage)
	require.Error(t, failure)
	assert.Contains(t, failure.Error(), "completion stream")
	assert.Contains(t, failure.Error(), "upstream 502")

	// 失败的回合不落历史、不推进版本。
	stored, err := sessions.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Messages)
	assert.Equal(t, 1, stored.Version)
	assert.Zero(t, stored.Usage)
}

func TestService_ProcessTurn_StreamStartFailure(t *testing.T) {
	provider := &scriptedProvider{
		expansion: `["q1", "q2"]`,
		streamErr: errors.New("connection refused"),
	}
	svc, _ := newChatService(t, provider, nil, nil)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx)
	require.NoError(t, err)

	events, err := svc.ProcessTurn(ctx, session.ID, "stair width?")
	require.NoError(t, err)

	_, usage, failure := collectEvents(events)
	assert.Nil(t, usage)
	require.Error(t, failure)
	assert.Contains(t, failure.Error(), "start completion")
}

func TestService_ProcessTurn_RetrievalFailureFailsTurn(t *testing.T) {
	provider := &scriptedProvider{expansion: `["q1", "q2"]`}
	svc, _ := newChatService(t, provider, brokenStore{}, nil)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx)
	require.NoError(t, err)

	events, err := svc.ProcessTurn(ctx, session.ID, "stair width?")
	require.NoError(t, err)

	_, usage, failure := collectEvents(events)
	assert.Nil(t, usage)
	require.Error(t, failure)
	assert.Contains(t, failure.Error(), "prepare turn")
	// 检索失败时不应发起补全。
	assert.Equal(t, 0, provider.streams)
}

func TestService_ProcessTurn_UnknownSession(t *testing.T) {
	svc, _ := newChatService(t, &scriptedProvider{}, nil, nil)

	events, err := svc.ProcessTurn(context.Background(), "ghost", "q")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Nil(t, events)
}

func TestService_ProcessTurn_EmptyQuery(t *testing.T) {
	svc, _ := newChatService(t, &scriptedProvider{}, nil, nil)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx)
	require.NoError(t, err)

	_, err = svc.ProcessTurn(ctx, session.ID, "   ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty query")
}

func TestService_ProcessTurn_ArchivesTurn(t *testing.T) {
	provider := &scriptedProvider{
		expansion:      `["q1", "q2"]`,
		expansionUsage: llm.ChatUsage{PromptTokens: 100, CompletionTokens: 30},
		chunks:         []llm.StreamChunk{deltaChunk("Archived answer."), usageChunk(950, 120)},
	}
	archive := setupArchive(t)
	svc, _ := newChatService(t, provider, nil, archive)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx)
	require.NoError(t, err)

	events, err := svc.ProcessTurn(ctx, session.ID, "guard height?")
	require.NoError(t, err)
	_, usage, failure := collectEvents(events)
	require.NoError(t, failure)
	require.NotNil(t, usage)

	turns, err := archive.ConversationTurns(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "guard height?", turns[0].Query)
	assert.Equal(t, "Archived answer.", turns[0].Response)
	assert.Equal(t, 120, turns[0].CompletionTokens)
	assert.InDelta(t, usage.CostUSD, turns[0].CostUSD, 1e-9)
}

func TestService_SessionLifecycle(t *testing.T) {
	svc, _ := newChatService(t, &scriptedProvider{}, nil, nil)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, session.ID)

	got, err := svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)

	require.NoError(t, svc.DeleteSession(ctx, session.ID))
	_, err = svc.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, svc.DeleteSession(ctx, session.ID), ErrSessionNotFound)
}

func TestDefaultServiceConfig(t *testing.T) {
	t.Parallel()

	config := DefaultServiceConfig()
	assert.Zero(t, config.Temperature)
	assert.InDelta(t, 0.15, config.PromptCostPer1M, 1e-9)
	assert.InDelta(t, 0.60, config.CompletionCostPer1M, 1e-9)
}
