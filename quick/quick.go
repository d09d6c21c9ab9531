// =============================================================================
// Package quick — One-Line Assistant Construction
// =============================================================================
// Provides a convenience entry point for creating a Building Code assistant
// with minimal boilerplate. Delegates to the rag factory and chat.Service
// internally.
//
// The package lives under quick/ (not root) so the root package can re-export
// it without pulling transport code into library imports.
//
// Usage:
//
//	import "github.com/kmaurinjones/Ontario-Building-Code-Chat/quick"
//
//	a, err := quick.New(quick.WithOpenAI("gpt-4o-mini"))
//	a, err := quick.New(quick.WithOpenAI("gpt-4o-mini"), quick.WithQdrant("http://localhost:6333"))
//	a, err := quick.New(quick.WithProvider(myProvider), quick.WithEmbedder(myEmbedder))
//
//	answer, err := a.Ask(ctx, "What is the minimum width of an exit stair?")
//
// =============================================================================
package quick

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kmaurinjones/Ontario-Building-Code-Chat/chat"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/config"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/llm"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/llm/openai"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/rag"
)

// Option configures the assistant created by New.
type Option func(*options)

type options struct {
	model    string
	provider llm.Provider
	embedder llm.EmbeddingProvider
	store    rag.VectorStore
	sessions chat.SessionStore
	logger   *zap.Logger

	// Provider shortcut fields, used when provider is nil.
	useOpenAI bool
	apiKey    string

	// Qdrant shortcut fields, used when store is nil.
	qdrantURL  string
	collection string
}

// WithProvider sets a pre-built LLM provider. When the provider also
// implements llm.EmbeddingProvider it doubles as the embedder.
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithEmbedder sets a pre-built embedding provider.
func WithEmbedder(e llm.EmbeddingProvider) Option {
	return func(o *options) { o.embedder = e }
}

// WithOpenAI creates an OpenAI client using the given chat model.
// API key is read from OPENAI_API_KEY environment variable.
func WithOpenAI(model string) Option {
	return func(o *options) {
		o.useOpenAI = true
		o.model = model
		if o.apiKey == "" {
			o.apiKey = os.Getenv("OPENAI_API_KEY")
		}
	}
}

// WithModel sets the chat model. Overrides the model set by WithOpenAI.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithAPIKey overrides the API key for WithOpenAI.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithQdrant points the assistant at a Qdrant instance instead of the
// default in-memory store. Pass the base URL, e.g. "http://localhost:6333".
func WithQdrant(baseURL string) Option {
	return func(o *options) { o.qdrantURL = baseURL }
}

// WithCollection sets the Qdrant collection name used by WithQdrant.
func WithCollection(name string) Option {
	return func(o *options) { o.collection = name }
}

// WithVectorStore sets a pre-built vector store, e.g. one already seeded
// with passages.
func WithVectorStore(store rag.VectorStore) Option {
	return func(o *options) { o.store = store }
}

// WithSessionStore sets a custom session store. Defaults to in-memory.
func WithSessionStore(store chat.SessionStore) Option {
	return func(o *options) { o.sessions = store }
}

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New creates an Assistant with minimal configuration.
func New(opts ...Option) (*Assistant, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	// Pipeline knobs come from the config defaults; only the model is
	// overridable here. Anything fancier should load a real config.
	cfg := config.DefaultConfig()
	if o.model != "" {
		cfg.LLM.ChatModel = o.model
	}

	// Resolve provider and embedder.
	p := o.provider
	embedder := o.embedder
	if p == nil {
		if !o.useOpenAI {
			return nil, fmt.Errorf("provider is required: use WithProvider or WithOpenAI")
		}
		if o.apiKey == "" {
			return nil, fmt.Errorf("API key is required: set OPENAI_API_KEY or use WithAPIKey")
		}
		client := openai.NewClient(openai.Config{
			APIKey:    o.apiKey,
			ChatModel: cfg.LLM.ChatModel,
		}, o.logger)
		p = client
		if embedder == nil {
			embedder = client
		}
	}
	if embedder == nil {
		if e, ok := p.(llm.EmbeddingProvider); ok {
			embedder = e
		} else {
			return nil, fmt.Errorf("embedding provider is required: use WithEmbedder")
		}
	}

	// Resolve vector store.
	store := o.store
	if store == nil {
		if o.qdrantURL != "" {
			collection := o.collection
			if collection == "" {
				collection = cfg.Qdrant.Collection
			}
			store = rag.NewQdrantStore(rag.QdrantConfig{
				BaseURL:              o.qdrantURL,
				Collection:           collection,
				AutoCreateCollection: true,
				VectorSize:           embedder.Dimensions(),
			}, o.logger)
		} else {
			store = rag.NewInMemoryVectorStore(o.logger)
		}
	}

	pipeline, err := rag.NewPipelineWithStore(cfg, p, embedder, store, o.logger)
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	sessions := o.sessions
	if sessions == nil {
		sessions = chat.NewInMemorySessionStore(o.logger)
	}

	service := chat.NewService(chat.ServiceConfig{
		Model:               cfg.LLM.ChatModel,
		Temperature:         cfg.Chat.Temperature,
		MaxTokens:           cfg.Chat.MaxTokens,
		PromptCostPer1M:     cfg.Chat.PromptCostPer1M,
		CompletionCostPer1M: cfg.Chat.CompletionCostPer1M,
	}, p, pipeline, sessions, nil, o.logger)

	return &Assistant{
		service:  service,
		store:    store,
		embedder: embedder,
	}, nil
}

// Assistant 是一个持有单个会话的便捷问答封装。Ask 在同一会话上
// 累积多轮对话，Reset 开启新会话。
type Assistant struct {
	service  *chat.Service
	store    rag.VectorStore
	embedder llm.EmbeddingProvider

	mu        sync.Mutex
	sessionID string
}

// Ask 提问并返回完整回答。流式事件在内部聚合，需要逐段输出时
// 直接使用 Service().ProcessTurn。
func (a *Assistant) Ask(ctx context.Context, question string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sessionID == "" {
		session, err := a.service.CreateSession(ctx)
		if err != nil {
			return "", fmt.Errorf("create session: %w", err)
		}
		a.sessionID = session.ID
	}

	events, err := a.service.ProcessTurn(ctx, a.sessionID, question)
	if err != nil {
		return "", err
	}

	var answer strings.Builder
	for event := range events {
		if event.Err != nil {
			for range events {
			}
			return "", event.Err
		}
		answer.WriteString(event.Delta)
	}
	return answer.String(), nil
}

// Load 将文本段落嵌入并写入向量库。适合给内存存储灌入少量
// 规范条文后直接提问。
func (a *Assistant) Load(ctx context.Context, passages ...string) error {
	if len(passages) == 0 {
		return nil
	}

	embeddings, err := a.embedder.Embed(ctx, passages)
	if err != nil {
		return fmt.Errorf("embed passages: %w", err)
	}
	if len(embeddings) != len(passages) {
		return fmt.Errorf("embedding count mismatch: got %d for %d passages", len(embeddings), len(passages))
	}

	docs := make([]rag.Document, len(passages))
	for i, passage := range passages {
		docs[i] = rag.Document{
			ID:        uuid.NewString(),
			Content:   passage,
			Embedding: embeddings[i],
		}
	}
	return a.store.AddDocuments(ctx, docs)
}

// Reset 丢弃当前会话，下一次 Ask 会开启新会话。
func (a *Assistant) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionID = ""
}

// SessionID 返回当前会话 ID，尚未提问时为空。
func (a *Assistant) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// Service 返回底层对话服务，用于流式输出或会话管理。
func (a *Assistant) Service() *chat.Service {
	return a.service
}
