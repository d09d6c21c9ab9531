package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kmaurinjones/Ontario-Building-Code-Chat/llm"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrVersionConflict = errors.New("session version conflict")
)

// UsageTally 按环节拆分的 token 用量。既用于单轮结果，
// 也用于会话内跨轮累计。
type UsageTally struct {
	ExpansionPromptTokens     int     `json:"expansion_prompt_tokens"`
	ExpansionCompletionTokens int     `json:"expansion_completion_tokens"`
	ContextTokens             int     `json:"context_tokens"`
	PromptTokens              int     `json:"prompt_tokens"`
	CompletionTokens          int     `json:"completion_tokens"`
	CostUSD                   float64 `json:"cost_usd"`
}

// Add 累加另一份用量。
func (u *UsageTally) Add(other UsageTally) {
	u.ExpansionPromptTokens += other.ExpansionPromptTokens
	u.ExpansionCompletionTokens += other.ExpansionCompletionTokens
	u.ContextTokens += other.ContextTokens
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.CostUSD += other.CostUSD
}

// TotalTokens 返回发给模型和模型产出的 token 总量。
// ContextTokens 已计入补全 prompt，不重复累计。
func (u UsageTally) TotalTokens() int {
	return u.ExpansionPromptTokens + u.ExpansionCompletionTokens +
		u.PromptTokens + u.CompletionTokens
}

// Session 会话的显式状态。历史只存裸查询与完整回答，
// Usage 跨回合累计，Version 供存储层乐观锁使用。
type Session struct {
	ID        string        `json:"id"`
	Messages  []llm.Message `json:"messages"`
	Usage     UsageTally    `json:"usage"`
	Version   int           `json:"version"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// NewSession 创建空会话。id 为空时生成随机 UUID。
func NewSession(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	return &Session{
		ID:        id,
		Messages:  []llm.Message{},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone 返回会话的深拷贝。
func (s *Session) Clone() *Session {
	out := *s
	out.Messages = make([]llm.Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return &out
}

// SessionStore 会话存储接口。
// Save 以乐观锁写入：session.Version 是期望写入的新版本，
// 存储层比较已有版本与 Version-1，不一致返回 ErrVersionConflict；
// 不存在的会话直接写入。
type SessionStore interface {
	// Get 按 ID 取会话，不存在返回 ErrSessionNotFound
	Get(ctx context.Context, id string) (*Session, error)

	// Save 持久化会话（带乐观锁）
	Save(ctx context.Context, session *Session) error

	// Delete 删除会话，不存在返回 ErrSessionNotFound
	Delete(ctx context.Context, id string) error

	// Count 返回当前会话数，供就绪探针与指标采样使用
	Count(ctx context.Context) (int, error)
}
