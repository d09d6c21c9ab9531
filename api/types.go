package api

import "time"

// =============================================================================
// 认证类型
// =============================================================================

// LoginRequest 口令登录请求。
// @Description 登录请求结构
type LoginRequest struct {
	// 访问口令（明文，仅在 TLS 之下传输）
	Password string `json:"password" example:"correct horse battery staple" binding:"required"`
}

// LoginResponse 登录成功响应。
// @Description 登录响应结构
type LoginResponse struct {
	// Bearer JWT，后续请求放入 Authorization 头
	Token string `json:"token" example:"eyJhbGciOiJIUzI1NiIs..."`
	// 令牌过期时间
	ExpiresAt time.Time `json:"expires_at"`
}

// =============================================================================
// 对话类型
// =============================================================================

// TurnRequest 单轮问答请求，POST /v1/chat 的请求体，
// 也是 WebSocket 连接上的请求帧。
// @Description 问答请求结构
type TurnRequest struct {
	// 会话 ID，留空时服务端新建会话并在响应中返回
	SessionID string `json:"session_id,omitempty" example:"8f14e45f-ceea-4672-8a5d-7b3c2a9e1f00"`
	// 用户问题
	Message string `json:"message" example:"What is the minimum stair width?" binding:"required"`
}

// TurnEvent 问答流的一帧。三种载荷互斥：增量文本、成功收尾的
// 用量统计、失败收尾的错误详情。SessionID 只在收尾帧携带。
// @Description 问答流事件结构
type TurnEvent struct {
	// 会话 ID（仅收尾帧）
	SessionID string `json:"session_id,omitempty" example:"8f14e45f-ceea-4672-8a5d-7b3c2a9e1f00"`
	// 增量回答文本
	Delta string `json:"delta,omitempty" example:"Stairs must"`
	// 本轮用量统计（仅成功收尾帧）
	Usage *TurnUsage `json:"usage,omitempty"`
	// 错误详情（仅失败收尾帧）
	Error *ErrorDetail `json:"error,omitempty"`
}

// TurnUsage 单轮问答的分项 token 用量与成本。
// @Description 问答用量统计
type TurnUsage struct {
	// 查询扩展的输入 token
	ExpansionPromptTokens int `json:"expansion_prompt_tokens" example:"210"`
	// 查询扩展的输出 token
	ExpansionCompletionTokens int `json:"expansion_completion_tokens" example:"48"`
	// 装配进系统提示的上下文 token
	ContextTokens int `json:"context_tokens" example:"3900"`
	// 补全请求的输入 token
	PromptTokens int `json:"prompt_tokens" example:"4200"`
	// 补全生成的输出 token
	CompletionTokens int `json:"completion_tokens" example:"320"`
	// 输入输出合计（上下文已含在 prompt 内，不重复计）
	TotalTokens int `json:"total_tokens" example:"4778"`
	// 按配置费率折算的美元成本
	CostUSD float64 `json:"cost_usd" example:"0.000823"`
}

// =============================================================================
// 会话类型
// =============================================================================

// Message 会话历史中的一条消息。
// @Description 会话消息结构
type Message struct {
	// 消息角色（user、assistant）
	Role string `json:"role" example:"user"`
	// 消息内容
	Content string `json:"content" example:"What is the minimum stair width?"`
}

// SessionResponse 会话全量视图：历史、累计用量与版本。
// @Description 会话响应结构
type SessionResponse struct {
	// 会话 ID
	ID string `json:"id" example:"8f14e45f-ceea-4672-8a5d-7b3c2a9e1f00"`
	// 历史消息（裸查询与完整回答，不含检索上下文）
	Messages []Message `json:"messages"`
	// 跨回合累计的用量
	Usage TurnUsage `json:"usage"`
	// 乐观锁版本号，每个成功回合推进一格
	Version int `json:"version" example:"3"`
	// 创建时间
	CreatedAt time.Time `json:"created_at"`
	// 最后更新时间
	UpdatedAt time.Time `json:"updated_at"`
}

// =============================================================================
// 错误类型
// =============================================================================

// ErrorResponse 错误响应（SSE error 事件的 data 载荷）。
// @Description 错误响应结构
type ErrorResponse struct {
	// 错误详情
	Error ErrorDetail `json:"error"`
}

// ErrorDetail 结构化错误详情。
// @Description 错误详情结构
type ErrorDetail struct {
	// 错误码
	Code string `json:"code" example:"LLM_UPSTREAM_ERROR"`
	// 人类可读的错误消息
	Message string `json:"message" example:"upstream returned 502"`
	// HTTP 状态码
	HTTPStatus int `json:"http_status,omitempty" example:"502"`
	// 是否可重试
	Retryable bool `json:"retryable,omitempty" example:"true"`
	// 产生错误的上游服务
	Provider string `json:"provider,omitempty" example:"openai"`
}
