package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/kmaurinjones/Ontario-Building-Code-Chat/api"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/chat"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/internal/metrics"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/llm"
)

// =============================================================================
// 💬 问答接口 Handler
// =============================================================================

// ChatHandler 问答接口处理器
type ChatHandler struct {
	service *chat.Service
	metrics *metrics.Collector // 可为 nil
	model   string             // 指标的模型标签
	logger  *zap.Logger
}

// NewChatHandler 创建问答处理器。collector 可为 nil（不记录指标）。
func NewChatHandler(service *chat.Service, collector *metrics.Collector, model string, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{
		service: service,
		metrics: collector,
		model:   model,
		logger:  logger.With(zap.String("component", "chat_handler")),
	}
}

// HandleTurn 处理单轮问答（SSE 流式输出）
// @Summary 单轮问答
// @Description 发起一轮问答，以 SSE 流式返回增量回答与收尾用量
// @Tags 问答
// @Accept json
// @Produce text/event-stream
// @Param request body api.TurnRequest true "问答请求"
// @Success 200 {string} string "SSE 流"
// @Failure 400 {object} Response "无效请求"
// @Failure 404 {object} Response "会话不存在"
// @Failure 500 {object} Response "内部错误"
// @Security BearerAuth
// @Router /v1/chat [post]
func (h *ChatHandler) HandleTurn(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.TurnRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "message is required", h.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteErrorMessage(w, http.StatusInternalServerError, CodeInternal, "streaming not supported", h.logger)
		return
	}

	ctx := r.Context()
	sessionID := req.SessionID
	if sessionID == "" {
		session, err := h.service.CreateSession(ctx)
		if err != nil {
			h.logger.Error("create session failed", zap.Error(err))
			WriteErrorMessage(w, http.StatusInternalServerError, CodeInternal, "failed to create session", h.logger)
			return
		}
		if h.metrics != nil {
			h.metrics.RecordSessionCreated()
		}
		sessionID = session.ID
	}

	// 先启动回合再写 SSE 响应头：启动前的失败走普通 JSON 错误。
	start := time.Now()
	events, err := h.service.ProcessTurn(ctx, sessionID, message)
	if err != nil {
		if errors.Is(err, chat.ErrSessionNotFound) {
			WriteErrorMessage(w, http.StatusNotFound, CodeNotFound, "session not found", h.logger)
			return
		}
		h.logger.Error("start turn failed", zap.String("session_id", sessionID), zap.Error(err))
		WriteErrorMessage(w, http.StatusInternalServerError, CodeInternal, "failed to start turn", h.logger)
		return
	}

	// 设置 SSE 响应头
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // 禁用 nginx 缓冲
	w.Header().Set("X-Session-ID", sessionID)

	for ev := range events {
		switch {
		case ev.Err != nil:
			h.logger.Error("turn failed",
				zap.String("session_id", sessionID),
				zap.Error(ev.Err))
			// SSE 错误事件。json.Marshal 转义错误消息，防止 JSON 注入
			payload, _ := json.Marshal(api.ErrorResponse{Error: *errorDetailOf(ev.Err)})
			w.Write([]byte("event: error\n"))
			w.Write([]byte("data: "))
			w.Write(payload)
			w.Write([]byte("\n\n"))
			flusher.Flush()
			h.recordTurn("error", time.Since(start), nil)
			return
		case ev.Usage != nil:
			usage := toTurnUsage(*ev.Usage)
			writeSSEEvent(w, flusher, api.TurnEvent{SessionID: sessionID, Usage: &usage})
			h.recordTurn("success", time.Since(start), ev.Usage)
		default:
			writeSSEEvent(w, flusher, api.TurnEvent{Delta: ev.Delta})
		}
	}

	// 发送结束标记
	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

// HandleWS 处理 WebSocket 问答流
// @Summary WebSocket 问答
// @Description 在同一连接上循环处理问答回合，收到 usage 或 error 帧即回合结束
// @Tags 问答
// @Success 101 {string} string "协议升级"
// @Security BearerAuth
// @Router /v1/chat/ws [get]
func (h *ChatHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	sess := newWSSession(conn)
	defer sess.close(websocket.StatusInternalError, "internal error")

	if h.metrics != nil {
		h.metrics.WSConnectionOpened()
		defer h.metrics.WSConnectionClosed()
	}

	// 与 HTTP 请求体同样的 1 MB 上限
	conn.SetReadLimit(maxRequestBody)

	ctx := r.Context()
	h.logger.Info("websocket connected", zap.String("remote_addr", r.RemoteAddr))

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				sess.close(websocket.StatusNormalClosure, "")
			} else if ctx.Err() == nil {
				h.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		var req api.TurnRequest
		if err := json.Unmarshal(data, &req); err != nil {
			_ = sess.writeEvent(ctx, api.TurnEvent{Error: &api.ErrorDetail{
				Code:       CodeInvalidRequest,
				Message:    "invalid JSON frame",
				HTTPStatus: http.StatusBadRequest,
			}})
			continue
		}

		h.runWSTurn(ctx, sess, &req)
	}
}

// runWSTurn 在 WebSocket 连接上执行一轮问答。回合失败只发错误帧，
// 连接保持打开，客户端可继续下一轮。
func (h *ChatHandler) runWSTurn(ctx context.Context, sess *wsSession, req *api.TurnRequest) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		_ = sess.writeEvent(ctx, api.TurnEvent{Error: &api.ErrorDetail{
			Code:       CodeInvalidRequest,
			Message:    "message is required",
			HTTPStatus: http.StatusBadRequest,
		}})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		session, err := h.service.CreateSession(ctx)
		if err != nil {
			h.logger.Error("create session failed", zap.Error(err))
			_ = sess.writeEvent(ctx, api.TurnEvent{Error: &api.ErrorDetail{
				Code:       CodeInternal,
				Message:    "failed to create session",
				HTTPStatus: http.StatusInternalServerError,
			}})
			return
		}
		if h.metrics != nil {
			h.metrics.RecordSessionCreated()
		}
		sessionID = session.ID
	}

	start := time.Now()
	events, err := h.service.ProcessTurn(ctx, sessionID, message)
	if err != nil {
		detail := &api.ErrorDetail{
			Code:       CodeInternal,
			Message:    err.Error(),
			HTTPStatus: http.StatusInternalServerError,
		}
		if errors.Is(err, chat.ErrSessionNotFound) {
			detail = &api.ErrorDetail{
				Code:       CodeNotFound,
				Message:    "session not found",
				HTTPStatus: http.StatusNotFound,
			}
		}
		_ = sess.writeEvent(ctx, api.TurnEvent{SessionID: sessionID, Error: detail})
		return
	}

	for ev := range events {
		switch {
		case ev.Err != nil:
			h.logger.Error("turn failed",
				zap.String("session_id", sessionID),
				zap.Error(ev.Err))
			_ = sess.writeEvent(ctx, api.TurnEvent{SessionID: sessionID, Error: errorDetailOf(ev.Err)})
			h.recordTurn("error", time.Since(start), nil)
			return
		case ev.Usage != nil:
			usage := toTurnUsage(*ev.Usage)
			_ = sess.writeEvent(ctx, api.TurnEvent{SessionID: sessionID, Usage: &usage})
			h.recordTurn("success", time.Since(start), ev.Usage)
		default:
			if err := sess.writeEvent(ctx, api.TurnEvent{Delta: ev.Delta}); err != nil {
				return
			}
		}
	}
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// writeSSEEvent 写出一个 SSE data 事件并立即刷出
func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event api.TurnEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
	flusher.Flush()
}

// errorDetailOf 提取回合失败的结构化错误。Provider 的类型化错误
// 透传错误码与可重试标记，其余归入 INTERNAL。
func errorDetailOf(err error) *api.ErrorDetail {
	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		status := llmErr.HTTPStatus
		if status == 0 {
			status = mapErrorCodeToHTTPStatus(llmErr.Code)
		}
		return &api.ErrorDetail{
			Code:       string(llmErr.Code),
			Message:    llmErr.Message,
			HTTPStatus: status,
			Retryable:  llmErr.Retryable,
			Provider:   llmErr.Provider,
		}
	}
	return &api.ErrorDetail{
		Code:       CodeInternal,
		Message:    err.Error(),
		HTTPStatus: http.StatusInternalServerError,
	}
}

// recordTurn 上报回合指标。usage 为 nil 时只计回合数与时长。
func (h *ChatHandler) recordTurn(status string, duration time.Duration, usage *chat.UsageTally) {
	if h.metrics == nil {
		return
	}
	stats := metrics.TurnStats{
		Model:    h.model,
		Status:   status,
		Duration: duration,
	}
	if usage != nil {
		stats.ExpansionPromptTokens = usage.ExpansionPromptTokens
		stats.ExpansionCompletionTokens = usage.ExpansionCompletionTokens
		stats.ContextTokens = usage.ContextTokens
		stats.PromptTokens = usage.PromptTokens
		stats.CompletionTokens = usage.CompletionTokens
		stats.CostUSD = usage.CostUSD
	}
	h.metrics.RecordTurn(stats)
}

// =============================================================================
// 🔌 WebSocket 会话包装
// =============================================================================

// wsSession 包装 WebSocket 连接。写操作互斥保护，
// WebSocket 不支持并发写。
type wsSession struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func newWSSession(conn *websocket.Conn) *wsSession {
	return &wsSession{conn: conn}
}

// writeEvent 将 TurnEvent 序列化为 JSON 文本帧发送。
func (s *wsSession) writeEvent(ctx context.Context, event api.TurnEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("connection closed")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// close 幂等关闭连接。
func (s *wsSession) close(status websocket.StatusCode, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	_ = s.conn.Close(status, reason)
}
