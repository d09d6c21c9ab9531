package handlers

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kmaurinjones/Ontario-Building-Code-Chat/api"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/chat"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/internal/metrics"
)

// =============================================================================
// 👥 会话管理 Handler
// =============================================================================

// SessionHandler 会话管理处理器
type SessionHandler struct {
	service *chat.Service
	metrics *metrics.Collector // 可为 nil
	logger  *zap.Logger
}

// NewSessionHandler 创建会话处理器。collector 可为 nil（不记录指标）。
func NewSessionHandler(service *chat.Service, collector *metrics.Collector, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		service: service,
		metrics: collector,
		logger:  logger.With(zap.String("component", "session_handler")),
	}
}

// HandleCreate 创建新会话
// @Summary 创建会话
// @Description 新建一个空会话
// @Tags 会话
// @Produce json
// @Success 201 {object} Response{data=api.SessionResponse} "会话已创建"
// @Failure 500 {object} Response "内部错误"
// @Security BearerAuth
// @Router /v1/sessions [post]
func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.CreateSession(r.Context())
	if err != nil {
		h.logger.Error("create session failed", zap.Error(err))
		WriteErrorMessage(w, http.StatusInternalServerError, CodeInternal, "failed to create session", h.logger)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordSessionCreated()
	}

	WriteJSON(w, http.StatusCreated, Response{
		Success:   true,
		Data:      toSessionResponse(session),
		Timestamp: time.Now(),
		RequestID: requestIDOf(w),
	})
}

// HandleGet 查询会话
// @Summary 查询会话
// @Description 返回会话历史与累计用量
// @Tags 会话
// @Produce json
// @Param id path string true "会话 ID"
// @Success 200 {object} Response{data=api.SessionResponse} "会话详情"
// @Failure 404 {object} Response "会话不存在"
// @Security BearerAuth
// @Router /v1/sessions/{id} [get]
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "session id is required", h.logger)
		return
	}

	session, err := h.service.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, chat.ErrSessionNotFound) {
			WriteErrorMessage(w, http.StatusNotFound, CodeNotFound, "session not found", h.logger)
			return
		}
		h.logger.Error("get session failed", zap.String("session_id", id), zap.Error(err))
		WriteErrorMessage(w, http.StatusInternalServerError, CodeInternal, "failed to load session", h.logger)
		return
	}

	WriteSuccess(w, toSessionResponse(session))
}

// HandleDelete 删除会话
// @Summary 删除会话
// @Description 删除会话及其历史
// @Tags 会话
// @Produce json
// @Param id path string true "会话 ID"
// @Success 200 {object} Response "会话已删除"
// @Failure 404 {object} Response "会话不存在"
// @Security BearerAuth
// @Router /v1/sessions/{id} [delete]
func (h *SessionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "session id is required", h.logger)
		return
	}

	if err := h.service.DeleteSession(r.Context(), id); err != nil {
		if errors.Is(err, chat.ErrSessionNotFound) {
			WriteErrorMessage(w, http.StatusNotFound, CodeNotFound, "session not found", h.logger)
			return
		}
		h.logger.Error("delete session failed", zap.String("session_id", id), zap.Error(err))
		WriteErrorMessage(w, http.StatusInternalServerError, CodeInternal, "failed to delete session", h.logger)
		return
	}

	WriteSuccess(w, map[string]string{"id": id, "status": "deleted"})
}

// =============================================================================
// 🔄 类型转换辅助函数
// =============================================================================

// toSessionResponse 转换会话为 API 视图
func toSessionResponse(s *chat.Session) *api.SessionResponse {
	messages := make([]api.Message, len(s.Messages))
	for i, m := range s.Messages {
		messages[i] = api.Message{Role: string(m.Role), Content: m.Content}
	}
	return &api.SessionResponse{
		ID:        s.ID,
		Messages:  messages,
		Usage:     toTurnUsage(s.Usage),
		Version:   s.Version,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// toTurnUsage 转换用量统计为 API 视图
func toTurnUsage(u chat.UsageTally) api.TurnUsage {
	return api.TurnUsage{
		ExpansionPromptTokens:     u.ExpansionPromptTokens,
		ExpansionCompletionTokens: u.ExpansionCompletionTokens,
		ContextTokens:             u.ContextTokens,
		PromptTokens:              u.PromptTokens,
		CompletionTokens:          u.CompletionTokens,
		TotalTokens:               u.TotalTokens(),
		CostUSD:                   u.CostUSD,
	}
}
