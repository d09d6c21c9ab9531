package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kmaurinjones/Ontario-Building-Code-Chat/api"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/chat"
)

// =============================================================================
// 🧪 会话管理测试
// =============================================================================

func newSessionHandler(t *testing.T) (*SessionHandler, *chat.Service) {
	t.Helper()
	svc := newTurnService(t, answerProvider())
	return NewSessionHandler(svc, nil, zap.NewNop()), svc
}

// decodeSessionData 从响应信封中取出会话视图。
func decodeSessionData(t *testing.T, w *httptest.ResponseRecorder) api.SessionResponse {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.True(t, resp.Success)
	require.NotNil(t, resp.Data)

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)

	var session api.SessionResponse
	require.NoError(t, json.Unmarshal(raw, &session))
	return session
}

func TestSessionHandler_HandleCreate(t *testing.T) {
	h, svc := newSessionHandler(t)

	r := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
	w := httptest.NewRecorder()
	h.HandleCreate(w, r)

	assert.Equal(t, http.StatusCreated, w.Code)

	session := decodeSessionData(t, w)
	assert.NotEmpty(t, session.ID)
	assert.Empty(t, session.Messages)
	assert.Equal(t, 1, session.Version)
	assert.False(t, session.CreatedAt.IsZero())

	// 创建的会话立刻可查。
	_, err := svc.GetSession(context.Background(), session.ID)
	assert.NoError(t, err)
}

func TestSessionHandler_HandleGet(t *testing.T) {
	h, svc := newSessionHandler(t)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx)
	require.NoError(t, err)

	// 跑一轮问答填充历史。
	events, err := svc.ProcessTurn(ctx, session.ID, "how wide must stairs be?")
	require.NoError(t, err)
	for range events {
	}

	r := httptest.NewRequest(http.MethodGet, "/v1/sessions/"+session.ID, nil)
	r.SetPathValue("id", session.ID)
	w := httptest.NewRecorder()
	h.HandleGet(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	got := decodeSessionData(t, w)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, 2, got.Version)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "how wide must stairs be?", got.Messages[0].Content)
	assert.Equal(t, "assistant", got.Messages[1].Role)
	assert.Equal(t, "Stairs need 860 mm.", got.Messages[1].Content)

	// 累计用量随视图返回，合计不重复计上下文。
	assert.Equal(t, 100, got.Usage.ExpansionPromptTokens)
	assert.Equal(t, 950, got.Usage.PromptTokens)
	assert.Equal(t, 120, got.Usage.CompletionTokens)
	assert.Equal(t, 1200, got.Usage.TotalTokens)
}

func TestSessionHandler_HandleGet_NotFound(t *testing.T) {
	h, _ := newSessionHandler(t)

	r := httptest.NewRequest(http.MethodGet, "/v1/sessions/ghost", nil)
	r.SetPathValue("id", "ghost")
	w := httptest.NewRecorder()
	h.HandleGet(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNotFound, resp.Error.Code)
}

func TestSessionHandler_HandleGet_MissingID(t *testing.T) {
	h, _ := newSessionHandler(t)

	r := httptest.NewRequest(http.MethodGet, "/v1/sessions/", nil)
	w := httptest.NewRecorder()
	h.HandleGet(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionHandler_HandleDelete(t *testing.T) {
	h, svc := newSessionHandler(t)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodDelete, "/v1/sessions/"+session.ID, nil)
	r.SetPathValue("id", session.ID)
	w := httptest.NewRecorder()
	h.HandleDelete(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)

	// 删除后不可再查。
	_, err = svc.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
}

func TestSessionHandler_HandleDelete_NotFound(t *testing.T) {
	h, _ := newSessionHandler(t)

	r := httptest.NewRequest(http.MethodDelete, "/v1/sessions/ghost", nil)
	r.SetPathValue("id", "ghost")
	w := httptest.NewRecorder()
	h.HandleDelete(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
