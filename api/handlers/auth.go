package handlers

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/kmaurinjones/Ontario-Building-Code-Chat/api"
)

// =============================================================================
// 🔐 认证 Handler
// =============================================================================

// AuthHandler 口令登录处理器。口令本身不落盘，配置里只存
// SHA-256 摘要；登录成功签发 HS256 JWT。
type AuthHandler struct {
	passwordHash string // 口令的 SHA-256 摘要（十六进制小写）
	jwtSecret    []byte
	tokenTTL     time.Duration
	logger       *zap.Logger
}

// NewAuthHandler 创建认证处理器。passwordHash 为口令的 SHA-256
// 十六进制摘要，大小写不敏感。
func NewAuthHandler(passwordHash, jwtSecret string, tokenTTL time.Duration, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		passwordHash: strings.ToLower(passwordHash),
		jwtSecret:    []byte(jwtSecret),
		tokenTTL:     tokenTTL,
		logger:       logger.With(zap.String("component", "auth_handler")),
	}
}

// HandleLogin 处理口令登录
// @Summary 口令登录
// @Description 用访问口令换取 Bearer JWT
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body api.LoginRequest true "登录请求"
// @Success 200 {object} Response{data=api.LoginResponse} "登录成功"
// @Failure 400 {object} Response "无效请求"
// @Failure 401 {object} Response "口令错误"
// @Router /v1/auth/login [post]
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.LoginRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if req.Password == "" {
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "password is required", h.logger)
		return
	}

	if h.passwordHash == "" || len(h.jwtSecret) == 0 {
		WriteErrorMessage(w, http.StatusServiceUnavailable, CodeInternal,
			"authentication is not configured", h.logger)
		return
	}

	sum := sha256.Sum256([]byte(req.Password))
	digest := hex.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(digest), []byte(h.passwordHash)) != 1 {
		h.logger.Warn("login rejected", zap.String("remote_addr", r.RemoteAddr))
		WriteErrorMessage(w, http.StatusUnauthorized, CodeUnauthenticated, "invalid password", h.logger)
		return
	}

	now := time.Now()
	expiresAt := now.Add(h.tokenTTL)
	claims := jwt.MapClaims{
		"sub": "obcchat",
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.jwtSecret)
	if err != nil {
		h.logger.Error("sign token failed", zap.Error(err))
		WriteErrorMessage(w, http.StatusInternalServerError, CodeInternal, "failed to sign token", h.logger)
		return
	}

	h.logger.Info("login succeeded", zap.Time("expires_at", expiresAt))
	WriteSuccess(w, api.LoginResponse{Token: token, ExpiresAt: expiresAt})
}
