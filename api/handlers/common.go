package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kmaurinjones/Ontario-Building-Code-Chat/llm"
)

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	HTTPStatus int    `json:"-"` // 不序列化到 JSON
}

// API 层错误码。Provider 产生的错误直接透传 llm.ErrorCode，
// 这里只覆盖请求解析、认证与资源定位这类接口自身的失败。
const (
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeNotFound        = "NOT_FOUND"
	CodeInternal        = "INTERNAL"
)

// maxRequestBody 请求体上限
const maxRequestBody = 1 << 20 // 1 MB

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// 响应头已发出，编码失败时无法再改写状态码
		return
	}
}

// WriteSuccess 写入成功响应
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: requestIDOf(w),
	})
}

// WriteError 写入错误响应（从 llm.Error 透传）
func WriteError(w http.ResponseWriter, err *llm.Error, logger *zap.Logger) {
	status := err.HTTPStatus
	if status == 0 {
		status = mapErrorCodeToHTTPStatus(err.Code)
	}

	errorInfo := &ErrorInfo{
		Code:       string(err.Code),
		Message:    err.Message,
		Retryable:  err.Retryable,
		HTTPStatus: status,
	}
	if err.Provider != "" {
		errorInfo.Details = "provider: " + err.Provider
	}

	if logger != nil {
		logger.Error("API error",
			zap.String("code", string(err.Code)),
			zap.String("message", err.Message),
			zap.Int("status", status),
			zap.Bool("retryable", err.Retryable),
			zap.String("provider", err.Provider),
		)
	}

	WriteJSON(w, status, Response{
		Success:   false,
		Error:     errorInfo,
		Timestamp: time.Now(),
		RequestID: requestIDOf(w),
	})
}

// WriteErrorMessage 写入接口自身的错误（非 Provider 错误）
func WriteErrorMessage(w http.ResponseWriter, status int, code, message string, logger *zap.Logger) {
	if logger != nil {
		logger.Warn("API error",
			zap.String("code", code),
			zap.String("message", message),
			zap.Int("status", status),
		)
	}

	WriteJSON(w, status, Response{
		Success:   false,
		Error:     &ErrorInfo{Code: code, Message: message, HTTPStatus: status},
		Timestamp: time.Now(),
		RequestID: requestIDOf(w),
	})
}

// requestIDOf 取中间件提前写入响应头的请求 ID，回填到响应体。
func requestIDOf(w http.ResponseWriter) string {
	return w.Header().Get("X-Request-ID")
}

// =============================================================================
// 🔄 错误码到 HTTP 状态码映射
// =============================================================================

func mapErrorCodeToHTTPStatus(code llm.ErrorCode) int {
	switch code {
	// 4xx 客户端错误
	case llm.ErrInvalidRequest:
		return http.StatusBadRequest
	case llm.ErrUnauthorized:
		return http.StatusUnauthorized
	case llm.ErrForbidden:
		return http.StatusForbidden
	case llm.ErrRateLimited:
		return http.StatusTooManyRequests
	case llm.ErrQuotaExceeded:
		return http.StatusPaymentRequired
	case llm.ErrContentFiltered:
		return http.StatusUnprocessableEntity

	// 5xx 服务端错误
	case llm.ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	case llm.ErrModelOverloaded, llm.ErrProviderUnavailable:
		return http.StatusServiceUnavailable
	case llm.ErrUpstreamError:
		return http.StatusBadGateway

	// 默认
	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// 🛡️ 请求验证辅助函数
// =============================================================================

// DecodeJSONBody 解码 JSON 请求体（1 MB 上限 + 严格模式）
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}, logger *zap.Logger) error {
	if r.Body == nil {
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "request body is empty", logger)
		return errors.New("request body is empty")
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields() // 严格模式：拒绝未知字段

	if err := decoder.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteErrorMessage(w, http.StatusRequestEntityTooLarge, CodeInvalidRequest,
				"request body exceeds 1 MB", logger)
			return fmt.Errorf("request body too large: %w", err)
		}
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON body", logger)
		return fmt.Errorf("decode request body: %w", err)
	}

	return nil
}

// ValidateContentType 验证 Content-Type 为 application/json
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		WriteErrorMessage(w, http.StatusUnsupportedMediaType, CodeInvalidRequest,
			"Content-Type must be application/json", logger)
		return false
	}
	return true
}

// =============================================================================
// 📊 响应包装器（用于捕获状态码）
// =============================================================================

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader 重写 WriteHeader 以捕获状态码
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write 重写 Write 以标记已写入
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Flush 透传 Flush，SSE 流式输出依赖它
func (rw *ResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack 透传 Hijack，WebSocket 升级依赖它
func (rw *ResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
}
