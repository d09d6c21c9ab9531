package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kmaurinjones/Ontario-Building-Code-Chat/config"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/internal/metrics"
)

// 响应包装器必须透传流式与升级接口，否则 SSE/WebSocket 在中间件链里失效
var (
	_ http.Flusher  = (*responseWriter)(nil)
	_ http.Hijacker = (*responseWriter)(nil)
	_ http.Flusher  = (*metricsResponseWriter)(nil)
	_ http.Hijacker = (*metricsResponseWriter)(nil)
)

var cmdNamespaceSeq uint64

// nextNamespace 返回进程内唯一的指标命名空间，避免重复注册 panic。
func nextNamespace() string {
	return fmt.Sprintf("cmdtest%d", atomic.AddUint64(&cmdNamespaceSeq, 1))
}

// counterValue 从默认 gatherer 读取计数器当前值。
func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metric:
		for _, m := range family.GetMetric() {
			got := make(map[string]string, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				got[l.GetName()] = l.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue metric
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := SecurityHeaders()(inner)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "1; mode=block", w.Header().Get("X-XSS-Protection"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestSecurityHeaders_ChainedWithOtherMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	handler := Chain(inner, SecurityHeaders(), RequestID())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	// SecurityHeaders should be present
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
	// RequestID should also be present
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestChain_OutermostFirst(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "inner")
	})

	handler := Chain(inner, tag("first"), tag("second"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"first", "second", "inner"}, order)
}

func TestRequestID_Generated(t *testing.T) {
	var fromCtx string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = RequestIDFromContext(r.Context())
	})

	w := httptest.NewRecorder()
	RequestID()(inner).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	id := w.Header().Get("X-Request-ID")
	assert.True(t, strings.HasPrefix(id, "req-"), "generated id should have req- prefix, got %q", id)
	assert.Equal(t, id, fromCtx)
}

func TestRequestID_PreservesClientValue(t *testing.T) {
	var fromCtx string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = RequestIDFromContext(r.Context())
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "req-client-supplied")
	w := httptest.NewRecorder()
	RequestID()(inner).ServeHTTP(w, r)

	assert.Equal(t, "req-client-supplied", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "req-client-supplied", fromCtx)
}

func TestRecovery(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	Recovery(zap.NewNop())(inner).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "internal server error")
	assert.Contains(t, w.Body.String(), `"code":"INTERNAL"`)
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/healthz", "/healthz"},
		{"/readyz", "/readyz"},
		{"/version", "/version"},
		{"/v1/chat", "/v1/chat"},
		{"/v1/chat/ws", "/v1/chat/ws"},
		{"/v1/auth/login", "/v1/auth/login"},
		{"/v1/sessions", "/v1/sessions"},
		{"/v1/sessions/2b51bcbe-08e4-4af3-9c0f-6a7d3d8e1f22", "/v1/sessions/:id"},
		{"/v1/sessions/deadbeefcafe", "/v1/sessions/:id"},
		{"/v1/sessions/12345", "/v1/sessions/:id"},
		{"/v1/sessions/short", "/v1/sessions/short"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePath(tt.path), "path %q", tt.path)
	}
}

func TestRateLimiter(t *testing.T) {
	ns := nextNamespace()
	collector := metrics.NewCollector(ns, zap.NewNop())

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RateLimiter(t.Context(), 1, 1, collector, zap.NewNop())(inner)

	// 同一 IP：突发额度 1，第二个请求被拒
	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/v1/chat", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/v1/chat", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Contains(t, second.Body.String(), `"code":"RATE_LIMITED"`)

	got := counterValue(t, ns+"_rate_limited_total", map[string]string{"path": "/v1/chat"})
	assert.Equal(t, float64(1), got)
}

func TestRateLimiter_SeparateIPs(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RateLimiter(t.Context(), 1, 1, nil, zap.NewNop())(inner)

	a := httptest.NewRequest(http.MethodGet, "/", nil)
	a.RemoteAddr = "10.0.0.1:1000"
	b := httptest.NewRequest(http.MethodGet, "/", nil)
	b.RemoteAddr = "10.0.0.2:1000"

	wa := httptest.NewRecorder()
	handler.ServeHTTP(wa, a)
	wb := httptest.NewRecorder()
	handler.ServeHTTP(wb, b)

	assert.Equal(t, http.StatusOK, wa.Code)
	assert.Equal(t, http.StatusOK, wb.Code)
}

func TestMetricsMiddleware_NormalizesPath(t *testing.T) {
	ns := nextNamespace()
	collector := metrics.NewCollector(ns, zap.NewNop())

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	})
	handler := MetricsMiddleware(collector)(inner)

	r := httptest.NewRequest(http.MethodGet, "/v1/sessions/2b51bcbe-08e4-4af3-9c0f-6a7d3d8e1f22", nil)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	got := counterValue(t, ns+"_http_requests_total", map[string]string{
		"method": "GET",
		"path":   "/v1/sessions/:id",
		"status": "2xx",
	})
	assert.Equal(t, float64(1), got)
}

func TestCORS_Wildcard(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := CORS([]string{"*"})(inner)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://anything.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_ExactOrigin(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := CORS([]string{"https://app.example.com"})(inner)

	t.Run("allowed origin echoed", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "Content-Type, Authorization", w.Header().Get("Access-Control-Allow-Headers"))
	})

	t.Run("other origin gets no header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Origin", "https://evil.example.com")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight answered with 204", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodOptions, "/", nil)
		r.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestCORS_EmptyConfigRejectsPreflight(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := CORS(nil)(inner)

	r := httptest.NewRequest(http.MethodOptions, "/", nil)
	r.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

// signToken 用给定算法与过期时间签发测试令牌。
func signToken(t *testing.T, method jwt.SigningMethod, secret string, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(method, jwt.RegisteredClaims{
		Subject:   "obcchat",
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestJWTAuth(t *testing.T) {
	const secret = "test-secret"
	authCfg := config.AuthConfig{Enabled: true, JWTSecret: secret}
	skipPaths := []string{"/healthz", "/v1/auth/login"}

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := JWTAuth(authCfg, skipPaths, true, zap.NewNop())(inner)

	t.Run("valid bearer token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
		r.Header.Set("Authorization", "Bearer "+signToken(t, jwt.SigningMethodHS256, secret, time.Now().Add(time.Hour)))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing header", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/chat", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), `"code":"UNAUTHENTICATED"`)
	})

	t.Run("expired token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
		r.Header.Set("Authorization", "Bearer "+signToken(t, jwt.SigningMethodHS256, secret, time.Now().Add(-time.Hour)))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
		r.Header.Set("Authorization", "Bearer "+signToken(t, jwt.SigningMethodHS256, "other-secret", time.Now().Add(time.Hour)))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unexpected signing method rejected", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
		r.Header.Set("Authorization", "Bearer "+signToken(t, jwt.SigningMethodHS384, secret, time.Now().Add(time.Hour)))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("query token accepted for websocket clients", func(t *testing.T) {
		token := signToken(t, jwt.SigningMethodHS256, secret, time.Now().Add(time.Hour))
		r := httptest.NewRequest(http.MethodGet, "/v1/chat/ws?token="+token, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("skip path bypasses auth", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestJWTAuth_QueryTokenDisabled(t *testing.T) {
	const secret = "test-secret"
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := JWTAuth(config.AuthConfig{Enabled: true, JWTSecret: secret}, nil, false, zap.NewNop())(inner)

	token := signToken(t, jwt.SigningMethodHS256, secret, time.Now().Add(time.Hour))
	r := httptest.NewRequest(http.MethodGet, "/v1/chat/ws?token="+token, nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
