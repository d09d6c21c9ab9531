package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 问答轮次指标
	turnsTotal   *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec
	turnTokens   *prometheus.CounterVec
	turnCost     *prometheus.CounterVec

	// 会话指标
	sessionsCreatedTotal prometheus.Counter
	sessionsActive       prometheus.Gauge
	wsConnections        prometheus.Gauge
	rateLimitedTotal     *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// TurnStats 单轮问答的指标样本
type TurnStats struct {
	Model                     string
	Status                    string
	Duration                  time.Duration
	ExpansionPromptTokens     int
	ExpansionCompletionTokens int
	ContextTokens             int
	PromptTokens              int
	CompletionTokens          int
	CostUSD                   float64
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 问答轮次指标
	c.turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Total number of chat turns",
		},
		[]string{"model", "status"},
	)

	c.turnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_turn_duration_seconds",
			Help:      "End-to-end chat turn duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"model"},
	)

	c.turnTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turn_tokens_total",
			Help:      "Total number of tokens consumed by chat turns",
		},
		[]string{"model", "type"}, // type: expansion_prompt, expansion_completion, context, prompt, completion
	)

	c.turnCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turn_cost_usd_total",
			Help:      "Total chat turn cost in USD",
		},
		[]string{"model"},
	)

	// 会话指标
	c.sessionsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Total number of sessions created",
		},
	)

	c.sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions currently stored",
		},
	)

	c.wsConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Number of open WebSocket connections",
		},
	)

	c.rateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the rate limiter",
		},
		[]string{"path"},
	)

	// 数据库指标
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// RecordRateLimited 记录被限流拒绝的请求
func (c *Collector) RecordRateLimited(path string) {
	c.rateLimitedTotal.WithLabelValues(path).Inc()
}

// =============================================================================
// 💬 问答轮次指标记录
// =============================================================================

// RecordTurn 记录一轮问答的结果与用量
func (c *Collector) RecordTurn(stats TurnStats) {
	c.turnsTotal.WithLabelValues(stats.Model, stats.Status).Inc()
	c.turnDuration.WithLabelValues(stats.Model).Observe(stats.Duration.Seconds())
	c.turnTokens.WithLabelValues(stats.Model, "expansion_prompt").Add(float64(stats.ExpansionPromptTokens))
	c.turnTokens.WithLabelValues(stats.Model, "expansion_completion").Add(float64(stats.ExpansionCompletionTokens))
	c.turnTokens.WithLabelValues(stats.Model, "context").Add(float64(stats.ContextTokens))
	c.turnTokens.WithLabelValues(stats.Model, "prompt").Add(float64(stats.PromptTokens))
	c.turnTokens.WithLabelValues(stats.Model, "completion").Add(float64(stats.CompletionTokens))
	c.turnCost.WithLabelValues(stats.Model).Add(stats.CostUSD)
}

// =============================================================================
// 👥 会话指标记录
// =============================================================================

// RecordSessionCreated 记录会话创建
func (c *Collector) RecordSessionCreated() {
	c.sessionsCreatedTotal.Inc()
}

// SetActiveSessions 更新当前存储的会话数
func (c *Collector) SetActiveSessions(n int) {
	c.sessionsActive.Set(float64(n))
}

// WSConnectionOpened 记录 WebSocket 连接建立
func (c *Collector) WSConnectionOpened() {
	c.wsConnections.Inc()
}

// WSConnectionClosed 记录 WebSocket 连接断开
func (c *Collector) WSConnectionClosed() {
	c.wsConnections.Dec()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录归档库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
