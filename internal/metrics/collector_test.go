package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.httpRequestDuration)
	assert.NotNil(t, collector.turnsTotal)
	assert.NotNil(t, collector.turnTokens)
	assert.NotNil(t, collector.turnCost)
	assert.NotNil(t, collector.sessionsActive)
}

func TestNewCollector_NilLogger(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), nil)
	assert.NotNil(t, collector)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 记录请求
	collector.RecordHTTPRequest("GET", "/healthz", 200, 100*time.Millisecond, 1024, 2048)

	// 验证指标
	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, count, 0)

	// 再记录一次相同的请求
	collector.RecordHTTPRequest("GET", "/healthz", 200, 50*time.Millisecond, 512, 1024)

	// 验证计数增加
	value := testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/healthz", "2xx"))
	assert.Equal(t, 2.0, value)
}

func TestCollector_RecordTurn(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 记录一轮问答
	collector.RecordTurn(TurnStats{
		Model:                     "gpt-4o-mini",
		Status:                    "success",
		Duration:                  2 * time.Second,
		ExpansionPromptTokens:     80,
		ExpansionCompletionTokens: 40,
		ContextTokens:             3000,
		PromptTokens:              3200,
		CompletionTokens:          150,
		CostUSD:                   0.00057,
	})

	// 验证指标
	count := testutil.CollectAndCount(collector.turnsTotal)
	assert.Greater(t, count, 0)

	prompt := testutil.ToFloat64(collector.turnTokens.WithLabelValues("gpt-4o-mini", "prompt"))
	assert.Equal(t, 3200.0, prompt)

	cost := testutil.ToFloat64(collector.turnCost.WithLabelValues("gpt-4o-mini"))
	assert.InDelta(t, 0.00057, cost, 1e-9)
}

func TestCollector_RecordTurn_Accumulates(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	stats := TurnStats{Model: "gpt-4o-mini", Status: "success", CompletionTokens: 10}
	collector.RecordTurn(stats)
	collector.RecordTurn(stats)

	completion := testutil.ToFloat64(collector.turnTokens.WithLabelValues("gpt-4o-mini", "completion"))
	assert.Equal(t, 20.0, completion)

	turns := testutil.ToFloat64(collector.turnsTotal.WithLabelValues("gpt-4o-mini", "success"))
	assert.Equal(t, 2.0, turns)
}

func TestCollector_RecordRateLimited(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordRateLimited("/v1/chat")
	collector.RecordRateLimited("/v1/chat")

	value := testutil.ToFloat64(collector.rateLimitedTotal.WithLabelValues("/v1/chat"))
	assert.Equal(t, 2.0, value)
}

func TestCollector_SessionMetrics(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 会话创建计数
	collector.RecordSessionCreated()
	collector.RecordSessionCreated()
	created := testutil.ToFloat64(collector.sessionsCreatedTotal)
	assert.Equal(t, 2.0, created)

	// 活跃会话 Gauge
	collector.SetActiveSessions(7)
	active := testutil.ToFloat64(collector.sessionsActive)
	assert.Equal(t, 7.0, active)

	// WebSocket 连接 Gauge
	collector.WSConnectionOpened()
	collector.WSConnectionOpened()
	collector.WSConnectionClosed()
	ws := testutil.ToFloat64(collector.wsConnections)
	assert.Equal(t, 1.0, ws)
}

func TestCollector_RecordDBConnections(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 更新连接池状态
	collector.RecordDBConnections("archive", 10, 5)

	open := testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("archive"))
	assert.Equal(t, 10.0, open)

	idle := testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("archive"))
	assert.Equal(t, 5.0, idle)
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 并发记录多个指标
	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			collector.RecordHTTPRequest("POST", "/v1/chat", 200, 100*time.Millisecond, 1024, 2048)
			collector.RecordTurn(TurnStats{Model: "gpt-4o-mini", Status: "success", CompletionTokens: 5})
			collector.RecordSessionCreated()
			done <- true
		}()
	}

	// 等待所有 goroutine 完成
	for i := 0; i < 10; i++ {
		<-done
	}

	// 验证指标被正确记录
	httpCount := testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/v1/chat", "2xx"))
	assert.Equal(t, 10.0, httpCount)

	turnCount := testutil.ToFloat64(collector.turnsTotal.WithLabelValues("gpt-4o-mini", "success"))
	assert.Equal(t, 10.0, turnCount)

	created := testutil.ToFloat64(collector.sessionsCreatedTotal)
	assert.Equal(t, 10.0, created)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "2xx", statusCode(204))
	assert.Equal(t, "3xx", statusCode(301))
	assert.Equal(t, "4xx", statusCode(429))
	assert.Equal(t, "5xx", statusCode(503))
	assert.Equal(t, "unknown", statusCode(99))
}
