package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kmaurinjones/Ontario-Building-Code-Chat/llm"
	"github.com/kmaurinjones/Ontario-Building-Code-Chat/rag"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthHandler 健康检查处理器
type HealthHandler struct {
	logger *zap.Logger
	checks []HealthCheck
	mu     sync.RWMutex
}

// HealthCheck 健康检查接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status  string `json:"status"` // "pass", "fail"
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger: logger.With(zap.String("component", "health_handler")),
		checks: make([]HealthCheck, 0),
	}
}

// RegisterCheck 注册健康检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealthz 处理 /healthz 请求（存活探针）
// @Summary 存活探针
// @Description 只确认进程在运行，不触碰任何依赖
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务存活"
// @Router /healthz [get]
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
	}

	WriteJSON(w, http.StatusOK, status)
}

// HandleReady 处理 /readyz 请求（就绪探针）
// @Summary 就绪探针
// @Description 逐项执行注册的依赖检查，任一失败返回 503
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务就绪"
// @Failure 503 {object} HealthStatus "依赖不可用"
// @Router /readyz [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult),
	}

	allHealthy := true
	for _, check := range checks {
		start := time.Now()
		err := check.Check(ctx)
		latency := time.Since(start)

		result := CheckResult{
			Status:  "pass",
			Latency: latency.String(),
		}

		if err != nil {
			result.Status = "fail"
			result.Message = err.Error()
			allHealthy = false

			h.logger.Warn("health check failed",
				zap.String("check", check.Name()),
				zap.Error(err),
				zap.Duration("latency", latency),
			)
		}

		status.Checks[check.Name()] = result
	}

	if !allHealthy {
		status.Status = "unhealthy"
		WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}

	WriteJSON(w, http.StatusOK, status)
}

// HandleVersion 处理 /version 请求
// @Summary 版本信息
// @Description 返回构建版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} map[string]string "版本信息"
// @Router /version [get]
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info := map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		}

		WriteSuccess(w, info)
	}
}

// =============================================================================
// 🔧 内置健康检查实现
// =============================================================================

// ProviderHealthCheck 包装 LLM Provider 的健康检查。
type ProviderHealthCheck struct {
	provider llm.Provider
}

// NewProviderHealthCheck 创建 Provider 健康检查
func NewProviderHealthCheck(provider llm.Provider) *ProviderHealthCheck {
	return &ProviderHealthCheck{provider: provider}
}

func (c *ProviderHealthCheck) Name() string {
	return "provider_" + c.provider.Name()
}

func (c *ProviderHealthCheck) Check(ctx context.Context) error {
	status, err := c.provider.HealthCheck(ctx)
	if err != nil {
		return err
	}
	if !status.Healthy {
		return errors.New("provider reports unhealthy")
	}
	return nil
}

// VectorStoreHealthCheck 检查向量存储可达且集合非空。
// 空集合说明还没摄取语料，服务无法回答问题。
type VectorStoreHealthCheck struct {
	store rag.VectorStore
}

// NewVectorStoreHealthCheck 创建向量存储健康检查
func NewVectorStoreHealthCheck(store rag.VectorStore) *VectorStoreHealthCheck {
	return &VectorStoreHealthCheck{store: store}
}

func (c *VectorStoreHealthCheck) Name() string {
	return "vector_store"
}

func (c *VectorStoreHealthCheck) Check(ctx context.Context) error {
	count, err := c.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("count points: %w", err)
	}
	if count == 0 {
		return errors.New("collection is empty, run ingest first")
	}
	return nil
}

// PingHealthCheck 用 ping 函数包装任意依赖（Redis、归档数据库等）。
type PingHealthCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingHealthCheck 创建基于 ping 函数的健康检查
func NewPingHealthCheck(name string, ping func(ctx context.Context) error) *PingHealthCheck {
	return &PingHealthCheck{
		name: name,
		ping: ping,
	}
}

func (c *PingHealthCheck) Name() string {
	return c.name
}

func (c *PingHealthCheck) Check(ctx context.Context) error {
	return c.ping(ctx)
}
