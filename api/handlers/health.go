package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// readyTimeout 就绪探针整体超时，所有检查共享
const readyTimeout = 5 * time.Second

// 探针状态取值
const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	checkPass       = "pass"
	checkFail       = "fail"
)

// HealthCheck 依赖检查（存储、缓存等）
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus /health 与 /ready 的响应体
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单项检查结果
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// VersionInfo 构建信息，由 main 在链接期注入
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
}

// HealthHandler 存活/就绪探针
type HealthHandler struct {
	logger *zap.Logger

	mu     sync.RWMutex
	checks []HealthCheck
}

// NewHealthHandler 创建探针处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{logger: logger}
}

// RegisterCheck 追加一项就绪检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	h.checks = append(h.checks, check)
	h.mu.Unlock()
}

// HandleHealth 存活探针：进程能响应即为 healthy，不触碰依赖
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{Status: statusHealthy, Timestamp: time.Now()})
}

// HandleReady 就绪探针：并发执行全部检查，任一失败返回 503
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			results[i] = h.run(ctx, check)
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Status:    statusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	for i, check := range checks {
		if results[i].Status == checkFail {
			status.Status = statusUnhealthy
		}
		status.Checks[check.Name()] = results[i]
	}

	code := http.StatusOK
	if status.Status == statusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

func (h *HealthHandler) run(ctx context.Context, check HealthCheck) CheckResult {
	start := time.Now()
	err := check.Check(ctx)
	latency := time.Since(start)
	if err == nil {
		return CheckResult{Status: checkPass, Latency: latency.String()}
	}
	h.logger.Warn("readiness check failed",
		zap.String("check", check.Name()),
		zap.Duration("latency", latency),
		zap.Error(err))
	return CheckResult{Status: checkFail, Message: err.Error(), Latency: latency.String()}
}

// HandleVersion 返回 /version 处理函数
func (h *HealthHandler) HandleVersion(info VersionInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, r, info)
	}
}

// PingFunc 将 ping 函数适配为 HealthCheck
type PingFunc struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck 以存储/Redis/Mongo 的 Ping 构造检查
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingFunc {
	return &PingFunc{name: name, ping: ping}
}

// Name 检查名
func (p *PingFunc) Name() string { return p.name }

// Check 执行 ping
func (p *PingFunc) Check(ctx context.Context) error { return p.ping(ctx) }
