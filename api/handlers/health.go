package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/resilience"
)

// =============================================================================
// 🏥 存活与就绪
// =============================================================================

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"

	readyTimeout = 5 * time.Second
)

// HealthCheck 是 /ready 的一项依赖检查
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// AdvisoryCheck 失败只让 /ready 降级为 degraded，仍返回 200
type AdvisoryCheck interface {
	HealthCheck
	Advisory() bool
}

// DetailedCheck 的结果附带结构化细节；实现后 CheckDetails 取代 Check
type DetailedCheck interface {
	HealthCheck
	CheckDetails(ctx context.Context) (map[string]any, error)
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status    string                 `json:"status"` // healthy | degraded | unhealthy
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status   string         `json:"status"` // pass | fail
	Advisory bool           `json:"advisory,omitempty"`
	Message  string         `json:"message,omitempty"`
	Latency  string         `json:"latency,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// HealthHandler 服务 /health、/ready 与 /version
type HealthHandler struct {
	logger       *zap.Logger
	started      time.Time
	checkTimeout time.Duration

	mu     sync.RWMutex
	checks []HealthCheck
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:       logger,
		started:      time.Now(),
		checkTimeout: 2 * time.Second,
	}
}

// RegisterCheck 注册就绪检查；同名检查后注册的覆盖先注册的结果
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// HandleHealth 只报告进程存活，不触碰任何依赖
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    statusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.started).Truncate(time.Second).String(),
	})
}

// HandleHealthz 是 HandleHealth 的 Kubernetes 别名
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	h.HandleHealth(w, r)
}

// HandleReady 并发执行所有检查。关键检查失败返回 503；
// 只有 advisory 检查失败时返回 200 与 degraded。
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(i int, check HealthCheck) {
			defer wg.Done()
			results[i] = h.run(ctx, check)
		}(i, check)
	}
	wg.Wait()

	status := HealthStatus{
		Status:    statusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.started).Truncate(time.Second).String(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	for i, check := range checks {
		res := results[i]
		status.Checks[check.Name()] = res
		if res.Status == "pass" {
			continue
		}
		if !res.Advisory {
			status.Status = statusUnhealthy
		} else if status.Status == statusHealthy {
			status.Status = statusDegraded
		}
	}

	code := http.StatusOK
	if status.Status == statusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

func (h *HealthHandler) run(ctx context.Context, check HealthCheck) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.checkTimeout)
	defer cancel()

	res := CheckResult{Status: "pass"}
	if a, ok := check.(AdvisoryCheck); ok {
		res.Advisory = a.Advisory()
	}

	start := time.Now()
	var err error
	if d, ok := check.(DetailedCheck); ok {
		res.Details, err = d.CheckDetails(ctx)
	} else {
		err = check.Check(ctx)
	}
	latency := time.Since(start)
	res.Latency = latency.String()

	if err != nil {
		res.Status = "fail"
		res.Message = err.Error()
		h.logger.Warn("readiness check failed",
			zap.String("check", check.Name()),
			zap.Bool("advisory", res.Advisory),
			zap.Duration("latency", latency),
			zap.Error(err))
	}
	return res
}

// HandleVersion 处理 /version 请求
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, r, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// =============================================================================
// 🔧 内置检查
// =============================================================================

// PingCheck 以一个 ping 函数实现关键检查：检查点存储、Redis、数据库连接池
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck 创建 ping 检查
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (c *PingCheck) Name() string { return c.name }

func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }

// BreakerCheck 报告每个节点类型的熔断状态；任一熔断打开时失败（advisory）
type BreakerCheck struct {
	breakers *resilience.CircuitBreakerRegistry
}

// NewBreakerCheck 创建熔断状态检查
func NewBreakerCheck(breakers *resilience.CircuitBreakerRegistry) *BreakerCheck {
	return &BreakerCheck{breakers: breakers}
}

func (c *BreakerCheck) Name() string { return "circuit_breakers" }

func (c *BreakerCheck) Advisory() bool { return true }

func (c *BreakerCheck) Check(ctx context.Context) error {
	_, err := c.CheckDetails(ctx)
	return err
}

// CheckDetails 的细节为 node type -> closed/open/half_open
func (c *BreakerCheck) CheckDetails(context.Context) (map[string]any, error) {
	states := c.breakers.States()
	details := make(map[string]any, len(states))
	var open []string
	for nodeType, state := range states {
		details[nodeType] = state.String()
		if state == resilience.CircuitOpen {
			open = append(open, nodeType)
		}
	}
	if len(open) > 0 {
		sort.Strings(open)
		return details, fmt.Errorf("circuit open for %s", strings.Join(open, ", "))
	}
	return details, nil
}

// CapacityCheck 在运行槽位耗尽时失败（advisory）：新的 POST /v1/runs 会得到 TOO_MANY_RUNS
type CapacityCheck struct {
	active func() int
	limit  int
}

// NewCapacityCheck 创建并发容量检查；limit <= 0 表示不限
func NewCapacityCheck(active func() int, limit int) *CapacityCheck {
	return &CapacityCheck{active: active, limit: limit}
}

func (c *CapacityCheck) Name() string { return "run_capacity" }

func (c *CapacityCheck) Advisory() bool { return true }

func (c *CapacityCheck) Check(ctx context.Context) error {
	_, err := c.CheckDetails(ctx)
	return err
}

func (c *CapacityCheck) CheckDetails(context.Context) (map[string]any, error) {
	n := c.active()
	details := map[string]any{"active_runs": n}
	if c.limit <= 0 {
		return details, nil
	}
	details["max_concurrent_runs"] = c.limit
	if n >= c.limit {
		return details, fmt.Errorf("all %d run slots in use", c.limit)
	}
	return details, nil
}
