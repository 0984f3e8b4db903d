package resilience

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitState 熔断器状态
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig 熔断器配置
type CircuitBreakerConfig struct {
	// FailureThreshold 连续暂时性失败次数阈值
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	// RecoveryTimeout 打开后多久进入半开
	RecoveryTimeout time.Duration `json:"recovery_timeout" yaml:"recovery_timeout"`
	// HalfOpenMaxCalls 半开状态允许同时进行的探测调用数
	HalfOpenMaxCalls int `json:"half_open_max_calls" yaml:"half_open_max_calls"`
	// SuccessThreshold 半开状态下连续成功多少次后关闭
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold"`
}

// DefaultCircuitBreakerConfig 默认熔断器配置
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		RecoveryTimeout:   30 * time.Second,
		HalfOpenMaxCalls: 3,
		SuccessThreshold:  2,
	}
}

// CircuitBreakerEvent 状态变更事件
type CircuitBreakerEvent struct {
	NodeType  string       `json:"node_type"`
	OldState  CircuitState `json:"old_state"`
	NewState  CircuitState `json:"new_state"`
	Timestamp time.Time    `json:"timestamp"`
	Reason    string       `json:"reason"`
	Failures  int          `json:"failures"`
}

// CircuitBreakerEventHandler receives state transitions. Called synchronously
// outside the breaker lock.
type CircuitBreakerEventHandler func(event CircuitBreakerEvent)

// CircuitBreaker guards calls to one node type's external service.
type CircuitBreaker struct {
	nodeType        string
	config          CircuitBreakerConfig
	state           CircuitState
	failures        int
	successes       int
	trials          int
	halfOpenSince   time.Time
	lastFailureTime time.Time
	onChange        CircuitBreakerEventHandler
	logger          *zap.Logger
	now             func() time.Time
	mu              sync.Mutex
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(nodeType string, config CircuitBreakerConfig, onChange CircuitBreakerEventHandler, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultCircuitBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = def.RecoveryTimeout
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	return &CircuitBreaker{
		nodeType: nodeType,
		config:   config,
		state:    CircuitClosed,
		onChange: onChange,
		logger:   logger.With(zap.String("node_type", nodeType)),
		now:      time.Now,
	}
}

// Allow returns ErrCircuitOpen (wrapped) when the call must not proceed.
// Every nil return must be followed by exactly one of RecordSuccess,
// RecordFailure or Release.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	var event *CircuitBreakerEvent
	defer func() {
		cb.mu.Unlock()
		cb.emit(event)
	}()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		elapsed := cb.now().Sub(cb.lastFailureTime)
		if elapsed >= cb.config.RecoveryTimeout {
			event = cb.transitionTo(CircuitHalfOpen, "recovery timeout elapsed")
			cb.trials = 1
			cb.successes = 0
			cb.halfOpenSince = cb.now()
			return nil
		}
		return fmt.Errorf("node type %s: %d consecutive failures, retry after %v: %w",
			cb.nodeType, cb.failures, cb.config.RecoveryTimeout-elapsed, ErrCircuitOpen)
	case CircuitHalfOpen:
		if cb.trials < cb.config.HalfOpenMaxCalls {
			cb.trials++
			return nil
		}
		// 探测结果迟迟未上报（调用方崩溃或漏报），超时后视为丢失
		if cb.now().Sub(cb.halfOpenSince) >= cb.config.RecoveryTimeout {
			cb.logger.Warn("half-open trial calls unresolved, granting a new one",
				zap.Int("outstanding", cb.trials))
			cb.trials = 1
			cb.halfOpenSince = cb.now()
			return nil
		}
		return fmt.Errorf("node type %s: half-open call limit %d reached: %w",
			cb.nodeType, cb.config.HalfOpenMaxCalls, ErrCircuitOpen)
	default:
		return fmt.Errorf("unknown circuit state %d", cb.state)
	}
}

// RecordSuccess 记录成功
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	var event *CircuitBreakerEvent
	defer func() {
		cb.mu.Unlock()
		cb.emit(event)
	}()

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.releaseTrial()
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			event = cb.transitionTo(CircuitClosed, fmt.Sprintf("%d consecutive successes in half-open", cb.successes))
			cb.failures = 0
			cb.successes = 0
			cb.trials = 0
		}
	}
}

// Release ends a call admitted by Allow whose outcome says nothing about the
// service's health: a terminal error, a cancellation or a node-reported
// failure. In half-open it frees the trial slot without changing state.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitHalfOpen {
		cb.releaseTrial()
	}
}

// releaseTrial 必须在锁内调用
func (cb *CircuitBreaker) releaseTrial() {
	if cb.trials > 0 {
		cb.trials--
	}
}

// RecordFailure 记录暂时性失败；终止性失败调用 Release
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	var event *CircuitBreakerEvent
	defer func() {
		cb.mu.Unlock()
		cb.emit(event)
	}()

	cb.failures++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			event = cb.transitionTo(CircuitOpen, fmt.Sprintf("%d consecutive failures", cb.failures))
		}
	case CircuitHalfOpen:
		cb.successes = 0
		cb.trials = 0
		event = cb.transitionTo(CircuitOpen, "failure in half-open state")
	}
}

// State 当前状态
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures 当前连续失败次数
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset 手动复位
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	var event *CircuitBreakerEvent
	defer func() {
		cb.mu.Unlock()
		cb.emit(event)
	}()

	if cb.state != CircuitClosed {
		event = cb.transitionTo(CircuitClosed, "manual reset")
	}
	cb.failures = 0
	cb.successes = 0
	cb.trials = 0
}

// transitionTo 必须在锁内调用
func (cb *CircuitBreaker) transitionTo(newState CircuitState, reason string) *CircuitBreakerEvent {
	oldState := cb.state
	cb.state = newState

	cb.logger.Info("circuit breaker state change",
		zap.String("old_state", oldState.String()),
		zap.String("new_state", newState.String()),
		zap.String("reason", reason),
		zap.Int("failures", cb.failures))

	return &CircuitBreakerEvent{
		NodeType:  cb.nodeType,
		OldState:  oldState,
		NewState:  newState,
		Timestamp: cb.now(),
		Reason:    reason,
		Failures:  cb.failures,
	}
}

func (cb *CircuitBreaker) emit(event *CircuitBreakerEvent) {
	if event != nil && cb.onChange != nil {
		cb.onChange(*event)
	}
}

// CircuitBreakerRegistry 按节点类型管理熔断器
type CircuitBreakerRegistry struct {
	breakers map[string]*CircuitBreaker
	config   CircuitBreakerConfig
	onChange CircuitBreakerEventHandler
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewCircuitBreakerRegistry 创建熔断器注册表
func NewCircuitBreakerRegistry(config CircuitBreakerConfig, onChange CircuitBreakerEventHandler, logger *zap.Logger) *CircuitBreakerRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
		onChange: onChange,
		logger:   logger.With(zap.String("component", "circuit_breaker")),
	}
}

// GetOrCreate 获取或创建节点类型的熔断器
func (r *CircuitBreakerRegistry) GetOrCreate(nodeType string) *CircuitBreaker {
	r.mu.RLock()
	if cb, ok := r.breakers[nodeType]; ok {
		r.mu.RUnlock()
		return cb
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// 双重检查
	if cb, ok := r.breakers[nodeType]; ok {
		return cb
	}
	cb := NewCircuitBreaker(nodeType, r.config, r.onChange, r.logger)
	r.breakers[nodeType] = cb
	return cb
}

// States returns a snapshot keyed by node type.
func (r *CircuitBreakerRegistry) States() map[string]CircuitState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make(map[string]CircuitState, len(r.breakers))
	for t, cb := range r.breakers {
		states[t] = cb.State()
	}
	return states
}

// NodeTypes lists node types with a breaker, sorted.
func (r *CircuitBreakerRegistry) NodeTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.breakers))
	for t := range r.breakers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ResetAll 复位全部熔断器
func (r *CircuitBreakerRegistry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cb := range r.breakers {
		cb.Reset()
	}
}
