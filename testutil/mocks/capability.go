// MockCapability 的节点能力测试模拟实现。
//
// 支持固定输出、瞬时/终止错误注入、延迟、心跳与调用记录。
package mocks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BaSui01/nodeflow/resilience"
	"github.com/BaSui01/nodeflow/workflow"
)

// MockCall 记录单次 Execute 调用
type MockCall struct {
	NodeID         string
	Attempt        int
	Inputs         map[string]any
	IdempotencyKey string
}

// MockCapability 是 workflow.NodeCapability 的模拟实现。
// 同一个实例可以被工厂多次返回，调用记录在实例间共享。
type MockCapability struct {
	mu sync.Mutex

	outputs      map[string]any
	outputFunc   func(inputs map[string]any) map[string]any
	cost         float64
	estimate     float64
	err          error
	failTimes    int
	failErr      error
	delay        time.Duration
	heartbeats   []float64
	configErrors []error

	calls []MockCall
}

// NewMockCapability 创建新的 MockCapability
func NewMockCapability() *MockCapability {
	return &MockCapability{outputs: map[string]any{}}
}

// WithOutputs 设置固定输出
func (m *MockCapability) WithOutputs(outputs map[string]any) *MockCapability {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs = outputs
	return m
}

// WithOutputFunc 根据输入计算输出
func (m *MockCapability) WithOutputFunc(fn func(inputs map[string]any) map[string]any) *MockCapability {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputFunc = fn
	return m
}

// WithCost 设置每次成功调用的成本，同时作为估算值
func (m *MockCapability) WithCost(cost float64) *MockCapability {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cost = cost
	m.estimate = cost
	return m
}

// WithEstimate 单独设置估算成本
func (m *MockCapability) WithEstimate(estimate float64) *MockCapability {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.estimate = estimate
	return m
}

// WithError 每次调用都返回 err
func (m *MockCapability) WithError(err error) *MockCapability {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithFailTimes 前 n 次调用返回 err，之后成功
func (m *MockCapability) WithFailTimes(n int, err error) *MockCapability {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTimes = n
	m.failErr = err
	return m
}

// WithTransientFailures 前 n 次调用返回瞬时错误
func (m *MockCapability) WithTransientFailures(n int) *MockCapability {
	return m.WithFailTimes(n, resilience.Transient(errors.New("upstream busy")))
}

// WithDelay 设置执行延迟，期间观察 ctx 取消
func (m *MockCapability) WithDelay(d time.Duration) *MockCapability {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithHeartbeats 执行期间按给定进度发送心跳
func (m *MockCapability) WithHeartbeats(percents ...float64) *MockCapability {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats = percents
	return m
}

// WithConfigErrors 设置 ValidateStaticConfig 返回的错误
func (m *MockCapability) WithConfigErrors(errs ...error) *MockCapability {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configErrors = errs
	return m
}

// Execute 实现 workflow.NodeCapability
func (m *MockCapability) Execute(ctx context.Context, inputs map[string]any, ec *workflow.ExecutionContext) (*workflow.NodeExecutionResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{
		NodeID:         ec.NodeID,
		Attempt:        ec.Attempt,
		Inputs:         copyMap(inputs),
		IdempotencyKey: ec.IdempotencyKey,
	})
	callNo := len(m.calls)
	delay := m.delay
	heartbeats := m.heartbeats
	err := m.err
	if callNo <= m.failTimes {
		err = m.failErr
	}
	outputs := m.outputs
	if m.outputFunc != nil {
		outputs = m.outputFunc(inputs)
	}
	cost := m.cost
	m.mu.Unlock()

	for _, pct := range heartbeats {
		ec.Heartbeat("working", pct)
	}

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if err != nil {
		return nil, err
	}
	return workflow.Succeeded(copyMap(outputs), cost), nil
}

// EstimateCost 实现 workflow.NodeCapability
func (m *MockCapability) EstimateCost(map[string]any) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.estimate
}

// ValidateStaticConfig 实现 workflow.NodeCapability
func (m *MockCapability) ValidateStaticConfig() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configErrors
}

// Calls 返回调用记录副本
func (m *MockCapability) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount 返回调用次数
func (m *MockCapability) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset 清空调用记录
func (m *MockCapability) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Factory 返回总是产出该实例的工厂
func (m *MockCapability) Factory() workflow.Factory {
	return func(workflow.NodeDefinition) (workflow.NodeCapability, error) {
		return m, nil
	}
}

// Register 以 nodeType 注册到 registry
func (m *MockCapability) Register(registry *workflow.Registry, nodeType string) *MockCapability {
	registry.MustRegister(nodeType, m.Factory(), workflow.Metadata{Type: nodeType, Category: "test"})
	return m
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
