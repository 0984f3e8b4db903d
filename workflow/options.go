package workflow

import (
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/idempotency"
	"github.com/BaSui01/nodeflow/resilience"
)

// MetricsRecorder receives execution measurements.
type MetricsRecorder interface {
	RecordRun(workflowID string, status RunStatus, duration time.Duration, cost float64)
	RecordNode(nodeType string, success bool, duration time.Duration, cost float64, attempts int)
	RecordRetry(nodeType string)
	RecordHeartbeat(nodeType string)
	RecordRestore(nodeType string)
}

type noopMetrics struct{}

func (noopMetrics) RecordRun(string, RunStatus, time.Duration, float64) {}
func (noopMetrics) RecordNode(string, bool, time.Duration, float64, int) {}
func (noopMetrics) RecordRetry(string) {}
func (noopMetrics) RecordHeartbeat(string) {}
func (noopMetrics) RecordRestore(string) {}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithCheckpointStore sets the durable store. Defaults to an in-memory store.
func WithCheckpointStore(store CheckpointStore) ExecutorOption {
	return func(e *Executor) { e.store = store }
}

// WithRetryPolicy sets the base retry policy. ShouldRetry is always replaced
// by transient/terminal classification.
func WithRetryPolicy(policy *resilience.RetryPolicy) ExecutorOption {
	return func(e *Executor) { e.retryPolicy = policy }
}

// WithCircuitBreakers guards every node type with a breaker from reg.
func WithCircuitBreakers(reg *resilience.CircuitBreakerRegistry) ExecutorOption {
	return func(e *Executor) { e.breakers = reg }
}

// WithIdempotency caches successful node results under their idempotency key
// for ttl, so a node that succeeded but was never checkpointed is not
// invoked again.
func WithIdempotency(m idempotency.Manager, ttl time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.cache = m
		e.cacheTTL = ttl
	}
}

// WithHeartbeatMonitor reports in-flight nodes and their heartbeats to m.
func WithHeartbeatMonitor(m *resilience.HeartbeatMonitor) ExecutorOption {
	return func(e *Executor) { e.monitor = m }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithTracerProvider sets the tracer provider used for run and node spans.
func WithTracerProvider(tp trace.TracerProvider) ExecutorOption {
	return func(e *Executor) { e.tracer = tp.Tracer(tracerName) }
}

// WithExecutorEventEmitter receives events of every run.
func WithExecutorEventEmitter(emit EventEmitter) ExecutorOption {
	return func(e *Executor) { e.emitter = emit }
}

// WithExecutorValidator replaces the validator built from the registry.
func WithExecutorValidator(v *Validator) ExecutorOption {
	return func(e *Executor) { e.validator = v }
}

// WithResumeLease makes Resume reject a run still marked running whose record
// was refreshed less than d ago; such a run is assumed to be owned by another
// process. While a run executes, its record is refreshed every d/3. Zero
// disables both.
func WithResumeLease(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.resumeLease = d }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// RunOption configures one Execute call.
type RunOption func(*runConfig)

type runConfig struct {
	runID string
}

// WithRunID uses id instead of a generated run id.
func WithRunID(id string) RunOption {
	return func(c *runConfig) { c.runID = id }
}
