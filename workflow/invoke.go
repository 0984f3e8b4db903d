package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/idempotency"
	"github.com/BaSui01/nodeflow/internal/xjson"
	"github.com/BaSui01/nodeflow/resilience"
	"github.com/BaSui01/nodeflow/types"
)

// executeNode invokes one node under the retry policy. It always returns a
// result; the error is the final classified failure, if any.
func (e *Executor) executeNode(ctx context.Context, rs *runState, node *NodeDefinition, inputs map[string]any) (*NodeExecutionResult, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.node", trace.WithAttributes(
		attribute.String("node.id", node.ID),
		attribute.String("node.type", node.Type),
	))
	defer span.End()

	logger := rs.logger.With(zap.String("node_id", node.ID), zap.String("node_type", node.Type))
	start := e.now()

	failed := func(err error, attempts int) (*NodeExecutionResult, error) {
		elapsed := e.now().Sub(start)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.RecordNode(node.Type, false, elapsed, 0, attempts)
		rs.emit(RunEvent{Type: EventNodeFailed, NodeID: node.ID, NodeType: node.Type, Attempt: attempts, Error: err.Error()})
		return &NodeExecutionResult{
			NodeID:   node.ID,
			NodeType: node.Type,
			Success:  false,
			Elapsed:  elapsed,
			Error:    err.Error(),
			Attempts: attempts,
		}, err
	}

	capability, err := e.registry.Instantiate(*node)
	if err != nil {
		return failed(resilience.Terminal(err), 0)
	}

	key, err := idempotency.Key(rs.record.RunID, node.ID, inputs)
	if err != nil {
		logger.Warn("cannot derive idempotency key", zap.Error(err))
		key = ""
	}

	if cached, ok := e.cachedResult(ctx, logger, key); ok {
		cached.NodeID = node.ID
		cached.NodeType = node.Type
		cached.Attempts = 0
		span.SetAttributes(attribute.Bool("node.cached", true))
		span.SetStatus(codes.Ok, "")
		rs.emit(RunEvent{Type: EventNodeCompleted, NodeID: node.ID, NodeType: node.Type, Cost: cached.Cost, Elapsed: cached.Elapsed})
		logger.Info("reusing cached node result", zap.String("idempotency_key", key))
		return cached, nil
	}

	if e.monitor != nil {
		e.monitor.Start(rs.record.RunID, node.ID, node.Type)
		defer e.monitor.Finish(rs.record.RunID, node.ID)
	}

	rs.emit(RunEvent{Type: EventNodeStarted, NodeID: node.ID, NodeType: node.Type, Attempt: 1})
	logger.Debug("executing node", zap.Int("inputs", len(inputs)))

	retryer := resilience.NewBackoffRetryer(e.policyFor(rs, node), logger)
	attempts := 0
	result, err := resilience.DoTyped(retryer, ctx, func(attempt int) (*NodeExecutionResult, error) {
		attempts = attempt
		return e.attempt(ctx, rs, node, capability, inputs, attempt, key)
	})
	if err != nil {
		return failed(err, attempts)
	}

	elapsed := e.now().Sub(start)
	result.NodeID = node.ID
	result.NodeType = node.Type
	result.Success = true
	result.Error = ""
	result.Attempts = attempts
	result.Restored = false
	if result.Elapsed <= 0 {
		result.Elapsed = elapsed
	}

	if e.cache != nil && key != "" {
		if err := e.cache.Set(context.WithoutCancel(ctx), key, result, e.cacheTTL); err != nil {
			logger.Warn("failed to cache node result", zap.Error(err))
		}
	}

	e.metrics.RecordNode(node.Type, true, result.Elapsed, result.Cost, attempts)
	span.SetAttributes(attribute.Int("node.attempts", attempts), attribute.Float64("node.cost", result.Cost))
	span.SetStatus(codes.Ok, "")
	rs.emit(RunEvent{Type: EventNodeCompleted, NodeID: node.ID, NodeType: node.Type, Attempt: attempts, Cost: result.Cost, Elapsed: result.Elapsed})
	logger.Info("node completed",
		zap.Int("attempts", attempts),
		zap.Float64("cost", result.Cost),
		zap.Duration("duration", result.Elapsed))
	return result, nil
}

// attempt performs a single invocation with a fresh ExecutionContext and a
// copy of the resolved inputs.
func (e *Executor) attempt(ctx context.Context, rs *runState, node *NodeDefinition, capability NodeCapability,
	inputs map[string]any, attempt int, key string) (*NodeExecutionResult, error) {
	var breaker *resilience.CircuitBreaker
	if e.breakers != nil {
		breaker = e.breakers.GetOrCreate(node.Type)
		if err := breaker.Allow(); err != nil {
			return nil, err
		}
	}

	attemptCtx := ctx
	if node.TimeoutMs > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, time.Duration(node.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	ec := &ExecutionContext{
		RunID:          rs.record.RunID,
		WorkflowID:     rs.record.WorkflowID,
		NodeID:         node.ID,
		NodeType:       node.Type,
		Attempt:        attempt,
		IdempotencyKey: key,
		Params:         node.Params.Clone(),
		Logger:         rs.logger.With(zap.String("node_id", node.ID), zap.Int("attempt", attempt)),
	}
	ec.heartbeat = func(stage string, percent float64) {
		if e.monitor != nil {
			e.monitor.Beat(rs.record.RunID, node.ID, stage, percent)
		}
		e.metrics.RecordHeartbeat(node.Type)
		rs.emit(RunEvent{Type: EventNodeHeartbeat, NodeID: node.ID, NodeType: node.Type, Attempt: attempt, Stage: stage, Percent: percent})
	}

	result, err := safeExecute(attemptCtx, capability, cloneValues(inputs), ec)
	if err == nil {
		switch {
		case result == nil:
			err = resilience.Terminal(errors.New("capability returned no result"))
		case !result.Success:
			msg := result.Error
			if msg == "" {
				msg = "node reported failure"
			}
			err = resilience.Terminal(errors.New(msg))
		}
	}

	if err != nil {
		if breaker != nil {
			if resilience.IsTransient(err) {
				breaker.RecordFailure()
			} else {
				breaker.Release()
			}
		}
		return nil, err
	}
	if breaker != nil {
		breaker.RecordSuccess()
	}

	outputs, err := normalizeValues(declaredOutputs(node, result.Outputs))
	if err != nil {
		return nil, resilience.Terminal(fmt.Errorf("node %s outputs are not JSON-encodable: %w", node.ID, err))
	}
	result.Outputs = outputs
	for _, slot := range rs.plan.requiredOutputs(node.ID) {
		if _, ok := result.Outputs[slot]; !ok {
			return nil, resilience.Terminal(types.Errorf(types.ErrCodeMissingOutput,
				"node %s produced no value for output %q", node.ID, slot))
		}
	}
	result.Cost += ec.Cost()
	return result, nil
}

// safeExecute turns a capability panic into a terminal failure.
func safeExecute(ctx context.Context, capability NodeCapability, inputs map[string]any, ec *ExecutionContext) (result *NodeExecutionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = resilience.Terminal(fmt.Errorf("capability panicked: %v", r))
		}
	}()
	return capability.Execute(ctx, inputs, ec)
}

// declaredOutputs keeps only values for declared output slots.
func declaredOutputs(node *NodeDefinition, produced map[string]any) map[string]any {
	out := make(map[string]any, len(node.Outputs))
	for _, slot := range node.Outputs {
		if v, ok := produced[slot.Name]; ok {
			out[slot.Name] = v
		}
	}
	return out
}

// policyFor derives the retry policy for one node: the executor's base policy,
// the node's overrides and transient-only retrying.
func (e *Executor) policyFor(rs *runState, node *NodeDefinition) *resilience.RetryPolicy {
	policy := e.retryPolicy.Clone()
	if o := node.Retry; o != nil {
		if o.MaxRetries != nil {
			policy.MaxRetries = *o.MaxRetries
		}
		if o.InitialDelayMs > 0 {
			policy.InitialDelay = time.Duration(o.InitialDelayMs) * time.Millisecond
		}
		if o.MaxDelayMs > 0 {
			policy.MaxDelay = time.Duration(o.MaxDelayMs) * time.Millisecond
		}
		if o.Multiplier >= 1 {
			policy.Multiplier = o.Multiplier
		}
	}
	policy.ShouldRetry = resilience.IsTransient
	base := e.retryPolicy.OnRetry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		e.metrics.RecordRetry(node.Type)
		rs.emit(RunEvent{Type: EventNodeRetry, NodeID: node.ID, NodeType: node.Type, Attempt: attempt, Error: err.Error()})
		if base != nil {
			base(attempt, err, delay)
		}
	}
	return policy
}

func (e *Executor) cachedResult(ctx context.Context, logger *zap.Logger, key string) (*NodeExecutionResult, bool) {
	if e.cache == nil || key == "" {
		return nil, false
	}
	raw, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("idempotency lookup failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var cached NodeExecutionResult
	if err := xjson.Unmarshal(raw, &cached); err != nil || !cached.Success {
		return nil, false
	}
	return &cached, true
}
