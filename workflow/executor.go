package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/idempotency"
	"github.com/BaSui01/nodeflow/resilience"
	"github.com/BaSui01/nodeflow/types"
)

const tracerName = "github.com/BaSui01/nodeflow/workflow"

// Executor runs validated workflows node by node in topological order,
// checkpointing every successful node before moving on. It keeps no per-run
// state of its own, so one Executor serves concurrent runs.
type Executor struct {
	registry    *Registry
	validator   *Validator
	store       CheckpointStore
	retryPolicy *resilience.RetryPolicy
	breakers    *resilience.CircuitBreakerRegistry
	cache       idempotency.Manager
	cacheTTL    time.Duration
	monitor     *resilience.HeartbeatMonitor
	metrics     MetricsRecorder
	tracer      trace.Tracer
	emitter     EventEmitter
	resumeLease time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// NewExecutor creates an executor bound to registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.With(zap.String("component", "executor"))
	if e.validator == nil {
		e.validator = NewValidator(registry, WithValidatorLogger(e.logger))
	}
	if e.store == nil {
		e.store = NewMemoryCheckpointStore()
	}
	if e.retryPolicy == nil {
		e.retryPolicy = resilience.DefaultRetryPolicy()
	}
	if e.metrics == nil {
		e.metrics = noopMetrics{}
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	return e
}

// Store returns the checkpoint store runs are persisted to.
func (e *Executor) Store() CheckpointStore {
	return e.store
}

// Validator returns the validator guarding Execute.
func (e *Executor) Validator() *Validator {
	return e.validator
}

// runState is everything one pass over a run needs.
type runState struct {
	record    *RunRecord
	plan      *inputPlan
	emit      func(RunEvent)
	logger    *zap.Logger
	start     time.Time
	stopLease func()
}

// Execute validates def and runs it. A definition with validation errors
// returns a *ValidationError and invokes nothing; so does a required input
// whose only source is a binding the caller left out (MISSING_INPUT). A node
// failure is reported
// in the returned report, not as an error; a non-nil error alongside a report
// means the checkpoint store failed.
func (e *Executor) Execute(ctx context.Context, def *Definition, inputs map[string]any, opts ...RunOption) (*ExecutionReport, error) {
	if err := e.ensureValid(def); err != nil {
		return nil, err
	}
	if missing := newInputPlan(def).unsuppliedBindings(def, inputs); len(missing) > 0 {
		return nil, types.Errorf(types.ErrCodeMissingInput,
			"workflow %q: no value supplied for required input %s", def.ID, strings.Join(missing, ", "))
	}
	values, err := normalizeValues(inputs)
	if err != nil {
		return nil, types.Errorf(types.ErrCodeInvalidRequest, "workflow %q: inputs are not JSON-encodable", def.ID).WithCause(err)
	}

	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	runID := cfg.runID
	if runID == "" {
		runID = uuid.NewString()
	} else {
		_, err := e.store.LoadRun(ctx, runID)
		switch {
		case err == nil:
			return nil, types.Errorf(types.ErrCodeInvalidRequest, "run %q already exists, resume it instead", runID)
		case !errors.Is(err, types.ErrRunNotFound):
			return nil, fmt.Errorf("check run %s: %w", runID, err)
		}
	}

	hash, err := def.Hash()
	if err != nil {
		return nil, err
	}

	now := e.now()
	record := &RunRecord{
		RunID:          runID,
		WorkflowID:     def.ID,
		Status:         RunRunning,
		Definition:     def,
		DefinitionHash: hash,
		Inputs:         values,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.SaveRun(ctx, record); err != nil {
		return nil, types.NewError(types.ErrCodeCheckpointFailed, "save run record").WithCause(err)
	}

	return e.run(ctx, record, nil)
}

// Resume continues a run from its persisted checkpoints. Nodes with a
// checkpoint are restored, never invoked; the first node without one (for
// example one that was in flight when the previous process died) runs from
// scratch. Resuming a completed run rebuilds its report without invoking
// anything.
func (e *Executor) Resume(ctx context.Context, runID string) (*ExecutionReport, error) {
	record, err := e.store.LoadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if record.Definition == nil {
		return nil, types.Errorf(types.ErrCodeRunNotResumable, "run %q has no stored definition", runID)
	}
	if record.Status == RunRunning && e.resumeLease > 0 {
		if age := e.now().Sub(record.UpdatedAt); age < e.resumeLease {
			return nil, types.Errorf(types.ErrCodeRunNotResumable,
				"run %q is still running elsewhere (record refreshed %v ago, lease expires in %v)",
				runID, age.Truncate(time.Millisecond), (e.resumeLease - age).Truncate(time.Millisecond))
		}
	}

	hash, err := record.Definition.Hash()
	if err != nil {
		return nil, err
	}
	if hash != record.DefinitionHash {
		return nil, types.Errorf(types.ErrCodeDefinitionChanged,
			"run %q: stored definition hash %s does not match %s", runID, record.DefinitionHash, hash)
	}
	if err := e.ensureValid(record.Definition); err != nil {
		return nil, err
	}

	checkpoints, err := e.store.LoadNodeCheckpoints(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoints of run %s: %w", runID, err)
	}

	record.Status = RunRunning
	record.FailedNodeID = ""
	record.Error = ""
	record.UpdatedAt = e.now()
	if err := e.store.SaveRun(ctx, record); err != nil {
		return nil, types.NewError(types.ErrCodeCheckpointFailed, "save run record").WithCause(err)
	}

	e.logger.Info("resuming run",
		zap.String("run_id", runID),
		zap.String("workflow_id", record.WorkflowID),
		zap.Int("checkpointed_nodes", len(checkpoints)))

	return e.run(ctx, record, checkpoints)
}

func (e *Executor) ensureValid(def *Definition) error {
	result := e.validator.Validate(def)
	if result.Valid {
		return nil
	}
	id := ""
	if def != nil {
		id = def.ID
	}
	e.logger.Warn("workflow rejected by validation",
		zap.String("workflow_id", id),
		zap.Int("errors", len(result.Errors)))
	return &ValidationError{WorkflowID: id, Issues: result.Errors}
}

func (e *Executor) run(ctx context.Context, record *RunRecord, checkpoints map[string]*NodeCheckpoint) (*ExecutionReport, error) {
	def := record.Definition

	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.id", def.ID),
		attribute.String("workflow.run_id", record.RunID),
		attribute.Int("workflow.nodes", len(def.Nodes)),
	))
	defer span.End()

	rs := &runState{
		record: record,
		plan:   newInputPlan(def),
		emit:   e.emitterFor(ctx, record),
		logger: e.logger.With(zap.String("run_id", record.RunID), zap.String("workflow_id", def.ID)),
		start:  e.now(),
	}
	rs.stopLease = e.renewLease(ctx, record)

	order := BuildGraph(def).TopologicalOrder()
	report := &ExecutionReport{
		RunID:       record.RunID,
		WorkflowID:  def.ID,
		NodeResults: make([]*NodeExecutionResult, 0, len(order)),
		StartedAt:   rs.start,
	}
	upstream := make(map[string]map[string]any, len(order))

	rs.logger.Info("starting workflow run", zap.Int("nodes", len(order)))
	rs.emit(RunEvent{Type: EventRunStarted})

	for _, nodeID := range order {
		node, _ := def.Node(nodeID)

		if cp, ok := checkpoints[nodeID]; ok {
			upstream[nodeID] = cp.Outputs
			report.record(&NodeExecutionResult{
				NodeID:   nodeID,
				NodeType: node.Type,
				Success:  true,
				Outputs:  cp.Outputs,
				Elapsed:  cp.Elapsed,
				Cost:     cp.Cost,
				Attempts: cp.Attempts,
				Restored: true,
			})
			e.metrics.RecordRestore(node.Type)
			rs.emit(RunEvent{Type: EventNodeRestored, NodeID: nodeID, NodeType: node.Type, Cost: cp.Cost})
			rs.logger.Debug("node restored from checkpoint", zap.String("node_id", nodeID))
			continue
		}

		if err := ctx.Err(); err != nil {
			report.Cancelled = true
			report.Error = fmt.Sprintf("run cancelled before node %s: %v", nodeID, err)
			return e.finish(ctx, span, rs, report, RunCancelled, nil)
		}

		inputs := rs.plan.resolve(node, upstream, record.Inputs)
		nr, nodeErr := e.executeNode(ctx, rs, node, inputs)
		if !nr.Success {
			report.record(nr)
			report.fail(nodeID, nr.Error)
			status := RunFailed
			if ctx.Err() != nil {
				report.Cancelled = true
				status = RunCancelled
			}
			rs.logger.Error("node execution failed",
				zap.String("node_id", nodeID),
				zap.String("node_type", node.Type),
				zap.Int("attempts", nr.Attempts),
				zap.Error(nodeErr))
			return e.finish(ctx, span, rs, report, status, nil)
		}

		cp := &NodeCheckpoint{
			RunID:       record.RunID,
			NodeID:      nodeID,
			NodeType:    node.Type,
			Outputs:     nr.Outputs,
			Cost:        nr.Cost,
			Elapsed:     nr.Elapsed,
			Attempts:    nr.Attempts,
			CompletedAt: e.now(),
		}
		// Persist even if the run was cancelled while the node finished.
		if err := e.store.SaveNodeCheckpoint(context.WithoutCancel(ctx), cp); err != nil {
			nr.Success = false
			nr.Error = fmt.Sprintf("checkpoint failed: %v", err)
			report.record(nr)
			report.fail(nodeID, nr.Error)
			cpErr := types.Errorf(types.ErrCodeCheckpointFailed, "persist checkpoint of node %s", nodeID).WithCause(err)
			return e.finish(ctx, span, rs, report, RunFailed, cpErr)
		}

		upstream[nodeID] = nr.Outputs
		report.record(nr)
	}

	report.Outputs = collectOutputs(def, upstream)
	report.Success = true
	return e.finish(ctx, span, rs, report, RunCompleted, nil)
}

// renewLease 每 resumeLease/3 重写一次运行记录的 UpdatedAt，直到 stop 返回。
// finish 在写最终记录前调用 stop。
func (e *Executor) renewLease(ctx context.Context, record *RunRecord) (stop func()) {
	if e.resumeLease <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(e.resumeLease / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				touched := *record
				touched.UpdatedAt = e.now()
				if err := e.store.SaveRun(ctx, &touched); err != nil && ctx.Err() == nil {
					e.logger.Warn("failed to renew run lease",
						zap.String("run_id", record.RunID), zap.Error(err))
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// collectOutputs reads declared outputs from persisted node outputs. Outputs
// whose source is missing are omitted.
func collectOutputs(def *Definition, upstream map[string]map[string]any) map[string]any {
	out := make(map[string]any, len(def.Outputs))
	for _, o := range def.Outputs {
		if v, ok := upstream[o.NodeID][o.Output]; ok {
			out[o.Name] = v
		}
	}
	return out
}

func (e *Executor) finish(ctx context.Context, span trace.Span, rs *runState, report *ExecutionReport, status RunStatus, runErr error) (*ExecutionReport, error) {
	rs.stopLease()
	report.CompletedAt = e.now()

	record := rs.record
	record.Status = status
	record.Outputs = report.Outputs
	record.TotalCost = report.TotalCost
	record.FailedNodeID = report.FailedNodeID
	record.Error = report.Error
	record.UpdatedAt = report.CompletedAt
	if err := e.store.SaveRun(context.WithoutCancel(ctx), record); err != nil {
		rs.logger.Error("failed to save run record", zap.Error(err))
		if runErr == nil {
			runErr = types.NewError(types.ErrCodeCheckpointFailed, "save run record").WithCause(err)
		}
	}

	duration := report.CompletedAt.Sub(rs.start)
	e.metrics.RecordRun(record.WorkflowID, status, duration, report.TotalCost)
	span.SetAttributes(
		attribute.String("workflow.status", string(status)),
		attribute.Float64("workflow.total_cost", report.TotalCost),
	)

	switch status {
	case RunCompleted:
		span.SetStatus(codes.Ok, "")
		rs.emit(RunEvent{Type: EventRunCompleted, Cost: report.TotalCost, Elapsed: report.TotalElapsed})
		rs.logger.Info("workflow run completed",
			zap.Int("nodes_executed", len(report.ExecutedNodes())),
			zap.Int("nodes_restored", len(report.ResumedNodes)),
			zap.Float64("cost", report.TotalCost),
			zap.Duration("duration", duration))
	case RunCancelled:
		span.SetStatus(codes.Error, "cancelled")
		rs.emit(RunEvent{Type: EventRunCancelled, NodeID: report.FailedNodeID, Error: report.Error})
		rs.logger.Warn("workflow run cancelled", zap.String("reason", report.Error))
	default:
		span.SetStatus(codes.Error, report.Error)
		rs.emit(RunEvent{Type: EventRunFailed, NodeID: report.FailedNodeID, Error: report.Error})
		rs.logger.Warn("workflow run failed",
			zap.String("failed_node", report.FailedNodeID),
			zap.String("reason", report.Error))
	}

	return report, runErr
}

func (e *Executor) emitterFor(ctx context.Context, record *RunRecord) func(RunEvent) {
	ctxEmit, _ := eventEmitterFromContext(ctx)
	return func(ev RunEvent) {
		ev.RunID = record.RunID
		ev.WorkflowID = record.WorkflowID
		ev.Timestamp = e.now()
		if e.emitter != nil {
			e.emitter(ev)
		}
		if ctxEmit != nil {
			ctxEmit(ev)
		}
	}
}
