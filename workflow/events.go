package workflow

import (
	"context"
	"time"
)

// RunEventType defines the type of run event.
type RunEventType string

const (
	EventRunStarted    RunEventType = "run_started"
	EventNodeStarted   RunEventType = "node_started"
	EventNodeRetry     RunEventType = "node_retry"
	EventNodeHeartbeat RunEventType = "node_heartbeat"
	EventNodeCompleted RunEventType = "node_completed"
	EventNodeRestored  RunEventType = "node_restored"
	EventNodeFailed    RunEventType = "node_failed"
	EventRunCompleted  RunEventType = "run_completed"
	EventRunFailed     RunEventType = "run_failed"
	EventRunCancelled  RunEventType = "run_cancelled"
)

// Terminal reports whether the event closes a run.
func (t RunEventType) Terminal() bool {
	return t == EventRunCompleted || t == EventRunFailed || t == EventRunCancelled
}

// RunEvent is emitted while a run progresses.
type RunEvent struct {
	Type       RunEventType  `json:"type"`
	RunID      string        `json:"run_id"`
	WorkflowID string        `json:"workflow_id"`
	NodeID     string        `json:"node_id,omitempty"`
	NodeType   string        `json:"node_type,omitempty"`
	Attempt    int           `json:"attempt,omitempty"`
	Stage      string        `json:"stage,omitempty"`
	Percent    float64       `json:"percent,omitempty"`
	Cost       float64       `json:"cost,omitempty"`
	Elapsed    time.Duration `json:"elapsed,omitempty"`
	Error      string        `json:"error,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// EventEmitter receives run events. It is called synchronously from the run's
// goroutine and must not block.
type EventEmitter func(RunEvent)

type eventEmitterKey struct{}

// WithEventEmitter attaches a per-run emitter to ctx. It is called in addition
// to the executor-level emitter.
func WithEventEmitter(ctx context.Context, emitter EventEmitter) context.Context {
	if emitter == nil {
		return ctx
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, eventEmitterKey{}, emitter)
}

func eventEmitterFromContext(ctx context.Context) (EventEmitter, bool) {
	if ctx == nil {
		return nil, false
	}
	emit, ok := ctx.Value(eventEmitterKey{}).(EventEmitter)
	return emit, ok && emit != nil
}
