package workflow

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// NodeCapability is implemented by every registered node type.
//
// Execute may be invoked more than once with identical inputs: on transient
// failure and when a crashed run is resumed. Implementations talking to
// billable services should pass ExecutionContext.IdempotencyKey along.
type NodeCapability interface {
	// Execute runs the node. A returned error is classified with
	// resilience.Classify; wrap with resilience.Transient to request a retry.
	// Observe ctx for cancellation.
	Execute(ctx context.Context, inputs map[string]any, ec *ExecutionContext) (*NodeExecutionResult, error)

	// EstimateCost returns a static or heuristic cost for the given inputs.
	EstimateCost(inputs map[string]any) float64

	// ValidateStaticConfig checks type-specific parameters.
	ValidateStaticConfig() []error
}

// Factory builds an executable node instance from its definition.
type Factory func(node NodeDefinition) (NodeCapability, error)

// Metadata describes a registered node type.
type Metadata struct {
	Type          string `json:"type"`
	Category      string `json:"category,omitempty"`
	DisplayName   string `json:"display_name,omitempty"`
	Description   string `json:"description,omitempty"`
	HighCost      bool   `json:"high_cost,omitempty"`
	DefaultParams Params `json:"default_params,omitempty"`
}

// NodeExecutionResult is the outcome of one node invocation.
// Capabilities set Success, Outputs, Cost and optionally Elapsed and Error;
// the executor fills the rest.
type NodeExecutionResult struct {
	NodeID   string         `json:"node_id"`
	NodeType string         `json:"node_type"`
	Success  bool           `json:"success"`
	Outputs  map[string]any `json:"outputs,omitempty"`
	Elapsed  time.Duration  `json:"elapsed"`
	Cost     float64        `json:"cost"`
	Error    string         `json:"error,omitempty"`
	Attempts int            `json:"attempts"`
	Restored bool           `json:"restored,omitempty"`
}

// Succeeded builds a successful result.
func Succeeded(outputs map[string]any, cost float64) *NodeExecutionResult {
	return &NodeExecutionResult{Success: true, Outputs: outputs, Cost: cost}
}

// ExecutionContext is the explicit bundle handed to a capability for one
// attempt: identity, logger, heartbeat sink and cost sink. Cancellation is
// carried by the context.Context passed alongside it.
type ExecutionContext struct {
	RunID          string
	WorkflowID     string
	NodeID         string
	NodeType       string
	Attempt        int
	IdempotencyKey string
	Params         Params
	Logger         *zap.Logger

	heartbeat func(stage string, percent float64)

	mu   sync.Mutex
	cost float64
}

// Heartbeat signals liveness. It is advisory and never changes control flow.
func (ec *ExecutionContext) Heartbeat(stage string, percent float64) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if ec.heartbeat != nil {
		ec.heartbeat(stage, percent)
	}
}

// AddCost accumulates cost incurred during this attempt. It is added to the
// node's reported cost when the attempt succeeds.
func (ec *ExecutionContext) AddCost(amount float64) {
	ec.mu.Lock()
	ec.cost += amount
	ec.mu.Unlock()
}

// Cost returns the cost accumulated through AddCost.
func (ec *ExecutionContext) Cost() float64 {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.cost
}

// NewExecutionContext builds a context outside the executor, for unit-testing
// capabilities.
func NewExecutionContext(runID, nodeID string, logger *zap.Logger, heartbeat func(stage string, percent float64)) *ExecutionContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecutionContext{
		RunID:     runID,
		NodeID:    nodeID,
		Attempt:   1,
		Logger:    logger,
		heartbeat: heartbeat,
	}
}
