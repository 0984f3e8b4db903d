package workflow

import (
	"time"
)

// ExecutionReport aggregates one run. It is built while the run progresses
// and must be treated as read-only once returned.
type ExecutionReport struct {
	RunID        string                 `json:"run_id"`
	WorkflowID   string                 `json:"workflow_id"`
	Success      bool                   `json:"success"`
	Cancelled    bool                   `json:"cancelled,omitempty"`
	NodeResults  []*NodeExecutionResult `json:"node_results"`
	Outputs      map[string]any         `json:"outputs,omitempty"`
	TotalCost    float64                `json:"total_cost"`
	TotalElapsed time.Duration          `json:"total_elapsed"`
	FailedNodeID string                 `json:"failed_node_id,omitempty"`
	Error        string                 `json:"error,omitempty"`
	ResumedNodes []string               `json:"resumed_nodes,omitempty"`
	StartedAt    time.Time              `json:"started_at"`
	CompletedAt  time.Time              `json:"completed_at"`
}

// NodeResult returns the result recorded for nodeID.
func (r *ExecutionReport) NodeResult(nodeID string) (*NodeExecutionResult, bool) {
	for _, nr := range r.NodeResults {
		if nr.NodeID == nodeID {
			return nr, true
		}
	}
	return nil, false
}

// ExecutedNodes lists nodes invoked during this pass, excluding restored ones.
func (r *ExecutionReport) ExecutedNodes() []string {
	var out []string
	for _, nr := range r.NodeResults {
		if !nr.Restored {
			out = append(out, nr.NodeID)
		}
	}
	return out
}

// record appends a node result and folds its cost and time into the totals.
func (r *ExecutionReport) record(nr *NodeExecutionResult) {
	r.NodeResults = append(r.NodeResults, nr)
	if !nr.Success {
		return
	}
	r.TotalCost += nr.Cost
	r.TotalElapsed += nr.Elapsed
	if nr.Restored {
		r.ResumedNodes = append(r.ResumedNodes, nr.NodeID)
	}
}

func (r *ExecutionReport) fail(nodeID, reason string) {
	r.Success = false
	r.FailedNodeID = nodeID
	r.Error = reason
}
