package workflow

import (
	"fmt"

	"go.uber.org/zap"
)

// CostEstimate is a dry-run cost projection.
type CostEstimate struct {
	WorkflowID string             `json:"workflow_id"`
	Total      float64            `json:"total"`
	PerNode    map[string]float64 `json:"per_node"`
	Skipped    []string           `json:"skipped,omitempty"`
	Warnings   []ValidationIssue  `json:"warnings"`
}

// CostEstimator projects the cost of a workflow without running it.
type CostEstimator struct {
	registry *Registry
	logger   *zap.Logger
}

// NewCostEstimator creates an estimator bound to registry.
func NewCostEstimator(registry *Registry, logger *zap.Logger) *CostEstimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CostEstimator{
		registry: registry,
		logger:   logger.With(zap.String("component", "cost_estimator")),
	}
}

// Estimate asks every node for its cost given the statically known inputs
// (defaults and caller values for bound slots). Nodes whose type cannot be
// resolved or instantiated are skipped with a warning so partially specified
// workflows still get an estimate.
func (c *CostEstimator) Estimate(def *Definition, inputs map[string]any) *CostEstimate {
	est := &CostEstimate{
		WorkflowID: def.ID,
		PerNode:    make(map[string]float64, len(def.Nodes)),
		Warnings:   []ValidationIssue{},
	}

	for i := range def.Nodes {
		n := &def.Nodes[i]

		if !c.registry.Has(n.Type) {
			_, err := c.registry.Lookup(n.Type)
			est.Skipped = append(est.Skipped, n.ID)
			est.Warnings = append(est.Warnings, ValidationIssue{
				Code:    IssueUnknownNodeType,
				Message: fmt.Sprintf("node %s skipped: %v", n.ID, err),
				NodeID:  n.ID,
			})
			continue
		}

		capability, err := c.registry.Instantiate(*n)
		if err != nil {
			est.Skipped = append(est.Skipped, n.ID)
			est.Warnings = append(est.Warnings, ValidationIssue{
				Code:    IssueInvalidNodeConfig,
				Message: fmt.Sprintf("node %s skipped: %v", n.ID, err),
				NodeID:  n.ID,
			})
			continue
		}

		cost := capability.EstimateCost(staticInputs(n, inputs, def.Inputs))
		est.PerNode[n.ID] += cost
		est.Total += cost
	}

	c.logger.Debug("cost estimated",
		zap.String("workflow_id", def.ID),
		zap.Float64("total", est.Total),
		zap.Int("skipped", len(est.Skipped)))
	return est
}
