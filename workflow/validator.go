package workflow

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const defaultMaxNodes = 50

// Validator checks a Definition against a Registry. Validate is a pure
// function of (definition, registry).
type Validator struct {
	registry          *Registry
	maxNodes          int
	highCostThreshold float64
	logger            *zap.Logger
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithMaxNodes sets the node count above which OVERSIZED_WORKFLOW is raised.
func WithMaxNodes(n int) ValidatorOption {
	return func(v *Validator) { v.maxNodes = n }
}

// WithHighCostThreshold raises HIGH_COST_NODE for nodes whose static estimate
// reaches c. Zero disables the estimate-based check.
func WithHighCostThreshold(c float64) ValidatorOption {
	return func(v *Validator) { v.highCostThreshold = c }
}

// WithValidatorLogger sets the logger.
func WithValidatorLogger(logger *zap.Logger) ValidatorOption {
	return func(v *Validator) { v.logger = logger }
}

// NewValidator creates a validator bound to registry.
func NewValidator(registry *Registry, opts ...ValidatorOption) *Validator {
	v := &Validator{
		registry: registry,
		maxNodes: defaultMaxNodes,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = zap.NewNop()
	}
	v.logger = v.logger.With(zap.String("component", "validator"))
	return v
}

// validation accumulates findings of one Validate call.
type validation struct {
	def          *Definition
	index        map[string]*NodeDefinition
	capabilities map[string]NodeCapability
	errors       []ValidationIssue
	warnings     []ValidationIssue
}

func (s *validation) fail(issue ValidationIssue) {
	s.errors = append(s.errors, issue)
}

func (s *validation) warn(issue ValidationIssue) {
	s.warnings = append(s.warnings, issue)
}

// Validate runs the structural, node, connection and graph passes and merges
// every finding. It never stops at the first problem.
func (v *Validator) Validate(def *Definition) *ValidationResult {
	if def == nil {
		def = &Definition{}
	}
	s := &validation{
		def:          def,
		index:        def.nodeIndex(),
		capabilities: make(map[string]NodeCapability),
	}

	v.structural(s)
	v.nodes(s)
	v.connections(s)
	v.graph(s)

	result := &ValidationResult{
		Valid:    len(s.errors) == 0,
		Errors:   s.errors,
		Warnings: s.warnings,
	}
	if result.Errors == nil {
		result.Errors = []ValidationIssue{}
	}
	if result.Warnings == nil {
		result.Warnings = []ValidationIssue{}
	}

	v.logger.Debug("workflow validated",
		zap.String("workflow_id", def.ID),
		zap.Bool("valid", result.Valid),
		zap.Int("errors", len(result.Errors)),
		zap.Int("warnings", len(result.Warnings)))
	return result
}

func (v *Validator) structural(s *validation) {
	if strings.TrimSpace(s.def.ID) == "" {
		s.fail(ValidationIssue{Code: IssueMissingWorkflowID, Message: "workflow id is required"})
	}
	if strings.TrimSpace(s.def.Name) == "" {
		s.fail(ValidationIssue{Code: IssueMissingWorkflowName, Message: "workflow name is required"})
	}
	if len(s.def.Nodes) == 0 {
		s.fail(ValidationIssue{Code: IssueEmptyWorkflow, Message: "workflow must contain at least one node"})
	}
}

func (v *Validator) nodes(s *validation) {
	seen := make(map[string]bool, len(s.def.Nodes))

	for i := range s.def.Nodes {
		n := &s.def.Nodes[i]

		if n.ID == "" {
			s.fail(ValidationIssue{
				Code:    IssueMissingNodeID,
				Message: fmt.Sprintf("node at index %d has no id", i),
			})
		} else if seen[n.ID] {
			s.fail(ValidationIssue{
				Code:    IssueDuplicateNodeID,
				Message: fmt.Sprintf("node id %q at index %d is already used", n.ID, i),
				NodeID:  n.ID,
			})
		}
		seen[n.ID] = true

		typeResolved := false
		switch {
		case n.Type == "":
			s.fail(ValidationIssue{
				Code:    IssueMissingNodeType,
				Message: fmt.Sprintf("node %s: type is required", nodeLabel(n, i)),
				NodeID:  n.ID,
			})
		case !v.registry.Has(n.Type):
			_, err := v.registry.Lookup(n.Type)
			s.fail(ValidationIssue{
				Code:    IssueUnknownNodeType,
				Message: fmt.Sprintf("node %s: %v", nodeLabel(n, i), err),
				NodeID:  n.ID,
			})
		default:
			typeResolved = true
		}

		slotsOK := v.slots(s, n, i)

		if typeResolved && slotsOK && n.ID != "" && s.index[n.ID] == n {
			v.staticConfig(s, n)
		}
	}
}

// slots checks the declared ports of one node and reports whether they are
// well-formed enough to instantiate the node.
func (v *Validator) slots(s *validation, n *NodeDefinition, idx int) bool {
	ok := true
	label := nodeLabel(n, idx)

	if n.Inputs == nil {
		ok = false
		s.fail(ValidationIssue{
			Code:    IssueInvalidSlots,
			Message: fmt.Sprintf("node %s: input slot list is missing", label),
			NodeID:  n.ID,
		})
	}
	if n.Outputs == nil {
		ok = false
		s.fail(ValidationIssue{
			Code:    IssueInvalidSlots,
			Message: fmt.Sprintf("node %s: output slot list is missing", label),
			NodeID:  n.ID,
		})
	}

	check := func(kind, name string, t SlotType, seen map[string]bool) {
		switch {
		case name == "":
			ok = false
			s.fail(ValidationIssue{
				Code:    IssueInvalidSlots,
				Message: fmt.Sprintf("node %s: %s slot without a name", label, kind),
				NodeID:  n.ID,
			})
			return
		case seen[name]:
			ok = false
			s.fail(ValidationIssue{
				Code:    IssueDuplicateSlot,
				Message: fmt.Sprintf("node %s: %s slot %q declared twice", label, kind, name),
				NodeID:  n.ID,
				Slot:    name,
			})
		}
		seen[name] = true
		if !t.Valid() {
			ok = false
			s.fail(ValidationIssue{
				Code:    IssueInvalidSlotType,
				Message: fmt.Sprintf("node %s: %s slot %q has unknown type %q", label, kind, name, t),
				NodeID:  n.ID,
				Slot:    name,
			})
		}
	}

	inSeen := make(map[string]bool, len(n.Inputs))
	for _, in := range n.Inputs {
		check("input", in.Name, in.Type, inSeen)
	}
	outSeen := make(map[string]bool, len(n.Outputs))
	for _, out := range n.Outputs {
		check("output", out.Name, out.Type, outSeen)
	}
	return ok
}

func (v *Validator) staticConfig(s *validation, n *NodeDefinition) {
	capability, err := v.registry.Instantiate(*n)
	if err != nil {
		s.fail(ValidationIssue{
			Code:    IssueInvalidNodeConfig,
			Message: fmt.Sprintf("node %s: %v", n.ID, err),
			NodeID:  n.ID,
		})
		return
	}
	s.capabilities[n.ID] = capability

	for _, cfgErr := range capability.ValidateStaticConfig() {
		s.fail(ValidationIssue{
			Code:    IssueInvalidNodeConfig,
			Message: fmt.Sprintf("node %s: %v", n.ID, cfgErr),
			NodeID:  n.ID,
		})
	}
}

type slotRef struct {
	node string
	slot string
}

func (v *Validator) connections(s *validation) {
	connected := make(map[slotRef]bool)

	for i := range s.def.Connections {
		c := s.def.Connections[i]
		conn := &s.def.Connections[i]

		src, srcOK := s.index[c.SourceNodeID]
		tgt, tgtOK := s.index[c.TargetNodeID]
		if !srcOK {
			s.fail(ValidationIssue{
				Code:       IssueMissingSourceNode,
				Message:    fmt.Sprintf("connection %s: source node %q does not exist", c, c.SourceNodeID),
				NodeID:     c.SourceNodeID,
				Connection: conn,
			})
		}
		if !tgtOK {
			s.fail(ValidationIssue{
				Code:       IssueMissingTargetNode,
				Message:    fmt.Sprintf("connection %s: target node %q does not exist", c, c.TargetNodeID),
				NodeID:     c.TargetNodeID,
				Connection: conn,
			})
		}

		var (
			out      OutputSlot
			in       InputSlot
			outFound bool
			inFound  bool
		)
		if srcOK {
			if out, outFound = src.Output(c.SourceOutput); !outFound {
				s.fail(ValidationIssue{
					Code:       IssueMissingSourceSlot,
					Message:    fmt.Sprintf("connection %s: node %s has no output slot %q", c, c.SourceNodeID, c.SourceOutput),
					NodeID:     c.SourceNodeID,
					Slot:       c.SourceOutput,
					Connection: conn,
				})
			}
		}
		if tgtOK {
			if in, inFound = tgt.Input(c.TargetInput); !inFound {
				s.fail(ValidationIssue{
					Code:       IssueMissingTargetSlot,
					Message:    fmt.Sprintf("connection %s: node %s has no input slot %q", c, c.TargetNodeID, c.TargetInput),
					NodeID:     c.TargetNodeID,
					Slot:       c.TargetInput,
					Connection: conn,
				})
			}
		}

		if outFound && inFound && !Compatible(out.Type, in.Type) {
			s.fail(ValidationIssue{
				Code: IssueTypeMismatch,
				Message: fmt.Sprintf("connection %s: output type %q is not compatible with input type %q",
					c, out.Type, in.Type),
				NodeID:     c.TargetNodeID,
				Slot:       c.TargetInput,
				Connection: conn,
			})
		}

		if tgtOK {
			ref := slotRef{c.TargetNodeID, c.TargetInput}
			if inFound && connected[ref] {
				s.fail(ValidationIssue{
					Code:       IssueMultipleConnections,
					Message:    fmt.Sprintf("connection %s: input %s.%s is already fed by another connection", c, c.TargetNodeID, c.TargetInput),
					NodeID:     c.TargetNodeID,
					Slot:       c.TargetInput,
					Connection: conn,
				})
			}
			connected[ref] = true
		}
	}

	bound := make(map[slotRef]bool)
	for _, b := range s.def.Inputs {
		n, ok := s.index[b.NodeID]
		if !ok {
			s.fail(ValidationIssue{
				Code:    IssueInvalidBinding,
				Message: fmt.Sprintf("input binding %q: node %q does not exist", b.Name, b.NodeID),
				NodeID:  b.NodeID,
				Slot:    b.Input,
			})
			continue
		}
		if _, ok := n.Input(b.Input); !ok {
			s.fail(ValidationIssue{
				Code:    IssueInvalidBinding,
				Message: fmt.Sprintf("input binding %q: node %s has no input slot %q", b.Name, b.NodeID, b.Input),
				NodeID:  b.NodeID,
				Slot:    b.Input,
			})
			continue
		}
		if b.Name == "" {
			s.fail(ValidationIssue{
				Code:    IssueInvalidBinding,
				Message: fmt.Sprintf("input binding for %s.%s has no name", b.NodeID, b.Input),
				NodeID:  b.NodeID,
				Slot:    b.Input,
			})
		}
		ref := slotRef{b.NodeID, b.Input}
		if bound[ref] {
			s.fail(ValidationIssue{
				Code:    IssueDuplicateBinding,
				Message: fmt.Sprintf("input binding %q: %s.%s is already bound", b.Name, b.NodeID, b.Input),
				NodeID:  b.NodeID,
				Slot:    b.Input,
			})
		}
		bound[ref] = true
	}

	names := make(map[string]bool, len(s.def.Outputs))
	for _, o := range s.def.Outputs {
		if o.Name == "" {
			s.fail(ValidationIssue{
				Code:    IssueInvalidOutput,
				Message: fmt.Sprintf("output declaration for %s.%s has no name", o.NodeID, o.Output),
				NodeID:  o.NodeID,
				Slot:    o.Output,
			})
		} else if names[o.Name] {
			s.fail(ValidationIssue{
				Code:    IssueDuplicateOutput,
				Message: fmt.Sprintf("output %q is declared more than once", o.Name),
				NodeID:  o.NodeID,
				Slot:    o.Output,
			})
		}
		names[o.Name] = true

		n, ok := s.index[o.NodeID]
		if !ok {
			s.fail(ValidationIssue{
				Code:    IssueInvalidOutput,
				Message: fmt.Sprintf("output %q: node %q does not exist", o.Name, o.NodeID),
				NodeID:  o.NodeID,
				Slot:    o.Output,
			})
			continue
		}
		if _, ok := n.Output(o.Output); !ok {
			s.fail(ValidationIssue{
				Code:    IssueInvalidOutput,
				Message: fmt.Sprintf("output %q: node %s has no output slot %q", o.Name, o.NodeID, o.Output),
				NodeID:  o.NodeID,
				Slot:    o.Output,
			})
		}
	}

	// Required-input coverage: connection, default or binding.
	for i := range s.def.Nodes {
		n := &s.def.Nodes[i]
		if n.ID == "" || s.index[n.ID] != n {
			continue
		}
		for _, in := range n.Inputs {
			if !in.Required {
				continue
			}
			ref := slotRef{n.ID, in.Name}
			if connected[ref] || in.HasDefault() || bound[ref] {
				continue
			}
			s.fail(ValidationIssue{
				Code:    IssueMissingRequiredInput,
				Message: fmt.Sprintf("node %s: required input %q has no connection, default or binding", n.ID, in.Name),
				NodeID:  n.ID,
				Slot:    in.Name,
			})
		}
	}
}

func (v *Validator) graph(s *validation) {
	g := BuildGraph(s.def)

	for _, cycle := range g.FindCycles() {
		s.fail(ValidationIssue{
			Code:    IssueCircularDependency,
			Message: "circular dependency: " + strings.Join(cycle, " → "),
			NodeID:  cycle[0],
			Path:    cycle,
		})
	}

	consumed := make(map[string]bool)
	for _, c := range s.def.Connections {
		if _, ok := s.index[c.TargetNodeID]; ok {
			consumed[c.SourceNodeID] = true
		}
	}
	declared := make(map[string]bool)
	for _, o := range s.def.Outputs {
		declared[o.NodeID] = true
	}

	multi := len(g.Nodes()) > 1
	for _, id := range g.Nodes() {
		switch {
		case !g.InOrder(id):
			s.warn(ValidationIssue{
				Code:    IssueUnusedNode,
				Message: fmt.Sprintf("node %s is unreachable in the topological order", id),
				NodeID:  id,
			})
		case multi && len(g.dependencies[id]) == 0 && len(g.dependents[id]) == 0 && !declared[id]:
			s.warn(ValidationIssue{
				Code:    IssueUnusedNode,
				Message: fmt.Sprintf("node %s is not connected to any other node and declares no workflow output", id),
				NodeID:  id,
			})
		}

		n := s.index[id]
		if len(n.Outputs) > 0 && !consumed[id] && !declared[id] {
			s.warn(ValidationIssue{
				Code:    IssueUnusedOutput,
				Message: fmt.Sprintf("outputs of node %s are never consumed or declared as workflow outputs", id),
				NodeID:  id,
			})
		}
	}

	for _, id := range g.Nodes() {
		n := s.index[id]
		meta, ok := v.registry.Metadata(n.Type)
		if !ok {
			continue
		}
		if meta.HighCost {
			s.warn(ValidationIssue{
				Code:    IssueHighCostNode,
				Message: fmt.Sprintf("node %s uses high-cost type %s", id, n.Type),
				NodeID:  id,
			})
			continue
		}
		if capability, ok := s.capabilities[id]; ok && v.highCostThreshold > 0 {
			if est := capability.EstimateCost(staticInputs(n, nil, s.def.Inputs)); est >= v.highCostThreshold {
				s.warn(ValidationIssue{
					Code:    IssueHighCostNode,
					Message: fmt.Sprintf("node %s has estimated cost %.4f (threshold %.4f)", id, est, v.highCostThreshold),
					NodeID:  id,
				})
			}
		}
	}

	if v.maxNodes > 0 && len(s.def.Nodes) > v.maxNodes {
		s.warn(ValidationIssue{
			Code:    IssueOversizedWorkflow,
			Message: fmt.Sprintf("workflow has %d nodes, more than the recommended %d", len(s.def.Nodes), v.maxNodes),
		})
	}
}

func nodeLabel(n *NodeDefinition, idx int) string {
	if n.ID != "" {
		return n.ID
	}
	return fmt.Sprintf("#%d", idx)
}
