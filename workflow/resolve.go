package workflow

import "fmt"

// inputPlan indexes, per target slot, where a node input comes from. It is
// derived once per run from the definition.
type inputPlan struct {
	connections map[slotRef]Connection
	bindings    map[slotRef]string
	required    map[string][]string
}

func newInputPlan(def *Definition) *inputPlan {
	p := &inputPlan{
		connections: make(map[slotRef]Connection, len(def.Connections)),
		bindings:    make(map[slotRef]string, len(def.Inputs)),
		required:    make(map[string][]string),
	}
	for _, c := range def.Connections {
		ref := slotRef{c.TargetNodeID, c.TargetInput}
		if _, dup := p.connections[ref]; !dup {
			p.connections[ref] = c
		}
	}
	for _, b := range def.Inputs {
		ref := slotRef{b.NodeID, b.Input}
		if _, dup := p.bindings[ref]; !dup {
			p.bindings[ref] = b.Name
		}
	}

	// Output slots other parts of the workflow read from.
	seen := make(map[slotRef]bool)
	need := func(node, slot string) {
		ref := slotRef{node, slot}
		if !seen[ref] {
			seen[ref] = true
			p.required[node] = append(p.required[node], slot)
		}
	}
	for _, c := range def.Connections {
		need(c.SourceNodeID, c.SourceOutput)
	}
	for _, o := range def.Outputs {
		need(o.NodeID, o.Output)
	}
	return p
}

// resolve computes a node's inputs. Precedence per slot: an incoming
// connection's upstream value, then a caller-supplied binding value, then
// the slot default. Slots with no source are omitted.
func (p *inputPlan) resolve(node *NodeDefinition, upstream map[string]map[string]any, values map[string]any) map[string]any {
	resolved := make(map[string]any, len(node.Inputs))
	for _, in := range node.Inputs {
		ref := slotRef{node.ID, in.Name}

		if c, ok := p.connections[ref]; ok {
			if v, ok := upstream[c.SourceNodeID][c.SourceOutput]; ok {
				resolved[in.Name] = v
				continue
			}
		}
		if name, ok := p.bindings[ref]; ok {
			if v, ok := values[name]; ok {
				resolved[in.Name] = v
				continue
			}
		}
		if in.HasDefault() {
			resolved[in.Name] = in.Default
		}
	}
	return resolved
}

// unsuppliedBindings lists required slots whose only source is a workflow
// input binding absent from values, as `"binding" -> node.slot`.
func (p *inputPlan) unsuppliedBindings(def *Definition, values map[string]any) []string {
	var missing []string
	for i := range def.Nodes {
		node := &def.Nodes[i]
		for _, in := range node.Inputs {
			if !in.Required || in.HasDefault() {
				continue
			}
			ref := slotRef{node.ID, in.Name}
			if _, ok := p.connections[ref]; ok {
				continue
			}
			name, ok := p.bindings[ref]
			if !ok {
				continue
			}
			if _, ok := values[name]; !ok {
				missing = append(missing, fmt.Sprintf("%q -> %s.%s", name, node.ID, in.Name))
			}
		}
	}
	return missing
}

// requiredOutputs lists output slots of nodeID read by a connection or an
// output declaration.
func (p *inputPlan) requiredOutputs(nodeID string) []string {
	return p.required[nodeID]
}

// staticInputs resolves what is known without running anything: defaults,
// overridden by caller-supplied binding values.
func staticInputs(node *NodeDefinition, values map[string]any, bindings []InputBinding) map[string]any {
	resolved := make(map[string]any, len(node.Inputs))
	for _, in := range node.Inputs {
		if in.HasDefault() {
			resolved[in.Name] = in.Default
		}
	}
	for _, b := range bindings {
		if b.NodeID != node.ID {
			continue
		}
		if v, ok := values[b.Name]; ok {
			resolved[b.Input] = v
		}
	}
	return resolved
}
