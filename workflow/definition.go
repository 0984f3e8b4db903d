package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/BaSui01/nodeflow/internal/xjson"
)

// InputSlot is a named, typed input port on a node.
type InputSlot struct {
	Name        string   `json:"name" yaml:"name"`
	Type        SlotType `json:"type" yaml:"type"`
	Required    bool     `json:"required,omitempty" yaml:"required,omitempty"`
	Default     any      `json:"default,omitempty" yaml:"default,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// HasDefault reports whether the slot declares a default value.
func (s InputSlot) HasDefault() bool {
	return s.Default != nil
}

// OutputSlot is a named, typed output port on a node.
type OutputSlot struct {
	Name        string   `json:"name" yaml:"name"`
	Type        SlotType `json:"type" yaml:"type"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// RetryOverride replaces parts of the executor's retry policy for one node.
type RetryOverride struct {
	MaxRetries     *int    `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	InitialDelayMs int     `json:"initial_delay_ms,omitempty" yaml:"initial_delay_ms,omitempty"`
	MaxDelayMs     int     `json:"max_delay_ms,omitempty" yaml:"max_delay_ms,omitempty"`
	Multiplier     float64 `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
}

// NodeDefinition identifies one step of a workflow.
// Inputs and Outputs must be non-nil; use an empty slice for a node without ports.
type NodeDefinition struct {
	ID        string         `json:"id" yaml:"id"`
	Type      string         `json:"type" yaml:"type"`
	Name      string         `json:"name,omitempty" yaml:"name,omitempty"`
	Params    Params         `json:"params,omitempty" yaml:"params,omitempty"`
	Inputs    []InputSlot    `json:"inputs" yaml:"inputs"`
	Outputs   []OutputSlot   `json:"outputs" yaml:"outputs"`
	Retry     *RetryOverride `json:"retry,omitempty" yaml:"retry,omitempty"`
	TimeoutMs int            `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// Input returns the input slot with the given name.
func (n *NodeDefinition) Input(name string) (InputSlot, bool) {
	for _, s := range n.Inputs {
		if s.Name == name {
			return s, true
		}
	}
	return InputSlot{}, false
}

// Output returns the output slot with the given name.
func (n *NodeDefinition) Output(name string) (OutputSlot, bool) {
	for _, s := range n.Outputs {
		if s.Name == name {
			return s, true
		}
	}
	return OutputSlot{}, false
}

// Connection routes one node's output slot into another node's input slot.
type Connection struct {
	SourceNodeID string `json:"source_node_id" yaml:"source_node_id"`
	SourceOutput string `json:"source_output" yaml:"source_output"`
	TargetNodeID string `json:"target_node_id" yaml:"target_node_id"`
	TargetInput  string `json:"target_input" yaml:"target_input"`
}

func (c Connection) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", c.SourceNodeID, c.SourceOutput, c.TargetNodeID, c.TargetInput)
}

// InputBinding routes an externally supplied value to a node input.
type InputBinding struct {
	Name        string `json:"name" yaml:"name"`
	NodeID      string `json:"node_id" yaml:"node_id"`
	Input       string `json:"input" yaml:"input"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// OutputDeclaration exposes a node output as a workflow-level output.
type OutputDeclaration struct {
	Name   string `json:"name" yaml:"name"`
	NodeID string `json:"node_id" yaml:"node_id"`
	Output string `json:"output" yaml:"output"`
}

// Definition is an authored workflow. The derived Graph is rebuilt from it on
// every validation and execution pass.
type Definition struct {
	ID          string              `json:"id" yaml:"id"`
	Name        string              `json:"name" yaml:"name"`
	Description string              `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string              `json:"version,omitempty" yaml:"version,omitempty"`
	Nodes       []NodeDefinition    `json:"nodes" yaml:"nodes"`
	Connections []Connection        `json:"connections,omitempty" yaml:"connections,omitempty"`
	Inputs      []InputBinding      `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs     []OutputDeclaration `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Metadata    map[string]string   `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Node returns the first node with the given id.
func (d *Definition) Node(id string) (*NodeDefinition, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// nodeIndex maps id to the first node carrying it.
func (d *Definition) nodeIndex() map[string]*NodeDefinition {
	idx := make(map[string]*NodeDefinition, len(d.Nodes))
	for i := range d.Nodes {
		if _, dup := idx[d.Nodes[i].ID]; !dup {
			idx[d.Nodes[i].ID] = &d.Nodes[i]
		}
	}
	return idx
}

// Hash is the hex SHA-256 of the definition's JSON encoding. Map keys are
// encoded sorted, so equal definitions hash equally.
func (d *Definition) Hash() (string, error) {
	data, err := xjson.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("hash definition: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
