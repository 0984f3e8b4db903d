package nodeflow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/nodeflow"
	"github.com/BaSui01/nodeflow/testutil/mocks"
	"github.com/BaSui01/nodeflow/workflow"
)

const greeting = `
id: greeting
name: Greeting
nodes:
  - id: greeting
    type: constant
    params:
      value: hello
    outputs:
      - name: greeting
        type: string
  - id: render
    type: text_template
    params:
      template: "{{.greeting}} {{.name}}"
    inputs:
      - name: greeting
        type: string
        required: true
      - name: name
        type: string
        default: world
    outputs:
      - name: text
        type: string
connections:
  - source_node_id: greeting
    source_output: greeting
    target_node_id: render
    target_input: greeting
inputs:
  - name: name
    node_id: render
    input: name
outputs:
  - name: text
    node_id: render
    output: text
`

func TestNew_RunsBuiltins(t *testing.T) {
	exec, err := nodeflow.New()
	require.NoError(t, err)

	def, err := workflow.FromYAML([]byte(greeting))
	require.NoError(t, err)

	report, err := exec.Execute(context.Background(), def, map[string]any{"name": "nodeflow"})
	require.NoError(t, err)
	require.True(t, report.Success, report.Error)
	assert.Equal(t, "hello nodeflow", report.Outputs["text"])

	rec, err := exec.Store().LoadRun(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RunCompleted, rec.Status)
}

func TestNew_WithCapability(t *testing.T) {
	upscale := mocks.NewMockCapability().WithOutputs(map[string]any{"image": "big.png"}).WithCost(0.5)
	exec, err := nodeflow.New(nodeflow.WithCapability("upscale", upscale.Factory(),
		workflow.Metadata{Type: "upscale", Category: "image"}))
	require.NoError(t, err)

	def := &workflow.Definition{
		ID:   "upscale-only",
		Name: "Upscale",
		Nodes: []workflow.NodeDefinition{{
			ID:      "up",
			Type:    "upscale",
			Outputs: []workflow.OutputSlot{{Name: "image", Type: workflow.SlotString}},
		}},
		Outputs: []workflow.OutputDeclaration{{Name: "image", NodeID: "up", Output: "image"}},
	}
	report, err := exec.Execute(context.Background(), def, nil)
	require.NoError(t, err)
	require.True(t, report.Success, report.Error)
	assert.Equal(t, "big.png", report.Outputs["image"])
	assert.InDelta(t, 0.5, report.TotalCost, 1e-9)
	assert.Equal(t, 1, upscale.CallCount())
}

func TestNew_DuplicateCapability(t *testing.T) {
	_, err := nodeflow.New(nodeflow.WithCapability("constant", mocks.NewMockCapability().Factory(),
		workflow.Metadata{Type: "constant"}))
	assert.Error(t, err)
}

func TestNew_WithCheckpointStore(t *testing.T) {
	store := workflow.NewMemoryCheckpointStore()
	exec, err := nodeflow.New(nodeflow.WithCheckpointStore(store))
	require.NoError(t, err)
	assert.Same(t, store, exec.Store())
}
