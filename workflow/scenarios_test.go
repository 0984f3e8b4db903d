package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// crashAfter cancels the run as soon as nodeID completes. The checkpoint of
// nodeID is still written, then the executor stops before the next node,
// which is what a process dying right after the checkpoint looks like.
func crashAfter(nodeID string) (context.Context, EventEmitter) {
	ctx, cancel := context.WithCancel(context.Background())
	return ctx, func(ev RunEvent) {
		if ev.Type == EventNodeCompleted && ev.NodeID == nodeID {
			cancel()
		}
	}
}

func TestScenario_TwoNodeWorkflowOrder(t *testing.T) {
	node := newScriptedNode()
	reg := newTestRegistry(t, map[string]*scriptedNode{"image_gen": node, "video_gen": node})
	def := imageVideoDef()

	result := NewValidator(reg).Validate(def)
	require.True(t, result.Valid, "%v", result.Errors)
	assert.Equal(t, []string{"image_gen", "video_gen"}, BuildGraph(def).TopologicalOrder())
}

func TestScenario_ReverseConnectionIsCycle(t *testing.T) {
	node := newScriptedNode()
	reg := newTestRegistry(t, map[string]*scriptedNode{"image_gen": node, "video_gen": node})
	def := imageVideoDef()
	def.Nodes[0].Inputs = append(def.Nodes[0].Inputs, inSlot("reference", SlotVideo, false))
	def.Connections = append(def.Connections, conn("video_gen", "video", "image_gen", "reference"))

	result := NewValidator(reg).Validate(def)
	require.False(t, result.Valid)
	issues := result.ErrorsWithCode(IssueCircularDependency)
	require.Len(t, issues, 1)
	assert.Equal(t, []string{"image_gen", "video_gen", "image_gen"}, issues[0].Path)

	// 执行器拒绝运行，不调用任何节点
	_, err := NewExecutor(reg).Execute(context.Background(), def, map[string]any{"prompt": "cat"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, node.invoked())
}

func TestScenario_UnsatisfiedRequiredInput(t *testing.T) {
	node := newScriptedNode()
	reg := newTestRegistry(t, map[string]*scriptedNode{"image_gen": node, "video_gen": node})
	def := imageVideoDef()
	def.Nodes[1].Inputs = append(def.Nodes[1].Inputs, inSlot("prompt", SlotString, true))

	result := NewValidator(reg).Validate(def)
	require.False(t, result.Valid)
	issues := result.ErrorsWithCode(IssueMissingRequiredInput)
	require.Len(t, issues, 1)
	assert.Equal(t, "video_gen", issues[0].NodeID)
	assert.Equal(t, "prompt", issues[0].Slot)
}

func TestScenario_ResumeAfterCrashRunsOnlyRemainingNodes(t *testing.T) {
	costs := map[string]float64{"step1": 1.5, "step2": 2.25, "step3": 4}
	inputs := map[string]any{"seed": "s"}

	// uninterrupted reference run
	refNode := newScriptedNode()
	refNode.costs = costs
	ref, err := NewExecutor(newTestRegistry(t, map[string]*scriptedNode{"step": refNode}),
		WithRetryPolicy(fastRetry(0))).Execute(context.Background(), chainDef(3), inputs)
	require.NoError(t, err)
	require.True(t, ref.Success)

	// crashed run
	store := NewMemoryCheckpointStore()
	node := newScriptedNode()
	node.costs = costs
	reg := newTestRegistry(t, map[string]*scriptedNode{"step": node})

	ctx, emitter := crashAfter("step1")
	first, err := NewExecutor(reg, WithCheckpointStore(store), WithRetryPolicy(fastRetry(0)),
		WithExecutorEventEmitter(emitter)).Execute(ctx, chainDef(3), inputs, WithRunID("run-d"))
	require.NoError(t, err)
	require.False(t, first.Success)
	assert.True(t, first.Cancelled)
	assert.Equal(t, []string{"step1"}, node.invoked())

	// a fresh executor on the same store resumes by run id
	resumed, err := NewExecutor(reg, WithCheckpointStore(store), WithRetryPolicy(fastRetry(0))).
		Resume(context.Background(), "run-d")
	require.NoError(t, err)
	require.True(t, resumed.Success)

	assert.Equal(t, []string{"step1", "step2", "step3"}, node.invoked(), "step1 is not invoked again")
	assert.Equal(t, []string{"step2", "step3"}, resumed.ExecutedNodes())
	assert.Equal(t, []string{"step1"}, resumed.ResumedNodes)
	assert.InDelta(t, ref.TotalCost, resumed.TotalCost, 1e-9)
	assert.InDelta(t, 1.5+2.25+4, resumed.TotalCost, 1e-9)
	assert.Equal(t, ref.Outputs, resumed.Outputs)

	record, err := store.LoadRun(context.Background(), "run-d")
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, record.Status)
}
