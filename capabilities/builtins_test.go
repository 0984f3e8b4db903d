package capabilities

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/nodeflow/config"
	"github.com/BaSui01/nodeflow/resilience"
	"github.com/BaSui01/nodeflow/testutil"
	"github.com/BaSui01/nodeflow/workflow"
)

// heartbeatLog 记录 ExecutionContext 收到的心跳
type heartbeatLog struct {
	mu    sync.Mutex
	beats []heartbeat
}

type heartbeat struct {
	stage   string
	percent float64
}

func (h *heartbeatLog) record(stage string, percent float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.beats = append(h.beats, heartbeat{stage: stage, percent: percent})
}

func (h *heartbeatLog) all() []heartbeat {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]heartbeat(nil), h.beats...)
}

func newEC(nodeID string) (*workflow.ExecutionContext, *heartbeatLog) {
	log := &heartbeatLog{}
	return workflow.NewExecutionContext("run-1", nodeID, nil, log.record), log
}

func instantiate(t *testing.T, opts Options, node workflow.NodeDefinition) workflow.NodeCapability {
	t.Helper()
	reg, err := NewRegistry(opts)
	require.NoError(t, err)
	c, err := reg.Instantiate(node)
	require.NoError(t, err)
	return c
}

func node(id, typ string, params workflow.Params, outputs ...string) workflow.NodeDefinition {
	n := workflow.NodeDefinition{ID: id, Type: typ, Params: params}
	for _, o := range outputs {
		n.Outputs = append(n.Outputs, workflow.OutputSlot{Name: o, Type: workflow.SlotString})
	}
	return n
}

func TestRegisterBuiltins(t *testing.T) {
	reg, err := NewRegistry(Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{TypeConstant, TypeDelay, TypeRemoteGeneration, TypeTextTemplate}, reg.Types())

	meta, ok := reg.Metadata(TypeRemoteGeneration)
	require.True(t, ok)
	assert.True(t, meta.HighCost)
	assert.Equal(t, "generation", meta.Category)

	// 重复注册会报 DUPLICATE_TYPE
	assert.Error(t, RegisterBuiltins(reg, Options{}))
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.RemoteGenerationConfig{
		BaseURL:        "http://gen.local",
		APIKey:         "key",
		RequestTimeout: 5 * time.Second,
		PollInterval:   time.Second,
		CostPerCall:    0.5,
	})
	assert.Equal(t, "http://gen.local", opts.RemoteBaseURL)
	assert.Equal(t, "key", opts.APIKey)
	assert.InDelta(t, 0.5, opts.CostPerCall, 1e-9)

	opts = Options{}.withDefaults()
	assert.Equal(t, 30*time.Second, opts.RequestTimeout)
	assert.Equal(t, 2*time.Second, opts.PollInterval)
	assert.NotNil(t, opts.HTTPClient)
	assert.NotNil(t, opts.Logger)
}

func TestConstant(t *testing.T) {
	c := instantiate(t, Options{}, node("c", TypeConstant, workflow.Params{
		"value":  "a cat",
		"values": map[string]any{"negative": "blurry"},
		"cost":   0.25,
	}, "prompt", "negative"))
	assert.Empty(t, c.ValidateStaticConfig())
	assert.InDelta(t, 0.25, c.EstimateCost(nil), 1e-9)

	ec, _ := newEC("c")
	res, err := c.Execute(testutil.TestContext(t), nil, ec)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "a cat", res.Outputs["value"])
	assert.Equal(t, "a cat", res.Outputs["prompt"])
	assert.Equal(t, "blurry", res.Outputs["negative"])
	assert.InDelta(t, 0.25, res.Cost, 1e-9)
}

func TestConstant_ValidateStaticConfig(t *testing.T) {
	tests := []struct {
		name   string
		params workflow.Params
		want   int
	}{
		{name: "value set", params: workflow.Params{"value": 1}, want: 0},
		{name: "nothing set", params: workflow.Params{}, want: 1},
		{name: "values not an object", params: workflow.Params{"values": "x"}, want: 1},
		{name: "negative cost", params: workflow.Params{"value": 1, "cost": -1}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := instantiate(t, Options{}, node("c", TypeConstant, tt.params))
			assert.Len(t, c.ValidateStaticConfig(), tt.want)
		})
	}
}

func TestTextTemplate(t *testing.T) {
	c := instantiate(t, Options{}, node("prompt", TypeTextTemplate, workflow.Params{
		"template": `{{ upper .subject }} in {{ default "daylight" .light }}, {{ join ", " .tags }}`,
	}, "text"))
	require.Empty(t, c.ValidateStaticConfig())
	assert.Zero(t, c.EstimateCost(nil))

	ec, _ := newEC("prompt")
	res, err := c.Execute(testutil.TestContext(t), map[string]any{
		"subject": "a lighthouse",
		"light":   "",
		"tags":    []any{"cinematic", "35mm"},
	}, ec)
	require.NoError(t, err)
	assert.Equal(t, "A LIGHTHOUSE in daylight, cinematic, 35mm", res.Outputs["text"])
}

func TestTextTemplate_CustomOutputSlot(t *testing.T) {
	c := instantiate(t, Options{}, node("p", TypeTextTemplate, workflow.Params{
		"template": `{{ json .meta }}`,
		"output":   "prompt",
	}, "prompt"))

	ec, _ := newEC("p")
	res, err := c.Execute(testutil.TestContext(t), map[string]any{"meta": map[string]any{"k": "v"}}, ec)
	require.NoError(t, err)
	assert.Equal(t, `{"k":"v"}`, res.Outputs["prompt"])
}

func TestTextTemplate_Errors(t *testing.T) {
	bad := instantiate(t, Options{}, node("p", TypeTextTemplate, workflow.Params{"template": "{{ .x "}))
	errs := bad.ValidateStaticConfig()
	require.Len(t, errs, 1)
	var pe *workflow.ParamError
	require.True(t, errors.As(errs[0], &pe))
	assert.Equal(t, "template", pe.Param)

	missing := instantiate(t, Options{}, node("p", TypeTextTemplate, workflow.Params{}))
	assert.Len(t, missing.ValidateStaticConfig(), 1)

	// 缺失输入是终止性错误
	ok := instantiate(t, Options{}, node("p", TypeTextTemplate, workflow.Params{"template": "{{ .subject }}"}))
	ec, _ := newEC("p")
	_, err := ok.Execute(testutil.TestContext(t), map[string]any{}, ec)
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

func TestDelay(t *testing.T) {
	c := instantiate(t, Options{}, node("wait", TypeDelay, workflow.Params{"duration": "60ms", "tick": "10ms"}, "out"))
	require.Empty(t, c.ValidateStaticConfig())

	ec, beats := newEC("wait")
	start := time.Now()
	res, err := c.Execute(testutil.TestContext(t), map[string]any{"in": "frame.png"}, ec)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	assert.Equal(t, "frame.png", res.Outputs["out"])
	assert.Equal(t, "frame.png", res.Outputs["in"])

	got := beats.all()
	require.GreaterOrEqual(t, len(got), 3)
	assert.Equal(t, heartbeat{stage: "waiting", percent: 0}, got[0])
	assert.Equal(t, heartbeat{stage: "done", percent: 100}, got[len(got)-1])
}

func TestDelay_DefaultDuration(t *testing.T) {
	reg, err := NewRegistry(Options{})
	require.NoError(t, err)
	meta, _ := reg.Metadata(TypeDelay)
	assert.Equal(t, "1s", meta.DefaultParams["duration"])
}

func TestDelay_Cancelled(t *testing.T) {
	c := instantiate(t, Options{}, node("wait", TypeDelay, workflow.Params{"duration": "10s"}))
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	ec, _ := newEC("wait")
	_, err := c.Execute(ctx, nil, ec)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, resilience.IsTransient(err))
}

func TestDelay_ValidateStaticConfig(t *testing.T) {
	c := instantiate(t, Options{}, node("wait", TypeDelay, workflow.Params{"duration": "soon", "tick": 0}))
	assert.Len(t, c.ValidateStaticConfig(), 2)
}
