package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/nodeflow/resilience"
)

// scriptedNode is a configurable capability shared by the workflow tests.
// Every node instantiated from the same scriptedNode shares its call log.
type scriptedNode struct {
	mu sync.Mutex

	cost      float64
	costs     map[string]float64 // per node id, overrides cost
	estimate  float64
	outputs   func(nodeID string, inputs map[string]any) map[string]any
	failures  map[string][]error // per node id, consumed one per call
	configErr []error
	delay     time.Duration
	beats     []float64
	panicMsg  string

	calls []scriptedCall
}

type scriptedCall struct {
	NodeID  string
	Attempt int
	Inputs  map[string]any
	Key     string
}

func newScriptedNode() *scriptedNode {
	return &scriptedNode{failures: make(map[string][]error)}
}

// echo produces {"out": "<nodeID>(<in>)"} so chains are easy to follow.
func echoOutputs(nodeID string, inputs map[string]any) map[string]any {
	in, _ := inputs["in"].(string)
	return map[string]any{"out": nodeID + "(" + in + ")"}
}

func (s *scriptedNode) failNext(nodeID string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[nodeID] = append(s.failures[nodeID], errs...)
}

func (s *scriptedNode) Execute(ctx context.Context, inputs map[string]any, ec *ExecutionContext) (*NodeExecutionResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, scriptedCall{NodeID: ec.NodeID, Attempt: ec.Attempt, Inputs: cloneValues(inputs), Key: ec.IdempotencyKey})
	var err error
	if q := s.failures[ec.NodeID]; len(q) > 0 {
		err, s.failures[ec.NodeID] = q[0], q[1:]
	}
	outputs := s.outputs
	cost, delay, beats, panicMsg := s.cost, s.delay, s.beats, s.panicMsg
	if c, ok := s.costs[ec.NodeID]; ok {
		cost = c
	}
	s.mu.Unlock()

	if panicMsg != "" {
		panic(panicMsg)
	}
	for _, pct := range beats {
		ec.Heartbeat("rendering", pct)
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}

	var out map[string]any
	if outputs != nil {
		out = outputs(ec.NodeID, inputs)
	} else {
		out = echoOutputs(ec.NodeID, inputs)
	}
	return Succeeded(out, cost), nil
}

func (s *scriptedNode) EstimateCost(map[string]any) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.estimate != 0 {
		return s.estimate
	}
	return s.cost
}

func (s *scriptedNode) ValidateStaticConfig() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configErr
}

func (s *scriptedNode) factory() Factory {
	return func(NodeDefinition) (NodeCapability, error) { return s, nil }
}

func (s *scriptedNode) invoked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c.NodeID)
	}
	return out
}

func (s *scriptedNode) callsFor(nodeID string) []scriptedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []scriptedCall
	for _, c := range s.calls {
		if c.NodeID == nodeID {
			out = append(out, c)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// definition builders
// ---------------------------------------------------------------------------

func slotNode(id, nodeType string, inputs []InputSlot, outputs []OutputSlot) NodeDefinition {
	if inputs == nil {
		inputs = []InputSlot{}
	}
	if outputs == nil {
		outputs = []OutputSlot{}
	}
	return NodeDefinition{ID: id, Type: nodeType, Inputs: inputs, Outputs: outputs}
}

func inSlot(name string, t SlotType, required bool) InputSlot {
	return InputSlot{Name: name, Type: t, Required: required}
}

func outSlot(name string, t SlotType) OutputSlot {
	return OutputSlot{Name: name, Type: t}
}

func conn(src, srcOut, tgt, tgtIn string) Connection {
	return Connection{SourceNodeID: src, SourceOutput: srcOut, TargetNodeID: tgt, TargetInput: tgtIn}
}

// chainDef builds step1 → ... → stepN of type "step", each with in/out
// string slots; step1.in is bound to "seed" and stepN.out is output "result".
func chainDef(n int) *Definition {
	def := &Definition{ID: "chain", Name: "chain"}
	for i := 1; i <= n; i++ {
		def.Nodes = append(def.Nodes, slotNode(stepID(i), "step",
			[]InputSlot{inSlot("in", SlotString, true)},
			[]OutputSlot{outSlot("out", SlotString)}))
		if i > 1 {
			def.Connections = append(def.Connections, conn(stepID(i-1), "out", stepID(i), "in"))
		}
	}
	def.Inputs = []InputBinding{{Name: "seed", NodeID: "step1", Input: "in"}}
	def.Outputs = []OutputDeclaration{{Name: "result", NodeID: stepID(n), Output: "out"}}
	return def
}

func stepID(i int) string {
	return fmt.Sprintf("step%d", i)
}

// imageVideoDef is the image_gen → video_gen workflow.
func imageVideoDef() *Definition {
	return &Definition{
		ID:   "image-to-video",
		Name: "Image to video",
		Nodes: []NodeDefinition{
			slotNode("image_gen", "image_gen",
				[]InputSlot{inSlot("prompt", SlotString, true)},
				[]OutputSlot{outSlot("image", SlotImage)}),
			slotNode("video_gen", "video_gen",
				[]InputSlot{inSlot("image", SlotImage, true)},
				[]OutputSlot{outSlot("video", SlotVideo)}),
		},
		Connections: []Connection{conn("image_gen", "image", "video_gen", "image")},
		Inputs:      []InputBinding{{Name: "prompt", NodeID: "image_gen", Input: "prompt"}},
		Outputs:     []OutputDeclaration{{Name: "video", NodeID: "video_gen", Output: "video"}},
	}
}

func newTestRegistry(t *testing.T, nodes map[string]*scriptedNode) *Registry {
	t.Helper()
	reg := NewRegistry(nil)
	for name, node := range nodes {
		reg.MustRegister(name, node.factory(), Metadata{Category: "test"})
	}
	return reg
}

// fastRetry keeps retry tests in the millisecond range.
func fastRetry(maxRetries int) *resilience.RetryPolicy {
	p := resilience.DefaultRetryPolicy()
	p.MaxRetries = maxRetries
	p.InitialDelay = time.Millisecond
	p.MaxDelay = 5 * time.Millisecond
	p.Jitter = false
	return p
}

var errUpstreamBusy = errors.New("upstream busy")

// eventLog collects run events.
type eventLog struct {
	mu     sync.Mutex
	events []RunEvent
}

func (l *eventLog) emit(ev RunEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) types() []RunEventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]RunEventType, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Type
	}
	return out
}

func (l *eventLog) ofType(t RunEventType) []RunEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []RunEvent
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
