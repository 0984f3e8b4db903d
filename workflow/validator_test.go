package workflow

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/nodeflow/types"
)

func newValidatorFor(t *testing.T, opts ...ValidatorOption) (*Validator, *scriptedNode) {
	t.Helper()
	node := newScriptedNode()
	reg := newTestRegistry(t, map[string]*scriptedNode{
		"step":      node,
		"image_gen": node,
		"video_gen": node,
	})
	return NewValidator(reg, opts...), node
}

func issueCodes(issues []ValidationIssue) []IssueCode {
	out := make([]IssueCode, len(issues))
	for i, issue := range issues {
		out[i] = issue.Code
	}
	return out
}

func TestValidator_ValidWorkflow(t *testing.T) {
	v, _ := newValidatorFor(t)

	result := v.Validate(imageVideoDef())
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.NotNil(t, result.Errors)
	assert.NotNil(t, result.Warnings)
}

func TestValidator_Structural(t *testing.T) {
	v, _ := newValidatorFor(t)

	result := v.Validate(&Definition{})
	assert.False(t, result.Valid)
	assert.ElementsMatch(t,
		[]IssueCode{IssueMissingWorkflowID, IssueMissingWorkflowName, IssueEmptyWorkflow},
		issueCodes(result.Errors))

	result = v.Validate(nil)
	assert.False(t, result.Valid)
	assert.True(t, result.HasError(IssueEmptyWorkflow))
}

func TestValidator_NodeRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(def *Definition)
		want   IssueCode
	}{
		{
			name:   "missing node id",
			mutate: func(def *Definition) { def.Nodes[0].ID = "" },
			want:   IssueMissingNodeID,
		},
		{
			name: "duplicate node id",
			mutate: func(def *Definition) {
				def.Nodes = append(def.Nodes, slotNode("image_gen", "image_gen", nil, nil))
			},
			want: IssueDuplicateNodeID,
		},
		{
			name:   "missing type",
			mutate: func(def *Definition) { def.Nodes[1].Type = "" },
			want:   IssueMissingNodeType,
		},
		{
			name:   "unknown type",
			mutate: func(def *Definition) { def.Nodes[1].Type = "audio_gen" },
			want:   IssueUnknownNodeType,
		},
		{
			name:   "nil input list",
			mutate: func(def *Definition) { def.Nodes[1].Inputs = nil },
			want:   IssueInvalidSlots,
		},
		{
			name:   "nil output list",
			mutate: func(def *Definition) { def.Nodes[1].Outputs = nil },
			want:   IssueInvalidSlots,
		},
		{
			name: "unnamed slot",
			mutate: func(def *Definition) {
				def.Nodes[1].Inputs = append(def.Nodes[1].Inputs, InputSlot{Type: SlotString})
			},
			want: IssueInvalidSlots,
		},
		{
			name: "duplicate slot",
			mutate: func(def *Definition) {
				def.Nodes[1].Outputs = append(def.Nodes[1].Outputs, outSlot("video", SlotVideo))
			},
			want: IssueDuplicateSlot,
		},
		{
			name: "unknown slot type",
			mutate: func(def *Definition) {
				def.Nodes[1].Outputs = append(def.Nodes[1].Outputs, outSlot("thumb", "thumbnail"))
			},
			want: IssueInvalidSlotType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := newValidatorFor(t)
			def := imageVideoDef()
			tt.mutate(def)

			result := v.Validate(def)
			assert.False(t, result.Valid)
			assert.True(t, result.HasError(tt.want), "got %v", issueCodes(result.Errors))
		})
	}
}

func TestValidator_UnknownTypeMessageListsKnownTypes(t *testing.T) {
	v, _ := newValidatorFor(t)
	def := imageVideoDef()
	def.Nodes[1].Type = "audio_gen"

	issues := v.Validate(def).ErrorsWithCode(IssueUnknownNodeType)
	require.Len(t, issues, 1)
	assert.Equal(t, "video_gen", issues[0].NodeID)
	assert.Contains(t, issues[0].Message, "known types: image_gen, step, video_gen")
}

func TestValidator_StaticConfig(t *testing.T) {
	v, node := newValidatorFor(t)
	node.configErr = []error{errors.New("param model is required"), errors.New("param steps must be positive")}

	result := v.Validate(imageVideoDef())
	assert.False(t, result.Valid)
	issues := result.ErrorsWithCode(IssueInvalidNodeConfig)
	// 两个节点各报告两条
	assert.Len(t, issues, 4)
	assert.Contains(t, issues[0].Message, "param model is required")
}

func TestValidator_ConnectionRules(t *testing.T) {
	tests := []struct {
		name string
		conn Connection
		want []IssueCode
	}{
		{
			name: "missing source node",
			conn: conn("ghost", "image", "video_gen", "image"),
			want: []IssueCode{IssueMissingSourceNode, IssueMultipleConnections},
		},
		{
			name: "missing target node",
			conn: conn("image_gen", "image", "ghost", "image"),
			want: []IssueCode{IssueMissingTargetNode},
		},
		{
			name: "missing source slot",
			conn: conn("image_gen", "thumbnail", "video_gen", "image"),
			want: []IssueCode{IssueMissingSourceSlot, IssueMultipleConnections},
		},
		{
			name: "missing target slot",
			conn: conn("image_gen", "image", "video_gen", "audio"),
			want: []IssueCode{IssueMissingTargetSlot},
		},
		{
			name: "type mismatch",
			conn: conn("video_gen", "video", "image_gen", "prompt"),
			want: []IssueCode{IssueTypeMismatch, IssueCircularDependency},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := newValidatorFor(t)
			def := imageVideoDef()
			def.Connections = append(def.Connections, tt.conn)

			result := v.Validate(def)
			assert.False(t, result.Valid)
			for _, code := range tt.want {
				assert.True(t, result.HasError(code), "want %s, got %v", code, issueCodes(result.Errors))
			}
		})
	}
}

func TestValidator_ConnectionIssueCarriesContext(t *testing.T) {
	v, _ := newValidatorFor(t)
	def := imageVideoDef()
	def.Connections[0].SourceOutput = "thumbnail"

	issues := v.Validate(def).ErrorsWithCode(IssueMissingSourceSlot)
	require.Len(t, issues, 1)
	assert.Equal(t, "image_gen", issues[0].NodeID)
	assert.Equal(t, "thumbnail", issues[0].Slot)
	require.NotNil(t, issues[0].Connection)
	assert.Equal(t, "video_gen", issues[0].Connection.TargetNodeID)
}

func TestValidator_WildcardTargets(t *testing.T) {
	v, _ := newValidatorFor(t)
	def := &Definition{
		ID:   "wild",
		Name: "wild",
		Nodes: []NodeDefinition{
			slotNode("src", "step", nil, []OutputSlot{outSlot("image", SlotImage), outSlot("n", SlotInteger)}),
			slotNode("dst", "step",
				[]InputSlot{inSlot("anything", SlotObject, true), inSlot("list", SlotArray, true)},
				[]OutputSlot{outSlot("out", SlotString)}),
		},
		Connections: []Connection{
			conn("src", "image", "dst", "anything"),
			conn("src", "n", "dst", "list"),
		},
		Outputs: []OutputDeclaration{{Name: "out", NodeID: "dst", Output: "out"}},
	}

	result := v.Validate(def)
	assert.True(t, result.Valid, "%v", result.Errors)
}

func TestValidator_BindingsAndOutputs(t *testing.T) {
	v, _ := newValidatorFor(t)
	def := imageVideoDef()
	def.Inputs = append(def.Inputs,
		InputBinding{Name: "x", NodeID: "ghost", Input: "prompt"},
		InputBinding{Name: "y", NodeID: "image_gen", Input: "nope"},
		InputBinding{Name: "", NodeID: "video_gen", Input: "image"},
		InputBinding{Name: "prompt2", NodeID: "image_gen", Input: "prompt"},
	)
	def.Outputs = append(def.Outputs,
		OutputDeclaration{Name: "video", NodeID: "video_gen", Output: "video"},
		OutputDeclaration{Name: "", NodeID: "video_gen", Output: "video"},
		OutputDeclaration{Name: "ghost", NodeID: "ghost", Output: "x"},
		OutputDeclaration{Name: "thumb", NodeID: "image_gen", Output: "thumb"},
	)

	result := v.Validate(def)
	assert.False(t, result.Valid)
	assert.Len(t, result.ErrorsWithCode(IssueInvalidBinding), 3)
	assert.Len(t, result.ErrorsWithCode(IssueDuplicateBinding), 1)
	assert.Len(t, result.ErrorsWithCode(IssueDuplicateOutput), 1)
	assert.Len(t, result.ErrorsWithCode(IssueInvalidOutput), 3)
}

func TestValidator_SameBindingNameFeedsSeveralNodes(t *testing.T) {
	v, _ := newValidatorFor(t)
	def := &Definition{
		ID:   "fanout",
		Name: "fanout",
		Nodes: []NodeDefinition{
			slotNode("a", "step", []InputSlot{inSlot("in", SlotString, true)}, []OutputSlot{outSlot("out", SlotString)}),
			slotNode("b", "step", []InputSlot{inSlot("in", SlotString, true)}, []OutputSlot{outSlot("out", SlotString)}),
		},
		Inputs: []InputBinding{
			{Name: "seed", NodeID: "a", Input: "in"},
			{Name: "seed", NodeID: "b", Input: "in"},
		},
		Outputs: []OutputDeclaration{
			{Name: "a", NodeID: "a", Output: "out"},
			{Name: "b", NodeID: "b", Output: "out"},
		},
	}

	result := v.Validate(def)
	assert.True(t, result.Valid, "%v", result.Errors)
	assert.False(t, result.HasWarning(IssueUnusedNode))
}

func TestValidator_MultipleConnectionsToOneInput(t *testing.T) {
	v, _ := newValidatorFor(t)
	def := chainDef(3)
	def.Connections = append(def.Connections, conn("step1", "out", "step3", "in"))

	issues := v.Validate(def).ErrorsWithCode(IssueMultipleConnections)
	require.Len(t, issues, 1)
	assert.Equal(t, "step3", issues[0].NodeID)
	assert.Equal(t, "in", issues[0].Slot)
}

// Scenario: a required input with no connection, no default and no binding.
func TestValidator_MissingRequiredInput(t *testing.T) {
	v, _ := newValidatorFor(t)
	def := imageVideoDef()
	def.Nodes[1].Inputs = append(def.Nodes[1].Inputs, inSlot("prompt", SlotString, true))

	result := v.Validate(def)
	assert.False(t, result.Valid)
	issues := result.ErrorsWithCode(IssueMissingRequiredInput)
	require.Len(t, issues, 1)
	assert.Equal(t, "video_gen", issues[0].NodeID)
	assert.Equal(t, "prompt", issues[0].Slot)
	assert.Contains(t, issues[0].Message, `required input "prompt"`)
}

// A required input satisfied by any one of connection, default or binding
// validates; more than one source is legal.
func TestValidator_RequiredInputCoverage(t *testing.T) {
	type sources struct{ connection, def, binding bool }

	build := func(s sources) *Definition {
		target := inSlot("prompt", SlotString, true)
		if s.def {
			target.Default = "a cat"
		}
		def := &Definition{
			ID:   "coverage",
			Name: "coverage",
			Nodes: []NodeDefinition{
				slotNode("src", "step", nil, []OutputSlot{outSlot("text", SlotString)}),
				slotNode("dst", "step", []InputSlot{target}, []OutputSlot{outSlot("out", SlotString)}),
			},
			Outputs: []OutputDeclaration{
				{Name: "out", NodeID: "dst", Output: "out"},
				{Name: "text", NodeID: "src", Output: "text"},
			},
		}
		if s.connection {
			def.Connections = append(def.Connections, conn("src", "text", "dst", "prompt"))
		}
		if s.binding {
			def.Inputs = append(def.Inputs, InputBinding{Name: "prompt", NodeID: "dst", Input: "prompt"})
		}
		return def
	}

	for mask := 0; mask < 8; mask++ {
		s := sources{connection: mask&1 != 0, def: mask&2 != 0, binding: mask&4 != 0}
		var parts []string
		if s.connection {
			parts = append(parts, "connection")
		}
		if s.def {
			parts = append(parts, "default")
		}
		if s.binding {
			parts = append(parts, "binding")
		}
		name := strings.Join(parts, "+")
		if name == "" {
			name = "none"
		}

		t.Run(name, func(t *testing.T) {
			v, _ := newValidatorFor(t)
			result := v.Validate(build(s))
			if mask == 0 {
				assert.True(t, result.HasError(IssueMissingRequiredInput))
				assert.False(t, result.Valid)
				return
			}
			assert.True(t, result.Valid, "%v", result.Errors)
		})
	}
}

// N independent violations are all reported, not a prefix.
func TestValidator_ReportsEveryViolation(t *testing.T) {
	v, _ := newValidatorFor(t)
	def := &Definition{
		// missing id and name
		Nodes: []NodeDefinition{
			slotNode("a", "nope", nil, []OutputSlot{outSlot("out", "bogus")}),
			slotNode("b", "", nil, nil),
			slotNode("a", "step", nil, nil),
			slotNode("c", "step", []InputSlot{inSlot("in", SlotString, true)}, []OutputSlot{outSlot("out", SlotString)}),
		},
		Connections: []Connection{
			conn("ghost", "out", "c", "in"),
		},
		Outputs: []OutputDeclaration{{Name: "x", NodeID: "ghost", Output: "out"}},
	}

	result := v.Validate(def)
	want := []IssueCode{
		IssueMissingWorkflowID,
		IssueMissingWorkflowName,
		IssueUnknownNodeType,
		IssueInvalidSlotType,
		IssueMissingNodeType,
		IssueDuplicateNodeID,
		IssueMissingSourceNode,
		IssueInvalidOutput,
	}
	for _, code := range want {
		assert.True(t, result.HasError(code), "missing %s in %v", code, issueCodes(result.Errors))
	}
	assert.Len(t, result.Errors, len(want))
}

func TestValidator_CircularDependency(t *testing.T) {
	v, _ := newValidatorFor(t)
	def := imageVideoDef()
	def.Nodes[0].Inputs = append(def.Nodes[0].Inputs, inSlot("reference", SlotVideo, false))
	def.Connections = append(def.Connections, conn("video_gen", "video", "image_gen", "reference"))

	result := v.Validate(def)
	assert.False(t, result.Valid)
	issues := result.ErrorsWithCode(IssueCircularDependency)
	require.Len(t, issues, 1)
	assert.Equal(t, []string{"image_gen", "video_gen", "image_gen"}, issues[0].Path)
	assert.Equal(t, "circular dependency: image_gen → video_gen → image_gen", issues[0].Message)
}

func TestValidator_Warnings(t *testing.T) {
	reg := NewRegistry(nil)
	cheap := newScriptedNode()
	cheap.cost = 0.5
	pricey := newScriptedNode()
	pricey.cost = 20
	reg.MustRegister("step", cheap.factory(), Metadata{})
	reg.MustRegister("video_gen", cheap.factory(), Metadata{HighCost: true})
	reg.MustRegister("upscale", pricey.factory(), Metadata{})

	def := &Definition{
		ID:   "warn",
		Name: "warn",
		Nodes: []NodeDefinition{
			slotNode("a", "step", nil, []OutputSlot{outSlot("out", SlotString)}),
			slotNode("b", "video_gen", []InputSlot{inSlot("in", SlotString, false)}, []OutputSlot{outSlot("video", SlotVideo)}),
			slotNode("lonely", "step", nil, []OutputSlot{outSlot("out", SlotString)}),
			slotNode("big", "upscale", nil, nil),
		},
		Connections: []Connection{conn("a", "out", "b", "in")},
		Outputs:     []OutputDeclaration{{Name: "video", NodeID: "b", Output: "video"}},
	}

	v := NewValidator(reg, WithHighCostThreshold(10), WithMaxNodes(3))
	result := v.Validate(def)
	assert.True(t, result.Valid, "warnings never block: %v", result.Errors)

	byCode := map[IssueCode][]string{}
	for _, w := range result.Warnings {
		byCode[w.Code] = append(byCode[w.Code], w.NodeID)
	}
	assert.ElementsMatch(t, []string{"lonely", "big"}, byCode[IssueUnusedNode])
	assert.ElementsMatch(t, []string{"lonely"}, byCode[IssueUnusedOutput])
	assert.ElementsMatch(t, []string{"b", "big"}, byCode[IssueHighCostNode])
	assert.Len(t, byCode[IssueOversizedWorkflow], 1)
}

func TestValidationError(t *testing.T) {
	v, _ := newValidatorFor(t)
	result := v.Validate(&Definition{ID: "x"})
	err := &ValidationError{WorkflowID: "x", Issues: result.Errors}

	assert.True(t, errors.Is(err, ErrValidationFailed))
	assert.Equal(t, types.ErrCodeValidationFailed, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), string(IssueMissingWorkflowName))
}
