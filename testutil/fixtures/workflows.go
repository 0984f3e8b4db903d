// =============================================================================
// 📦 测试数据工厂 - 工作流定义
// =============================================================================
// 提供预定义的工作流定义，用于校验、执行与存储测试
// =============================================================================
package fixtures

import (
	"fmt"

	"github.com/BaSui01/nodeflow/workflow"
)

// =============================================================================
// 🧩 节点工厂
// =============================================================================

// Node 创建一个节点定义；inputs/outputs 形如 "name:type"，
// 以 "!" 结尾的输入为必填，例如 "prompt:string!"
func Node(id, nodeType string, inputs []string, outputs []string) workflow.NodeDefinition {
	n := workflow.NodeDefinition{
		ID:      id,
		Type:    nodeType,
		Inputs:  []workflow.InputSlot{},
		Outputs: []workflow.OutputSlot{},
	}
	for _, spec := range inputs {
		name, typ, required := parseSlot(spec)
		n.Inputs = append(n.Inputs, workflow.InputSlot{Name: name, Type: typ, Required: required})
	}
	for _, spec := range outputs {
		name, typ, _ := parseSlot(spec)
		n.Outputs = append(n.Outputs, workflow.OutputSlot{Name: name, Type: typ})
	}
	return n
}

func parseSlot(spec string) (string, workflow.SlotType, bool) {
	required := false
	if len(spec) > 0 && spec[len(spec)-1] == '!' {
		required = true
		spec = spec[:len(spec)-1]
	}
	for i := 0; i < len(spec); i++ {
		if spec[i] == ':' {
			return spec[:i], workflow.SlotType(spec[i+1:]), required
		}
	}
	return spec, workflow.SlotString, required
}

// Connect 创建连接
func Connect(src, out, tgt, in string) workflow.Connection {
	return workflow.Connection{SourceNodeID: src, SourceOutput: out, TargetNodeID: tgt, TargetInput: in}
}

// =============================================================================
// 🎬 工作流工厂
// =============================================================================

// ImageToVideo 返回 image_gen → video_gen 两节点工作流。
// image_gen.prompt 通过绑定 "prompt" 提供，video_gen.video 声明为输出 "video"。
func ImageToVideo() *workflow.Definition {
	return &workflow.Definition{
		ID:      "image-to-video",
		Name:    "Image to video",
		Version: "1.0.0",
		Nodes: []workflow.NodeDefinition{
			Node("image_gen", "image_gen", []string{"prompt:string!"}, []string{"image:image"}),
			Node("video_gen", "video_gen", []string{"image:image!"}, []string{"video:video"}),
		},
		Connections: []workflow.Connection{
			Connect("image_gen", "image", "video_gen", "image"),
		},
		Inputs: []workflow.InputBinding{
			{Name: "prompt", NodeID: "image_gen", Input: "prompt"},
		},
		Outputs: []workflow.OutputDeclaration{
			{Name: "video", NodeID: "video_gen", Output: "video"},
		},
	}
}

// CyclicImageToVideo 在 ImageToVideo 基础上加入反向连接 video_gen → image_gen
func CyclicImageToVideo() *workflow.Definition {
	def := ImageToVideo()
	def.ID = "image-to-video-cyclic"
	def.Nodes[0].Inputs = append(def.Nodes[0].Inputs, workflow.InputSlot{Name: "reference", Type: workflow.SlotVideo})
	def.Connections = append(def.Connections, Connect("video_gen", "video", "image_gen", "reference"))
	return def
}

// Chain 返回 n 个 nodeType 节点组成的线性链 step1 → step2 → ... → stepN。
// 每个节点有输入 "in" 与输出 "out"（均为 string），step1.in 绑定到 "seed"，
// stepN.out 声明为输出 "result"。
func Chain(nodeType string, n int) *workflow.Definition {
	def := &workflow.Definition{
		ID:   fmt.Sprintf("chain-%d", n),
		Name: fmt.Sprintf("Chain of %d", n),
	}
	for i := 1; i <= n; i++ {
		def.Nodes = append(def.Nodes, Node(StepID(i), nodeType, []string{"in:string!"}, []string{"out:string"}))
		if i > 1 {
			def.Connections = append(def.Connections, Connect(StepID(i-1), "out", StepID(i), "in"))
		}
	}
	if n > 0 {
		def.Inputs = []workflow.InputBinding{{Name: "seed", NodeID: StepID(1), Input: "in"}}
		def.Outputs = []workflow.OutputDeclaration{{Name: "result", NodeID: StepID(n), Output: "out"}}
	}
	return def
}

// StepID 返回 Chain 中第 i 个节点的 ID（从 1 开始）
func StepID(i int) string {
	return fmt.Sprintf("step%d", i)
}
