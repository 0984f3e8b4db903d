package capabilities

import (
	"context"

	"github.com/BaSui01/nodeflow/workflow"
)

// constant 把 value 参数写到 "value" 以及所有声明的输出槽。
// values 参数可按槽名分别指定。
type constant struct {
	node workflow.NodeDefinition
}

func newConstant(node workflow.NodeDefinition) (workflow.NodeCapability, error) {
	return &constant{node: node}, nil
}

func (c *constant) Execute(_ context.Context, _ map[string]any, ec *workflow.ExecutionContext) (*workflow.NodeExecutionResult, error) {
	value := c.node.Params["value"]
	perSlot, _ := c.node.Params.Map("values")

	outputs := map[string]any{"value": value}
	for _, slot := range c.node.Outputs {
		if v, ok := perSlot[slot.Name]; ok {
			outputs[slot.Name] = v
			continue
		}
		outputs[slot.Name] = value
	}
	return workflow.Succeeded(outputs, c.node.Params.FloatOr("cost", 0)), nil
}

func (c *constant) EstimateCost(map[string]any) float64 {
	return c.node.Params.FloatOr("cost", 0)
}

func (c *constant) ValidateStaticConfig() []error {
	var errs []error
	if !c.node.Params.Has("value") && !c.node.Params.Has("values") {
		errs = append(errs, &workflow.ParamError{Param: "value", Reason: "value or values is required"})
	}
	if c.node.Params.Has("values") {
		if _, ok := c.node.Params.Map("values"); !ok {
			errs = append(errs, &workflow.ParamError{Param: "values", Reason: "must be an object keyed by output slot"})
		}
	}
	if cost, ok := c.node.Params.Float("cost"); c.node.Params.Has("cost") && (!ok || cost < 0) {
		errs = append(errs, &workflow.ParamError{Param: "cost", Reason: "must be a non-negative number"})
	}
	return errs
}
