package capabilities

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/workflow"
)

const minDelayTick = 10 * time.Millisecond

// delay 等待 duration，每个 tick 发送一次心跳；输入原样透传到同名输出。
type delay struct {
	node workflow.NodeDefinition
}

func newDelay(node workflow.NodeDefinition) (workflow.NodeCapability, error) {
	return &delay{node: node}, nil
}

func (d *delay) Execute(ctx context.Context, inputs map[string]any, ec *workflow.ExecutionContext) (*workflow.NodeExecutionResult, error) {
	total, _ := d.node.Params.Duration("duration")
	tick, ok := d.node.Params.Duration("tick")
	if !ok || tick <= 0 {
		tick = total / 10
	}
	if tick < minDelayTick {
		tick = minDelayTick
	}

	start := time.Now()
	ec.Heartbeat("waiting", 0)

	timer := time.NewTimer(total)
	defer timer.Stop()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ec.Logger.Debug("delay interrupted", zap.Duration("elapsed", time.Since(start)))
			return nil, ctx.Err()
		case <-ticker.C:
			ec.Heartbeat("waiting", float64(time.Since(start))/float64(total)*100)
		case <-timer.C:
			ec.Heartbeat("done", 100)
			outputs := make(map[string]any, len(inputs)+1)
			for k, v := range inputs {
				outputs[k] = v
			}
			if v, ok := inputs["in"]; ok {
				outputs["out"] = v
			}
			return workflow.Succeeded(outputs, 0), nil
		}
	}
}

func (d *delay) EstimateCost(map[string]any) float64 { return 0 }

func (d *delay) ValidateStaticConfig() []error {
	var errs []error
	if dur, ok := d.node.Params.Duration("duration"); !ok || dur < 0 {
		errs = append(errs, &workflow.ParamError{Param: "duration", Reason: "must be a duration string or milliseconds"})
	}
	if d.node.Params.Has("tick") {
		if tick, ok := d.node.Params.Duration("tick"); !ok || tick <= 0 {
			errs = append(errs, &workflow.ParamError{Param: "tick", Reason: "must be positive"})
		}
	}
	return errs
}
