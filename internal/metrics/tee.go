package metrics

import (
	"time"

	"github.com/BaSui01/nodeflow/workflow"
)

// Tee 把引擎指标同时写给多个 recorder（例如 Prometheus 与 OTel），nil 会被跳过
func Tee(recorders ...workflow.MetricsRecorder) workflow.MetricsRecorder {
	out := make(tee, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

type tee []workflow.MetricsRecorder

func (t tee) RecordRun(workflowID string, status workflow.RunStatus, duration time.Duration, cost float64) {
	for _, r := range t {
		r.RecordRun(workflowID, status, duration, cost)
	}
}

func (t tee) RecordNode(nodeType string, success bool, duration time.Duration, cost float64, attempts int) {
	for _, r := range t {
		r.RecordNode(nodeType, success, duration, cost, attempts)
	}
}

func (t tee) RecordRetry(nodeType string) {
	for _, r := range t {
		r.RecordRetry(nodeType)
	}
}

func (t tee) RecordHeartbeat(nodeType string) {
	for _, r := range t {
		r.RecordHeartbeat(nodeType)
	}
}

func (t tee) RecordRestore(nodeType string) {
	for _, r := range t {
		r.RecordRestore(nodeType)
	}
}
