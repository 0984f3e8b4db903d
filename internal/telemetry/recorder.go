package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/BaSui01/nodeflow/workflow"
)

const meterName = "github.com/BaSui01/nodeflow"

// Recorder exports run and node measurements as OTel instruments. It
// implements workflow.MetricsRecorder alongside the Prometheus collector.
type Recorder struct {
	runs       metric.Int64Counter
	runSeconds metric.Float64Histogram
	runCost    metric.Float64Counter

	nodes       metric.Int64Counter
	nodeSeconds metric.Float64Histogram
	nodeCost    metric.Float64Counter
	retries     metric.Int64Counter
	heartbeats  metric.Int64Counter
	restores    metric.Int64Counter
}

var _ workflow.MetricsRecorder = (*Recorder)(nil)

// NewRecorder creates the instruments on mp.
func NewRecorder(mp metric.MeterProvider) (*Recorder, error) {
	m := mp.Meter(meterName)
	r := &Recorder{}
	var err error

	if r.runs, err = m.Int64Counter("nodeflow.runs",
		metric.WithDescription("Finished workflow runs")); err != nil {
		return nil, err
	}
	if r.runSeconds, err = m.Float64Histogram("nodeflow.run.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Workflow run duration")); err != nil {
		return nil, err
	}
	if r.runCost, err = m.Float64Counter("nodeflow.run.cost",
		metric.WithDescription("Accumulated run cost")); err != nil {
		return nil, err
	}
	if r.nodes, err = m.Int64Counter("nodeflow.node.executions",
		metric.WithDescription("Node executions")); err != nil {
		return nil, err
	}
	if r.nodeSeconds, err = m.Float64Histogram("nodeflow.node.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Node execution duration, retries included")); err != nil {
		return nil, err
	}
	if r.nodeCost, err = m.Float64Counter("nodeflow.node.cost",
		metric.WithDescription("Accumulated node cost")); err != nil {
		return nil, err
	}
	if r.retries, err = m.Int64Counter("nodeflow.node.retries"); err != nil {
		return nil, err
	}
	if r.heartbeats, err = m.Int64Counter("nodeflow.node.heartbeats"); err != nil {
		return nil, err
	}
	if r.restores, err = m.Int64Counter("nodeflow.node.restores"); err != nil {
		return nil, err
	}
	return r, nil
}

// 记录发生在执行路径之外，使用独立的 context
var bg = context.Background()

func (r *Recorder) RecordRun(workflowID string, status workflow.RunStatus, duration time.Duration, cost float64) {
	attrs := metric.WithAttributes(
		attribute.String("workflow.id", workflowID),
		attribute.String("run.status", string(status)),
	)
	r.runs.Add(bg, 1, attrs)
	r.runSeconds.Record(bg, duration.Seconds(), attrs)
	r.runCost.Add(bg, cost, attrs)
}

func (r *Recorder) RecordNode(nodeType string, success bool, duration time.Duration, cost float64, attempts int) {
	attrs := metric.WithAttributes(
		attribute.String("node.type", nodeType),
		attribute.Bool("node.success", success),
	)
	r.nodes.Add(bg, 1, attrs)
	r.nodeSeconds.Record(bg, duration.Seconds(), attrs)
	if cost > 0 {
		r.nodeCost.Add(bg, cost, attrs)
	}
}

func (r *Recorder) RecordRetry(nodeType string) {
	r.retries.Add(bg, 1, metric.WithAttributes(attribute.String("node.type", nodeType)))
}

func (r *Recorder) RecordHeartbeat(nodeType string) {
	r.heartbeats.Add(bg, 1, metric.WithAttributes(attribute.String("node.type", nodeType)))
}

func (r *Recorder) RecordRestore(nodeType string) {
	r.restores.Add(bg, 1, metric.WithAttributes(attribute.String("node.type", nodeType)))
}
