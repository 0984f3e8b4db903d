package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/nodeflow/workflow"
)

func TestTee_FansOut(t *testing.T) {
	a := NewCollectorWith(nextTestNamespace(), prometheus.NewRegistry(), nil)
	b := NewCollectorWith(nextTestNamespace(), prometheus.NewRegistry(), nil)
	rec := Tee(a, nil, b)

	rec.RecordRun("wf", workflow.RunCompleted, time.Second, 2)
	rec.RecordNode("delay", true, time.Millisecond, 0.5, 2)
	rec.RecordRetry("delay")
	rec.RecordHeartbeat("delay")
	rec.RecordRestore("delay")

	for _, c := range []*Collector{a, b} {
		assert.Equal(t, 1.0, testutil.ToFloat64(c.runsTotal.WithLabelValues("wf", string(workflow.RunCompleted))))
		assert.Equal(t, 1.0, testutil.ToFloat64(c.nodeRetries.WithLabelValues("delay")))
		assert.Equal(t, 1.0, testutil.ToFloat64(c.nodeHeartbeats.WithLabelValues("delay")))
		assert.Equal(t, 1.0, testutil.ToFloat64(c.nodeRestores.WithLabelValues("delay")))
	}
}

func TestTee_SingleRecorderIsReturnedAsIs(t *testing.T) {
	a := NewCollectorWith(nextTestNamespace(), prometheus.NewRegistry(), nil)
	assert.Same(t, a, Tee(nil, a))
}
