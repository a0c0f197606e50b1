package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordDecision("api", "scale-up", 1, 3)
	m.RecordDecision("api", "no-op", 3, 3)
	m.RecordPredict("api", "baseline", 0.01, 360)
	m.RecordSkip("api", "insufficient_data")
	m.RecordError("api", "orchestrator")
	m.RecordCycle(nil)
	m.RecordCycle(errors.New("boom"))
	m.SetRunning(true)

	if got := testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("api", "scale-up")); got != 1 {
		t.Errorf("scale-up decisions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CurrentReplicas.WithLabelValues("api")); got != 3 {
		t.Errorf("current replicas = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.PredictedPeak.WithLabelValues("api")); got != 360 {
		t.Errorf("predicted peak = %v, want 360", got)
	}
	if got := testutil.ToFloat64(m.CyclesTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("failed cycles = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RunningTasks); got != 1 {
		t.Errorf("running tasks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("api", "orchestrator")); got != 1 {
		t.Errorf("orchestrator errors = %v, want 1", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordCollect("api", "prometheus", 1)
	m.RecordPredict("api", "baseline", 1, 1)
	m.RecordApply("api", 1)
	m.RecordDecision("api", "no-op", 1, 1)
	m.RecordSkip("api", "end_of_data")
	m.RecordError("api", "store")
	m.RecordCycle(nil)
	m.SetRunning(false)
	if m.Dropped() != nil {
		t.Error("Dropped() on nil metrics should be nil")
	}
}

func TestNew_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	defer func() {
		if recover() == nil {
			t.Error("registering twice on one registry should panic")
		}
	}()
	New(reg)
}
