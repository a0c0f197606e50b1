package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/HatiCode/prescaler/cmd/prescaler/metrics"
	"github.com/HatiCode/prescaler/pkg/actionlog"
	"github.com/HatiCode/prescaler/pkg/adapters"
	"github.com/HatiCode/prescaler/pkg/capacity"
	"github.com/HatiCode/prescaler/pkg/models"
	"github.com/HatiCode/prescaler/pkg/orchestrator"
	"github.com/HatiCode/prescaler/pkg/storage"
	"github.com/HatiCode/prescaler/pkg/tasks"
	"github.com/HatiCode/prescaler/pkg/window"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticAdapter struct {
	samples []window.Sample
	err     error
}

func (a *staticAdapter) Collect(ctx context.Context, _ int) ([]window.Sample, error) {
	if a.err != nil {
		return nil, a.err
	}
	out := make([]window.Sample, len(a.samples))
	copy(out, a.samples)
	return out, ctx.Err()
}

func (a *staticAdapter) Name() string { return "static" }

type failingModel struct{}

func (failingModel) Name() string { return "failing" }

func (failingModel) Predict(context.Context, window.Snapshot) (models.Forecast, error) {
	return models.Forecast{}, fmt.Errorf("%w: model server returned 503", models.ErrForecast)
}

// rejectingOrchestrator reads replicas normally but refuses every change.
type rejectingOrchestrator struct {
	*orchestrator.SimulatedClient
}

func (r rejectingOrchestrator) SetReplicas(context.Context, string, int) (orchestrator.AppliedStatus, error) {
	return orchestrator.AppliedStatus{}, fmt.Errorf("%w: forbidden", orchestrator.ErrOrchestration)
}

func trafficSamples(values ...float64) []window.Sample {
	out := make([]window.Sample, len(values))
	for i, v := range values {
		out[i] = window.Sample{Timestamp: testStart.Add(time.Duration(i) * time.Minute), Value: v}
	}
	return out
}

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// spike is 30 samples of steady traffic with a 400 req/min burst at sample 28.
func spike() []float64 {
	values := flat(30, 100)
	values[28] = 400
	return values
}

func testPolicy() capacity.Policy {
	return capacity.Policy{UpThreshold: 310, ScaleUpReplicas: 3, ScaleDownReplicas: 1}
}

func newWorkload(name string, adapter adapters.Adapter, model models.Model) *Workload {
	if model == nil {
		model = models.NewBaselineModel(models.Config{
			Workload: name, WindowSize: 30, Horizon: 6, StepSeconds: 600,
		})
	}
	return &Workload{
		Name:           name,
		Adapter:        adapter,
		Window:         window.New(30),
		Model:          model,
		Policy:         testPolicy(),
		Bounds:         capacity.Bounds{Min: 1, Max: 10},
		CollectSeconds: 1800,
	}
}

type fixture struct {
	p       *Prescaler
	store   *storage.MemoryStore
	actions *actionlog.MemoryLog
	metrics *metrics.Metrics
}

func newFixture(orch orchestrator.Client, workloads ...*Workload) fixture {
	f := fixture{
		store:   storage.NewMemoryStore(),
		actions: actionlog.NewMemoryLog(100),
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	f.p = New(workloads, orch, f.store, f.actions, quietLogger(), f.metrics)
	f.p.now = func() time.Time { return testStart.Add(30 * time.Minute) }
	return f
}

func TestCycle_SpikeScalesUp(t *testing.T) {
	sim := orchestrator.NewSimulatedClient(map[string]int{"api": 1}, quietLogger())
	f := newFixture(sim, newWorkload("api", &staticAdapter{samples: trafficSamples(spike()...)}, nil))

	outcome, err := f.p.Cycle(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}
	if len(outcome.Actions) != 1 {
		t.Fatalf("got %d actions, want 1", len(outcome.Actions))
	}

	got := outcome.Actions[0]
	if got.Action != capacity.ActionScaleUp || got.From != 1 || got.To != 3 {
		t.Errorf("action = %s %d→%d, want scale-up 1→3", got.Action, got.From, got.To)
	}
	if !got.Applied || got.TaskID != "task-1" || got.Peak <= 310 {
		t.Errorf("entry = %+v", got)
	}

	if n, _ := sim.GetReplicas(context.Background(), "api"); n != 3 {
		t.Errorf("replicas = %d, want 3", n)
	}
	if logged := f.actions.Recent(0); len(logged) != 1 || logged[0].Seq != got.Seq {
		t.Errorf("action log = %+v", logged)
	}

	snap, found, err := f.store.GetLatest(context.Background(), "api")
	if err != nil || !found {
		t.Fatalf("GetLatest() found=%v err=%v", found, err)
	}
	if snap.Decision == nil || snap.Decision.TargetReplicas != 3 {
		t.Errorf("stored decision = %+v", snap.Decision)
	}
	if len(snap.Forecast.Points) != 6 {
		t.Errorf("stored forecast has %d points, want 6", len(snap.Forecast.Points))
	}

	if v := testutil.ToFloat64(f.metrics.DecisionsTotal.WithLabelValues("api", "scale-up")); v != 1 {
		t.Errorf("scale-up decisions metric = %v, want 1", v)
	}
}

func TestCycle_NoOpAndScaleDown(t *testing.T) {
	tests := []struct {
		name        string
		current     int
		wantAction  capacity.Action
		wantTo      int
		wantApplied bool
	}{
		{"already at scale-down target", 1, capacity.ActionNoOp, 1, false},
		{"scaled up before", 3, capacity.ActionScaleDown, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := orchestrator.NewSimulatedClient(map[string]int{"api": tt.current}, quietLogger())
			f := newFixture(sim, newWorkload("api", &staticAdapter{samples: trafficSamples(flat(30, 100)...)}, nil))

			outcome, err := f.p.Cycle(context.Background(), "task-1")
			if err != nil {
				t.Fatalf("Cycle() error = %v", err)
			}
			got := outcome.Actions[0]
			if got.Action != tt.wantAction || got.To != tt.wantTo || got.Applied != tt.wantApplied {
				t.Errorf("entry = %+v", got)
			}
			if n, _ := sim.GetReplicas(context.Background(), "api"); n != tt.wantTo {
				t.Errorf("replicas = %d, want %d", n, tt.wantTo)
			}
		})
	}
}

func TestCycle_Skips(t *testing.T) {
	tests := []struct {
		name    string
		adapter *staticAdapter
	}{
		{"window not full", &staticAdapter{samples: trafficSamples(flat(10, 100)...)}},
		{"end of data", &staticAdapter{err: fmt.Errorf("replay: %w", adapters.ErrEndOfData)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := orchestrator.NewSimulatedClient(map[string]int{"api": 1}, quietLogger())
			f := newFixture(sim, newWorkload("api", tt.adapter, nil))

			outcome, err := f.p.Cycle(context.Background(), "task-1")
			if err != nil {
				t.Fatalf("Cycle() error = %v, want skip", err)
			}
			if _, ok := outcome.Skipped["api"]; !ok {
				t.Errorf("Skipped = %v, want api", outcome.Skipped)
			}
			if len(outcome.Actions) != 0 || f.actions.Len() != 0 {
				t.Errorf("skipped workload produced actions: %+v", outcome.Actions)
			}
		})
	}
}

func TestCycle_PredictorFailure(t *testing.T) {
	sim := orchestrator.NewSimulatedClient(map[string]int{"api": 1}, quietLogger())
	f := newFixture(sim, newWorkload("api", &staticAdapter{samples: trafficSamples(spike()...)}, failingModel{}))

	_, err := f.p.Cycle(context.Background(), "task-1")
	if !errors.Is(err, models.ErrForecast) {
		t.Fatalf("Cycle() error = %v, want ErrForecast", err)
	}
	if f.actions.Len() != 0 {
		t.Errorf("action log has %d entries, want 0", f.actions.Len())
	}
	if n, _ := sim.GetReplicas(context.Background(), "api"); n != 1 {
		t.Errorf("replicas = %d, want unchanged 1", n)
	}
}

func TestCycle_GetReplicasFailure(t *testing.T) {
	sim := orchestrator.NewSimulatedClient(map[string]int{"api": 1}, quietLogger())
	sim.FailWith("api", errors.New("connection refused"))
	f := newFixture(sim, newWorkload("api", &staticAdapter{samples: trafficSamples(spike()...)}, nil))

	_, err := f.p.Cycle(context.Background(), "task-1")
	if !errors.Is(err, orchestrator.ErrOrchestration) {
		t.Fatalf("Cycle() error = %v, want ErrOrchestration", err)
	}
	if f.actions.Len() != 0 {
		t.Errorf("action log has %d entries, want 0", f.actions.Len())
	}

	snap, found, _ := f.store.GetLatest(context.Background(), "api")
	if !found || snap.Decision != nil {
		t.Errorf("want forecast stored without decision, got found=%v decision=%+v", found, snap.Decision)
	}
}

func TestCycle_ApplyFailureIsLogged(t *testing.T) {
	orch := rejectingOrchestrator{orchestrator.NewSimulatedClient(map[string]int{"api": 1}, quietLogger())}
	f := newFixture(orch, newWorkload("api", &staticAdapter{samples: trafficSamples(spike()...)}, nil))

	outcome, err := f.p.Cycle(context.Background(), "task-1")
	if !errors.Is(err, orchestrator.ErrOrchestration) {
		t.Fatalf("Cycle() error = %v, want ErrOrchestration", err)
	}
	if len(outcome.Actions) != 1 {
		t.Fatalf("got %d actions, want 1", len(outcome.Actions))
	}
	got := outcome.Actions[0]
	if got.Applied || got.Error == "" || got.Action != capacity.ActionScaleUp {
		t.Errorf("entry = %+v, want unapplied scale-up with error", got)
	}
	if f.actions.Len() != 1 {
		t.Errorf("action log has %d entries, want 1", f.actions.Len())
	}
}

func TestCycle_PartialFailureEvaluatesOthers(t *testing.T) {
	sim := orchestrator.NewSimulatedClient(map[string]int{"api": 1, "worker": 1}, quietLogger())
	f := newFixture(sim,
		newWorkload("api", &staticAdapter{samples: trafficSamples(spike()...)}, nil),
		newWorkload("worker", &staticAdapter{samples: trafficSamples(spike()...)}, failingModel{}),
	)

	outcome, err := f.p.Cycle(context.Background(), "task-1")
	if !errors.Is(err, models.ErrForecast) {
		t.Fatalf("Cycle() error = %v, want ErrForecast", err)
	}
	if len(outcome.Actions) != 1 || outcome.Actions[0].Workload != "api" {
		t.Errorf("actions = %+v, want one for api", outcome.Actions)
	}
}

func TestCycle_LaneSerializesWorkload(t *testing.T) {
	sim := orchestrator.NewSimulatedClient(map[string]int{"api": 1}, quietLogger())
	f := newFixture(sim, newWorkload("api", &staticAdapter{samples: trafficSamples(spike()...)}, nil))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.p.Cycle(context.Background(), fmt.Sprintf("task-%d", i)); err != nil {
				t.Errorf("Cycle() error = %v", err)
			}
		}()
	}
	wg.Wait()

	scaleUps := 0
	for _, e := range f.actions.Recent(0) {
		if e.Action == capacity.ActionScaleUp {
			scaleUps++
		}
	}
	if scaleUps != 1 {
		t.Errorf("got %d scale-up entries, want exactly 1", scaleUps)
	}
	if f.actions.Len() != 4 {
		t.Errorf("action log has %d entries, want 4", f.actions.Len())
	}
}

func TestRunOnce_FailingPredictorMarksTaskFailed(t *testing.T) {
	sim := orchestrator.NewSimulatedClient(map[string]int{"api": 1}, quietLogger())
	f := newFixture(sim, newWorkload("api", &staticAdapter{samples: trafficSamples(spike()...)}, failingModel{}))

	mgr := tasks.NewManager(f.p.Cycle, tasks.Config{Logger: quietLogger()})
	defer mgr.Shutdown(context.Background())

	task, _, err := mgr.RunOnce(context.Background())
	if err == nil {
		t.Fatal("RunOnce() error = nil, want failure")
	}
	if task.State != tasks.StateFailed {
		t.Errorf("State = %s, want failed", task.State)
	}
	if got := mgr.Status()[task.ID]; got != tasks.StateFailed {
		t.Errorf("Status()[%s] = %s, want failed", task.ID, got)
	}
	if f.actions.Len() != 0 {
		t.Errorf("action log has %d entries, want 0", f.actions.Len())
	}
}

func TestRunOnce_SpikeCompletes(t *testing.T) {
	sim := orchestrator.NewSimulatedClient(map[string]int{"api": 1}, quietLogger())
	f := newFixture(sim, newWorkload("api", &staticAdapter{samples: trafficSamples(spike()...)}, nil))

	mgr := tasks.NewManager(f.p.Cycle, tasks.Config{Logger: quietLogger()})
	defer mgr.Shutdown(context.Background())

	task, outcome, err := mgr.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if task.State != tasks.StateCompleted {
		t.Errorf("State = %s, want completed", task.State)
	}
	if len(outcome.Actions) != 1 || outcome.Actions[0].TaskID != task.ID {
		t.Errorf("outcome = %+v", outcome)
	}
}

func TestWorkloads(t *testing.T) {
	f := newFixture(orchestrator.NewSimulatedClient(nil, quietLogger()),
		newWorkload("api", &staticAdapter{}, nil),
		newWorkload("worker", &staticAdapter{}, nil),
	)
	got := f.p.Workloads()
	if len(got) != 2 || got[0] != "api" || got[1] != "worker" {
		t.Errorf("Workloads() = %v", got)
	}
}
