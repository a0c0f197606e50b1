// Package main implements one control cycle of the autoscaler.
//
// For every managed workload a cycle runs:
//
//	collect → window → predict → store snapshot → read replicas → decide → apply → log
//
// Workloads are evaluated concurrently. Evaluations of the same workload are
// serialized by a per-workload lane, so the replica change applied by one
// cycle is visible before the next cycle reads the replica count again.
// This holds across the continuous task and overlapping run-once tasks.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

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

// Workload bundles everything a cycle needs for one managed workload.
type Workload struct {
	Name    string
	Adapter adapters.Adapter
	Window  *window.Window
	Model   models.Model
	Policy  capacity.Policy
	Bounds  capacity.Bounds
	// CollectSeconds is the lookback requested from the adapter.
	CollectSeconds int

	lane chan struct{}
}

// Prescaler runs control cycles over a fixed set of workloads.
type Prescaler struct {
	workloads    []*Workload
	orchestrator orchestrator.Client
	store        storage.Store
	actions      actionlog.Log
	logger       *slog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

// New creates a Prescaler. The workload set is fixed for its lifetime.
func New(
	workloads []*Workload,
	orch orchestrator.Client,
	store storage.Store,
	actions actionlog.Log,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Prescaler {
	if logger == nil {
		logger = slog.Default()
	}
	for _, w := range workloads {
		w.lane = make(chan struct{}, 1)
	}
	return &Prescaler{
		workloads:    workloads,
		orchestrator: orch,
		store:        store,
		actions:      actions,
		logger:       logger.With("component", "prescaler"),
		metrics:      m,
		now:          time.Now,
	}
}

// Workloads returns the names of the managed workloads.
func (p *Prescaler) Workloads() []string {
	out := make([]string, len(p.workloads))
	for i, w := range p.workloads {
		out[i] = w.Name
	}
	return out
}

type result struct {
	entry   *actionlog.Entry
	skipped string
	err     error
}

// Cycle evaluates every workload once on behalf of task taskID. Workloads
// whose source has no data left, or whose window is not full yet, are
// skipped. Any other per-workload error is joined into the returned error;
// the remaining workloads are still evaluated.
func (p *Prescaler) Cycle(ctx context.Context, taskID string) (tasks.Outcome, error) {
	start := p.now()
	results := make([]result, len(p.workloads))

	var wg sync.WaitGroup
	for i, w := range p.workloads {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = p.evaluate(ctx, taskID, w)
		}()
	}
	wg.Wait()

	outcome := tasks.Outcome{Actions: []actionlog.Entry{}}
	var errs []error
	for i, r := range results {
		name := p.workloads[i].Name
		if r.entry != nil {
			outcome.Actions = append(outcome.Actions, *r.entry)
		}
		if r.skipped != "" {
			if outcome.Skipped == nil {
				outcome.Skipped = make(map[string]string)
			}
			outcome.Skipped[name] = r.skipped
		}
		if r.err != nil {
			errs = append(errs, fmt.Errorf("workload %s: %w", name, r.err))
		}
	}
	err := errors.Join(errs...)

	p.metrics.RecordCycle(err)
	p.logger.Info("cycle complete",
		"task", taskID,
		"workloads", len(p.workloads),
		"actions", len(outcome.Actions),
		"skipped", len(outcome.Skipped),
		"errors", len(errs),
		"total_ms", p.now().Sub(start).Milliseconds(),
	)
	return outcome, err
}

func (p *Prescaler) evaluate(ctx context.Context, taskID string, w *Workload) result {
	select {
	case w.lane <- struct{}{}:
	case <-ctx.Done():
		return result{err: ctx.Err()}
	}
	defer func() { <-w.lane }()

	log := p.logger.With("workload", w.Name, "task", taskID)

	samples, err := p.collect(ctx, w)
	if err != nil {
		if errors.Is(err, adapters.ErrEndOfData) {
			p.metrics.RecordSkip(w.Name, "end_of_data")
			log.Info("metrics source exhausted, skipping")
			return result{skipped: err.Error()}
		}
		p.metrics.RecordError(w.Name, "adapter")
		return result{err: fmt.Errorf("collect: %w", err)}
	}

	accepted := w.Window.Extend(samples)
	snap := w.Window.Snapshot()
	log.Debug("window updated", "received", len(samples), "accepted", accepted, "len", len(snap.Samples), "version", snap.Version)

	forecast, err := p.predict(ctx, w, snap)
	if err != nil {
		if errors.Is(err, models.ErrInsufficientData) {
			p.metrics.RecordSkip(w.Name, "insufficient_data")
			log.Info("window not full yet, skipping", "len", len(snap.Samples), "size", snap.Size)
			return result{skipped: err.Error()}
		}
		p.metrics.RecordError(w.Name, "model")
		return result{err: fmt.Errorf("predict: %w", err)}
	}

	current, err := p.orchestrator.GetReplicas(ctx, w.Name)
	if err != nil {
		p.metrics.RecordError(w.Name, "orchestrator")
		p.storeSnapshot(ctx, log, storage.Snapshot{Forecast: forecast})
		return result{err: fmt.Errorf("get replicas: %w", err)}
	}

	decision := w.Policy.Decide(forecast, current, w.Bounds, p.now())
	p.metrics.RecordDecision(w.Name, string(decision.Action), decision.CurrentReplicas, decision.TargetReplicas)
	p.storeSnapshot(ctx, log, storage.Snapshot{Forecast: forecast, Decision: &decision})

	entry := actionlog.FromDecision(taskID, decision)
	var applyErr error
	if decision.Action != capacity.ActionNoOp {
		applyErr = p.apply(ctx, w, decision)
		if applyErr != nil {
			entry.Error = applyErr.Error()
		} else {
			entry.Applied = true
		}
	}

	entry = p.actions.Append(ctx, entry)

	log.Info("decision",
		"action", decision.Action,
		"from", decision.CurrentReplicas,
		"to", decision.TargetReplicas,
		"peak", decision.Peak,
		"applied", entry.Applied,
		"reason", decision.Reason,
	)

	if applyErr != nil {
		p.metrics.RecordError(w.Name, "orchestrator")
		return result{entry: &entry, err: fmt.Errorf("apply: %w", applyErr)}
	}
	return result{entry: &entry}
}

func (p *Prescaler) collect(ctx context.Context, w *Workload) ([]window.Sample, error) {
	start := p.now()
	samples, err := w.Adapter.Collect(ctx, w.CollectSeconds)
	if err != nil {
		return nil, err
	}
	p.metrics.RecordCollect(w.Name, w.Adapter.Name(), p.now().Sub(start).Seconds())
	return samples, nil
}

func (p *Prescaler) predict(ctx context.Context, w *Workload, snap window.Snapshot) (models.Forecast, error) {
	start := p.now()
	forecast, err := w.Model.Predict(ctx, snap)
	if err != nil {
		return models.Forecast{}, err
	}
	peak := forecast.Peak()
	if w.Policy.Aggregation == capacity.AggregateMean {
		peak = forecast.Mean()
	}
	p.metrics.RecordPredict(w.Name, w.Model.Name(), p.now().Sub(start).Seconds(), peak)
	return forecast, nil
}

func (p *Prescaler) apply(ctx context.Context, w *Workload, d capacity.Decision) error {
	start := p.now()
	status, err := p.orchestrator.SetReplicas(ctx, w.Name, d.TargetReplicas)
	if err != nil {
		return err
	}
	p.metrics.RecordApply(w.Name, p.now().Sub(start).Seconds())
	p.logger.Debug("replicas applied",
		"workload", status.Workload,
		"replicas", status.Replicas,
		"ready", status.ReadyReplicas,
	)
	return nil
}

// storeSnapshot failures are logged and counted; the decision itself stands.
func (p *Prescaler) storeSnapshot(ctx context.Context, log *slog.Logger, s storage.Snapshot) {
	if err := p.store.Put(ctx, s); err != nil {
		p.metrics.RecordError(s.Workload(), "store")
		log.Warn("failed to store forecast snapshot", "error", err)
	}
}
