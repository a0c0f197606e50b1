// Package metrics provides Prometheus instrumentation for the control loop.
//
// Metrics exposed:
//   - prescaler_collect_seconds: metrics source latency per workload
//   - prescaler_predict_seconds: forecast latency per workload and model
//   - prescaler_apply_seconds: orchestrator update latency per workload
//   - prescaler_cycles_total: completed cycles by result
//   - prescaler_decisions_total: decisions by workload and action
//   - prescaler_skipped_total: workloads skipped by reason
//   - prescaler_errors_total: errors by workload and component
//   - prescaler_predicted_peak: latest aggregated forecast per workload
//   - prescaler_current_replicas / prescaler_target_replicas
//   - prescaler_running_tasks: 1 while the continuous task runs
//   - prescaler_actionlog_dropped_total: action log entries not persisted
//
// All methods are safe on a nil *Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors of the process.
type Metrics struct {
	CollectSeconds   *prometheus.HistogramVec
	PredictSeconds   *prometheus.HistogramVec
	ApplySeconds     *prometheus.HistogramVec
	CyclesTotal      *prometheus.CounterVec
	DecisionsTotal   *prometheus.CounterVec
	SkippedTotal     *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
	PredictedPeak    *prometheus.GaugeVec
	CurrentReplicas  *prometheus.GaugeVec
	TargetReplicas   *prometheus.GaugeVec
	RunningTasks     prometheus.Gauge
	ActionLogDropped prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg uses the
// default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		CollectSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prescaler_collect_seconds",
			Help:    "Time spent collecting samples from the metrics source",
			Buckets: prometheus.DefBuckets,
		}, []string{"workload", "adapter"}),

		PredictSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prescaler_predict_seconds",
			Help:    "Time spent producing a forecast",
			Buckets: prometheus.DefBuckets,
		}, []string{"workload", "model"}),

		ApplySeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prescaler_apply_seconds",
			Help:    "Time spent applying a replica change",
			Buckets: prometheus.DefBuckets,
		}, []string{"workload"}),

		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prescaler_cycles_total",
			Help: "Control cycles by result (ok or error)",
		}, []string{"result"}),

		DecisionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prescaler_decisions_total",
			Help: "Scaling decisions by workload and action",
		}, []string{"workload", "action"}),

		SkippedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prescaler_skipped_total",
			Help: "Workloads skipped in a cycle by reason",
		}, []string{"workload", "reason"}),

		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prescaler_errors_total",
			Help: "Errors by workload and component",
		}, []string{"workload", "component"}),

		PredictedPeak: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "prescaler_predicted_peak",
			Help: "Latest aggregated forecast value (requests/min)",
		}, []string{"workload"}),

		CurrentReplicas: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "prescaler_current_replicas",
			Help: "Replica count read from the orchestrator",
		}, []string{"workload"}),

		TargetReplicas: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "prescaler_target_replicas",
			Help: "Replica count chosen by the decision policy",
		}, []string{"workload"}),

		RunningTasks: f.NewGauge(prometheus.GaugeOpts{
			Name: "prescaler_running_tasks",
			Help: "1 while the continuous task is running",
		}),

		ActionLogDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "prescaler_actionlog_dropped_total",
			Help: "Action log entries that could not be persisted",
		}),
	}
}

// RecordCollect records metrics source latency.
func (m *Metrics) RecordCollect(workload, adapter string, seconds float64) {
	if m == nil {
		return
	}
	m.CollectSeconds.WithLabelValues(workload, adapter).Observe(seconds)
}

// RecordPredict records forecast latency and the aggregated peak.
func (m *Metrics) RecordPredict(workload, model string, seconds, peak float64) {
	if m == nil {
		return
	}
	m.PredictSeconds.WithLabelValues(workload, model).Observe(seconds)
	m.PredictedPeak.WithLabelValues(workload).Set(peak)
}

// RecordApply records orchestrator update latency.
func (m *Metrics) RecordApply(workload string, seconds float64) {
	if m == nil {
		return
	}
	m.ApplySeconds.WithLabelValues(workload).Observe(seconds)
}

// RecordDecision counts a decision and updates the replica gauges.
func (m *Metrics) RecordDecision(workload, action string, current, target int) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(workload, action).Inc()
	m.CurrentReplicas.WithLabelValues(workload).Set(float64(current))
	m.TargetReplicas.WithLabelValues(workload).Set(float64(target))
}

// RecordSkip counts a workload that produced no decision.
func (m *Metrics) RecordSkip(workload, reason string) {
	if m == nil {
		return
	}
	m.SkippedTotal.WithLabelValues(workload, reason).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(workload, component string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(workload, component).Inc()
}

// RecordCycle counts a finished cycle.
func (m *Metrics) RecordCycle(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CyclesTotal.WithLabelValues(result).Inc()
}

// SetRunning reports whether the continuous task runs.
func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.RunningTasks.Set(1)
	} else {
		m.RunningTasks.Set(0)
	}
}

// Dropped returns the action log drop counter, or nil.
func (m *Metrics) Dropped() prometheus.Counter {
	if m == nil {
		return nil
	}
	return m.ActionLogDropped
}
