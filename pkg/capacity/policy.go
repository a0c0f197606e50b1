// Package capacity converts a forecast into a scaling decision using a
// deterministic threshold policy with a hysteresis band.
package capacity

import (
	"fmt"
	"time"

	"github.com/HatiCode/prescaler/pkg/models"
)

// Action describes the direction of a scaling decision.
type Action string

const (
	ActionScaleUp   Action = "scale-up"
	ActionScaleDown Action = "scale-down"
	ActionNoOp      Action = "no-op"
)

// Aggregation selects how the forecast points are reduced to one peak value.
type Aggregation string

const (
	AggregateMax  Aggregation = "max"
	AggregateMean Aggregation = "mean"
)

// Policy defines how a forecasted peak is translated into replicas.
type Policy struct {
	// UpThreshold is the predicted rate (requests/min) above which the
	// workload scales up.
	UpThreshold float64

	// DownThreshold is the predicted rate below which the workload scales
	// down. Values between the two thresholds keep the current count.
	// Zero means "same as UpThreshold" (no band).
	DownThreshold float64

	// ScaleUpReplicas and ScaleDownReplicas are the absolute targets used
	// when a threshold triggers.
	ScaleUpReplicas   int
	ScaleDownReplicas int

	// Aggregation defaults to AggregateMax.
	Aggregation Aggregation
}

// Validate checks the policy for inconsistent thresholds.
func (p Policy) Validate() error {
	if p.UpThreshold <= 0 {
		return fmt.Errorf("scale-up threshold must be > 0, got %v", p.UpThreshold)
	}
	if p.DownThreshold < 0 {
		return fmt.Errorf("scale-down threshold must be >= 0, got %v", p.DownThreshold)
	}
	if p.DownThreshold > p.UpThreshold {
		return fmt.Errorf("scale-down threshold %v must not exceed scale-up threshold %v", p.DownThreshold, p.UpThreshold)
	}
	if p.ScaleUpReplicas < 0 || p.ScaleDownReplicas < 0 {
		return fmt.Errorf("replica targets must be >= 0")
	}
	switch p.Aggregation {
	case "", AggregateMax, AggregateMean:
	default:
		return fmt.Errorf("unknown aggregation %q (want max or mean)", p.Aggregation)
	}
	return nil
}

// Bounds are the per-workload replica limits. Max == 0 means "no upper bound".
type Bounds struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// Clamp restricts n to the bounds.
func (b Bounds) Clamp(n int) int {
	lo, hi := b.Min, b.Max
	if lo < 0 {
		lo = 0
	}
	if hi > 0 && hi < lo {
		hi = lo
	}
	if hi > 0 && n > hi {
		return hi
	}
	if n < lo {
		return lo
	}
	return n
}

// Decision is the outcome of one policy evaluation for one workload.
type Decision struct {
	Workload        string    `json:"workload"`
	CurrentReplicas int       `json:"currentReplicas"`
	TargetReplicas  int       `json:"targetReplicas"`
	Action          Action    `json:"action"`
	Peak            float64   `json:"peak"`
	Reason          string    `json:"reason"`
	Timestamp       time.Time `json:"timestamp"`
}

// Decide evaluates the policy against a forecast. Threshold comparisons are
// strict: a peak exactly on a threshold keeps the current replica count.
func (p Policy) Decide(forecast models.Forecast, current int, bounds Bounds, now time.Time) Decision {
	peak := p.aggregate(forecast)
	up := p.UpThreshold
	down := p.DownThreshold
	if down == 0 {
		down = up
	}

	var (
		target int
		reason string
	)
	switch {
	case peak > up:
		target = p.ScaleUpReplicas
		reason = fmt.Sprintf("predicted peak %.2f exceeds threshold %.2f", peak, up)
	case peak < down:
		target = p.ScaleDownReplicas
		reason = fmt.Sprintf("predicted peak %.2f below threshold %.2f", peak, down)
	default:
		target = current
		reason = fmt.Sprintf("predicted peak %.2f within [%.2f, %.2f]", peak, down, up)
	}

	clamped := bounds.Clamp(target)
	if clamped != target {
		reason = fmt.Sprintf("%s; target %d clamped to %d", reason, target, clamped)
	}

	action := ActionNoOp
	switch {
	case clamped > current:
		action = ActionScaleUp
	case clamped < current:
		action = ActionScaleDown
	}

	return Decision{
		Workload:        forecast.Workload,
		CurrentReplicas: current,
		TargetReplicas:  clamped,
		Action:          action,
		Peak:            peak,
		Reason:          reason,
		Timestamp:       now,
	}
}

func (p Policy) aggregate(f models.Forecast) float64 {
	if p.Aggregation == AggregateMean {
		return f.Mean()
	}
	return f.Peak()
}
