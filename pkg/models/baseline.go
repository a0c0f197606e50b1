package models

import (
	"context"
	"math"

	"github.com/HatiCode/prescaler/pkg/window"
)

// BaselineModel is an in-process predictor for short request-rate windows.
//
// It combines two signals and keeps the larger one at every step:
//   - Trend: the slope of the most recent samples (linear regression), nudged
//     by momentum (recent slope minus older slope) and damped so that long
//     horizons do not extrapolate without bound.
//   - Peak hold: the highest of the last PeakLookback samples, decayed by
//     PeakDecay per forecast step. Bursty traffic tends to recur, so a recent
//     spike keeps capacity warm for a few steps instead of being averaged away.
//
// Predictions are clamped to non-negative values. The model has no hidden
// state and no randomness: a given window always yields the same forecast.
type BaselineModel struct {
	cfg Config

	// TrendPoints is how many trailing samples feed the slope estimate.
	TrendPoints int
	// Damping in (0,1) shrinks the slope contribution of every further sample.
	Damping float64
	// PeakLookback is how many trailing samples are scanned for a peak.
	PeakLookback int
	// PeakDecay in (0,1] is applied to the held peak once per forecast step.
	PeakDecay float64
}

// NewBaselineModel creates a baseline model with default tuning.
func NewBaselineModel(cfg Config) *BaselineModel {
	return &BaselineModel{
		cfg:          cfg,
		TrendPoints:  10,
		Damping:      0.8,
		PeakLookback: 5,
		PeakDecay:    0.9,
	}
}

// Name returns the model identifier.
func (m *BaselineModel) Name() string {
	return "baseline"
}

// Predict forecasts cfg.Horizon points from a full window.
func (m *BaselineModel) Predict(ctx context.Context, w window.Snapshot) (Forecast, error) {
	if err := checkWindow(m.cfg, w); err != nil {
		return Forecast{}, err
	}
	if err := ctx.Err(); err != nil {
		return Forecast{}, err
	}

	values := w.Values()
	current := values[len(values)-1]

	slope := detectTrend(values, m.TrendPoints) + 0.5*detectMomentum(values, m.TrendPoints)
	peak := recentPeak(values, m.PeakLookback)
	samplesPerStep := float64(m.cfg.StepSeconds) / sampleSpacing(w)

	out := make([]float64, m.cfg.Horizon)
	held := peak
	for i := range out {
		ahead := float64(i+1) * samplesPerStep
		trend := current + slope*dampedSum(m.Damping, ahead)

		held *= m.PeakDecay
		out[i] = math.Max(0, math.Max(trend, held))
	}

	return newForecast(m.cfg, m.Name(), w, out), nil
}

// detectTrend returns the least-squares slope, per sample, of the last n values.
func detectTrend(values []float64, n int) float64 {
	if n <= 0 || n > len(values) {
		n = len(values)
	}
	if n < 2 {
		return 0
	}
	tail := values[len(values)-n:]

	var sumX, sumY, sumXY, sumX2 float64
	for i, y := range tail {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}

	fn := float64(n)
	denominator := fn*sumX2 - sumX*sumX
	if denominator == 0 {
		return 0
	}
	return (fn*sumXY - sumX*sumY) / denominator
}

// detectMomentum compares the slope of the newer half of the trailing
// samples with the older half.
func detectMomentum(values []float64, n int) float64 {
	if n <= 0 || n > len(values) {
		n = len(values)
	}
	if n < 6 {
		return 0
	}
	tail := values[len(values)-n:]
	mid := len(tail) / 2
	return detectTrend(tail[mid:], 0) - detectTrend(tail[:mid], 0)
}

func recentPeak(values []float64, n int) float64 {
	if n <= 0 || n > len(values) {
		n = len(values)
	}
	peak := math.Inf(-1)
	for _, v := range values[len(values)-n:] {
		peak = math.Max(peak, v)
	}
	return peak
}

// dampedSum returns phi + phi^2 + ... + phi^h for a possibly fractional h.
func dampedSum(phi, h float64) float64 {
	if phi <= 0 || h <= 0 {
		return 0
	}
	if phi >= 1 {
		return h
	}
	return phi * (1 - math.Pow(phi, h)) / (1 - phi)
}

// sampleSpacing returns the average gap between samples in seconds,
// defaulting to one minute when timestamps carry no spacing.
func sampleSpacing(w window.Snapshot) float64 {
	n := len(w.Samples)
	if n < 2 {
		return 60
	}
	span := w.Samples[n-1].Timestamp.Sub(w.Samples[0].Timestamp).Seconds()
	if span <= 0 {
		return 60
	}
	return span / float64(n-1)
}
