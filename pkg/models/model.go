// Package models provides the forecasting backends used by the autoscaler.
//
// A Model maps a full metric window to a short-horizon forecast. Models are
// treated as opaque, already-trained predictors: the autoscaler only relies on
// the Model contract, so a statistical model, a remote neural network or a
// rule-based stub can be swapped in without touching the decision policy or
// the task manager.
package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HatiCode/prescaler/pkg/window"
)

var (
	// ErrInsufficientData is returned when the window does not hold exactly
	// the number of samples the model was configured for.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrForecast is returned when the predictor itself fails.
	ErrForecast = errors.New("forecast failed")
)

// Config describes the shape of the forecasts a model produces.
type Config struct {
	// Workload is copied into every forecast.
	Workload string
	// WindowSize is the exact number of samples required per prediction.
	WindowSize int
	// Horizon is the number of future points to predict.
	Horizon int
	// StepSeconds is the spacing between forecast points.
	StepSeconds int
}

// Validate checks that the forecast shape is usable.
func (c Config) Validate() error {
	if c.WindowSize <= 0 {
		return fmt.Errorf("window size must be > 0, got %d", c.WindowSize)
	}
	if c.Horizon <= 0 {
		return fmt.Errorf("horizon must be > 0, got %d", c.Horizon)
	}
	if c.StepSeconds <= 0 {
		return fmt.Errorf("step must be > 0, got %ds", c.StepSeconds)
	}
	return nil
}

// Point is one predicted value at an offset from the forecast reference time.
type Point struct {
	OffsetMinutes float64 `json:"offsetMinutes"`
	PredictedRate float64 `json:"predictedRate"`
}

// Forecast is the immutable output of a single prediction.
type Forecast struct {
	Workload string `json:"workload"`
	Model    string `json:"model"`
	// WindowVersion is the version of the window snapshot the forecast was
	// computed from.
	WindowVersion uint64 `json:"windowVersion"`
	// AsOf is the timestamp of the newest sample in the window.
	AsOf        time.Time `json:"asOf"`
	StepSeconds int       `json:"stepSeconds"`
	Points      []Point   `json:"points"`
}

// Values returns the predicted rates in order.
func (f Forecast) Values() []float64 {
	out := make([]float64, len(f.Points))
	for i, p := range f.Points {
		out[i] = p.PredictedRate
	}
	return out
}

// Peak returns the largest predicted rate, or 0 for an empty forecast.
func (f Forecast) Peak() float64 {
	peak := 0.0
	for i, p := range f.Points {
		if i == 0 || p.PredictedRate > peak {
			peak = p.PredictedRate
		}
	}
	return peak
}

// Mean returns the average predicted rate, or 0 for an empty forecast.
func (f Forecast) Mean() float64 {
	if len(f.Points) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range f.Points {
		sum += p.PredictedRate
	}
	return sum / float64(len(f.Points))
}

// Model is the interface every forecasting backend implements.
type Model interface {
	// Name returns a short identifier such as "baseline" or "byom".
	Name() string

	// Predict produces a forecast from a window snapshot. It must fail with
	// ErrInsufficientData unless the snapshot holds exactly the configured
	// number of samples, and must be deterministic for a given snapshot.
	Predict(ctx context.Context, w window.Snapshot) (Forecast, error)
}

// checkWindow enforces the window length contract shared by all models.
func checkWindow(cfg Config, w window.Snapshot) error {
	if len(w.Samples) != cfg.WindowSize {
		return fmt.Errorf("%w: window has %d samples, need %d", ErrInsufficientData, len(w.Samples), cfg.WindowSize)
	}
	return nil
}

// newForecast builds a forecast envelope for the given values.
func newForecast(cfg Config, model string, w window.Snapshot, values []float64) Forecast {
	points := make([]Point, len(values))
	for i, v := range values {
		if v < 0 {
			v = 0
		}
		points[i] = Point{
			OffsetMinutes: float64((i+1)*cfg.StepSeconds) / 60.0,
			PredictedRate: v,
		}
	}

	var asOf time.Time
	if n := len(w.Samples); n > 0 {
		asOf = w.Samples[n-1].Timestamp
	}

	return Forecast{
		Workload:      cfg.Workload,
		Model:         model,
		WindowVersion: w.Version,
		AsOf:          asOf,
		StepSeconds:   cfg.StepSeconds,
		Points:        points,
	}
}
