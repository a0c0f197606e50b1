// Package adapters pulls request-rate samples for a workload from a metrics
// backend.
//
// Available sources:
//   - PrometheusAdapter      queries the Prometheus HTTP API
//   - VictoriaMetricsAdapter queries the Prometheus-compatible VictoriaMetrics API
//   - HTTPAdapter            calls any JSON endpoint and extracts samples with gjson paths
//   - ReplayAdapter          steps through a recorded CSV trace
//
// Adapters only fetch and normalize. Windowing, forecasting and decisions
// happen in the layers above.
package adapters

import (
	"context"
	"errors"
	"sort"

	"github.com/HatiCode/prescaler/pkg/window"
)

// ErrEndOfData is returned by finite sources once every sample was consumed.
var ErrEndOfData = errors.New("end of data")

// Adapter is the interface every metrics source implements.
//
// Collect is synchronous and must respect context cancellation and
// deadlines. Samples are returned sorted by timestamp.
type Adapter interface {
	// Collect returns samples covering roughly the last windowSeconds.
	Collect(ctx context.Context, windowSeconds int) ([]window.Sample, error)

	// Name returns a short identifier such as "prometheus" or "replay".
	Name() string
}

// sortSamples orders samples by timestamp and multiplies values by scale
// when scale is non-zero.
func sortSamples(samples []window.Sample, scale float64) []window.Sample {
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
	if scale != 0 && scale != 1 {
		for i := range samples {
			samples[i].Value *= scale
		}
	}
	return samples
}
