package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/HatiCode/prescaler/pkg/window"
)

// PrometheusAdapter fetches a range query from the Prometheus HTTP API.
// If the query returns several series, values at the same timestamp are
// summed.
type PrometheusAdapter struct {
	// ServerURL is the base URL, e.g. http://prometheus.monitoring.svc:9090
	ServerURL string
	// Query is the PromQL expression to evaluate.
	Query string
	// StepSeconds controls the resolution (defaults to 60s if <= 0).
	StepSeconds int
	// Scale multiplies every value. Use 60 to turn a per-second rate() into
	// requests per minute. Zero leaves values unchanged.
	Scale float64
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (p *PrometheusAdapter) Name() string { return "prometheus" }

// Collect implements Adapter.
func (p *PrometheusAdapter) Collect(ctx context.Context, windowSeconds int) ([]window.Sample, error) {
	samples, err := queryRange(ctx, p.HTTPClient, p.ServerURL, p.Query, windowSeconds, p.StepSeconds)
	if err != nil {
		return nil, fmt.Errorf("prometheus: %w", err)
	}
	return sortSamples(samples, p.Scale), nil
}

// VictoriaMetricsAdapter fetches a range query from VictoriaMetrics through
// its Prometheus-compatible API. Series are summed per timestamp.
type VictoriaMetricsAdapter struct {
	// ServerURL is the base URL, e.g. http://victoria-metrics:8428
	ServerURL string
	// Query is the MetricsQL/PromQL expression to evaluate.
	Query       string
	StepSeconds int
	Scale       float64
	HTTPClient  *http.Client
}

func (v *VictoriaMetricsAdapter) Name() string { return "victoria-metrics" }

// Collect implements Adapter.
func (v *VictoriaMetricsAdapter) Collect(ctx context.Context, windowSeconds int) ([]window.Sample, error) {
	samples, err := queryRange(ctx, v.HTTPClient, v.ServerURL, v.Query, windowSeconds, v.StepSeconds)
	if err != nil {
		return nil, fmt.Errorf("victoria-metrics: %w", err)
	}
	return sortSamples(samples, v.Scale), nil
}

// RangeResponse is the /api/v1/query_range envelope shared by Prometheus and
// compatible systems.
type RangeResponse struct {
	Status string    `json:"status"`
	Data   RangeData `json:"data"`
}

// RangeData contains the result data from a range query.
type RangeData struct {
	ResultType string        `json:"resultType"`
	Result     []RangeSeries `json:"result"`
}

// RangeSeries is one series of a matrix result.
type RangeSeries struct {
	Metric map[string]string `json:"metric"`
	// Values is an array of [ <unix_time_float>, "<value_string>" ]
	Values [][]any `json:"values"`
}

func queryRange(ctx context.Context, cli *http.Client, serverURL, query string, windowSeconds, step int) ([]window.Sample, error) {
	if serverURL == "" || query == "" {
		return nil, errors.New("server URL and query are required")
	}
	if step <= 0 {
		step = 60
	}
	now := time.Now().UTC().Truncate(time.Second)
	start := now.Add(-time.Duration(windowSeconds) * time.Second)

	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	u.Path = "/api/v1/query_range"

	q := u.Query()
	q.Set("query", query)
	q.Set("start", strconv.FormatInt(start.Unix(), 10))
	q.Set("end", strconv.FormatInt(now.Unix(), 10))
	q.Set("step", strconv.Itoa(step))
	u.RawQuery = q.Encode()

	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := cli.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var rr RangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rr.Status != "success" {
		return nil, fmt.Errorf("query status: %s", rr.Status)
	}
	return SumSeries(rr.Data.Result)
}

// SumSeries merges series into one sample per timestamp, summing values.
// The result is unsorted.
func SumSeries(series []RangeSeries) ([]window.Sample, error) {
	acc := make(map[int64]float64)
	for _, s := range series {
		for _, pair := range s.Values {
			if len(pair) != 2 {
				return nil, fmt.Errorf("invalid value pair length: %d", len(pair))
			}

			var tsSec int64
			switch v := pair[0].(type) {
			case float64:
				tsSec = int64(v)
			case json.Number:
				f, _ := v.Float64()
				tsSec = int64(f)
			default:
				return nil, fmt.Errorf("unexpected timestamp type %T", v)
			}

			var val float64
			switch vv := pair[1].(type) {
			case string:
				f, err := strconv.ParseFloat(vv, 64)
				if err != nil {
					return nil, fmt.Errorf("parse value: %w", err)
				}
				val = f
			case float64:
				val = vv
			default:
				return nil, fmt.Errorf("unexpected value type %T", vv)
			}
			acc[tsSec] += val
		}
	}

	out := make([]window.Sample, 0, len(acc))
	for ts, v := range acc {
		out = append(out, window.Sample{Timestamp: time.Unix(ts, 0).UTC(), Value: v})
	}
	return out, nil
}
