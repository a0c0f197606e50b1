package adapters

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// New creates an adapter from its kind and a flat configuration map, as found
// in ADAPTER_* environment variables or the adapter block of a workload file.
//
// Supported kinds: "prometheus", "victoriametrics", "http", "replay".
// Every kind but replay accepts a "scale" multiplier.
func New(kind string, config map[string]string, stepSeconds int) (Adapter, error) {
	switch kind {
	case "prometheus":
		return newPrometheus(config, stepSeconds)
	case "victoriametrics":
		return newVictoriaMetrics(config, stepSeconds)
	case "http":
		return newHTTP(config, stepSeconds)
	case "replay":
		return newReplay(config)
	default:
		return nil, fmt.Errorf("unknown adapter kind: %s (must be prometheus, victoriametrics, http, or replay)", kind)
	}
}

func parseScale(config map[string]string) (float64, error) {
	raw := config["scale"]
	if raw == "" {
		return 0, nil
	}
	scale, err := strconv.ParseFloat(raw, 64)
	if err != nil || scale <= 0 {
		return 0, fmt.Errorf("invalid 'scale' %q: must be a positive number", raw)
	}
	return scale, nil
}

func newPrometheus(config map[string]string, stepSeconds int) (Adapter, error) {
	query := config["query"]
	if query == "" {
		return nil, fmt.Errorf("prometheus adapter requires 'query' config")
	}
	url := config["url"]
	if url == "" {
		url = "http://localhost:9090"
	}
	scale, err := parseScale(config)
	if err != nil {
		return nil, err
	}
	return &PrometheusAdapter{
		ServerURL:   url,
		Query:       query,
		StepSeconds: stepSeconds,
		Scale:       scale,
	}, nil
}

func newVictoriaMetrics(config map[string]string, stepSeconds int) (Adapter, error) {
	query := config["query"]
	if query == "" {
		return nil, fmt.Errorf("victoriametrics adapter requires 'query' config")
	}
	url := config["url"]
	if url == "" {
		url = "http://localhost:8428"
	}
	scale, err := parseScale(config)
	if err != nil {
		return nil, err
	}
	return &VictoriaMetricsAdapter{
		ServerURL:   url,
		Query:       query,
		StepSeconds: stepSeconds,
		Scale:       scale,
	}, nil
}

func newHTTP(config map[string]string, stepSeconds int) (Adapter, error) {
	scale, err := parseScale(config)
	if err != nil {
		return nil, err
	}

	adapter := &HTTPAdapter{
		URL:             config["url"],
		Method:          config["method"],
		Body:            config["body"],
		ValuePath:       config["valuePath"],
		TimestampPath:   config["timestampPath"],
		TimestampFormat: config["timestampFormat"],
		StepSeconds:     stepSeconds,
		Scale:           scale,
	}

	if headersJSON := config["headers"]; headersJSON != "" {
		if err := json.Unmarshal([]byte(headersJSON), &adapter.Headers); err != nil {
			return nil, fmt.Errorf("invalid 'headers' JSON: %w", err)
		}
	}
	if varsJSON := config["templateVars"]; varsJSON != "" {
		if err := json.Unmarshal([]byte(varsJSON), &adapter.TemplateVars); err != nil {
			return nil, fmt.Errorf("invalid 'templateVars' JSON: %w", err)
		}
	}

	if err := adapter.Validate(); err != nil {
		return nil, fmt.Errorf("http adapter: %w", err)
	}
	return adapter, nil
}

func newReplay(config map[string]string) (Adapter, error) {
	path := config["path"]
	if path == "" {
		return nil, fmt.Errorf("replay adapter requires 'path' config")
	}

	batch := 0
	if raw := config["batch"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid 'batch' %q: must be a positive integer", raw)
		}
		batch = n
	}

	adapter := NewReplayAdapter(path, config["indexFile"], batch)
	if col := config["timestampColumn"]; col != "" {
		adapter.TimestampColumn = col
	}
	if col := config["valueColumn"]; col != "" {
		adapter.ValueColumn = col
	}
	return adapter, nil
}
