package models

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/prescaler/pkg/window"
)

// BYOMModel delegates predictions to an external HTTP model server. This is
// how trained networks (TCN, LSTM, Prophet, ...) are plugged in: the server
// receives the raw window and answers with Horizon predicted rates.
//
// Request body:
//
//	{"workload": "api", "now": "2025-01-01T00:29:00Z", "stepSeconds": 600,
//	 "horizon": 6, "samples": [{"timestamp": "...", "value": 101.5}, ...]}
//
// The predictions are read from the response with a gjson path
// (default "values"), so servers with a different envelope such as
// {"predictions": [[...]]} only need a matching ValuePath.
type BYOMModel struct {
	cfg       Config
	endpoint  string
	valuePath string
	client    *http.Client
}

type byomRequest struct {
	Workload    string          `json:"workload"`
	Now         string          `json:"now"`
	StepSeconds int             `json:"stepSeconds"`
	Horizon     int             `json:"horizon"`
	Samples     []window.Sample `json:"samples"`
}

// NewBYOMModel creates a model backed by the server at endpoint. A nil client
// gets a pooled client with a 30s timeout.
func NewBYOMModel(endpoint, valuePath string, cfg Config, client *http.Client) *BYOMModel {
	if valuePath == "" {
		valuePath = "values"
	}
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
		}
	}
	return &BYOMModel{
		cfg:       cfg,
		endpoint:  endpoint,
		valuePath: valuePath,
		client:    client,
	}
}

// Name returns the model identifier.
func (m *BYOMModel) Name() string {
	return "byom"
}

// Predict posts the window to the model server.
func (m *BYOMModel) Predict(ctx context.Context, w window.Snapshot) (Forecast, error) {
	if err := checkWindow(m.cfg, w); err != nil {
		return Forecast{}, err
	}

	req := byomRequest{
		Workload:    m.cfg.Workload,
		Now:         w.Samples[len(w.Samples)-1].Timestamp.UTC().Format(time.RFC3339),
		StepSeconds: m.cfg.StepSeconds,
		Horizon:     m.cfg.Horizon,
		Samples:     w.Samples,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Forecast{}, fmt.Errorf("%w: byom: marshal request: %v", ErrForecast, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return Forecast{}, fmt.Errorf("%w: byom: create request: %v", ErrForecast, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return Forecast{}, fmt.Errorf("%w: byom: http request: %v", ErrForecast, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Forecast{}, fmt.Errorf("%w: byom: http %d: %s", ErrForecast, resp.StatusCode, string(msg))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Forecast{}, fmt.Errorf("%w: byom: read response: %v", ErrForecast, err)
	}

	result := gjson.GetBytes(raw, m.valuePath)
	if !result.Exists() || !result.IsArray() {
		return Forecast{}, fmt.Errorf("%w: byom: no prediction array at %q", ErrForecast, m.valuePath)
	}

	items := result.Array()
	if len(items) != m.cfg.Horizon {
		return Forecast{}, fmt.Errorf("%w: byom: expected %d predictions, got %d", ErrForecast, m.cfg.Horizon, len(items))
	}

	values := make([]float64, len(items))
	for i, item := range items {
		if item.Type != gjson.Number {
			return Forecast{}, fmt.Errorf("%w: byom: prediction %d is not a number", ErrForecast, i)
		}
		values[i] = item.Float()
	}

	return newForecast(m.cfg, m.Name(), w, values), nil
}
