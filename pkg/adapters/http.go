package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/prescaler/pkg/window"
)

// HTTPAdapter calls an arbitrary JSON endpoint and extracts samples with
// gjson paths.
//
// Body and header values are Go templates with these variables:
//
//	{{.WindowSeconds}} {{.Start}} {{.End}} {{.Step}} {{.StartRFC3339}} {{.EndRFC3339}}
//
// plus everything in TemplateVars. Example:
//
//	adapter := &HTTPAdapter{
//	    URL:           "https://api.example.com/metrics",
//	    Method:        "POST",
//	    Headers:       map[string]string{"Authorization": "Bearer {{.Token}}"},
//	    Body:          `{"metric": "requests", "window": "{{.WindowSeconds}}s"}`,
//	    ValuePath:     "data.#.value",
//	    TimestampPath: "data.#.timestamp",
//	}
type HTTPAdapter struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string

	// ValuePath and TimestampPath must yield arrays of equal length.
	ValuePath     string
	TimestampPath string

	// TimestampFormat is "rfc3339" (default), "unix" or "unix_milli".
	TimestampFormat string

	StepSeconds  int
	Scale        float64
	HTTPClient   *http.Client
	TemplateVars map[string]string
}

func (h *HTTPAdapter) Name() string { return "http" }

// Validate checks the adapter configuration.
func (h *HTTPAdapter) Validate() error {
	if h.URL == "" {
		return errors.New("url is required")
	}
	if h.ValuePath == "" || h.TimestampPath == "" {
		return errors.New("valuePath and timestampPath are required")
	}
	switch h.TimestampFormat {
	case "", "rfc3339", "unix", "unix_milli":
		return nil
	default:
		return fmt.Errorf("invalid timestampFormat: %s (must be rfc3339, unix, or unix_milli)", h.TimestampFormat)
	}
}

// Collect implements Adapter.
func (h *HTTPAdapter) Collect(ctx context.Context, windowSeconds int) ([]window.Sample, error) {
	if err := h.Validate(); err != nil {
		return nil, fmt.Errorf("http adapter: %w", err)
	}

	step := h.StepSeconds
	if step <= 0 {
		step = 60
	}
	now := time.Now().UTC().Truncate(time.Second)
	start := now.Add(-time.Duration(windowSeconds) * time.Second)

	vars := map[string]any{
		"WindowSeconds": windowSeconds,
		"Start":         start.Unix(),
		"End":           now.Unix(),
		"Step":          step,
		"StartRFC3339":  start.Format(time.RFC3339),
		"EndRFC3339":    now.Format(time.RFC3339),
	}
	for k, v := range h.TemplateVars {
		vars[k] = v
	}

	method := h.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if h.Body != "" {
		rendered, err := renderTemplate(h.Body, vars)
		if err != nil {
			return nil, fmt.Errorf("render body template: %w", err)
		}
		body = strings.NewReader(rendered)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range h.Headers {
		rendered, err := renderTemplate(value, vars)
		if err != nil {
			return nil, fmt.Errorf("render header %s: %w", key, err)
		}
		req.Header.Set(key, rendered)
	}

	cli := h.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(msg))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	values := gjson.GetBytes(raw, h.ValuePath)
	if !values.Exists() {
		return nil, fmt.Errorf("value path %q not found in response", h.ValuePath)
	}
	timestamps := gjson.GetBytes(raw, h.TimestampPath)
	if !timestamps.Exists() {
		return nil, fmt.Errorf("timestamp path %q not found in response", h.TimestampPath)
	}

	vals := values.Array()
	stamps := timestamps.Array()
	if len(vals) != len(stamps) {
		return nil, fmt.Errorf("value count (%d) != timestamp count (%d)", len(vals), len(stamps))
	}

	samples := make([]window.Sample, 0, len(vals))
	for i := range vals {
		ts, err := h.parseTimestamp(stamps[i])
		if err != nil {
			return nil, fmt.Errorf("parse timestamp[%d]: %w", i, err)
		}
		samples = append(samples, window.Sample{Timestamp: ts, Value: vals[i].Float()})
	}
	return sortSamples(samples, h.Scale), nil
}

func (h *HTTPAdapter) parseTimestamp(value gjson.Result) (time.Time, error) {
	switch h.TimestampFormat {
	case "", "rfc3339":
		ts, err := time.Parse(time.RFC3339, value.String())
		return ts.UTC(), err
	case "unix":
		return time.Unix(int64(value.Float()), 0).UTC(), nil
	case "unix_milli":
		return time.UnixMilli(int64(value.Float())).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp format: %s", h.TimestampFormat)
	}
}

func renderTemplate(tmplStr string, data map[string]any) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}
	tmpl, err := template.New("").Option("missingkey=error").Parse(tmplStr)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
