package adapters

import (
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		kind     string
		config   map[string]string
		wantName string
		wantErr  bool
	}{
		{"prometheus", "prometheus", map[string]string{"query": "up"}, "prometheus", false},
		{"prometheus missing query", "prometheus", map[string]string{}, "", true},
		{"prometheus bad scale", "prometheus", map[string]string{"query": "up", "scale": "-1"}, "", true},
		{"victoriametrics", "victoriametrics", map[string]string{"query": "up", "scale": "60"}, "victoria-metrics", false},
		{"http", "http", map[string]string{"url": "http://api", "valuePath": "v", "timestampPath": "t"}, "http", false},
		{"http missing paths", "http", map[string]string{"url": "http://api"}, "", true},
		{"http bad headers", "http", map[string]string{"url": "http://api", "valuePath": "v", "timestampPath": "t", "headers": "{"}, "", true},
		{"replay", "replay", map[string]string{"path": "trace.csv", "batch": "30"}, "replay", false},
		{"replay missing path", "replay", map[string]string{}, "", true},
		{"replay bad batch", "replay", map[string]string{"path": "trace.csv", "batch": "0"}, "", true},
		{"unknown", "kafka", map[string]string{}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ad, err := New(tt.kind, tt.config, 60)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if ad.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", ad.Name(), tt.wantName)
			}
		})
	}
}

func TestNew_PrometheusDefaults(t *testing.T) {
	ad, err := New("prometheus", map[string]string{"query": "up", "scale": "60"}, 30)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	p := ad.(*PrometheusAdapter)
	if p.ServerURL != "http://localhost:9090" || p.StepSeconds != 30 || p.Scale != 60 {
		t.Errorf("unexpected adapter %+v", p)
	}
}

func TestNew_ReplayColumns(t *testing.T) {
	ad, err := New("replay", map[string]string{
		"path":            "trace.csv",
		"indexFile":       "idx",
		"timestampColumn": "ts",
		"valueColumn":     "rpm",
	}, 60)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	r := ad.(*ReplayAdapter)
	if r.Batch != 30 || r.IndexFile != "idx" || r.TimestampColumn != "ts" || r.ValueColumn != "rpm" {
		t.Errorf("unexpected adapter %+v", r)
	}
}
