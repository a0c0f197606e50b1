package adapters

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTrace(t *testing.T, rows int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("timestamp,http_requests,region\n")
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "%s,%d,eu\n", start.Add(time.Duration(i)*time.Minute).Format("2006-01-02 15:04:05"), 100+i)
	}
	path := filepath.Join(t.TempDir(), "trace.csv")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write trace: %v", err)
	}
	return path
}

func TestReplayAdapter_BatchesAndEnd(t *testing.T) {
	path := writeTrace(t, 7)
	ad := NewReplayAdapter(path, "", 3)
	ctx := context.Background()

	first, err := ad.Collect(ctx, 0)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(first) != 3 || first[0].Value != 100 || first[2].Value != 102 {
		t.Errorf("first batch = %+v", first)
	}

	second, err := ad.Collect(ctx, 0)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if second[0].Value != 103 {
		t.Errorf("second batch starts at %v, want 103", second[0].Value)
	}
	if !second[0].Timestamp.After(first[2].Timestamp) {
		t.Error("second batch should follow the first")
	}

	// One row left, fewer than a batch.
	if _, err := ad.Collect(ctx, 0); !errors.Is(err, ErrEndOfData) {
		t.Errorf("Collect() error = %v, want ErrEndOfData", err)
	}
	if ad.Position() != 6 {
		t.Errorf("Position() = %d, want 6", ad.Position())
	}
}

func TestReplayAdapter_ResumesFromIndexFile(t *testing.T) {
	path := writeTrace(t, 10)
	index := filepath.Join(t.TempDir(), "last_index.txt")
	ctx := context.Background()

	if _, err := NewReplayAdapter(path, index, 4).Collect(ctx, 0); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	data, err := os.ReadFile(index)
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	if string(data) != "4" {
		t.Errorf("index file = %q, want 4", data)
	}

	resumed := NewReplayAdapter(path, index, 4)
	batch, err := resumed.Collect(ctx, 0)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if batch[0].Value != 104 {
		t.Errorf("resumed batch starts at %v, want 104", batch[0].Value)
	}
}

func TestReplayAdapter_BadInput(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	tests := []struct {
		name    string
		content string
	}{
		{"missing column", "time,value\n2025-01-01 00:00:00,1\n"},
		{"bad value", "timestamp,http_requests\n2025-01-01 00:00:00,lots\n"},
		{"bad timestamp", "timestamp,http_requests\nmonday,1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".csv")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := NewReplayAdapter(path, "", 1).Collect(ctx, 0); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := NewReplayAdapter(filepath.Join(dir, "missing.csv"), "", 1).Collect(ctx, 0); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseTraceTime(t *testing.T) {
	want := time.Date(2025, 1, 1, 12, 30, 0, 0, time.UTC)
	for _, in := range []string{"2025-01-01T12:30:00Z", "2025-01-01 12:30:00", "2025-01-01 12:30", "1735734600"} {
		got, err := parseTraceTime(in)
		if err != nil {
			t.Errorf("parseTraceTime(%q) error = %v", in, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("parseTraceTime(%q) = %v, want %v", in, got, want)
		}
	}
}
