package adapters

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/HatiCode/prescaler/pkg/window"
)

// ReplayAdapter steps through a recorded traffic trace, Batch rows per call.
// The trace is a CSV file with a header row naming at least a timestamp
// column and a value column:
//
//	timestamp,http_requests
//	2025-01-01 00:00:00,98
//	2025-01-01 00:01:00,104
//
// The read position is kept in IndexFile, when set, so a restarted process
// resumes where it stopped. Once fewer than Batch rows remain Collect returns
// ErrEndOfData.
type ReplayAdapter struct {
	Path            string
	IndexFile       string
	Batch           int
	TimestampColumn string
	ValueColumn     string

	mu      sync.Mutex
	samples []window.Sample
	pos     int
	loaded  bool
}

// NewReplayAdapter creates a replay source. Columns default to "timestamp"
// and "http_requests"; batch defaults to 30.
func NewReplayAdapter(path, indexFile string, batch int) *ReplayAdapter {
	if batch <= 0 {
		batch = 30
	}
	return &ReplayAdapter{
		Path:            path,
		IndexFile:       indexFile,
		Batch:           batch,
		TimestampColumn: "timestamp",
		ValueColumn:     "http_requests",
	}
}

func (r *ReplayAdapter) Name() string { return "replay" }

// Collect returns the next batch of the trace. windowSeconds is ignored.
func (r *ReplayAdapter) Collect(ctx context.Context, _ int) ([]window.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.loaded {
		if err := r.load(); err != nil {
			return nil, err
		}
		r.loaded = true
	}

	if r.pos+r.Batch > len(r.samples) {
		return nil, fmt.Errorf("%w: %s position %d of %d", ErrEndOfData, filepath.Base(r.Path), r.pos, len(r.samples))
	}

	out := make([]window.Sample, r.Batch)
	copy(out, r.samples[r.pos:r.pos+r.Batch])
	r.pos += r.Batch

	if err := r.savePosition(); err != nil {
		return nil, err
	}
	return out, nil
}

// Position returns the index of the next row to replay.
func (r *ReplayAdapter) Position() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos
}

func (r *ReplayAdapter) load() error {
	f, err := os.Open(r.Path)
	if err != nil {
		return fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()

	samples, err := readTrace(f, r.TimestampColumn, r.ValueColumn)
	if err != nil {
		return fmt.Errorf("read trace %s: %w", r.Path, err)
	}
	r.samples = samples

	pos, err := r.loadPosition()
	if err != nil {
		return err
	}
	r.pos = pos
	return nil
}

func (r *ReplayAdapter) loadPosition() (int, error) {
	if r.IndexFile == "" {
		return 0, nil
	}
	data, err := os.ReadFile(r.IndexFile)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read replay index: %w", err)
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return 0, nil
	}
	pos, err := strconv.Atoi(content)
	if err != nil || pos < 0 {
		return 0, fmt.Errorf("invalid replay index %q", content)
	}
	return pos, nil
}

func (r *ReplayAdapter) savePosition() error {
	if r.IndexFile == "" {
		return nil
	}
	tmp := r.IndexFile + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(r.pos)), 0o644); err != nil {
		return fmt.Errorf("write replay index: %w", err)
	}
	if err := os.Rename(tmp, r.IndexFile); err != nil {
		return fmt.Errorf("write replay index: %w", err)
	}
	return nil
}

var traceLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

func parseTraceTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range traceLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// readTrace parses a CSV trace and returns its samples sorted by time.
func readTrace(r io.Reader, tsColumn, valueColumn string) ([]window.Sample, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	tsIdx, valIdx := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case tsColumn:
			tsIdx = i
		case valueColumn:
			valIdx = i
		}
	}
	if tsIdx < 0 || valIdx < 0 {
		return nil, fmt.Errorf("header must contain %q and %q columns", tsColumn, valueColumn)
	}

	var samples []window.Sample
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		ts, err := parseTraceTime(rec[tsIdx])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		val, err := strconv.ParseFloat(strings.TrimSpace(rec[valIdx]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: parse value: %w", line, err)
		}
		samples = append(samples, window.Sample{Timestamp: ts, Value: val})
	}

	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
	return samples, nil
}
