// Package window keeps the most recent traffic samples of a workload in a
// fixed-size sliding buffer.
//
// A Window holds at most Size samples with strictly increasing timestamps.
// Pushing into a full window evicts the oldest sample. Every accepted push
// bumps the window version so that a forecast can be tied to the exact
// samples it was computed from.
package window

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOutOfOrder is returned when a sample is not newer than the newest
// sample already held by the window.
var ErrOutOfOrder = errors.New("sample timestamp not after newest sample")

// Sample is a single request-rate observation.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Snapshot is an immutable copy of a window at a given version.
type Snapshot struct {
	Samples []Sample
	Version uint64
	Size    int
}

// Full reports whether the snapshot holds exactly Size samples.
func (s Snapshot) Full() bool {
	return s.Size > 0 && len(s.Samples) == s.Size
}

// Values returns the sample values in chronological order.
func (s Snapshot) Values() []float64 {
	out := make([]float64, len(s.Samples))
	for i, sample := range s.Samples {
		out[i] = sample.Value
	}
	return out
}

// Window is a sliding buffer of samples. It is safe for concurrent use.
type Window struct {
	mu      sync.RWMutex
	size    int
	buf     []Sample
	start   int
	count   int
	version uint64
}

// New creates an empty window holding at most size samples.
func New(size int) *Window {
	if size <= 0 {
		panic("window size must be positive")
	}
	return &Window{
		size: size,
		buf:  make([]Sample, size),
	}
}

// Size returns the capacity of the window.
func (w *Window) Size() int { return w.size }

// Len returns the number of samples currently held.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.count
}

// Version returns the number of samples accepted so far.
func (w *Window) Version() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.version
}

// Push appends a sample, evicting the oldest one when the window is full.
func (w *Window) Push(s Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pushLocked(s)
}

// Extend pushes every sample newer than the newest held sample and silently
// skips the rest. Samples must be sorted by timestamp. It returns the number
// of samples accepted.
func (w *Window) Extend(samples []Sample) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	accepted := 0
	for _, s := range samples {
		if err := w.pushLocked(s); err != nil {
			continue
		}
		accepted++
	}
	return accepted
}

func (w *Window) pushLocked(s Sample) error {
	if w.count > 0 {
		newest := w.buf[(w.start+w.count-1)%w.size]
		if !s.Timestamp.After(newest.Timestamp) {
			return fmt.Errorf("%w: %s <= %s", ErrOutOfOrder,
				s.Timestamp.Format(time.RFC3339), newest.Timestamp.Format(time.RFC3339))
		}
	}

	if w.count < w.size {
		w.buf[(w.start+w.count)%w.size] = s
		w.count++
	} else {
		w.buf[w.start] = s
		w.start = (w.start + 1) % w.size
	}
	w.version++
	return nil
}

// Snapshot copies the current contents in chronological order.
func (w *Window) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	samples := make([]Sample, w.count)
	for i := 0; i < w.count; i++ {
		samples[i] = w.buf[(w.start+i)%w.size]
	}
	return Snapshot{
		Samples: samples,
		Version: w.version,
		Size:    w.size,
	}
}
