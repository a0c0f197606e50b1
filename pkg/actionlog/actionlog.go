// Package actionlog records the outcome of every scaling decision.
//
// The log is append-only and ordered by insertion. Entries carry a sequence
// number assigned on append, so two entries with the same timestamp still
// have a well defined order.
package actionlog

import (
	"context"
	"sync"
	"time"

	"github.com/HatiCode/prescaler/pkg/capacity"
)

// Entry is one recorded scaling action.
type Entry struct {
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	TaskID    string          `json:"taskId"`
	Workload  string          `json:"workload"`
	Action    capacity.Action `json:"action"`
	From      int             `json:"from"`
	To        int             `json:"to"`
	Peak      float64         `json:"peak"`
	Reason    string          `json:"reason,omitempty"`
	// Applied is false when the orchestrator rejected the change.
	Applied bool   `json:"applied"`
	Error   string `json:"error,omitempty"`
}

// FromDecision builds an entry for a decision made by task taskID.
func FromDecision(taskID string, d capacity.Decision) Entry {
	return Entry{
		Timestamp: d.Timestamp,
		TaskID:    taskID,
		Workload:  d.Workload,
		Action:    d.Action,
		From:      d.CurrentReplicas,
		To:        d.TargetReplicas,
		Peak:      d.Peak,
		Reason:    d.Reason,
	}
}

// Log is the interface every action log implements.
type Log interface {
	// Append records an entry and returns it with its sequence number set.
	// It never fails the caller; persistence problems are handled internally.
	Append(ctx context.Context, e Entry) Entry

	// Recent returns up to n of the newest entries in chronological order.
	// n <= 0 returns every retained entry.
	Recent(n int) []Entry

	// Len returns the number of retained entries.
	Len() int
}

// MemoryLog keeps the newest Capacity entries in a ring buffer.
type MemoryLog struct {
	mu    sync.RWMutex
	buf   []Entry
	start int
	count int
	seq   uint64
}

// DefaultCapacity is the number of entries retained when none is given.
const DefaultCapacity = 1000

// NewMemoryLog creates a ring of the given capacity.
func NewMemoryLog(capacity int) *MemoryLog {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryLog{buf: make([]Entry, capacity)}
}

// Append stores e, evicting the oldest entry when full.
func (l *MemoryLog) Append(_ context.Context, e Entry) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	e.Seq = l.seq
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	l.insertLocked(e)
	return e
}

func (l *MemoryLog) insertLocked(e Entry) {
	size := len(l.buf)
	if l.count < size {
		l.buf[(l.start+l.count)%size] = e
		l.count++
		return
	}
	l.buf[l.start] = e
	l.start = (l.start + 1) % size
}

// restore loads persisted entries, oldest first, and continues numbering
// after the newest one.
func (l *MemoryLog) restore(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range entries {
		l.insertLocked(e)
		if e.Seq > l.seq {
			l.seq = e.Seq
		}
	}
}

// Recent returns up to n newest entries, oldest first.
func (l *MemoryLog) Recent(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > l.count {
		n = l.count
	}
	out := make([]Entry, n)
	size := len(l.buf)
	first := l.count - n
	for i := 0; i < n; i++ {
		out[i] = l.buf[(l.start+first+i)%size]
	}
	return out
}

// Len returns the number of retained entries.
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}
