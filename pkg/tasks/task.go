// Package tasks owns the lifecycle of scaling tasks: the single continuous
// control loop and any number of one-shot runs.
package tasks

import (
	"errors"
	"time"

	"github.com/HatiCode/prescaler/pkg/actionlog"
)

var (
	// ErrAlreadyRunning is returned by Start while a continuous task runs.
	ErrAlreadyRunning = errors.New("a continuous task is already running")

	// ErrNotFound is returned for unknown task IDs and for tasks that cannot
	// be stopped.
	ErrNotFound = errors.New("task not found or not running")
)

// Mode distinguishes the periodic control loop from one-shot runs.
type Mode string

const (
	ModeContinuous Mode = "continuous"
	ModeOnce       Mode = "once"
)

// State is the lifecycle state of a task.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateStopped   State = "stopped"
	StateFailed    State = "failed"
	StateCompleted State = "completed"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	switch s {
	case StateStopped, StateFailed, StateCompleted:
		return true
	}
	return false
}

// Task is a point-in-time copy of a task record.
type Task struct {
	ID          string    `json:"taskId"`
	Mode        Mode      `json:"mode"`
	State       State     `json:"state"`
	StartedAt   time.Time `json:"startedAt"`
	LastCycleAt time.Time `json:"lastCycleAt,omitzero"`
	FinishedAt  time.Time `json:"finishedAt,omitzero"`
	Cycles      int       `json:"cycles"`
	LastError   string    `json:"lastError,omitempty"`
}

// Outcome summarizes one cycle across all workloads.
type Outcome struct {
	// Actions holds the action log entries appended by the cycle.
	Actions []actionlog.Entry `json:"actions"`
	// Skipped maps workloads that produced no decision to the reason.
	Skipped map[string]string `json:"skipped,omitempty"`
}
