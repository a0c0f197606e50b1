// Package orchestrator applies replica counts to the backend that runs the
// managed workloads.
//
// Clients do not retry. A failed apply is reported to the caller and the next
// cycle re-reads the current replica count before deciding again.
package orchestrator

import (
	"context"
	"errors"
	"time"
)

// ErrOrchestration wraps every backend failure.
var ErrOrchestration = errors.New("orchestration failed")

// AppliedStatus reports the state of a workload right after a replica change.
type AppliedStatus struct {
	Workload      string    `json:"workload"`
	Replicas      int       `json:"replicas"`
	ReadyReplicas int       `json:"readyReplicas"`
	AppliedAt     time.Time `json:"appliedAt"`
}

// Deployment is one entry of the backend inventory.
type Deployment struct {
	Name              string `json:"name"`
	Replicas          int    `json:"replicas"`
	ReadyReplicas     int    `json:"readyReplicas"`
	AvailableReplicas int    `json:"availableReplicas"`
}

// Client is the interface every orchestration backend implements.
type Client interface {
	// Name returns a short identifier such as "kubernetes" or "simulated".
	Name() string

	// GetReplicas returns the desired replica count currently configured for
	// the workload.
	GetReplicas(ctx context.Context, workload string) (int, error)

	// SetReplicas changes the desired replica count of the workload.
	SetReplicas(ctx context.Context, workload string, replicas int) (AppliedStatus, error)

	// List returns the backend inventory.
	List(ctx context.Context) ([]Deployment, error)
}
