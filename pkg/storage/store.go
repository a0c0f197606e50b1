// Package storage keeps the latest forecast and decision per workload so the
// control surface can serve them without touching the control loop.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/HatiCode/prescaler/pkg/capacity"
	"github.com/HatiCode/prescaler/pkg/models"
)

// Snapshot is the most recent forecast produced for a workload, together with
// the decision derived from it when one was made.
type Snapshot struct {
	Forecast models.Forecast `json:"forecast"`
	// Decision is nil when the cycle failed before a decision was made,
	// e.g. the current replica count could not be read.
	Decision *capacity.Decision `json:"decision,omitempty"`
	StoredAt time.Time          `json:"storedAt"`
}

// Workload returns the workload the snapshot belongs to.
func (s Snapshot) Workload() string {
	return s.Forecast.Workload
}

// Stale reports whether the snapshot is older than maxAge at now.
func (s Snapshot) Stale(now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && now.Sub(s.StoredAt) > maxAge
}

// Store holds the latest snapshot per workload.
type Store interface {
	Put(ctx context.Context, snapshot Snapshot) error
	GetLatest(ctx context.Context, workload string) (Snapshot, bool, error)
}

// validateWorkload restricts names to characters that are safe in Redis keys
// and URL paths.
func validateWorkload(workload string) error {
	if workload == "" {
		return fmt.Errorf("workload name required")
	}
	for _, c := range workload {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.') {
			return fmt.Errorf("invalid workload name %q: only alphanumeric, dots, hyphens, and underscores allowed", workload)
		}
	}
	return nil
}
