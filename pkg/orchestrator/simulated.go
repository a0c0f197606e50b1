package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// SimulatedClient keeps replica counts in memory. Every change is immediately
// ready. It is used for dry runs and tests.
type SimulatedClient struct {
	mu       sync.Mutex
	replicas map[string]int
	failures map[string]error
	logger   *slog.Logger
}

// NewSimulatedClient creates a simulated backend seeded with initial counts.
func NewSimulatedClient(initial map[string]int, logger *slog.Logger) *SimulatedClient {
	if logger == nil {
		logger = slog.Default()
	}
	replicas := make(map[string]int, len(initial))
	for name, n := range initial {
		replicas[name] = n
	}
	return &SimulatedClient{
		replicas: replicas,
		failures: make(map[string]error),
		logger:   logger.With("component", "orchestrator", "backend", "simulated"),
	}
}

// Name returns the backend identifier.
func (s *SimulatedClient) Name() string {
	return "simulated"
}

// FailWith makes every call for workload fail with err until cleared with a
// nil error.
func (s *SimulatedClient) FailWith(workload string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, workload)
		return
	}
	s.failures[workload] = err
}

// GetReplicas returns the stored count, or ErrOrchestration for unknown workloads.
func (s *SimulatedClient) GetReplicas(_ context.Context, workload string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failures[workload]; err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrOrchestration, workload, err)
	}
	n, ok := s.replicas[workload]
	if !ok {
		return 0, fmt.Errorf("%w: unknown workload %q", ErrOrchestration, workload)
	}
	return n, nil
}

// SetReplicas stores the new count.
func (s *SimulatedClient) SetReplicas(ctx context.Context, workload string, replicas int) (AppliedStatus, error) {
	if err := ctx.Err(); err != nil {
		return AppliedStatus{}, fmt.Errorf("%w: %v", ErrOrchestration, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failures[workload]; err != nil {
		return AppliedStatus{}, fmt.Errorf("%w: %s: %v", ErrOrchestration, workload, err)
	}
	if _, ok := s.replicas[workload]; !ok {
		return AppliedStatus{}, fmt.Errorf("%w: unknown workload %q", ErrOrchestration, workload)
	}
	if replicas < 0 {
		return AppliedStatus{}, fmt.Errorf("%w: negative replica count %d", ErrOrchestration, replicas)
	}

	from := s.replicas[workload]
	s.replicas[workload] = replicas
	s.logger.Info("simulated scale", "workload", workload, "from", from, "to", replicas)

	return AppliedStatus{
		Workload:      workload,
		Replicas:      replicas,
		ReadyReplicas: replicas,
		AppliedAt:     time.Now(),
	}, nil
}

// List returns every known workload, sorted by name.
func (s *SimulatedClient) List(_ context.Context) ([]Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Deployment, 0, len(s.replicas))
	for name, n := range s.replicas {
		out = append(out, Deployment{
			Name:              name,
			Replicas:          n,
			ReadyReplicas:     n,
			AvailableReplicas: n,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
