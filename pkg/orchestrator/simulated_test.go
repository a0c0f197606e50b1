package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestSimulatedClient_SetAndGet(t *testing.T) {
	sim := NewSimulatedClient(map[string]int{"api": 1}, nil)
	ctx := context.Background()

	status, err := sim.SetReplicas(ctx, "api", 3)
	if err != nil {
		t.Fatalf("SetReplicas() error = %v", err)
	}
	if status.Replicas != 3 || status.ReadyReplicas != 3 {
		t.Errorf("unexpected status %+v", status)
	}

	got, err := sim.GetReplicas(ctx, "api")
	if err != nil {
		t.Fatalf("GetReplicas() error = %v", err)
	}
	if got != 3 {
		t.Errorf("GetReplicas() = %d, want 3", got)
	}
}

func TestSimulatedClient_UnknownWorkload(t *testing.T) {
	sim := NewSimulatedClient(nil, nil)
	ctx := context.Background()

	if _, err := sim.GetReplicas(ctx, "ghost"); !errors.Is(err, ErrOrchestration) {
		t.Errorf("GetReplicas() error = %v, want ErrOrchestration", err)
	}
	if _, err := sim.SetReplicas(ctx, "ghost", 2); !errors.Is(err, ErrOrchestration) {
		t.Errorf("SetReplicas() error = %v, want ErrOrchestration", err)
	}
}

func TestSimulatedClient_FailWith(t *testing.T) {
	sim := NewSimulatedClient(map[string]int{"api": 1}, nil)
	ctx := context.Background()

	sim.FailWith("api", errors.New("backend unavailable"))
	if _, err := sim.SetReplicas(ctx, "api", 3); !errors.Is(err, ErrOrchestration) {
		t.Errorf("SetReplicas() error = %v, want ErrOrchestration", err)
	}
	if got, _ := sim.List(ctx); got[0].Replicas != 1 {
		t.Errorf("failed apply changed replicas to %d", got[0].Replicas)
	}

	sim.FailWith("api", nil)
	if _, err := sim.SetReplicas(ctx, "api", 3); err != nil {
		t.Errorf("SetReplicas() after clearing failure error = %v", err)
	}
}

func TestSimulatedClient_CancelledContext(t *testing.T) {
	sim := NewSimulatedClient(map[string]int{"api": 1}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := sim.SetReplicas(ctx, "api", 3); !errors.Is(err, ErrOrchestration) {
		t.Errorf("SetReplicas() error = %v, want ErrOrchestration", err)
	}
}

func TestSimulatedClient_List(t *testing.T) {
	sim := NewSimulatedClient(map[string]int{"worker": 2, "api": 1}, nil)

	deps, err := sim.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(deps) != 2 || deps[0].Name != "api" || deps[1].Name != "worker" {
		t.Errorf("List() = %+v", deps)
	}
}

func TestSimulatedClient_Concurrent(t *testing.T) {
	sim := NewSimulatedClient(map[string]int{"api": 1}, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _ = sim.SetReplicas(ctx, "api", n)
			_, _ = sim.GetReplicas(ctx, "api")
		}(i)
	}
	wg.Wait()

	got, err := sim.GetReplicas(ctx, "api")
	if err != nil {
		t.Fatalf("GetReplicas() error = %v", err)
	}
	if got < 1 || got > 20 {
		t.Errorf("GetReplicas() = %d, want value in [1,20]", got)
	}
}
