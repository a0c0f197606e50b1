package main

import (
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/HatiCode/prescaler/cmd/prescaler/metrics"
	"github.com/HatiCode/prescaler/pkg/tasks"
)

// continuousService reports SERVING while the continuous task runs.
const continuousService = "prescaler.continuous"

// newHealthServer creates the gRPC health server. The process itself is
// always SERVING; continuousService starts as NOT_SERVING.
func newHealthServer() *health.Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(continuousService, healthpb.HealthCheckResponse_NOT_SERVING)
	return hs
}

// taskObserver mirrors continuous task transitions into the health server
// and the running-task gauge.
func taskObserver(hs *health.Server, m *metrics.Metrics) func(tasks.Task) {
	return func(t tasks.Task) {
		if t.Mode != tasks.ModeContinuous {
			return
		}
		running := t.State == tasks.StateRunning
		m.SetRunning(running)
		if hs == nil {
			return
		}
		if running {
			hs.SetServingStatus(continuousService, healthpb.HealthCheckResponse_SERVING)
		} else {
			hs.SetServingStatus(continuousService, healthpb.HealthCheckResponse_NOT_SERVING)
		}
	}
}
