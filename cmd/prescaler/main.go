// Command prescaler is a proactive autoscaler.
//
// A control loop periodically collects recent request rates for every managed
// workload, forecasts the next hour, turns the forecast peak into a replica
// count with a threshold policy and applies it to the orchestrator before the
// demand arrives. Every decision is written to an action log.
//
// The loop is driven over HTTP (default :8080):
//
//	POST /start, POST /stop/{taskId}, POST /run-once
//	GET  /status, /tasks, /actions, /forecast/{workload}, /deployments, /config
//	GET  /healthz, /metrics
//
// A gRPC health service (default :50051) reports "prescaler.continuous" as
// SERVING while the continuous task runs.
//
// Usage:
//
//	prescaler \
//	  -workload=api \
//	  -adapter=prometheus \
//	  -up-threshold=310 -scale-up-replicas=3 -scale-down-replicas=1
//
//	ADAPTER_URL=http://prometheus:9090 \
//	ADAPTER_QUERY='sum(rate(http_requests_total{app="api"}[1m])) * 60' \
//	prescaler -workload=api -auto-start
//
// Multiple workloads are configured with -config-file=workloads.yaml.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/HatiCode/prescaler/cmd/prescaler/config"
	"github.com/HatiCode/prescaler/cmd/prescaler/logger"
	"github.com/HatiCode/prescaler/cmd/prescaler/metrics"
	cmdmodels "github.com/HatiCode/prescaler/cmd/prescaler/models"
	"github.com/HatiCode/prescaler/cmd/prescaler/router"
	"github.com/HatiCode/prescaler/pkg/actionlog"
	"github.com/HatiCode/prescaler/pkg/adapters"
	"github.com/HatiCode/prescaler/pkg/httpx"
	"github.com/HatiCode/prescaler/pkg/orchestrator"
	"github.com/HatiCode/prescaler/pkg/storage"
	"github.com/HatiCode/prescaler/pkg/tasks"
	"github.com/HatiCode/prescaler/pkg/window"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	log := logger.New(cfg)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("prescaler failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	workloadCfgs, err := config.LoadWorkloads(cfg)
	if err != nil {
		return fmt.Errorf("load workloads: %w", err)
	}

	log.Info("starting prescaler",
		"version", version,
		"workloads", len(workloadCfgs),
		"orchestrator", cfg.Orchestrator,
		"storage", cfg.Storage,
		"action_log", cfg.ActionLog,
		"interval", cfg.Interval,
		"tls_enabled", cfg.TLS.Enabled,
	)

	m := metrics.New(nil)

	modelClient, err := httpx.NewClient(cfg.ClientTLS, cfg.ModelTimeout)
	if err != nil {
		return fmt.Errorf("model client: %w", err)
	}

	workloads, err := buildWorkloads(workloadCfgs, modelClient, log)
	if err != nil {
		return err
	}

	orch, err := newOrchestrator(cfg, workloadCfgs, log)
	if err != nil {
		return err
	}

	store, healthCheck, closeStore, err := newStore(cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	actions, closeActions, err := newActionLog(cfg, m, log)
	if err != nil {
		return err
	}
	defer closeActions()

	engine := New(workloads, orch, store, actions, log, m)

	hs := newHealthServer()
	mgr := tasks.NewManager(engine.Cycle, tasks.Config{
		Interval:      cfg.Interval,
		Retention:     cfg.Retention,
		MaxRetained:   cfg.MaxRetained,
		OnStateChange: taskObserver(hs, m),
		Logger:        log,
	})

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	handler := router.SetupRoutes(router.Deps{
		Tasks:        mgr,
		Actions:      actions,
		Store:        store,
		Orchestrator: orch,
		Config: struct {
			*config.Config
			Workloads []config.WorkloadConfig `json:"workloads"`
		}{cfg, workloadCfgs},
		StaleAfter: 2 * cfg.Interval,
		Limiter:    limiter,
		Health:     healthCheck,
		Logger:     log,
	})
	httpServer := httpx.NewServer(cfg.Listen, handler, log)

	serverTLS, err := serverTLSConfig(cfg)
	if err != nil {
		return err
	}

	serverErr := make(chan error, 2)
	go func() {
		serverErr <- httpServer.Start(serverTLS)
	}()

	var grpcServer *grpc.Server
	if cfg.GRPCListen != "" {
		lis, err := net.Listen("tcp", cfg.GRPCListen)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcServer, hs)
		reflection.Register(grpcServer)

		go func() {
			log.Info("grpc health server listening", "address", cfg.GRPCListen)
			if err := grpcServer.Serve(lis); err != nil {
				serverErr <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	if cfg.AutoStart {
		task, err := mgr.Start()
		if err != nil {
			return fmt.Errorf("auto-start: %w", err)
		}
		log.Info("continuous task auto-started", "task", task.ID)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			log.Error("server failed", "error", err)
			runErr = err
		}
	}

	log.Info("shutting down")
	hs.Shutdown()

	if err := httpServer.Stop(cfg.ShutdownGrace); err != nil {
		log.Error("http server shutdown failed", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		log.Warn("in-flight cycles cancelled", "error", err)
	}

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	log.Info("shutdown complete")
	return runErr
}

func buildWorkloads(cfgs []config.WorkloadConfig, modelClient *http.Client, log *slog.Logger) ([]*Workload, error) {
	out := make([]*Workload, 0, len(cfgs))
	for _, wc := range cfgs {
		adapter, err := adapters.New(wc.Adapter, wc.AdapterConfig, int(wc.SampleStep.Seconds()))
		if err != nil {
			return nil, fmt.Errorf("workload %q: adapter: %w", wc.Name, err)
		}
		model, err := cmdmodels.New(wc, modelClient, log)
		if err != nil {
			return nil, err
		}
		out = append(out, &Workload{
			Name:           wc.Name,
			Adapter:        adapter,
			Window:         window.New(wc.WindowSize),
			Model:          model,
			Policy:         wc.Policy(),
			Bounds:         wc.Bounds(),
			CollectSeconds: wc.CollectSeconds(),
		})
		log.Info("workload configured",
			"workload", wc.Name,
			"adapter", adapter.Name(),
			"model", model.Name(),
			"up_threshold", wc.UpThreshold,
			"down_threshold", wc.DownThreshold,
			"min", wc.MinReplicas,
			"max", wc.MaxReplicas,
		)
	}
	return out, nil
}

func serverTLSConfig(cfg *config.Config) (*tls.Config, error) {
	if !cfg.TLS.Enabled {
		return nil, nil
	}
	tlsCfg, err := cfg.TLS.ServerConfig()
	if err != nil {
		return nil, fmt.Errorf("server TLS: %w", err)
	}
	return tlsCfg, nil
}

func newOrchestrator(cfg *config.Config, workloads []config.WorkloadConfig, log *slog.Logger) (orchestrator.Client, error) {
	switch cfg.Orchestrator {
	case "simulated":
		initial := make(map[string]int, len(workloads))
		for _, w := range workloads {
			initial[w.Name] = cfg.SimulatedReplicas
		}
		return orchestrator.NewSimulatedClient(initial, log), nil
	default:
		client, err := orchestrator.NewKubernetesClientFromConfig(orchestrator.KubernetesConfig{
			Kubeconfig:    cfg.Kubeconfig,
			Namespace:     cfg.Namespace,
			LabelSelector: cfg.LabelSelector,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("kubernetes client: %w", err)
		}
		return client, nil
	}
}

func newStore(cfg *config.Config, log *slog.Logger) (storage.Store, func() error, func(), error) {
	if cfg.Storage == "redis" {
		store, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.SnapshotTTL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("redis store: %w", err)
		}
		log.Info("using redis forecast storage", "addr", cfg.RedisAddr, "db", cfg.RedisDB, "ttl", cfg.SnapshotTTL)

		health := func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return store.Ping(ctx)
		}
		return store, health, closer(log, "forecast store", store), nil
	}

	store := storage.NewMemoryStoreWithTTL(cfg.SnapshotTTL, time.Minute)
	return store, nil, store.Stop, nil
}

func newActionLog(cfg *config.Config, m *metrics.Metrics, log *slog.Logger) (actionlog.Log, func(), error) {
	if cfg.ActionLog == "redis" {
		client, err := storage.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, fmt.Errorf("action log redis: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		l, err := actionlog.NewRedisLog(ctx, client, actionlog.RedisConfig{
			Capacity: cfg.ActionLogSize,
			Dropped:  m.Dropped(),
			Logger:   log,
		})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("action log: %w", err)
		}
		log.Info("using redis action log", "restored", l.Len())
		return l, closer(log, "action log", l), nil
	}
	return actionlog.NewMemoryLog(cfg.ActionLogSize), func() {}, nil
}

func closer(log *slog.Logger, name string, c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("failed to close", "component", name, "error", err)
		}
	}
}
