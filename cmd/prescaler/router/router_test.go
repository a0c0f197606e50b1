package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/HatiCode/prescaler/pkg/actionlog"
	"github.com/HatiCode/prescaler/pkg/capacity"
	"github.com/HatiCode/prescaler/pkg/models"
	"github.com/HatiCode/prescaler/pkg/orchestrator"
	"github.com/HatiCode/prescaler/pkg/storage"
	"github.com/HatiCode/prescaler/pkg/tasks"
)

type testEnv struct {
	handler http.Handler
	manager *tasks.Manager
	actions *actionlog.MemoryLog
	store   *storage.MemoryStore
}

func newTestEnv(t *testing.T, cycle tasks.CycleFunc, limiter *rate.Limiter) testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if cycle == nil {
		cycle = func(context.Context, string) (tasks.Outcome, error) { return tasks.Outcome{}, nil }
	}
	mgr := tasks.NewManager(cycle, tasks.Config{Interval: time.Hour, Logger: logger})
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })

	env := testEnv{
		manager: mgr,
		actions: actionlog.NewMemoryLog(100),
		store:   storage.NewMemoryStore(),
	}
	env.handler = SetupRoutes(Deps{
		Tasks:        mgr,
		Actions:      env.actions,
		Store:        env.store,
		Orchestrator: orchestrator.NewSimulatedClient(map[string]int{"api": 2, "worker": 1}, logger),
		Config:       map[string]any{"interval": "30s"},
		StaleAfter:   time.Minute,
		Limiter:      limiter,
		Gatherer:     prometheus.NewRegistry(),
		Logger:       logger,
	})
	return env
}

func (e testEnv) do(method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func TestStartStop(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(http.MethodPost, "/start")
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /start = %d, want 201", rec.Code)
	}
	started := decode[taskResponse](t, rec)
	if started.TaskID == "" || started.State != tasks.StateRunning {
		t.Fatalf("start response = %+v", started)
	}

	if rec := env.do(http.MethodPost, "/start"); rec.Code != http.StatusConflict {
		t.Errorf("second POST /start = %d, want 409", rec.Code)
	}
	if n := len(env.manager.Tasks()); n != 1 {
		t.Errorf("second start created a task: %d tasks", n)
	}

	rec = env.do(http.MethodPost, "/stop/"+started.TaskID)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /stop = %d, want 200", rec.Code)
	}
	if stopped := decode[taskResponse](t, rec); stopped.State != tasks.StateStopped {
		t.Errorf("stop state = %s, want stopped", stopped.State)
	}

	// Idempotent.
	if rec := env.do(http.MethodPost, "/stop/"+started.TaskID); rec.Code != http.StatusOK {
		t.Errorf("repeated POST /stop = %d, want 200", rec.Code)
	}
}

func TestStop_Unknown(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(http.MethodPost, "/stop/does-not-exist")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if body := decode[httpErr](t, rec); body.Error == "" {
		t.Error("missing error message")
	}
}

type httpErr struct {
	Error string `json:"error"`
}

func TestRunOnce(t *testing.T) {
	env := newTestEnv(t, func(_ context.Context, taskID string) (tasks.Outcome, error) {
		return tasks.Outcome{Actions: []actionlog.Entry{{TaskID: taskID, Workload: "api", Action: capacity.ActionScaleUp, From: 1, To: 3}}}, nil
	}, nil)

	rec := env.do(http.MethodPost, "/run-once")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decode[taskResponse](t, rec)
	if resp.State != tasks.StateCompleted || resp.Outcome == nil || len(resp.Outcome.Actions) != 1 {
		t.Errorf("response = %+v", resp)
	}
	if resp.Outcome.Actions[0].TaskID != resp.TaskID {
		t.Errorf("outcome task = %q, want %q", resp.Outcome.Actions[0].TaskID, resp.TaskID)
	}
}

func TestRunOnce_Failure(t *testing.T) {
	env := newTestEnv(t, func(context.Context, string) (tasks.Outcome, error) {
		return tasks.Outcome{}, fmt.Errorf("workload api: predict: %w", models.ErrForecast)
	}, nil)

	rec := env.do(http.MethodPost, "/run-once")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	resp := decode[taskResponse](t, rec)
	if resp.TaskID == "" || resp.State != tasks.StateFailed || resp.Error == "" {
		t.Errorf("response = %+v", resp)
	}

	status := decode[map[string]tasks.State](t, env.do(http.MethodGet, "/status"))
	if status[resp.TaskID] != tasks.StateFailed {
		t.Errorf("GET /status = %v, want %s failed", status, resp.TaskID)
	}
}

func TestStatusAndTasks(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	first := decode[taskResponse](t, env.do(http.MethodPost, "/run-once"))
	second := decode[taskResponse](t, env.do(http.MethodPost, "/run-once"))

	status := decode[map[string]tasks.State](t, env.do(http.MethodGet, "/status"))
	if len(status) != 2 || status[first.TaskID] != tasks.StateCompleted {
		t.Errorf("status = %v", status)
	}

	list := decode[[]tasks.Task](t, env.do(http.MethodGet, "/tasks"))
	if len(list) != 2 {
		t.Fatalf("got %d tasks, want 2", len(list))
	}
	if list[0].ID != second.TaskID || list[1].ID != first.TaskID {
		t.Errorf("tasks not newest first: %s, %s", list[0].ID, list[1].ID)
	}
	if list[0].Mode != tasks.ModeOnce || list[0].Cycles != 1 {
		t.Errorf("task = %+v", list[0])
	}
}

func TestActions(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	for i := 0; i < 5; i++ {
		env.actions.Append(context.Background(), actionlog.Entry{Workload: "api", Action: capacity.ActionNoOp, To: i})
	}

	got := decode[[]actionlog.Entry](t, env.do(http.MethodGet, "/actions?limit=2"))
	if len(got) != 2 || got[0].To != 3 || got[1].To != 4 {
		t.Errorf("GET /actions?limit=2 = %+v", got)
	}

	all := decode[[]actionlog.Entry](t, env.do(http.MethodGet, "/actions"))
	if len(all) != 5 {
		t.Errorf("default limit returned %d entries, want 5", len(all))
	}

	if rec := env.do(http.MethodGet, "/actions?limit=abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid limit status = %d, want 400", rec.Code)
	}
}

func TestForecast(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	fresh := storage.Snapshot{
		Forecast: models.Forecast{Workload: "api", Model: "baseline", Points: []models.Point{{OffsetMinutes: 10, PredictedRate: 360}}},
		StoredAt: time.Now(),
	}
	old := storage.Snapshot{
		Forecast: models.Forecast{Workload: "worker", Model: "baseline"},
		StoredAt: time.Now().Add(-10 * time.Minute),
	}
	if err := env.store.Put(ctx, fresh); err != nil {
		t.Fatal(err)
	}
	if err := env.store.Put(ctx, old); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		path      string
		wantCode  int
		wantStale bool
	}{
		{"fresh", "/forecast/api", http.StatusOK, false},
		{"stale", "/forecast/worker", http.StatusOK, true},
		{"unknown", "/forecast/billing", http.StatusNotFound, false},
		{"invalid name", "/forecast/-bad-", http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodGet, tt.path)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if stale := rec.Header().Get(StaleHeader) == "true"; stale != tt.wantStale {
				t.Errorf("stale header = %v, want %v", stale, tt.wantStale)
			}
		})
	}

	snap := decode[storage.Snapshot](t, env.do(http.MethodGet, "/forecast/api"))
	if snap.Forecast.Peak() != 360 {
		t.Errorf("forecast = %+v", snap.Forecast)
	}
}

func TestDeployments(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	got := decode[[]orchestrator.Deployment](t, env.do(http.MethodGet, "/deployments"))
	if len(got) != 2 || got[0].Name != "api" || got[0].Replicas != 2 {
		t.Errorf("deployments = %+v", got)
	}
}

func TestConfigHealthMetrics(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	cfg := decode[map[string]any](t, env.do(http.MethodGet, "/config"))
	if cfg["interval"] != "30s" {
		t.Errorf("config = %v", cfg)
	}

	if rec := env.do(http.MethodGet, "/healthz"); rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}

	if rec := env.do(http.MethodGet, "/metrics"); rec.Code != http.StatusOK {
		t.Errorf("metrics = %d, want 200", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	if rec := env.do(http.MethodGet, "/start"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /start = %d, want 405", rec.Code)
	}
}

func TestControlRoutesRateLimited(t *testing.T) {
	env := newTestEnv(t, nil, rate.NewLimiter(rate.Every(time.Minute), 1))

	if rec := env.do(http.MethodPost, "/run-once"); rec.Code != http.StatusOK {
		t.Fatalf("first run-once = %d, want 200", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/run-once"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second run-once = %d, want 429", rec.Code)
	}
	// Read routes are not limited.
	if rec := env.do(http.MethodGet, "/status"); rec.Code != http.StatusOK {
		t.Errorf("GET /status = %d, want 200", rec.Code)
	}
}

func TestHealthFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := SetupRoutes(Deps{
		Health: func() error { return errors.New("redis unreachable") },
		Logger: logger,
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
