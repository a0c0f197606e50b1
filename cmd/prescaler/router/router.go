// Package router configures the HTTP control surface.
//
// Routes:
//   - POST /start              start the continuous task (201, 409 when running)
//   - POST /stop/{taskId}      stop it (200, 404)
//   - POST /run-once           run one cycle synchronously (200, 500 on failure)
//   - GET  /status             taskId → state
//   - GET  /tasks              task records, newest first
//   - GET  /actions?limit=n    most recent action log entries (default 50)
//   - GET  /forecast/{workload} latest forecast snapshot
//   - GET  /deployments        orchestrator inventory
//   - GET  /config             effective configuration
//   - GET  /healthz, GET /metrics
//
// Control routes share one rate limiter. Errors are returned as
// {"error": "<message>"}.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/HatiCode/prescaler/pkg/actionlog"
	"github.com/HatiCode/prescaler/pkg/httpx"
	"github.com/HatiCode/prescaler/pkg/orchestrator"
	"github.com/HatiCode/prescaler/pkg/storage"
	"github.com/HatiCode/prescaler/pkg/tasks"
)

// StaleHeader is set on forecast responses older than the stale threshold.
const StaleHeader = "X-Prescaler-Stale"

const (
	defaultActionLimit = 50
	maxActionLimit     = 1000
)

var workloadNameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9._-]{0,251}[a-zA-Z0-9])?$`)

// TaskManager is the subset of tasks.Manager the API drives.
type TaskManager interface {
	Start() (tasks.Task, error)
	Stop(id string) (tasks.Task, error)
	RunOnce(ctx context.Context) (tasks.Task, tasks.Outcome, error)
	Status() map[string]tasks.State
	Tasks() []tasks.Task
}

// Deps are the components behind the routes.
type Deps struct {
	Tasks        TaskManager
	Actions      actionlog.Log
	Store        storage.Store
	Orchestrator orchestrator.Client

	// Config is served as-is on /config.
	Config any
	// StaleAfter marks forecasts older than this as stale.
	StaleAfter time.Duration
	// Limiter throttles the control routes; nil disables throttling.
	Limiter *rate.Limiter
	// Health, when set, backs /healthz.
	Health func() error
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

type taskResponse struct {
	TaskID  string         `json:"taskId"`
	State   tasks.State    `json:"state"`
	Outcome *tasks.Outcome `json:"outcome,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type api struct {
	Deps
	now func() time.Time
}

// SetupRoutes returns the HTTP handler of the control surface.
func SetupRoutes(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	a := &api{Deps: d, now: time.Now}

	control := httpx.RateLimitMiddleware(d.Limiter)

	mux := http.NewServeMux()
	mux.Handle("POST /start", control(http.HandlerFunc(a.handleStart)))
	mux.Handle("POST /stop/{taskId}", control(http.HandlerFunc(a.handleStop)))
	mux.Handle("POST /run-once", control(http.HandlerFunc(a.handleRunOnce)))

	mux.HandleFunc("GET /status", a.handleStatus)
	mux.HandleFunc("GET /tasks", a.handleTasks)
	mux.HandleFunc("GET /actions", a.handleActions)
	mux.HandleFunc("GET /forecast/{workload}", a.handleForecast)
	mux.HandleFunc("GET /deployments", a.handleDeployments)
	mux.HandleFunc("GET /config", a.handleConfig)

	mux.Handle("GET /healthz", httpx.HealthHandler(d.Health))
	if d.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return httpx.Chain(mux,
		httpx.RecoveryMiddleware(d.Logger),
		httpx.LoggingMiddleware(d.Logger),
	)
}

func (a *api) handleStart(w http.ResponseWriter, r *http.Request) {
	task, err := a.Tasks.Start()
	if err != nil {
		if errors.Is(err, tasks.ErrAlreadyRunning) {
			httpx.WriteError(w, http.StatusConflict, err)
			return
		}
		a.Logger.Error("failed to start task", "error", err)
		httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	a.writeJSON(w, http.StatusCreated, taskResponse{TaskID: task.ID, State: task.State})
}

func (a *api) handleStop(w http.ResponseWriter, r *http.Request) {
	task, err := a.Tasks.Stop(r.PathValue("taskId"))
	if err != nil {
		if errors.Is(err, tasks.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, err)
			return
		}
		a.Logger.Error("failed to stop task", "error", err)
		httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	a.writeJSON(w, http.StatusOK, taskResponse{TaskID: task.ID, State: task.State})
}

func (a *api) handleRunOnce(w http.ResponseWriter, r *http.Request) {
	task, outcome, err := a.Tasks.RunOnce(r.Context())
	if err != nil {
		a.writeJSON(w, http.StatusInternalServerError, taskResponse{
			TaskID: task.ID,
			State:  task.State,
			Error:  err.Error(),
		})
		return
	}
	a.writeJSON(w, http.StatusOK, taskResponse{TaskID: task.ID, State: task.State, Outcome: &outcome})
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.Tasks.Status())
}

func (a *api) handleTasks(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.Tasks.Tasks())
}

func (a *api) handleActions(w http.ResponseWriter, r *http.Request) {
	limit, err := httpx.QueryInt(r, "limit", defaultActionLimit, 1, maxActionLimit)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err)
		return
	}
	a.writeJSON(w, http.StatusOK, a.Actions.Recent(limit))
}

func (a *api) handleForecast(w http.ResponseWriter, r *http.Request) {
	workload := r.PathValue("workload")
	if !workloadNameRegex.MatchString(workload) {
		httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid workload name format")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	snapshot, found, err := a.Store.GetLatest(ctx, workload)
	if err != nil {
		a.Logger.Error("failed to get snapshot", "workload", workload, "error", err)
		httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !found {
		httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("no forecast for workload %q", workload))
		return
	}

	if snapshot.Stale(a.now(), a.StaleAfter) {
		w.Header().Set(StaleHeader, "true")
	}
	a.writeJSON(w, http.StatusOK, snapshot)
}

func (a *api) handleDeployments(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	deployments, err := a.Orchestrator.List(ctx)
	if err != nil {
		a.Logger.Error("failed to list deployments", "backend", a.Orchestrator.Name(), "error", err)
		httpx.WriteError(w, http.StatusBadGateway, err)
		return
	}
	a.writeJSON(w, http.StatusOK, deployments)
}

func (a *api) handleConfig(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.Config)
}

func (a *api) writeJSON(w http.ResponseWriter, status int, v any) {
	if err := httpx.WriteJSON(w, status, v); err != nil {
		a.Logger.Error("failed to write JSON response", "error", err)
	}
}
