package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CycleFunc runs one control cycle on behalf of a task. A non-nil error marks
// a once task failed; continuous tasks record it and keep running.
type CycleFunc func(ctx context.Context, taskID string) (Outcome, error)

// Config configures a Manager.
type Config struct {
	// Interval between continuous cycles. Defaults to 30s.
	Interval time.Duration
	// Retention is how long terminal tasks are kept. Defaults to 24h.
	Retention time.Duration
	// MaxRetained bounds the number of terminal tasks kept. Defaults to 100.
	MaxRetained int
	// JanitorInterval is how often expired tasks are pruned. Defaults to 1m.
	JanitorInterval time.Duration

	// OnStateChange, when set, is called after every task transition, in
	// transition order. It must not call back into the Manager.
	OnStateChange func(Task)

	Logger *slog.Logger
}

type record struct {
	task Task
	seq  uint64
	stop chan struct{}
}

// Manager is the task registry. Status queries only take the registry lock,
// which is never held while a cycle runs, so they never wait on metrics
// fetches, inference or orchestration calls.
type Manager struct {
	cfg    Config
	cycle  CycleFunc
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	notifyMu sync.Mutex
	tasks    map[string]*record
	running  string
	seq      uint64

	// base is the context continuous cycles run under. It is only cancelled
	// when Shutdown gives up waiting.
	base   context.Context
	cancel context.CancelFunc
	loops  sync.WaitGroup

	janitorStop chan struct{}
	janitorDone chan struct{}
	shutdown    sync.Once
}

// NewManager creates a manager and starts its retention janitor. Shutdown
// must be called to release it.
func NewManager(cycle CycleFunc, cfg Config) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.MaxRetained <= 0 {
		cfg.MaxRetained = 100
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	base, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:         cfg,
		cycle:       cycle,
		logger:      cfg.Logger.With("component", "tasks"),
		now:         time.Now,
		tasks:       make(map[string]*record),
		base:        base,
		cancel:      cancel,
		janitorStop: make(chan struct{}),
		janitorDone: make(chan struct{}),
	}
	go m.runJanitor()
	return m
}

// Start creates the continuous task and schedules its first cycle
// immediately.
func (m *Manager) Start() (Task, error) {
	m.mu.Lock()
	if m.running != "" {
		id := m.running
		m.mu.Unlock()
		return Task{}, fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}

	rec := m.newRecordLocked(ModeContinuous)
	rec.task.State = StateRunning
	rec.stop = make(chan struct{})
	m.running = rec.task.ID
	snapshot := rec.task
	m.loops.Add(1)
	m.unlockAndNotify(snapshot)

	m.logger.Info("continuous task started", "task", snapshot.ID, "interval", m.cfg.Interval)

	go m.loop(rec.task.ID, rec.stop)
	return snapshot, nil
}

// Stop deschedules the continuous task. A cycle already in flight completes.
// Stopping a stopped task is a no-op.
func (m *Manager) Stop(id string) (Task, error) {
	m.mu.Lock()
	rec, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if rec.task.State == StateStopped {
		snapshot := rec.task
		m.mu.Unlock()
		return snapshot, nil
	}
	if rec.task.Mode != ModeContinuous || rec.task.State != StateRunning {
		m.mu.Unlock()
		return Task{}, fmt.Errorf("%w: %s is %s %s", ErrNotFound, id, rec.task.Mode, rec.task.State)
	}

	rec.task.State = StateStopped
	rec.task.FinishedAt = m.now()
	close(rec.stop)
	m.running = ""
	m.pruneLocked(m.now())
	snapshot := rec.task
	m.unlockAndNotify(snapshot)

	m.logger.Info("continuous task stopped", "task", id, "cycles", snapshot.Cycles)
	return snapshot, nil
}

// RunOnce executes a single cycle on the caller's goroutine. The returned
// task is completed, or failed when the cycle returned an error.
func (m *Manager) RunOnce(ctx context.Context) (Task, Outcome, error) {
	m.mu.Lock()
	rec := m.newRecordLocked(ModeOnce)
	pending := rec.task
	rec.task.State = StateRunning
	running := rec.task
	m.unlockAndNotify(pending, running)

	outcome, err := m.cycle(ctx, running.ID)

	m.mu.Lock()
	now := m.now()
	rec.task.Cycles = 1
	rec.task.LastCycleAt = now
	rec.task.FinishedAt = now
	if err != nil {
		rec.task.State = StateFailed
		rec.task.LastError = err.Error()
	} else {
		rec.task.State = StateCompleted
	}
	m.pruneLocked(now)
	final := rec.task
	m.unlockAndNotify(final)

	if err != nil {
		m.logger.Warn("run-once failed", "task", final.ID, "error", err)
	} else {
		m.logger.Info("run-once completed", "task", final.ID, "actions", len(outcome.Actions))
	}
	return final, outcome, err
}

// Get returns a copy of the task with the given ID.
func (m *Manager) Get(id string) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec.task, nil
}

// Status returns the state of every retained task.
func (m *Manager) Status() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]State, len(m.tasks))
	for id, rec := range m.tasks {
		out[id] = rec.task.State
	}
	return out
}

// Tasks returns copies of every retained task, newest first.
func (m *Manager) Tasks() []Task {
	m.mu.Lock()
	recs := make([]*record, 0, len(m.tasks))
	for _, rec := range m.tasks {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq > recs[j].seq })

	out := make([]Task, len(recs))
	for i, rec := range recs {
		out[i] = rec.task
	}
	m.mu.Unlock()
	return out
}

// Running returns the continuous task, if one is running.
func (m *Manager) Running() (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running == "" {
		return Task{}, false
	}
	return m.tasks[m.running].task, true
}

// Shutdown stops the continuous task and the janitor, then waits for loops to
// exit. If ctx expires first, in-flight cycles are cancelled.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	id := m.running
	m.mu.Unlock()
	if id != "" {
		if _, err := m.Stop(id); err != nil {
			m.logger.Warn("stop on shutdown", "task", id, "error", err)
		}
	}

	m.shutdown.Do(func() {
		close(m.janitorStop)
		<-m.janitorDone
	})

	done := make(chan struct{})
	go func() {
		m.loops.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		<-done
		return ctx.Err()
	}
}

func (m *Manager) newRecordLocked(mode Mode) *record {
	m.seq++
	rec := &record{
		seq: m.seq,
		task: Task{
			ID:        uuid.NewString(),
			Mode:      mode,
			State:     StatePending,
			StartedAt: m.now(),
		},
	}
	m.tasks[rec.task.ID] = rec
	return rec
}

func (m *Manager) loop(id string, stop <-chan struct{}) {
	defer m.loops.Done()

	m.runCycle(id)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-m.base.Done():
			return
		case <-ticker.C:
			// Stop may race with the tick; stop wins.
			select {
			case <-stop:
				return
			default:
			}
			m.runCycle(id)
		}
	}
}

func (m *Manager) runCycle(id string) {
	start := m.now()
	outcome, err := m.cycle(m.base, id)

	m.mu.Lock()
	rec, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	rec.task.Cycles++
	rec.task.LastCycleAt = m.now()
	if err != nil {
		rec.task.LastError = err.Error()
	} else {
		rec.task.LastError = ""
	}
	snapshot := rec.task
	m.unlockAndNotify(snapshot)

	if err != nil {
		m.logger.Error("cycle failed", "task", id, "cycle", snapshot.Cycles, "error", err)
	} else {
		m.logger.Debug("cycle completed",
			"task", id,
			"cycle", snapshot.Cycles,
			"actions", len(outcome.Actions),
			"skipped", len(outcome.Skipped),
			"ms", m.now().Sub(start).Milliseconds(),
		)
	}
}

func (m *Manager) runJanitor() {
	defer close(m.janitorDone)

	ticker := time.NewTicker(m.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			m.pruneLocked(m.now())
			m.mu.Unlock()
		case <-m.janitorStop:
			return
		}
	}
}

// pruneLocked drops terminal tasks older than the retention period, then the
// oldest terminal tasks beyond MaxRetained.
func (m *Manager) pruneLocked(now time.Time) {
	var terminal []*record
	for id, rec := range m.tasks {
		if !rec.task.State.Terminal() {
			continue
		}
		if now.Sub(rec.task.FinishedAt) > m.cfg.Retention {
			delete(m.tasks, id)
			continue
		}
		terminal = append(terminal, rec)
	}

	excess := len(terminal) - m.cfg.MaxRetained
	if excess <= 0 {
		return
	}
	sort.Slice(terminal, func(i, j int) bool {
		if terminal[i].task.FinishedAt.Equal(terminal[j].task.FinishedAt) {
			return terminal[i].seq < terminal[j].seq
		}
		return terminal[i].task.FinishedAt.Before(terminal[j].task.FinishedAt)
	})
	for _, rec := range terminal[:excess] {
		delete(m.tasks, rec.task.ID)
	}
}

// unlockAndNotify releases m.mu and reports ts to the observer. notifyMu is
// taken before m.mu is released so observers see transitions in the order
// they were made.
func (m *Manager) unlockAndNotify(ts ...Task) {
	if m.cfg.OnStateChange == nil {
		m.mu.Unlock()
		return
	}
	m.notifyMu.Lock()
	m.mu.Unlock()
	defer m.notifyMu.Unlock()

	for _, t := range ts {
		m.cfg.OnStateChange(t)
	}
}
