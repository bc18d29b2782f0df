// Package task tracks the lifecycle of units of work created from messages,
// independent of routing. Each task walks PENDING -> RUNNING -> terminal;
// transitions are atomic per task id and duplicate terminal signals are
// tolerated as no-ops.
package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/internal/metrics"
	"github.com/BaSui01/agentmesh/types"
)

// Task is a read-only snapshot of a tracked unit of work.
type Task struct {
	ID            string          `json:"id"`
	State         types.TaskState `json:"state"`
	Result        any             `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Deadline      *time.Time      `json:"deadline,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type entry struct {
	mu   sync.Mutex
	task Task
	// done is closed when the task reaches a terminal state. Task bodies
	// observing cancellation select on it.
	done chan struct{}
}

// Manager owns the task registry. Create it at process start and stop the
// reaper on drain.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry

	clock     types.Clock
	logger    *zap.Logger
	collector *metrics.Collector

	reaperOnce sync.Once
	stopOnce   sync.Once
	reaperStop chan struct{}
}

// ManagerOption configures optional manager collaborators.
type ManagerOption func(*Manager)

// WithCollector injects the metrics collector.
func WithCollector(collector *metrics.Collector) ManagerOption {
	return func(m *Manager) { m.collector = collector }
}

// CreateOption configures task creation.
type CreateOption func(*Task)

// WithCorrelationID links the task to its originating message id.
func WithCorrelationID(id string) CreateOption {
	return func(t *Task) { t.CorrelationID = id }
}

// WithDeadline sets the instant after which the reaper may fail the task.
func WithDeadline(at time.Time) CreateOption {
	return func(t *Task) { t.Deadline = &at }
}

// NewManager creates an empty task manager. A nil clock defaults to the
// system clock.
func NewManager(clock types.Clock, logger *zap.Logger, opts ...ManagerOption) *Manager {
	if clock == nil {
		clock = types.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		entries:    make(map[string]*entry),
		clock:      clock,
		logger:     logger.With(zap.String("component", "task_manager")),
		reaperStop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create registers a new task in the PENDING state. Creating an id that
// already exists is a validation error.
func (m *Manager) Create(taskID string, opts ...CreateOption) (Task, error) {
	if taskID == "" {
		return Task{}, types.NewError(types.ErrValidation, "task id must not be empty")
	}

	now := m.clock.Now()
	t := Task{
		ID:        taskID,
		State:     types.TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, opt := range opts {
		opt(&t)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[taskID]; exists {
		return Task{}, types.NewError(types.ErrValidation,
			fmt.Sprintf("task already exists: %s", taskID))
	}
	m.entries[taskID] = &entry{task: t, done: make(chan struct{})}

	m.logger.Debug("task created", zap.String("task_id", taskID))
	return t, nil
}

// Start moves a PENDING task to RUNNING. Any other source state is an
// INVALID_TRANSITION.
func (m *Manager) Start(taskID string) error {
	e, err := m.entry(taskID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.task.State != types.TaskPending {
		return m.invalidTransition(taskID, e.task.State, types.TaskRunning)
	}
	e.task.State = types.TaskRunning
	e.task.UpdatedAt = m.clock.Now()

	m.collector.RecordTaskTransition(types.TaskRunning.String())
	m.logger.Debug("task started", zap.String("task_id", taskID))
	return nil
}

// Complete moves a RUNNING task to COMPLETED with a result. Terminal tasks
// absorb duplicate completion signals as no-ops; the first terminal
// transition wins.
func (m *Manager) Complete(taskID string, result any) error {
	return m.finish(taskID, types.TaskCompleted, func(t *Task) {
		t.Result = result
	})
}

// Fail moves a RUNNING task to FAILED with an error. Terminal tasks absorb
// duplicate failure signals as no-ops.
func (m *Manager) Fail(taskID string, taskErr error) error {
	return m.finish(taskID, types.TaskFailed, func(t *Task) {
		if taskErr != nil {
			t.Error = taskErr.Error()
		}
	})
}

// Cancel moves a PENDING or RUNNING task to CANCELLED. Cancellation is
// cooperative: the task body observes the state change (or the Done channel)
// and stops itself. Cancelling a terminal task is a no-op.
func (m *Manager) Cancel(taskID string) error {
	e, err := m.entry(taskID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.task.State.IsTerminal() {
		return nil
	}
	e.task.State = types.TaskCancelled
	e.task.UpdatedAt = m.clock.Now()
	close(e.done)

	m.collector.RecordTaskTransition(types.TaskCancelled.String())
	m.logger.Info("task cancelled", zap.String("task_id", taskID))
	return nil
}

// finish applies a terminal transition. RUNNING is the only valid source;
// an already-terminal task is a no-op (duplicate delivery tolerance), and
// PENDING is an INVALID_TRANSITION because the task was never started.
func (m *Manager) finish(taskID string, target types.TaskState, apply func(*Task)) error {
	e, err := m.entry(taskID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.task.State.IsTerminal() {
		return nil
	}
	if e.task.State != types.TaskRunning {
		return m.invalidTransition(taskID, e.task.State, target)
	}

	e.task.State = target
	apply(&e.task)
	e.task.UpdatedAt = m.clock.Now()
	close(e.done)

	m.collector.RecordTaskTransition(target.String())
	m.logger.Debug("task finished",
		zap.String("task_id", taskID),
		zap.String("state", target.String()),
	)
	return nil
}

// Get returns a snapshot of the task. Unknown ids fail with NOT_FOUND.
func (m *Manager) Get(taskID string) (Task, error) {
	e, err := m.entry(taskID)
	if err != nil {
		return Task{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task, nil
}

// GetStatus returns the current state of the task. Unknown ids fail with
// NOT_FOUND.
func (m *Manager) GetStatus(taskID string) (types.TaskState, error) {
	t, err := m.Get(taskID)
	if err != nil {
		return "", err
	}
	return t.State, nil
}

// Done returns a channel closed when the task reaches a terminal state.
// Task bodies select on it to observe cooperative cancellation.
func (m *Manager) Done(taskID string) (<-chan struct{}, error) {
	e, err := m.entry(taskID)
	if err != nil {
		return nil, err
	}
	return e.done, nil
}

// List returns snapshots of all tracked tasks.
func (m *Manager) List() []Task {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]Task, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.task)
		e.mu.Unlock()
	}
	return out
}

// StartReaper launches the periodic sweep that fails PENDING and RUNNING
// tasks whose deadline passed. It runs until ctx is cancelled or Stop is
// called. Starting twice is a no-op.
func (m *Manager) StartReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	m.reaperOnce.Do(func() {
		go m.reapLoop(ctx, interval)
	})
}

// Stop halts the reaper. Safe to call repeatedly, concurrently, and without
// a running reaper.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.reaperStop)
	})
}

func (m *Manager) reapLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.reaperStop:
			return
		case <-ticker.C:
			m.reapExpired()
		}
	}
}

func (m *Manager) reapExpired() {
	now := m.clock.Now()
	for _, t := range m.List() {
		if t.State.IsTerminal() || t.Deadline == nil || !now.After(*t.Deadline) {
			continue
		}
		if m.failExpired(t.ID) {
			m.logger.Warn("task reaped",
				zap.String("task_id", t.ID),
				zap.Time("deadline", *t.Deadline),
			)
		}
	}
}

// failExpired force-fails a deadline-expired task from any non-terminal
// state, including PENDING tasks that were never started.
func (m *Manager) failExpired(taskID string) bool {
	e, err := m.entry(taskID)
	if err != nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.task.State.IsTerminal() {
		return false
	}
	e.task.State = types.TaskFailed
	e.task.Error = "task deadline exceeded"
	e.task.UpdatedAt = m.clock.Now()
	close(e.done)

	m.collector.RecordTaskTransition(types.TaskFailed.String())
	return true
}

func (m *Manager) entry(taskID string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[taskID]
	if !ok {
		return nil, types.NewError(types.ErrNotFound,
			fmt.Sprintf("task not found: %s", taskID))
	}
	return e, nil
}

func (m *Manager) invalidTransition(taskID string, from, to types.TaskState) error {
	return types.NewError(types.ErrInvalidTransition,
		fmt.Sprintf("task %s: illegal transition %s -> %s", taskID, from, to))
}
