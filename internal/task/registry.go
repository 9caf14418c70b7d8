// Package task implements the server-side registry for long-running
// background jobs. Each job is tracked as a Task whose status only moves
// forward through pending → running → {completed|failed|cancelled}. The
// registry holds authoritative state in memory, protected by a mutex, and
// mirrors every snapshot into a TaskStore so history survives restarts.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"stockpit/internal/domain"
	"stockpit/internal/metrics"
	"stockpit/internal/store"
)

// ErrAlreadyRunning is returned by Start when a task of the same type has not
// yet reached a terminal state. Callers can extract the running id via
// RunningError.
var ErrAlreadyRunning = errors.New("task of this type is already running")

// RunningError wraps ErrAlreadyRunning with the id of the running task.
type RunningError struct {
	TaskID string
}

func (e *RunningError) Error() string {
	return fmt.Sprintf("task %s of this type is already running", e.TaskID)
}

func (e *RunningError) Unwrap() error { return ErrAlreadyRunning }

// Job is the function a task executes. It reports progress through the
// Reporter and should return promptly once ctx is cancelled. A nil return
// marks the task completed; context.Canceled marks it cancelled; any other
// error marks it failed with the error text as the task's error message.
type Job func(ctx context.Context, rep *Reporter) error

// entry pairs a task snapshot with the cancellation handle for its job.
type entry struct {
	task   domain.Task
	cancel context.CancelFunc
}

// Registry tracks all background tasks for the server process.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*entry
	order []string // insertion order, newest last

	store store.TaskStore // nil disables persistence
	log   *slog.Logger

	wg sync.WaitGroup
}

// NewRegistry creates a Registry. The store may be nil, in which case task
// rows are not persisted.
func NewRegistry(ts store.TaskStore, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		tasks: make(map[string]*entry),
		store: ts,
		log:   log.With("component", "task-registry"),
	}
	if ts != nil {
		r.reconcileInterrupted(context.Background())
	}
	return r
}

// reconcileInterrupted marks persisted non-terminal tasks as failed. Such
// rows are left behind by an unclean shutdown; no process runs their jobs
// any more, so serving them as running would strand clients polling for a
// terminal state.
func (r *Registry) reconcileInterrupted(ctx context.Context) {
	stale, err := r.store.ListUnfinishedTasks(ctx)
	if err != nil {
		r.log.Warn("listing unfinished tasks", "error", err)
		return
	}
	for i := range stale {
		t := &stale[i]
		now := time.Now().UTC()
		t.Status = domain.TaskFailed
		t.ErrorMessage = "interrupted by server restart"
		t.UpdatedAt = now
		t.CompletedAt = &now
		if err := r.store.SaveTask(ctx, t); err != nil {
			r.log.Warn("failing interrupted task", "task_id", t.ID, "error", err)
			continue
		}
		r.log.Info("failed interrupted task", "task_id", t.ID, "task_type", t.Type)
	}
}

// Start creates a new task of the given type and runs job on its own
// goroutine. It returns *RunningError if the latest task of this type is
// still in a non-terminal state: the server never runs two jobs of the same
// type concurrently, which is what makes "latest task of type" a reliable
// re-attach point for clients.
func (r *Registry) Start(taskType domain.TaskType, message string, job Job) (*domain.Task, error) {
	r.mu.Lock()

	if running := r.latestLocked(taskType); running != nil && !running.Status.Terminal() {
		id := running.ID
		r.mu.Unlock()
		return nil, &RunningError{TaskID: id}
	}

	now := time.Now().UTC()
	jobCtx, cancel := context.WithCancel(context.Background())
	e := &entry{
		task: domain.Task{
			ID:        uuid.New().String(),
			Type:      taskType,
			Status:    domain.TaskPending,
			Message:   message,
			StartedAt: now,
			UpdatedAt: now,
		},
		cancel: cancel,
	}
	r.tasks[e.task.ID] = e
	r.order = append(r.order, e.task.ID)
	snapshot := e.task
	r.mu.Unlock()

	r.persist(&snapshot)
	metrics.RecordTaskStarted(string(taskType))
	r.log.Info("task started", "task_id", snapshot.ID, "task_type", taskType)

	r.wg.Add(1)
	go r.run(jobCtx, snapshot.ID, job)

	return &snapshot, nil
}

// run executes the job and finalizes the task's terminal state.
func (r *Registry) run(ctx context.Context, id string, job Job) {
	defer r.wg.Done()

	r.transition(id, domain.TaskRunning, "")

	rep := &Reporter{registry: r, taskID: id}
	err := job(ctx, rep)

	switch {
	case err == nil:
		r.transition(id, domain.TaskCompleted, "")
	case errors.Is(err, context.Canceled):
		r.transition(id, domain.TaskCancelled, "")
	default:
		r.transition(id, domain.TaskFailed, err.Error())
	}
}

// transition moves a task to the given status, enforcing forward-only
// transitions. Attempts to leave a terminal state are dropped.
func (r *Registry) transition(id string, status domain.TaskStatus, errMsg string) {
	r.mu.Lock()
	e, ok := r.tasks[id]
	if !ok || e.task.Status.Terminal() {
		r.mu.Unlock()
		return
	}
	e.task.Status = status
	e.task.UpdatedAt = time.Now().UTC()
	if errMsg != "" {
		e.task.ErrorMessage = errMsg
	}
	if status.Terminal() {
		done := e.task.UpdatedAt
		e.task.CompletedAt = &done
		e.task.CurrentStockName = ""
	}
	snapshot := e.task
	r.mu.Unlock()

	r.persist(&snapshot)
	if status.Terminal() {
		metrics.RecordTaskFinished(string(snapshot.Type), string(status), snapshot.UpdatedAt.Sub(snapshot.StartedAt))
		r.log.Info("task finished",
			"task_id", id,
			"status", status,
			"success", snapshot.SuccessCount,
			"failed", snapshot.FailedCount,
		)
	}
}

// Snapshot returns a copy of the task with the given id.
func (r *Registry) Snapshot(id string) (*domain.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tasks[id]
	if !ok {
		return nil, false
	}
	snapshot := e.task
	return &snapshot, true
}

// Latest returns a copy of the most recently started task of the given type.
func (r *Registry) Latest(taskType domain.TaskType) (*domain.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.latestLocked(taskType)
	if t == nil {
		return nil, false
	}
	snapshot := *t
	return &snapshot, true
}

func (r *Registry) latestLocked(taskType domain.TaskType) *domain.Task {
	for i := len(r.order) - 1; i >= 0; i-- {
		e := r.tasks[r.order[i]]
		if e.task.Type == taskType {
			return &e.task
		}
	}
	return nil
}

// Cancel requests cancellation of a running task. Cancellation is advisory:
// the job observes its context at the next item boundary, so the task stays
// `running` until the job actually stops. The returned message describes the
// outcome either way.
func (r *Registry) Cancel(id string) (bool, string) {
	r.mu.Lock()
	e, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		return false, "task not found"
	}
	if e.task.Status.Terminal() {
		status := e.task.Status
		r.mu.Unlock()
		return false, fmt.Sprintf("task already %s", status)
	}
	cancel := e.cancel
	r.mu.Unlock()

	cancel()
	r.log.Info("task cancellation requested", "task_id", id)
	return true, "cancellation requested"
}

// CancelAll requests cancellation of every non-terminal task. Used during
// shutdown so Wait does not block on long jobs.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	var cancels []context.CancelFunc
	for _, e := range r.tasks {
		if !e.task.Status.Terminal() {
			cancels = append(cancels, e.cancel)
		}
	}
	r.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// Wait blocks until all running jobs have finished. Used during shutdown.
func (r *Registry) Wait() {
	r.wg.Wait()
}

func (r *Registry) persist(task *domain.Task) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveTask(context.Background(), task); err != nil {
		r.log.Warn("persisting task snapshot", "task_id", task.ID, "error", err)
	}
}

// appendLog writes a per-item log entry through the store, if configured.
func (r *Registry) appendLog(entry *domain.TaskLogEntry) {
	if r.store == nil {
		return
	}
	if err := r.store.AppendTaskLog(context.Background(), entry); err != nil {
		r.log.Warn("appending task log", "task_id", entry.TaskID, "error", err)
	}
}
