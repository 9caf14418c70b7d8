package taskwatch

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"
)

// CancelledText is the fixed notice shown when a task is cancelled,
// preserved from the original Korean UI.
const CancelledText = "작업이 취소되었습니다"

const (
	defaultPollInterval = 1500 * time.Millisecond
	defaultSettleHold   = 5 * time.Second
)

// State is where the watcher sits in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateWatching
	StateSettling
)

func (s State) String() string {
	switch s {
	case StateWatching:
		return "watching"
	case StateSettling:
		return "settling"
	default:
		return "idle"
	}
}

// NoticeLevel classifies a notification for display.
type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeSuccess
	NoticeError
)

// Notice is a user-visible notification.
type Notice struct {
	Level NoticeLevel
	Text  string
}

// Options configures a Watcher. All callbacks are optional and are invoked
// from the watching goroutine.
type Options struct {
	// PollInterval is the fixed time between progress polls. Default 1.5s.
	PollInterval time.Duration

	// SettleHold is how long a terminal snapshot stays visible before the
	// watcher clears it and returns to idle. Default 5s.
	SettleHold time.Duration

	// OnUpdate receives every successfully polled snapshot.
	OnUpdate func(Task)

	// OnNotice receives user-visible notifications.
	OnNotice func(Notice)

	// OnSettled fires after the settle hold, when dependent data (signal
	// lists, history logs) should be refetched.
	OnSettled func()
}

// Watcher drives the poll loop and the idle → watching → settling → idle
// lifecycle for one task at a time. All methods are safe for concurrent use;
// Watch, Resume, and Launch block until the watched task settles or ctx is
// cancelled.
type Watcher struct {
	client *Client
	opts   Options

	mu     sync.Mutex
	state  State
	taskID string
	last   *Task
}

// NewWatcher creates a Watcher over client.
func NewWatcher(client *Client, opts Options) *Watcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.SettleHold <= 0 {
		opts.SettleHold = defaultSettleHold
	}
	return &Watcher{
		client: client,
		opts:   opts,
	}
}

// State returns the current lifecycle state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// TaskID returns the id of the task being watched, empty when idle.
func (w *Watcher) TaskID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.taskID
}

// Last returns the most recent snapshot, or nil when idle.
func (w *Watcher) Last() *Task {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return nil
	}
	snapshot := *w.last
	return &snapshot
}

// Launch starts a job and watches it to completion. Failures become
// notices: a missing token produces a "login required" notice without any
// network call, a 401 a "session expired" notice, and anything else a
// generic failure notice. A 409 adopts the already-running task instead of
// failing.
func (w *Watcher) Launch(ctx context.Context, path string, query url.Values) error {
	taskID, message, err := w.client.Launch(ctx, path, query)
	switch {
	case errors.Is(err, ErrNoToken):
		w.notify(Notice{Level: NoticeError, Text: "login required"})
		return err
	case errors.Is(err, ErrAuthExpired):
		w.notify(Notice{Level: NoticeError, Text: "session expired"})
		return err
	case errors.Is(err, ErrAlreadyRunning):
		if taskID == "" {
			w.notify(Notice{Level: NoticeError, Text: "failed to start task"})
			return err
		}
		w.notify(Notice{Level: NoticeInfo, Text: "already running, re-attaching"})
		return w.Watch(ctx, taskID)
	case err != nil:
		w.notify(Notice{Level: NoticeError, Text: "failed to start task"})
		return err
	}

	if message == "" {
		message = "task started"
	}
	w.notify(Notice{Level: NoticeSuccess, Text: message})
	return w.Watch(ctx, taskID)
}

// Resume probes the latest task of the given type and re-attaches iff it is
// still running, reporting whether it did. A missing or already-terminal
// latest task leaves the watcher idle with no poll timer.
func (w *Watcher) Resume(ctx context.Context, taskType string) (bool, error) {
	snap, err := w.client.Latest(ctx, taskType)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if snap.Status != StatusRunning {
		return false, nil
	}
	return true, w.Watch(ctx, snap.ID)
}

// Watch polls the task at the configured interval until it reaches a
// terminal state, then runs the settle window and returns. Poll errors are
// swallowed; the next tick simply tries again. Cancelling ctx stops the loop
// immediately and resets the watcher.
func (w *Watcher) Watch(ctx context.Context, taskID string) error {
	w.mu.Lock()
	w.state = StateWatching
	w.taskID = taskID
	w.last = nil
	w.mu.Unlock()

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		snap, err := w.client.Task(ctx, taskID)
		if err == nil {
			w.observe(snap)
			if snap.Status.Terminal() {
				return w.settle(ctx, snap)
			}
		}
		// Tick-level errors are transient by assumption: no backoff, no
		// notification, just the next tick.

		select {
		case <-ctx.Done():
			w.reset()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cancel requests cancellation of the watched task. The server's answer is
// surfaced as a notice either way; the watcher never flips the status
// locally — the next poll carries the truth.
func (w *Watcher) Cancel(ctx context.Context) error {
	w.mu.Lock()
	taskID := w.taskID
	w.mu.Unlock()
	if taskID == "" {
		return errors.New("no task being watched")
	}

	success, message, err := w.client.Cancel(ctx, taskID)
	if err != nil {
		w.notify(Notice{Level: NoticeError, Text: "cancel request failed"})
		return err
	}
	if success {
		w.notify(Notice{Level: NoticeInfo, Text: CancelledText})
	} else {
		w.notify(Notice{Level: NoticeInfo, Text: message})
	}
	return nil
}

func (w *Watcher) observe(snap *Task) {
	w.mu.Lock()
	w.last = snap
	w.mu.Unlock()
	if w.opts.OnUpdate != nil {
		w.opts.OnUpdate(*snap)
	}
}

// settle emits the single outcome notice for the terminal snapshot, holds
// the final frame for the settle window, then clears the watched task and
// fires the dependent refetch.
func (w *Watcher) settle(ctx context.Context, snap *Task) error {
	w.mu.Lock()
	w.state = StateSettling
	w.mu.Unlock()

	w.notify(outcomeNotice(snap))

	select {
	case <-ctx.Done():
		w.reset()
		return ctx.Err()
	case <-time.After(w.opts.SettleHold):
	}

	w.reset()
	if w.opts.OnSettled != nil {
		w.opts.OnSettled()
	}
	return nil
}

func (w *Watcher) reset() {
	w.mu.Lock()
	w.state = StateIdle
	w.taskID = ""
	w.last = nil
	w.mu.Unlock()
}

func (w *Watcher) notify(n Notice) {
	if w.opts.OnNotice != nil {
		w.opts.OnNotice(n)
	}
}

func outcomeNotice(snap *Task) Notice {
	switch snap.Status {
	case StatusCompleted:
		text := snap.Message
		if text == "" {
			text = "task completed"
		}
		return Notice{Level: NoticeSuccess, Text: text}
	case StatusFailed:
		text := snap.ErrorMessage
		if text == "" {
			text = "task failed"
		}
		return Notice{Level: NoticeError, Text: text}
	default:
		return Notice{Level: NoticeInfo, Text: CancelledText}
	}
}
