// Package taskwatch is a client for the stockpit task API. It launches
// background jobs, polls their progress at a fixed interval, re-attaches to
// jobs that were already running when the client starts, requests
// cancellation, and maps terminal states to user-visible notifications with
// a settle window before the progress display is cleared.
package taskwatch

import "time"

// Status is the lifecycle state of a task as reported by the server.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the task can no longer change state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task is a progress snapshot. The client treats it as read-only: all state
// changes happen on the server and arrive through the next poll.
type Task struct {
	ID               string     `json:"task_id"`
	Type             string     `json:"task_type"`
	Status           Status     `json:"status"`
	TotalItems       int        `json:"total_items"`
	CurrentItem      int        `json:"current_item"`
	CurrentStockName string     `json:"current_stock_name,omitempty"`
	SuccessCount     int        `json:"success_count"`
	FailedCount      int        `json:"failed_count"`
	Message          string     `json:"message,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// Percent returns progress as a whole percentage in [0, 100]. A task that
// has not reported a total yet shows 0.
func (t *Task) Percent() int {
	if t.TotalItems <= 0 {
		return 0
	}
	p := (200*t.CurrentItem + t.TotalItems) / (2 * t.TotalItems)
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// LogEntry is one per-item outcome record from the task log endpoint.
type LogEntry struct {
	TaskID    string    `json:"task_id"`
	Code      string    `json:"code"`
	StockName string    `json:"stock_name"`
	OK        bool      `json:"ok"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
