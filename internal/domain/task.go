package domain

import (
	"math"
	"time"
)

// TaskStatus is the lifecycle state of a background task. Transitions only
// move forward: pending → running → one of the terminal states.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether no further status transitions can occur.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// TaskType discriminates the kinds of background jobs the server runs.
type TaskType string

const (
	TaskHistoryCollection TaskType = "history_collection"
	TaskSignalAnalysis    TaskType = "signal_analysis"
	TaskMASignalAnalysis  TaskType = "ma_signal_analysis"
)

// Task is a snapshot of a background job. The server mutates it as the job
// executes; clients only read snapshots and may request cancellation.
type Task struct {
	ID               string     `json:"task_id"`
	Type             TaskType   `json:"task_type"`
	Status           TaskStatus `json:"status"`
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

// Percent returns progress as a whole percentage in [0, 100]. A zero
// TotalItems yields 0 rather than dividing by zero.
func (t *Task) Percent() int {
	if t.TotalItems <= 0 {
		return 0
	}
	p := int(math.Round(100 * float64(t.CurrentItem) / float64(t.TotalItems)))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// TaskLogEntry records the outcome for a single item processed by a task.
type TaskLogEntry struct {
	TaskID    string    `json:"task_id"`
	Code      string    `json:"code"`
	StockName string    `json:"stock_name"`
	OK        bool      `json:"ok"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
