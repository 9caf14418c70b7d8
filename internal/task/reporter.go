package task

import (
	"time"

	"stockpit/internal/domain"
	"stockpit/internal/metrics"
)

// Reporter is the handle a job uses to publish progress into the registry.
// All methods are safe for concurrent use by job workers.
type Reporter struct {
	registry *Registry
	taskID   string
}

// SetTotal records how many items the job will process.
func (p *Reporter) SetTotal(n int) {
	p.update(func(t *domain.Task) {
		t.TotalItems = n
	})
}

// Working sets the human-readable label for the item currently being
// processed, without advancing the counter.
func (p *Reporter) Working(stockName string) {
	p.update(func(t *domain.Task) {
		t.CurrentStockName = stockName
	})
}

// Success records one successfully processed item and advances progress.
func (p *Reporter) Success(code, stockName string) {
	snap := p.update(func(t *domain.Task) {
		t.CurrentItem++
		t.SuccessCount++
		t.CurrentStockName = stockName
	})
	if snap != nil {
		metrics.RecordTaskItem(string(snap.Type), "success")
	}
	p.registry.appendLog(&domain.TaskLogEntry{
		TaskID:    p.taskID,
		Code:      code,
		StockName: stockName,
		OK:        true,
	})
}

// Failure records one failed item and advances progress. The message is kept
// in the per-item task log, not on the task itself.
func (p *Reporter) Failure(code, stockName, message string) {
	snap := p.update(func(t *domain.Task) {
		t.CurrentItem++
		t.FailedCount++
		t.CurrentStockName = stockName
	})
	if snap != nil {
		metrics.RecordTaskItem(string(snap.Type), "failed")
	}
	p.registry.appendLog(&domain.TaskLogEntry{
		TaskID:    p.taskID,
		Code:      code,
		StockName: stockName,
		OK:        false,
		Message:   message,
	})
}

// Message sets the task's status text.
func (p *Reporter) Message(msg string) {
	p.update(func(t *domain.Task) {
		t.Message = msg
	})
}

// update applies fn to the task under the registry lock, persists the result,
// and returns the new snapshot (nil if the task is gone or terminal).
// current_item is monotonically non-decreasing while running: regressions are
// clamped back to the previous value.
func (p *Reporter) update(fn func(*domain.Task)) *domain.Task {
	r := p.registry

	r.mu.Lock()
	e, ok := r.tasks[p.taskID]
	if !ok || e.task.Status.Terminal() {
		r.mu.Unlock()
		return nil
	}
	prevItem := e.task.CurrentItem
	fn(&e.task)
	if e.task.CurrentItem < prevItem {
		e.task.CurrentItem = prevItem
	}
	e.task.UpdatedAt = time.Now().UTC()
	snapshot := e.task
	r.mu.Unlock()

	r.persist(&snapshot)
	return &snapshot
}
