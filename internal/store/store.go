// Package store defines storage interfaces for persisting and retrieving
// domain objects such as stocks, tags, candles, signals, and task records.
package store

import (
	"context"
	"time"

	"stockpit/internal/domain"
)

// StockStore persists and retrieves tracked stocks and their tags.
type StockStore interface {
	// SaveStock inserts a new stock into storage.
	SaveStock(ctx context.Context, stock *domain.Stock) error

	// GetStock retrieves a single stock by its code.
	GetStock(ctx context.Context, code string) (*domain.Stock, error)

	// ListStocks returns all tracked stocks with their tags, ordered by code.
	ListStocks(ctx context.Context) ([]domain.Stock, error)

	// DeleteStock removes a stock and its tags.
	DeleteStock(ctx context.Context, code string) error

	// AddTag attaches a tag to a stock. Adding an existing tag is a no-op.
	AddTag(ctx context.Context, code, tag string) error

	// RemoveTag detaches a tag from a stock.
	RemoveTag(ctx context.Context, code, tag string) error
}

// CandleStore persists and retrieves daily OHLCV candle data.
type CandleStore interface {
	// WriteCandles persists a batch of candles to storage.
	WriteCandles(ctx context.Context, candles []domain.Candle) error

	// ReadCandles returns candles for the given code within [start, end].
	ReadCandles(ctx context.Context, code string, start, end time.Time) ([]domain.Candle, error)

	// ListCodes returns all distinct codes that have candle data.
	ListCodes(ctx context.Context) ([]string, error)
}

// SignalStore persists and retrieves trading signals.
type SignalStore interface {
	// SaveSignals inserts a batch of signals into storage.
	SaveSignals(ctx context.Context, signals []domain.Signal) error

	// ListSignals returns the most recent signals for a strategy, up to limit.
	// An empty strategy matches all strategies.
	ListSignals(ctx context.Context, strategy string, limit int) ([]domain.Signal, error)

	// DeleteSignals removes all signals produced by a strategy, used when a
	// full recomputation replaces previous results.
	DeleteSignals(ctx context.Context, strategy string) error

	// LatestSignalTime returns when the strategy last produced a signal for
	// the code, or the zero time if it never has.
	LatestSignalTime(ctx context.Context, strategy, code string) (time.Time, error)
}

// TaskStore persists task snapshots and per-item task logs so that task
// history survives a server restart.
type TaskStore interface {
	// SaveTask inserts or updates a task snapshot.
	SaveTask(ctx context.Context, task *domain.Task) error

	// GetTask retrieves a task snapshot by id.
	GetTask(ctx context.Context, id string) (*domain.Task, error)

	// LatestTask returns the most recently started task of the given type,
	// or nil if none exists.
	LatestTask(ctx context.Context, taskType domain.TaskType) (*domain.Task, error)

	// ListUnfinishedTasks returns all tasks whose status is not terminal,
	// oldest first.
	ListUnfinishedTasks(ctx context.Context) ([]domain.Task, error)

	// AppendTaskLog records the outcome for one processed item.
	AppendTaskLog(ctx context.Context, entry *domain.TaskLogEntry) error

	// ListTaskLogs returns all log entries for a task in insertion order.
	ListTaskLogs(ctx context.Context, taskID string) ([]domain.TaskLogEntry, error)
}
