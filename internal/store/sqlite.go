package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"stockpit/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ StockStore = (*SQLiteStore)(nil)
var _ SignalStore = (*SQLiteStore)(nil)
var _ TaskStore = (*SQLiteStore)(nil)

// SQLiteStore implements StockStore, SignalStore, and TaskStore backed by a
// SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS stocks (
	code       TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	market     TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS stock_tags (
	code TEXT NOT NULL REFERENCES stocks(code) ON DELETE CASCADE,
	tag  TEXT NOT NULL,
	PRIMARY KEY (code, tag)
);
CREATE TABLE IF NOT EXISTS signals (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy   TEXT NOT NULL,
	code       TEXT NOT NULL,
	kind       TEXT NOT NULL,
	strength   REAL NOT NULL,
	metadata   TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_strategy ON signals(strategy, created_at DESC);
CREATE TABLE IF NOT EXISTS tasks (
	id                 TEXT PRIMARY KEY,
	task_type          TEXT NOT NULL,
	status             TEXT NOT NULL,
	total_items        INTEGER NOT NULL DEFAULT 0,
	current_item       INTEGER NOT NULL DEFAULT 0,
	current_stock_name TEXT NOT NULL DEFAULT '',
	success_count      INTEGER NOT NULL DEFAULT 0,
	failed_count       INTEGER NOT NULL DEFAULT 0,
	message            TEXT NOT NULL DEFAULT '',
	error_message      TEXT NOT NULL DEFAULT '',
	started_at         TIMESTAMP NOT NULL,
	updated_at         TIMESTAMP NOT NULL,
	completed_at       TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tasks_type ON tasks(task_type, started_at DESC);
CREATE TABLE IF NOT EXISTS task_logs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id    TEXT NOT NULL,
	code       TEXT NOT NULL,
	stock_name TEXT NOT NULL DEFAULT '',
	ok         INTEGER NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_logs_task ON task_logs(task_id, id);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// StockStore implementation
// ---------------------------------------------------------------------------

// SaveStock inserts a new stock into the database.
func (s *SQLiteStore) SaveStock(ctx context.Context, stock *domain.Stock) error {
	if stock.CreatedAt.IsZero() {
		stock.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stocks (code, name, market, created_at) VALUES (?, ?, ?, ?)`,
		stock.Code, stock.Name, string(stock.Market), stock.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting stock %s: %w", stock.Code, err)
	}
	for _, tag := range stock.Tags {
		if err := s.AddTag(ctx, stock.Code, tag); err != nil {
			return err
		}
	}
	return nil
}

// GetStock retrieves a single stock by its code, or nil if not found.
func (s *SQLiteStore) GetStock(ctx context.Context, code string) (*domain.Stock, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT code, name, market, created_at FROM stocks WHERE code = ?`, code)

	var stock domain.Stock
	var market string
	if err := row.Scan(&stock.Code, &stock.Name, &market, &stock.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying stock %s: %w", code, err)
	}
	stock.Market = domain.Market(market)

	tags, err := s.stockTags(ctx, code)
	if err != nil {
		return nil, err
	}
	stock.Tags = tags
	return &stock, nil
}

// ListStocks returns all tracked stocks with their tags, ordered by code.
func (s *SQLiteStore) ListStocks(ctx context.Context) ([]domain.Stock, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code, name, market, created_at FROM stocks ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("listing stocks: %w", err)
	}
	defer rows.Close()

	var stocks []domain.Stock
	for rows.Next() {
		var stock domain.Stock
		var market string
		if err := rows.Scan(&stock.Code, &stock.Name, &market, &stock.CreatedAt); err != nil {
			return nil, err
		}
		stock.Market = domain.Market(market)
		stocks = append(stocks, stock)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range stocks {
		tags, err := s.stockTags(ctx, stocks[i].Code)
		if err != nil {
			return nil, err
		}
		stocks[i].Tags = tags
	}
	return stocks, nil
}

// DeleteStock removes a stock; its tags go with it via ON DELETE CASCADE.
func (s *SQLiteStore) DeleteStock(ctx context.Context, code string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM stocks WHERE code = ?`, code)
	if err != nil {
		return fmt.Errorf("deleting stock %s: %w", code, err)
	}
	return nil
}

// AddTag attaches a tag to a stock. Adding an existing tag is a no-op.
func (s *SQLiteStore) AddTag(ctx context.Context, code, tag string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO stock_tags (code, tag) VALUES (?, ?)`, code, tag)
	if err != nil {
		return fmt.Errorf("tagging stock %s: %w", code, err)
	}
	return nil
}

// RemoveTag detaches a tag from a stock.
func (s *SQLiteStore) RemoveTag(ctx context.Context, code, tag string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM stock_tags WHERE code = ? AND tag = ?`, code, tag)
	if err != nil {
		return fmt.Errorf("untagging stock %s: %w", code, err)
	}
	return nil
}

func (s *SQLiteStore) stockTags(ctx context.Context, code string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag FROM stock_tags WHERE code = ? ORDER BY tag`, code)
	if err != nil {
		return nil, fmt.Errorf("listing tags for %s: %w", code, err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// ---------------------------------------------------------------------------
// SignalStore implementation
// ---------------------------------------------------------------------------

// SaveSignals inserts a batch of signals in a single transaction.
func (s *SQLiteStore) SaveSignals(ctx context.Context, signals []domain.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO signals (strategy, code, kind, strength, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range signals {
		sig := &signals[i]
		if sig.CreatedAt.IsZero() {
			sig.CreatedAt = time.Now().UTC()
		}
		var meta []byte
		if sig.Metadata != nil {
			meta, err = json.Marshal(sig.Metadata)
			if err != nil {
				return fmt.Errorf("encoding signal metadata: %w", err)
			}
		}
		if _, err := stmt.ExecContext(ctx,
			sig.Strategy, sig.Code, string(sig.Kind), sig.Strength, string(meta), sig.CreatedAt,
		); err != nil {
			return fmt.Errorf("inserting signal for %s: %w", sig.Code, err)
		}
	}
	return tx.Commit()
}

// ListSignals returns the most recent signals for a strategy, up to limit.
func (s *SQLiteStore) ListSignals(ctx context.Context, strategy string, limit int) ([]domain.Signal, error) {
	query := `SELECT id, strategy, code, kind, strength, metadata, created_at FROM signals`
	args := []any{}
	if strategy != "" {
		query += ` WHERE strategy = ?`
		args = append(args, strategy)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing signals: %w", err)
	}
	defer rows.Close()

	var signals []domain.Signal
	for rows.Next() {
		var sig domain.Signal
		var kind, meta string
		if err := rows.Scan(&sig.ID, &sig.Strategy, &sig.Code, &kind, &sig.Strength, &meta, &sig.CreatedAt); err != nil {
			return nil, err
		}
		sig.Kind = domain.SignalKind(kind)
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &sig.Metadata); err != nil {
				return nil, fmt.Errorf("decoding signal metadata: %w", err)
			}
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// DeleteSignals removes all signals produced by a strategy.
func (s *SQLiteStore) DeleteSignals(ctx context.Context, strategy string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM signals WHERE strategy = ?`, strategy)
	if err != nil {
		return fmt.Errorf("deleting signals for %s: %w", strategy, err)
	}
	return nil
}

// LatestSignalTime returns when the strategy last produced a signal for the
// code, or the zero time if it never has.
func (s *SQLiteStore) LatestSignalTime(ctx context.Context, strategy, code string) (time.Time, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT created_at FROM signals WHERE strategy = ? AND code = ?
		 ORDER BY created_at DESC LIMIT 1`, strategy, code)
	var ts time.Time
	if err := row.Scan(&ts); err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("querying latest signal time: %w", err)
	}
	return ts, nil
}

// ---------------------------------------------------------------------------
// TaskStore implementation
// ---------------------------------------------------------------------------

// SaveTask inserts or updates a task snapshot.
func (s *SQLiteStore) SaveTask(ctx context.Context, task *domain.Task) error {
	var completed any
	if task.CompletedAt != nil {
		completed = *task.CompletedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, task_type, status, total_items, current_item,
			current_stock_name, success_count, failed_count, message,
			error_message, started_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			total_items = excluded.total_items,
			current_item = excluded.current_item,
			current_stock_name = excluded.current_stock_name,
			success_count = excluded.success_count,
			failed_count = excluded.failed_count,
			message = excluded.message,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at`,
		task.ID, string(task.Type), string(task.Status), task.TotalItems, task.CurrentItem,
		task.CurrentStockName, task.SuccessCount, task.FailedCount, task.Message,
		task.ErrorMessage, task.StartedAt, task.UpdatedAt, completed,
	)
	if err != nil {
		return fmt.Errorf("saving task %s: %w", task.ID, err)
	}
	return nil
}

// GetTask retrieves a task snapshot by id, or nil if not found.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_type, status, total_items, current_item,
			current_stock_name, success_count, failed_count, message,
			error_message, started_at, updated_at, completed_at
		FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// LatestTask returns the most recently started task of the given type, or nil.
func (s *SQLiteStore) LatestTask(ctx context.Context, taskType domain.TaskType) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_type, status, total_items, current_item,
			current_stock_name, success_count, failed_count, message,
			error_message, started_at, updated_at, completed_at
		FROM tasks WHERE task_type = ? ORDER BY started_at DESC LIMIT 1`, string(taskType))
	return scanTask(row)
}

// ListUnfinishedTasks returns tasks left in a non-terminal state, oldest
// first. The registry fails these over at startup since no process is
// running their jobs any more.
func (s *SQLiteStore) ListUnfinishedTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_type, status, total_items, current_item,
			current_stock_name, success_count, failed_count, message,
			error_message, started_at, updated_at, completed_at
		FROM tasks WHERE status IN (?, ?) ORDER BY started_at`,
		string(domain.TaskPending), string(domain.TaskRunning))
	if err != nil {
		return nil, fmt.Errorf("listing unfinished tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// taskScanner abstracts sql.Row and sql.Rows for scanTask.
type taskScanner interface {
	Scan(dest ...any) error
}

func scanTask(row taskScanner) (*domain.Task, error) {
	var task domain.Task
	var taskType, status string
	var completed sql.NullTime
	err := row.Scan(&task.ID, &taskType, &status, &task.TotalItems, &task.CurrentItem,
		&task.CurrentStockName, &task.SuccessCount, &task.FailedCount, &task.Message,
		&task.ErrorMessage, &task.StartedAt, &task.UpdatedAt, &completed)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning task: %w", err)
	}
	task.Type = domain.TaskType(taskType)
	task.Status = domain.TaskStatus(status)
	if completed.Valid {
		t := completed.Time
		task.CompletedAt = &t
	}
	return &task, nil
}

// AppendTaskLog records the outcome for one processed item.
func (s *SQLiteStore) AppendTaskLog(ctx context.Context, entry *domain.TaskLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_logs (task_id, code, stock_name, ok, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.TaskID, entry.Code, entry.StockName, entry.OK, entry.Message, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending task log for %s: %w", entry.TaskID, err)
	}
	return nil
}

// ListTaskLogs returns all log entries for a task in insertion order.
func (s *SQLiteStore) ListTaskLogs(ctx context.Context, taskID string) ([]domain.TaskLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, code, stock_name, ok, message, created_at
		 FROM task_logs WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("listing task logs: %w", err)
	}
	defer rows.Close()

	var entries []domain.TaskLogEntry
	for rows.Next() {
		var e domain.TaskLogEntry
		if err := rows.Scan(&e.TaskID, &e.Code, &e.StockName, &e.OK, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
