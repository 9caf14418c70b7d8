package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"stockpit/internal/domain"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStockRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	stock := &domain.Stock{
		Code:   "005930",
		Name:   "Samsung Electronics",
		Market: domain.MarketKR,
		Tags:   []string{"semis", "watch"},
	}
	if err := s.SaveStock(ctx, stock); err != nil {
		t.Fatalf("SaveStock: %v", err)
	}

	got, err := s.GetStock(ctx, "005930")
	if err != nil {
		t.Fatalf("GetStock: %v", err)
	}
	if got == nil {
		t.Fatal("GetStock returned nil for existing stock")
	}
	if got.Name != "Samsung Electronics" {
		t.Errorf("Name = %q, want %q", got.Name, "Samsung Electronics")
	}
	if len(got.Tags) != 2 || got.Tags[0] != "semis" || got.Tags[1] != "watch" {
		t.Errorf("Tags = %v, want [semis watch]", got.Tags)
	}

	// Unknown code returns nil, not an error.
	missing, err := s.GetStock(ctx, "999999")
	if err != nil {
		t.Fatalf("GetStock(missing): %v", err)
	}
	if missing != nil {
		t.Errorf("GetStock(missing) = %+v, want nil", missing)
	}
}

func TestSQLiteStockTags(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	if err := s.SaveStock(ctx, &domain.Stock{Code: "AAPL", Name: "Apple", Market: domain.MarketUS}); err != nil {
		t.Fatal(err)
	}

	if err := s.AddTag(ctx, "AAPL", "tech"); err != nil {
		t.Fatal(err)
	}
	// Re-adding the same tag is a no-op.
	if err := s.AddTag(ctx, "AAPL", "tech"); err != nil {
		t.Fatalf("AddTag twice: %v", err)
	}

	got, err := s.GetStock(ctx, "AAPL")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Tags) != 1 {
		t.Fatalf("Tags = %v, want exactly [tech]", got.Tags)
	}

	if err := s.RemoveTag(ctx, "AAPL", "tech"); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetStock(ctx, "AAPL")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Tags) != 0 {
		t.Errorf("Tags = %v after removal, want empty", got.Tags)
	}
}

func TestSQLiteDeleteStockCascadesTags(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	if err := s.SaveStock(ctx, &domain.Stock{Code: "TSLA", Name: "Tesla", Market: domain.MarketUS, Tags: []string{"ev"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteStock(ctx, "TSLA"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetStock(ctx, "TSLA")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("stock still present after delete: %+v", got)
	}
}

func TestSQLiteSignals(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	signals := []domain.Signal{
		{Strategy: "sma-cross", Code: "AAPL", Kind: domain.SignalBuy, Strength: 0.8, CreatedAt: base},
		{Strategy: "sma-cross", Code: "TSLA", Kind: domain.SignalSell, Strength: 0.6, CreatedAt: base.Add(time.Hour)},
		{Strategy: "trendline", Code: "AAPL", Kind: domain.SignalBuy, Strength: 0.9,
			Metadata: map[string]string{"slope": "0.42"}, CreatedAt: base.Add(2 * time.Hour)},
	}
	if err := s.SaveSignals(ctx, signals); err != nil {
		t.Fatalf("SaveSignals: %v", err)
	}

	got, err := s.ListSignals(ctx, "sma-cross", 10)
	if err != nil {
		t.Fatalf("ListSignals: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(signals) = %d, want 2", len(got))
	}
	// Most recent first.
	if got[0].Code != "TSLA" {
		t.Errorf("signals[0].Code = %q, want TSLA (newest first)", got[0].Code)
	}

	all, err := s.ListSignals(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all signals) = %d, want 3", len(all))
	}
	if all[0].Metadata["slope"] != "0.42" {
		t.Errorf("metadata round-trip failed: %v", all[0].Metadata)
	}

	if err := s.DeleteSignals(ctx, "sma-cross"); err != nil {
		t.Fatal(err)
	}
	remaining, err := s.ListSignals(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].Strategy != "trendline" {
		t.Errorf("remaining = %+v, want only trendline", remaining)
	}
}

func TestSQLiteTaskRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	started := time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)
	task := &domain.Task{
		ID:         "t1",
		Type:       domain.TaskHistoryCollection,
		Status:     domain.TaskRunning,
		TotalItems: 100,
		StartedAt:  started,
		UpdatedAt:  started,
	}
	if err := s.SaveTask(ctx, task); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}

	// Progress update overwrites the row.
	task.CurrentItem = 40
	task.SuccessCount = 38
	task.FailedCount = 2
	task.CurrentStockName = "Apple"
	task.UpdatedAt = started.Add(time.Minute)
	if err := s.SaveTask(ctx, task); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got == nil {
		t.Fatal("GetTask returned nil")
	}
	if got.CurrentItem != 40 || got.SuccessCount != 38 || got.FailedCount != 2 {
		t.Errorf("counters = %d/%d/%d, want 40/38/2", got.CurrentItem, got.SuccessCount, got.FailedCount)
	}
	if got.CompletedAt != nil {
		t.Errorf("CompletedAt = %v, want nil while running", got.CompletedAt)
	}

	// Terminal update persists completed_at.
	done := started.Add(2 * time.Minute)
	task.Status = domain.TaskCompleted
	task.CurrentItem = 100
	task.CompletedAt = &done
	if err := s.SaveTask(ctx, task); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.TaskCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, done)
	}
}

func TestSQLiteLatestTask(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	base := time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "new"} {
		task := &domain.Task{
			ID:        id,
			Type:      domain.TaskSignalAnalysis,
			Status:    domain.TaskCompleted,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			UpdatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := s.SaveTask(ctx, task); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.LatestTask(ctx, domain.TaskSignalAnalysis)
	if err != nil {
		t.Fatalf("LatestTask: %v", err)
	}
	if got == nil || got.ID != "new" {
		t.Errorf("LatestTask = %+v, want id=new", got)
	}

	none, err := s.LatestTask(ctx, domain.TaskMASignalAnalysis)
	if err != nil {
		t.Fatal(err)
	}
	if none != nil {
		t.Errorf("LatestTask(ma) = %+v, want nil", none)
	}
}

func TestSQLiteListUnfinishedTasks(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	base := time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)
	rows := []struct {
		id     string
		status domain.TaskStatus
	}{
		{"done", domain.TaskCompleted},
		{"stuck-running", domain.TaskRunning},
		{"stuck-pending", domain.TaskPending},
		{"aborted", domain.TaskCancelled},
	}
	for i, row := range rows {
		task := &domain.Task{
			ID:        row.id,
			Type:      domain.TaskHistoryCollection,
			Status:    row.status,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.SaveTask(ctx, task); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListUnfinishedTasks(ctx)
	if err != nil {
		t.Fatalf("ListUnfinishedTasks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(got), got)
	}
	// Oldest first.
	if got[0].ID != "stuck-running" || got[1].ID != "stuck-pending" {
		t.Errorf("ids = %s, %s, want stuck-running, stuck-pending", got[0].ID, got[1].ID)
	}
}

func TestSQLiteTaskLogs(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	entries := []domain.TaskLogEntry{
		{TaskID: "t1", Code: "AAPL", StockName: "Apple", OK: true},
		{TaskID: "t1", Code: "TSLA", StockName: "Tesla", OK: false, Message: "rate limited"},
		{TaskID: "t2", Code: "MSFT", StockName: "Microsoft", OK: true},
	}
	for i := range entries {
		if err := s.AppendTaskLog(ctx, &entries[i]); err != nil {
			t.Fatalf("AppendTaskLog: %v", err)
		}
	}

	got, err := s.ListTaskLogs(ctx, "t1")
	if err != nil {
		t.Fatalf("ListTaskLogs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(logs) = %d, want 2", len(got))
	}
	if got[0].Code != "AAPL" || got[1].Code != "TSLA" {
		t.Errorf("logs out of insertion order: %+v", got)
	}
	if got[1].OK || got[1].Message != "rate limited" {
		t.Errorf("failed entry not preserved: %+v", got[1])
	}
}
