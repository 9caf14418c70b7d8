package collect

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"stockpit/internal/domain"
	"stockpit/internal/store"
	"stockpit/internal/task"
)

// fakeFetcher serves canned candles and can fail for selected codes.
type fakeFetcher struct {
	fail  map[string]bool
	calls atomic.Int64
	block chan struct{} // if non-nil, fetches wait here
}

func (f *fakeFetcher) DailyCandles(ctx context.Context, code string, start, end time.Time) ([]domain.Candle, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail[code] {
		return nil, errors.New("no data for symbol")
	}
	return []domain.Candle{
		{Code: code, Date: start, Close: 10},
		{Code: code, Date: end, Close: 11},
	}, nil
}

func newTestStores(t *testing.T) (*store.SQLiteStore, *store.ParquetStore) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.NewSQLiteStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db, store.NewParquetStore(dir)
}

func trackStocks(t *testing.T, db *store.SQLiteStore, codes ...string) {
	t.Helper()
	for _, code := range codes {
		err := db.SaveStock(context.Background(), &domain.Stock{
			Code: code, Name: "Name " + code, Market: domain.MarketUS,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

func waitForTerminal(t *testing.T, r *task.Registry, id string) *domain.Task {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if snap, ok := r.Snapshot(id); ok && snap.Status.Terminal() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task never reached a terminal state")
	return nil
}

func TestCollectorProgressAndTallies(t *testing.T) {
	db, ps := newTestStores(t)
	trackStocks(t, db, "AAPL", "FAIL", "TSLA")

	fetcher := &fakeFetcher{fail: map[string]bool{"FAIL": true}}
	c := NewCollector(fetcher, ps, db, 2, 6000)
	r := task.NewRegistry(db, nil)

	started, err := r.Start(domain.TaskHistoryCollection, "", c.Job(ModeFull, 30, 0))
	if err != nil {
		t.Fatal(err)
	}

	snap := waitForTerminal(t, r, started.ID)
	if snap.Status != domain.TaskCompleted {
		t.Fatalf("status = %q, want completed (err=%s)", snap.Status, snap.ErrorMessage)
	}
	if snap.TotalItems != 3 || snap.CurrentItem != 3 {
		t.Errorf("progress = %d/%d, want 3/3", snap.CurrentItem, snap.TotalItems)
	}
	if snap.SuccessCount != 2 || snap.FailedCount != 1 {
		t.Errorf("tallies = %d success %d failed, want 2/1", snap.SuccessCount, snap.FailedCount)
	}

	// Successful fetches were persisted.
	candles, err := ps.ReadCandles(context.Background(), "AAPL",
		time.Now().UTC().AddDate(0, 0, -31), time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) == 0 {
		t.Error("no candles written for AAPL")
	}

	// The failed item is recorded in the task log.
	logs, err := db.ListTaskLogs(context.Background(), started.ID)
	if err != nil {
		t.Fatal(err)
	}
	var failedCodes []string
	for _, e := range logs {
		if !e.OK {
			failedCodes = append(failedCodes, e.Code)
		}
	}
	if len(failedCodes) != 1 || failedCodes[0] != "FAIL" {
		t.Errorf("failed log codes = %v, want [FAIL]", failedCodes)
	}
}

func TestCollectorCancellation(t *testing.T) {
	db, ps := newTestStores(t)
	trackStocks(t, db, "A", "B", "C", "D", "E")

	fetcher := &fakeFetcher{block: make(chan struct{})}
	c := NewCollector(fetcher, ps, db, 1, 6000)
	r := task.NewRegistry(db, nil)

	started, err := r.Start(domain.TaskHistoryCollection, "", c.Job(ModeFull, 30, 0))
	if err != nil {
		t.Fatal(err)
	}

	// Wait until the first fetch is in flight, then cancel.
	deadline := time.Now().Add(2 * time.Second)
	for fetcher.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ok, msg := r.Cancel(started.ID); !ok {
		t.Fatalf("Cancel: %s", msg)
	}

	snap := waitForTerminal(t, r, started.ID)
	if snap.Status != domain.TaskCancelled {
		t.Errorf("status = %q, want cancelled", snap.Status)
	}
	if snap.CurrentItem >= snap.TotalItems {
		t.Errorf("cancelled run should not have processed every item: %d/%d",
			snap.CurrentItem, snap.TotalItems)
	}
}

func TestCollectorRetryJobSkipsUntracked(t *testing.T) {
	db, ps := newTestStores(t)
	trackStocks(t, db, "AAPL")

	fetcher := &fakeFetcher{}
	c := NewCollector(fetcher, ps, db, 2, 6000)
	r := task.NewRegistry(db, nil)

	// "GONE" is not tracked any more; the retry covers only AAPL.
	started, err := r.Start(domain.TaskHistoryCollection, "", c.RetryJob([]string{"AAPL", "GONE"}, 7))
	if err != nil {
		t.Fatal(err)
	}

	snap := waitForTerminal(t, r, started.ID)
	if snap.Status != domain.TaskCompleted {
		t.Fatalf("status = %q, want completed", snap.Status)
	}
	if snap.TotalItems != 1 || snap.SuccessCount != 1 {
		t.Errorf("progress = total %d success %d, want 1/1", snap.TotalItems, snap.SuccessCount)
	}
}

func TestCollectorIncrementalWindowClamped(t *testing.T) {
	db, ps := newTestStores(t)
	trackStocks(t, db, "AAPL")

	var gotStart, gotEnd time.Time
	fetcher := &capturingFetcher{onFetch: func(start, end time.Time) {
		gotStart, gotEnd = start, end
	}}
	c := NewCollector(fetcher, ps, db, 1, 6000)
	r := task.NewRegistry(db, nil)

	started, err := r.Start(domain.TaskHistoryCollection, "", c.Job(ModeIncremental, 365, 0))
	if err != nil {
		t.Fatal(err)
	}
	waitForTerminal(t, r, started.ID)

	window := gotEnd.Sub(gotStart)
	if window > 8*24*time.Hour {
		t.Errorf("incremental window = %v, want at most ~7 days", window)
	}
}

type capturingFetcher struct {
	onFetch func(start, end time.Time)
}

func (f *capturingFetcher) DailyCandles(_ context.Context, code string, start, end time.Time) ([]domain.Candle, error) {
	f.onFetch(start, end)
	return []domain.Candle{{Code: code, Date: start, Close: 1}}, nil
}
