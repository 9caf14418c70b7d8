// Package collect implements the price-history collection job: fetching
// daily candles for tracked stocks from the market-data provider and writing
// them to the candle store, with progress reported into the task registry.
package collect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"stockpit/internal/domain"
	"stockpit/internal/store"
	"stockpit/internal/task"
	"stockpit/internal/util"
)

// Mode selects how much history a collection run covers.
const (
	ModeFull        = "full"        // the whole configured day window
	ModeIncremental = "incremental" // only the most recent few days
)

const incrementalDays = 7

// Fetcher retrieves daily candles for one stock from the market-data
// provider.
type Fetcher interface {
	DailyCandles(ctx context.Context, code string, start, end time.Time) ([]domain.Candle, error)
}

// ---------------------------------------------------------------------------
// Alpaca-backed fetcher
// ---------------------------------------------------------------------------

// Compile-time interface check.
var _ Fetcher = (*AlpacaFetcher)(nil)

// AlpacaFetcher implements Fetcher via the Alpaca market-data API.
type AlpacaFetcher struct {
	client *marketdata.Client
}

// NewAlpacaFetcher creates an AlpacaFetcher with the given credentials.
func NewAlpacaFetcher(apiKey, apiSecret, dataURL string) *AlpacaFetcher {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return &AlpacaFetcher{client: marketdata.NewClient(opts)}
}

// DailyCandles fetches daily bars for one symbol.
func (f *AlpacaFetcher) DailyCandles(ctx context.Context, code string, start, end time.Time) ([]domain.Candle, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	bars, err := f.client.GetBars(code, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end,
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", code, err)
	}

	candles := make([]domain.Candle, 0, len(bars))
	for _, b := range bars {
		candles = append(candles, domain.Candle{
			Code:       strings.ToUpper(code),
			Date:       b.Timestamp,
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     int64(b.Volume),
			TradeCount: int64(b.TradeCount),
			VWAP:       b.VWAP,
		})
	}
	return candles, nil
}

// ---------------------------------------------------------------------------
// Collector
// ---------------------------------------------------------------------------

// Collector builds history-collection jobs over the tracked stock list.
type Collector struct {
	fetcher    Fetcher
	candles    store.CandleStore
	stocks     store.StockStore
	maxWorkers int
	limiter    *util.RateLimiter
	log        *slog.Logger
}

// NewCollector creates a Collector.
func NewCollector(fetcher Fetcher, candles store.CandleStore, stocks store.StockStore, maxWorkers, rateLimitPerMin int) *Collector {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Collector{
		fetcher:    fetcher,
		candles:    candles,
		stocks:     stocks,
		maxWorkers: maxWorkers,
		limiter:    util.NewRateLimiter(rateLimitPerMin),
		log:        slog.Default().With("component", "collector"),
	}
}

// Job returns a task.Job that collects history for all tracked stocks. Mode
// incremental shrinks the window to the last few days regardless of days.
// workers <= 0 uses the configured default.
func (c *Collector) Job(mode string, days, workers int) task.Job {
	return func(ctx context.Context, rep *task.Reporter) error {
		stocks, err := c.stocks.ListStocks(ctx)
		if err != nil {
			return fmt.Errorf("listing stocks: %w", err)
		}
		return c.collect(ctx, rep, stocks, mode, days, workers)
	}
}

// RetryJob returns a task.Job that re-collects only the given codes, used by
// retry-failed.
func (c *Collector) RetryJob(codes []string, days int) task.Job {
	return func(ctx context.Context, rep *task.Reporter) error {
		var stocks []domain.Stock
		for _, code := range codes {
			s, err := c.stocks.GetStock(ctx, code)
			if err != nil {
				return fmt.Errorf("loading stock %s: %w", code, err)
			}
			if s == nil {
				// Stock was untracked since the original run.
				continue
			}
			stocks = append(stocks, *s)
		}
		return c.collect(ctx, rep, stocks, ModeFull, days, 0)
	}
}

func (c *Collector) collect(ctx context.Context, rep *task.Reporter, stocks []domain.Stock, mode string, days, workers int) error {
	if days <= 0 {
		days = incrementalDays
	}
	if mode == ModeIncremental && days > incrementalDays {
		days = incrementalDays
	}
	if workers <= 0 {
		workers = c.maxWorkers
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -days)

	rep.SetTotal(len(stocks))
	rep.Message(fmt.Sprintf("collecting %d days of history for %d stocks", days, len(stocks)))

	c.log.Info("collection starting",
		"mode", mode,
		"days", days,
		"stocks", len(stocks),
		"workers", workers,
	)

	stockCh := make(chan domain.Stock, len(stocks))
	for _, s := range stocks {
		stockCh <- s
	}
	close(stockCh)

	var wg sync.WaitGroup
	runStart := time.Now()

	workers = min(workers, max(len(stocks), 1))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for stock := range stockCh {
				if ctx.Err() != nil {
					return
				}
				c.collectOne(ctx, rep, stock, start, end)
			}
		}()
	}

	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	c.log.Info("collection complete", "elapsed", time.Since(runStart).Round(time.Second))
	return nil
}

// collectOne fetches and stores history for a single stock, recording the
// outcome through the reporter.
func (c *Collector) collectOne(ctx context.Context, rep *task.Reporter, stock domain.Stock, start, end time.Time) {
	rep.Working(stock.Name)

	if err := c.limiter.Wait(ctx); err != nil {
		return
	}

	var candles []domain.Candle
	err := util.Retry(ctx, 3, 500*time.Millisecond, func() error {
		var ferr error
		candles, ferr = c.fetcher.DailyCandles(ctx, stock.Code, start, end)
		return ferr
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.log.Warn("fetch failed", "code", stock.Code, "error", err)
		rep.Failure(stock.Code, stock.Name, err.Error())
		return
	}

	if err := c.candles.WriteCandles(ctx, candles); err != nil {
		c.log.Error("writing candles failed", "code", stock.Code, "error", err)
		rep.Failure(stock.Code, stock.Name, err.Error())
		return
	}

	rep.Success(stock.Code, stock.Name)
}
