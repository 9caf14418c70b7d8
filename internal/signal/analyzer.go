package signal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stockpit/internal/domain"
	"stockpit/internal/store"
	"stockpit/internal/task"
)

// Analyzer builds signal-analysis jobs: for each tracked stock it loads
// candle history, runs a strategy, and persists the resulting signals.
type Analyzer struct {
	candles store.CandleStore
	stocks  store.StockStore
	signals store.SignalStore
	log     *slog.Logger
}

// NewAnalyzer creates an Analyzer over the given stores.
func NewAnalyzer(candles store.CandleStore, stocks store.StockStore, signals store.SignalStore) *Analyzer {
	return &Analyzer{
		candles: candles,
		stocks:  stocks,
		signals: signals,
		log:     slog.Default().With("component", "analyzer"),
	}
}

// Job returns a task.Job that runs strat against every tracked stock over a
// days-long candle window. With forceFull, previous results for the strategy
// are dropped and every stock is recomputed; otherwise stocks whose latest
// signal is under a day old are skipped (they still count toward progress).
func (a *Analyzer) Job(strat Strategy, days int, forceFull bool) task.Job {
	return func(ctx context.Context, rep *task.Reporter) error {
		stocks, err := a.stocks.ListStocks(ctx)
		if err != nil {
			return fmt.Errorf("listing stocks: %w", err)
		}

		if forceFull {
			if err := a.signals.DeleteSignals(ctx, strat.Name()); err != nil {
				return fmt.Errorf("clearing previous signals: %w", err)
			}
		}

		rep.SetTotal(len(stocks))
		rep.Message(fmt.Sprintf("running %s over %d stocks", strat.Name(), len(stocks)))

		end := time.Now().UTC()
		start := end.AddDate(0, 0, -days)
		freshCutoff := end.Add(-24 * time.Hour)

		runStart := time.Now()
		for _, stock := range stocks {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.analyzeOne(ctx, rep, strat, stock, start, end, forceFull, freshCutoff)
		}

		a.log.Info("analysis complete",
			"strategy", strat.Name(),
			"stocks", len(stocks),
			"elapsed", time.Since(runStart).Round(time.Second),
		)
		return nil
	}
}

func (a *Analyzer) analyzeOne(ctx context.Context, rep *task.Reporter, strat Strategy, stock domain.Stock, start, end time.Time, forceFull bool, freshCutoff time.Time) {
	rep.Working(stock.Name)

	if !forceFull {
		latest, err := a.signals.LatestSignalTime(ctx, strat.Name(), stock.Code)
		if err == nil && latest.After(freshCutoff) {
			// Already analyzed recently; count it as done without recomputing.
			rep.Success(stock.Code, stock.Name)
			return
		}
	}

	candles, err := a.candles.ReadCandles(ctx, stock.Code, start, end)
	if err != nil {
		rep.Failure(stock.Code, stock.Name, err.Error())
		return
	}
	if len(candles) < strat.MinCandles() {
		rep.Failure(stock.Code, stock.Name,
			fmt.Sprintf("insufficient history: %d candles, need %d", len(candles), strat.MinCandles()))
		return
	}

	sig, err := strat.Evaluate(candles)
	if err != nil {
		rep.Failure(stock.Code, stock.Name, err.Error())
		return
	}

	if sig != nil {
		sig.Code = stock.Code
		if err := a.signals.SaveSignals(ctx, []domain.Signal{*sig}); err != nil {
			rep.Failure(stock.Code, stock.Name, err.Error())
			return
		}
	}

	rep.Success(stock.Code, stock.Name)
}
