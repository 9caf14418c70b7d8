package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockpit/internal/collect"
	"stockpit/internal/config"
	"stockpit/internal/httpapi"
	sig "stockpit/internal/signal"
	"stockpit/internal/signal/builtins"
	"stockpit/internal/store"
	"stockpit/internal/task"
	"stockpit/internal/util"
)

func main() {
	// Load config.
	cfgPath := "config/stockpit.yaml"
	if p := os.Getenv("STOCKPIT_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if errors.Is(err, os.ErrNotExist) {
		// No config file: run on defaults plus env overrides.
		cfg = config.Default()
	} else if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	// Setup logging.
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	// Stores.
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite store: %v", err)
	}
	defer db.Close()
	candles := store.NewParquetStore(cfg.Storage.DataDir)

	// Task registry and jobs.
	registry := task.NewRegistry(db, logger)

	fetcher := collect.NewAlpacaFetcher(cfg.MarketData.APIKey, cfg.MarketData.APISecret, cfg.MarketData.DataURL)
	collector := collect.NewCollector(fetcher, candles, db, cfg.Collect.MaxWorkers, cfg.Collect.RateLimitPerMin)
	analyzer := sig.NewAnalyzer(candles, db, db)

	strategies := sig.NewRegistry()
	strategies.Register(builtins.NewTrendline(60, 0.05))
	strategies.Register(builtins.NewSMACross(5, 20))

	srv := httpapi.NewServer(
		registry, db, db, db,
		collector, analyzer, strategies,
		cfg.Collect.Days, cfg.Server.AuthToken, logger,
	)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: srv.Handler(),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		logger.Info("stockpit server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	// Running jobs keep their own contexts; cancel them and wait for their
	// final snapshots to be flushed.
	registry.CancelAll()
	registry.Wait()
}
