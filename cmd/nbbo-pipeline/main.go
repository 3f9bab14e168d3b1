package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rickgao/nbbo-pipeline/internal/config"
	"github.com/rickgao/nbbo-pipeline/internal/pipeline"
	"github.com/rickgao/nbbo-pipeline/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/pipeline.yaml", "path to config file")
	symbol := flag.String("symbol", "", "override symbol")
	grid := flag.String("grid", "", "override grid mode (event or clock)")
	yearLo := flag.Int("year-lo", 0, "override lowest year to process")
	yearHi := flag.Int("year-hi", 0, "override highest year to process")
	workers := flag.Int("workers", 0, "override worker count")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting nbbo-pipeline",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration, then apply flag overrides before validating.
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *symbol != "" {
		cfg.Symbol = *symbol
	}
	if *grid != "" {
		cfg.Grid.Mode = *grid
	}
	if *yearLo != 0 {
		cfg.Years.Lo = *yearLo
	}
	if *yearHi != 0 {
		cfg.Years.Hi = *yearHi
	}
	if *workers != 0 {
		cfg.Workers = *workers
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"symbol", cfg.Symbol,
		"grid", cfg.Grid.Mode,
		"input_dir", cfg.Input.Dir,
		"cache_dir", cfg.Cache.Dir,
		"output_dir", cfg.Output.Dir,
		"workers", cfg.Workers,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	res, err := pipeline.New(cfg, logger).Run(ctx)
	if err != nil {
		logger.Error("pipeline failed", "error", err)
		os.Exit(1)
	}

	logger.Info("pipeline complete",
		"run_id", res.RunID,
		"rows_in", res.RowsIn,
		"rows_out", res.RowsOut,
		"dropped", res.Dropped,
	)
}
