// Command bulk_predict runs a CSV file through the prediction endpoint one row
// at a time and writes the file back with a churn_prediction column. With
// -watch it processes every CSV dropped into a directory until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"churnintel/batch"
	"churnintel/client"
	"churnintel/config"
	"churnintel/db"
	"churnintel/logging"
)

func main() {
	configPath := flag.String("config", config.Locate("config.yaml"), "path to config.yaml")
	file := flag.String("file", "", "CSV file to process")
	watch := flag.String("watch", "", "inbox directory to watch for CSV files")
	outDir := flag.String("out", "", "output directory (defaults to batch.output_dir)")
	endpoint := flag.String("endpoint", "", "prediction endpoint URL (defaults to batch.endpoint)")
	maxRows := flag.Int("max-rows", 0, "rows processed per file (defaults to batch.max_rows)")
	flag.Parse()

	if (*file == "") == (*watch == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -file or -watch is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *endpoint != "" {
		cfg.Batch.Endpoint = *endpoint
	}
	if *maxRows > 0 {
		cfg.Batch.MaxRows = *maxRows
	}
	if *outDir != "" {
		cfg.Batch.OutputDir = *outDir
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	store, err := db.InitDB(cfg.Batch.HistoryDB)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := batch.NewRunner(client.New(cfg.Batch.Endpoint, cfg.Batch.Timeout),
		batch.WithMaxRows(cfg.Batch.MaxRows),
		batch.WithLogger(logger),
	)
	record := func(report *batch.Report) {
		if err := store.SaveBatchRun(report.Summary()); err != nil {
			logger.Warn("save batch history failed", zap.Error(err))
		}
	}

	if *watch != "" {
		watcher := batch.NewWatcher(runner, *watch, cfg.Batch.OutputDir,
			batch.WithWatcherLogger(logger),
			batch.WithReportHook(record),
		)
		if err := watcher.Run(ctx); err != nil {
			logger.Fatal("watcher failed", zap.Error(err))
		}
		return
	}

	watcher := batch.NewWatcher(runner, filepath.Dir(*file), cfg.Batch.OutputDir, batch.WithReportHook(record))
	if err := os.MkdirAll(cfg.Batch.OutputDir, 0o755); err != nil {
		logger.Fatal("failed to create output directory", zap.Error(err))
	}
	report, err := watcher.ProcessFile(ctx, *file)
	if report == nil {
		logger.Fatal("batch failed", zap.String("file", *file), zap.Error(err))
	}
	if err != nil {
		logger.Warn("batch incomplete", zap.Error(err))
	}

	summary := report.Summary()
	fmt.Printf("Processed %d of %d rows: %d predicted, %d failed\n",
		summary.Processed, summary.TotalRows, summary.Predicted, summary.Failed)
	fmt.Printf("High risk: %d  Low risk: %d\n", summary.HighRisk, summary.LowRisk)
	if rows := report.HighRisk(); len(rows) > 0 {
		fmt.Printf("High-risk rows: %v\n", rows)
	}
	fmt.Printf("Output: %s\n", filepath.Join(cfg.Batch.OutputDir, batch.OutputName(*file)))
	if summary.TotalRows > summary.Processed {
		fmt.Printf("Only the first %d rows were processed\n", cfg.Batch.MaxRows)
	}
}
