package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"churnintel/config"
	"churnintel/db"
	chttp "churnintel/http"
	"churnintel/logging"
	"churnintel/ml"
	"churnintel/monitoring"
)

func main() {
	configPath := flag.String("config", config.Locate("config.yaml"), "path to config.yaml")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Logger
	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// 3. Model; the service does not start without one
	model, err := ml.LoadModel(cfg.Model.Type, config.Locate(cfg.Model.Path))
	if err != nil {
		logger.Fatal("failed to load model", zap.String("type", cfg.Model.Type), zap.String("path", cfg.Model.Path), zap.Error(err))
	}
	logger.Info("model loaded",
		zap.String("type", cfg.Model.Type),
		zap.Strings("features", model.FeatureNames()),
		zap.Float64("threshold", model.Threshold()),
	)

	metrics := monitoring.NewMetricsCollector()
	predictor, err := ml.NewPredictor(model,
		ml.WithLogger(logger),
		ml.WithCache(cfg.Model.CacheSize),
		ml.WithCacheHitHook(func() { metrics.IncrCounter(monitoring.MetricCacheHits, 1) }),
	)
	if err != nil {
		logger.Fatal("failed to build predictor", zap.Error(err))
	}

	// 4. Batch history
	store, err := db.InitDB(cfg.Batch.HistoryDB)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.String("path", cfg.Batch.HistoryDB), zap.Error(err))
	}
	defer store.Close()
	logger.Info("database initialized", zap.String("path", cfg.Batch.HistoryDB))

	// 5. Websocket hub
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := monitoring.NewWebSocketHub(logger, cfg.Http.AllowedOrigins)
	go hub.Run(ctx)

	// 6. HTTP server
	handler := chttp.NewHandler(predictor, cfg.Model.Type,
		chttp.WithLegacyErrorStatus(cfg.Http.LegacyErrorStatus),
		chttp.WithMaxRows(cfg.Batch.MaxRows),
		chttp.WithHistory(store),
		chttp.WithHub(hub),
		chttp.WithMetrics(metrics),
		chttp.WithLogger(logger),
	)
	server := chttp.NewServer(chttp.ServerConfig{
		Port:           cfg.Http.Port,
		Timeout:        cfg.Http.Timeout,
		AllowedOrigins: cfg.Http.AllowedOrigins,
		MaxBodyBytes:   cfg.Http.MaxBodyBytes,
	}, handler)

	errs := make(chan error, 1)
	go func() {
		errs <- server.Start()
	}()

	// 7. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errs:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	if err := server.Stop(); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}
	cancel()
	<-hub.Done()
	logger.Info("exiting")
}
