package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"seqscope/go-backend/internal/api"
	"seqscope/go-backend/internal/classify"
	"seqscope/go-backend/internal/config"
	"seqscope/go-backend/internal/encode"
	"seqscope/go-backend/internal/metrics"
	"seqscope/go-backend/internal/session"
	"seqscope/go-backend/internal/storage"
	"seqscope/go-backend/internal/train"
	"seqscope/go-backend/internal/uploads"
	"seqscope/go-backend/internal/vecmem"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	dataDir := flag.String("data-dir", "", "Directory for uploads and the history database (optional)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("seqscope-daemon version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadFromPath(*configPath)
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dataDir != "" {
		cfg.Uploads.Dir = filepath.Join(*dataDir, "temp_uploads")
		cfg.History.DBPath = filepath.Join(*dataDir, "analysis_history.db")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	store, err := uploads.NewStore(cfg.Uploads.Dir)
	if err != nil {
		log.Fatalf("seqscope-daemon failed to initialize uploads: %v", err)
	}
	history, err := storage.NewHistoryStore(cfg.History.DBPath)
	if err != nil {
		log.Fatalf("seqscope-daemon failed to open history database: %v", err)
	}
	defer func() { _ = history.Close() }()

	m := metrics.New()
	classifier := classify.New(classify.Config{
		BaseURL:        cfg.Classifier.BaseURL,
		MaxAttempts:    cfg.Classifier.MaxAttempts,
		BackoffBase:    cfg.Classifier.BackoffBase.Std(),
		AttemptTimeout: cfg.Classifier.AttemptTimeout.Std(),
	}, logger)
	orch := session.NewOrchestrator(store, classifier, history, m, logger, session.Options{
		TopN:            cfg.Verification.TopN,
		EventsPerSecond: cfg.Stream.EventsPerSecond,
		DrainDelay:      cfg.Stream.DrainDelay.Std(),
	})
	encoder := encode.New(cfg.Encoder.BaseURL, logger)
	memory := vecmem.New(cfg.VectorStore.BaseURL, cfg.VectorStore.Collection, cfg.VectorStore.VectorSize, logger)
	trainer := train.NewService(encoder, memory, history, logger)

	srv := api.NewServer(cfg, api.Deps{
		Uploads:      store,
		History:      history,
		Classifier:   classifier,
		Trainer:      trainer,
		Orchestrator: orch,
		Metrics:      m,
		Logger:       logger,
	})

	logger.Info("seqscope-daemon starting", "addr", cfg.Server.Addr, "version", version)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("seqscope-daemon failed: %v", err)
	}
	logger.Info("seqscope-daemon stopped")
}
