package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/querydesk/querydesk/internal/config"
	"github.com/querydesk/querydesk/internal/observability"
	"github.com/querydesk/querydesk/internal/seed"
	s3store "github.com/querydesk/querydesk/internal/storage/s3"
)

func main() {
	seedValue := flag.Int64("seed", 1, "random seed; the same seed produces the same tables")
	concurrency := flag.Int("concurrency", 4, "parallel uploads")
	flag.Parse()

	cfg, err := config.LoadFromEnv("querydesk-seed")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	tables, err := seed.NewGenerator(*seedValue, time.Now()).Tables()
	if err != nil {
		logger.Error("failed to generate seed tables", slog.Any("error", err))
		os.Exit(1)
	}

	summary, err := seed.Uploader{Store: store, Concurrency: *concurrency, Logger: logger}.Upload(ctx, tables)
	if err != nil {
		logger.Error("seed upload failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("seed complete",
		slog.Int("tables", summary.Tables),
		slog.Int64("rows", summary.Rows),
		slog.Int64("bytes", summary.Bytes),
		slog.String("bucket", cfg.ObjectStore.Bucket),
	)
}
