package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/querydesk/querydesk/internal/api"
	auditpostgres "github.com/querydesk/querydesk/internal/audit/postgres"
	"github.com/querydesk/querydesk/internal/auth"
	"github.com/querydesk/querydesk/internal/completion"
	"github.com/querydesk/querydesk/internal/config"
	"github.com/querydesk/querydesk/internal/conversation"
	"github.com/querydesk/querydesk/internal/database"
	"github.com/querydesk/querydesk/internal/dataset"
	"github.com/querydesk/querydesk/internal/metrics"
	"github.com/querydesk/querydesk/internal/observability"
	"github.com/querydesk/querydesk/internal/pipeline"
	"github.com/querydesk/querydesk/internal/query"
	duckdbengine "github.com/querydesk/querydesk/internal/query/duckdb"
	querypostgres "github.com/querydesk/querydesk/internal/query/postgres"
	"github.com/querydesk/querydesk/internal/storage"
	s3store "github.com/querydesk/querydesk/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("querydesk-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	auditDB, err := database.Open(context.Background(), database.DBConfig{
		Name:            "audit",
		DSN:             cfg.AuditDB.DSN,
		MaxOpenConns:    cfg.AuditDB.MaxOpenConns,
		MaxIdleConns:    cfg.AuditDB.MaxIdleConns,
		ConnMaxIdleTime: cfg.AuditDB.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.AuditDB.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open audit db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = auditDB.Close() }()
	auditRepo := auditpostgres.NewRepository(auditDB)

	executor, executorCheck, closeExecutor, err := newExecutor(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to initialize query executor", slog.String("backend", cfg.Query.Backend), slog.Any("error", err))
		os.Exit(1)
	}
	defer closeExecutor()

	client, err := completion.New(completion.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
		Referer: cfg.LLM.Referer,
		Title:   cfg.LLM.Title,
	})
	if err != nil {
		logger.Error("failed to initialize completion client", slog.Any("error", err))
		os.Exit(1)
	}

	sink := metrics.NewSink(
		metrics.WithWindowSize(cfg.Pipeline.LatencyWindow),
		metrics.WithRegisterer(prometheus.DefaultRegisterer),
	)
	service, err := pipeline.NewService(pipeline.Config{
		GenerateTimeout: cfg.Pipeline.GenerateTimeout,
		ExecuteTimeout:  cfg.Pipeline.ExecuteTimeout,
	}, pipeline.Dependencies{
		Generator: client,
		Executor:  executor,
		Recorder:  auditRepo,
		Sink:      sink,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to initialize pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:        logger,
		Pipeline:      service,
		Conversations: conversation.NewStore(),
		Audit:         auditRepo,
		Sink:          sink,
		Readiness: api.CombineReadinessChecks(
			api.NamedCheck("audit", auditRepo.HealthCheck),
			executorCheck,
			api.CachedCheck(api.CheckCompletion(client.Ping), cfg.LLM.ReadyCacheTTL),
		),
		DependencyTimeout: 3 * time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("query_backend", cfg.Query.Backend),
			slog.String("model", cfg.LLM.Model),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

// newExecutor builds the configured query backend together with its
// readiness check and a release function.
func newExecutor(ctx context.Context, cfg config.Config) (query.Executor, api.ReadinessCheck, func(), error) {
	switch cfg.Query.Backend {
	case config.BackendDuckDB:
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
			return nil, nil, nil, fmt.Errorf("initialize object store: %w", err)
		}
		check := api.NamedCheck("object store", func(ctx context.Context) error {
			if err := store.HealthCheck(ctx); err != nil {
				return err
			}
			return storage.VerifyTables(ctx, store, dataset.All())
		})
		engine := duckdbengine.NewEngine(store, cfg.Query.MaxRows)
		return engine, check, func() { _ = engine.Close() }, nil
	default:
		replicas := make(map[dataset.ID]*sql.DB, len(cfg.Query.ReplicaDSNs))
		closeAll := func() {
			for _, db := range replicas {
				_ = db.Close()
			}
		}
		for _, ds := range dataset.All() {
			db, err := database.Open(ctx, database.DBConfig{
				Name:         "replica " + string(ds.ID),
				DSN:          cfg.Query.ReplicaDSNs[ds.ID],
				ReadOnly:     true,
				MaxOpenConns: cfg.Query.ReplicaConns,
				MaxIdleConns: cfg.Query.ReplicaConns,
			})
			if err != nil {
				closeAll()
				return nil, nil, nil, err
			}
			replicas[ds.ID] = db
		}
		executor := querypostgres.NewExecutor(replicas, cfg.Query.MaxRows)
		return executor, api.NamedCheck("replicas", executor.HealthCheck), func() { _ = executor.Close() }, nil
	}
}
