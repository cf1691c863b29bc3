// Package main is the entrypoint for the MedEvent certificate API: the
// public scan and feedback hooks plus the internal generation and cron
// endpoints.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"medevent/internal/api/handlers"
	"medevent/internal/certs"
	"medevent/internal/config"
	"medevent/internal/core"
	"medevent/internal/db"
	"medevent/internal/external"
	"medevent/internal/pipeline"
	"medevent/internal/queue"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("api starting", "environment", cfg.Environment, "service", cfg.Service)

	pool, err := newPool(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("failed to load AWS configuration", "error", err)
		os.Exit(1)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	// Repositories share the pool through the DBTX seam.
	taskRepo := db.NewTaskRepository(pool)
	certRepo := db.NewCertificateRepository(pool)
	bookingRepo := db.NewBookingRepository(pool)
	eventRepo := db.NewEventRepository(pool)
	scanRepo := db.NewScanRepository(pool)
	userRepo := db.NewUserRepository(pool)
	jobRepo := db.NewJobHistoryRepository(pool)

	publisher := queue.NewEmailPublisher(sqsClient, cfg.AWS.EmailQueueURL, logger)
	renderer := external.NewRendererClient(cfg.Generation.RendererURL, nil)

	generation := certs.NewService(certs.ServiceConfig{
		Certificates: certRepo,
		Bookings:     bookingRepo,
		Events:       eventRepo,
		Users:        userRepo,
		Renderer:     renderer,
		Emails:       publisher,
		EmailEnabled: cfg.Email.Enabled,
		Logger:       logger,
	})

	policy := pipeline.NewEnqueuePolicy(pipeline.EnqueuePolicyConfig{
		Tasks:  taskRepo,
		Users:  userRepo,
		Emails: publisher,
		Logger: logger,
	})

	// The cron endpoint drives generation through the service directly
	// instead of looping back over HTTP like the worker does.
	processor := pipeline.NewBatchProcessor(pipeline.BatchProcessorConfig{
		Tasks:        taskRepo,
		Events:       eventRepo,
		Certificates: certRepo,
		Bookings:     bookingRepo,
		Scans:        scanRepo,
		Generator:    generation,
		BatchSize:    cfg.Pipeline.BatchSize,
		Logger:       logger,
	})

	server, err := core.NewServer(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize server", "error", err)
		os.Exit(1)
	}

	scanHandler := handlers.NewScanHandler(eventRepo, policy, server.Validator, logger)
	feedbackHandler := handlers.NewFeedbackHandler(eventRepo, generation, server.Validator, logger)
	certsHandler := handlers.NewCertificatesHandler(generation, server.Validator, logger)
	cronHandler := handlers.NewCronHandler(processor, jobRepo, logger)

	server.MountRoutes(
		[]core.RouteRegistrar{
			func(r chi.Router) { scanHandler.Routes(r) },
			func(r chi.Router) { feedbackHandler.Routes(r) },
		},
		[]core.RouteRegistrar{
			func(r chi.Router) { certsHandler.Routes(r) },
			func(r chi.Router) { cronHandler.Routes(r) },
		},
	)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-shutdownCtx.Done()
	logger.Info("shutting down")

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(drainCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	_ = server.Shutdown(drainCtx)
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).
		With("service", cfg.Service)
}

func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Database.AcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
