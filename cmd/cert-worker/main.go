// Package main is the entrypoint for the certificate worker Lambda. A
// scheduled rule invokes it periodically; each invocation runs one bounded
// sweep of due certificate tasks and publishes the sweep counters to
// CloudWatch.
//
// Cold start wires the database pool, the generation callback client, and
// the CloudWatch publisher; the handler itself only runs the sweep.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/jackc/pgx/v5/pgxpool"

	"medevent/internal/config"
	"medevent/internal/db"
	"medevent/internal/external"
	"medevent/internal/pipeline"
	"medevent/internal/types"
)

// SweepInput is the Lambda invocation payload. All fields are optional; the
// scheduled rule sends an empty object.
type SweepInput struct {
	// ReferenceTime overrides "now", RFC 3339. Used to drain a backlog up to
	// a known point in time.
	ReferenceTime string `json:"reference_time,omitempty"`
}

// cloudwatchAPI is the subset of the CloudWatch client the worker uses.
type cloudwatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// metricPublisher pushes sweep counters to CloudWatch under the configured
// namespace.
type metricPublisher struct {
	client    cloudwatchAPI
	namespace string
	logger    *slog.Logger
}

// publishSummary emits the sweep counters. Metric failures are logged, never
// returned: telemetry must not fail a successful sweep.
func (p *metricPublisher) publishSummary(ctx context.Context, summary types.ProcessSummary) {
	data := []cwtypes.MetricDatum{
		datum(types.MetricTasksProcessed, summary.TasksProcessed),
		datum(types.MetricCertificatesGenerated, summary.Generated),
		datum(types.MetricTasksSkipped, summary.Skipped),
		datum(types.MetricEmailsSent, summary.Emailed),
		datum(types.MetricTasksFailed, summary.Failed),
	}
	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(p.namespace),
		MetricData: data,
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to publish sweep metrics", "error", err)
	}
}

func datum(name string, value int) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(float64(value)),
		Unit:       cwtypes.StandardUnitCount,
	}
}

// handler holds the worker's wired dependencies.
type handler struct {
	processor *pipeline.BatchProcessor
	jobs      pipeline.JobHistory
	metrics   *metricPublisher
	logger    *slog.Logger
}

// handle runs one sweep. The returned summary lands in the invocation log;
// a batch-level failure (the claim query) fails the invocation so the
// schedule's alarm can fire.
func (h *handler) handle(ctx context.Context, input SweepInput) (types.ProcessSummary, error) {
	now := time.Now().UTC()
	if input.ReferenceTime != "" {
		parsed, err := time.Parse(time.RFC3339, input.ReferenceTime)
		if err != nil {
			h.logger.WarnContext(ctx, "ignoring malformed reference_time", "value", input.ReferenceTime)
		} else {
			now = parsed.UTC()
		}
	}

	summary, err := pipeline.RunSweep(ctx, h.processor, h.jobs, h.logger, now)
	if err != nil {
		return summary, err
	}

	h.metrics.publishSummary(ctx, summary)
	return summary, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).
		With("service", "medevent-cert-worker")
	slog.SetDefault(logger)
	logger.Info("cert worker initializing", "environment", cfg.Environment)

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL.Unmask())
	if err != nil {
		logger.Error("failed to initialize database pool", "error", err)
		os.Exit(1)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("failed to load AWS configuration", "error", err)
		os.Exit(1)
	}
	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	// The worker reaches generation through the platform's HTTP surface, the
	// same path an operator's manual call takes.
	generator := external.NewGenerationClient(cfg.Generation, nil, logger)

	processor := pipeline.NewBatchProcessor(pipeline.BatchProcessorConfig{
		Tasks:        db.NewTaskRepository(pool),
		Events:       db.NewEventRepository(pool),
		Certificates: db.NewCertificateRepository(pool),
		Bookings:     db.NewBookingRepository(pool),
		Scans:        db.NewScanRepository(pool),
		Generator:    generator,
		BatchSize:    cfg.Pipeline.BatchSize,
		Logger:       logger,
	})

	h := &handler{
		processor: processor,
		jobs:      db.NewJobHistoryRepository(pool),
		metrics: &metricPublisher{
			client:    cwClient,
			namespace: cfg.AWS.MetricNamespace,
			logger:    logger,
		},
		logger: logger,
	}

	lambda.Start(h.handle)
}
