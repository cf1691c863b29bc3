// Package main is the entrypoint for the email worker Lambda. It consumes
// EmailMessages from the email SQS queue, renders them, and delivers via SES.
// Partial batch responses let SQS retry only the messages that failed.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"golang.org/x/sync/errgroup"

	"medevent/internal/config"
	"medevent/internal/external"
	"medevent/internal/notifications/email"
	"medevent/internal/types"
)

// maxConcurrentDeliveries bounds parallel SES calls within one batch so a
// full batch cannot burst past the account send rate.
const maxConcurrentDeliveries = 4

// handler holds the worker dependencies.
type handler struct {
	channel      *email.Channel
	emailEnabled bool
	logger       *slog.Logger
}

// handle processes one SQS batch. Messages are delivered concurrently;
// failures are reported per message so the rest of the batch is acked.
func (h *handler) handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	var (
		mu       sync.Mutex
		failures []events.SQSBatchItemFailure
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDeliveries)

	for _, record := range sqsEvent.Records {
		g.Go(func() error {
			if err := h.processRecord(gctx, record); err != nil {
				h.logger.ErrorContext(gctx, "failed to process email message",
					"message_id", record.MessageId, "error", err)
				mu.Lock()
				failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
				mu.Unlock()
			}
			// Failures are reported through the batch response, never as a
			// group error; one bad message must not cancel its siblings.
			return nil
		})
	}
	_ = g.Wait()

	return events.SQSEventResponse{BatchItemFailures: failures}, nil
}

// processRecord delivers one message. A malformed body or a permanent
// provider rejection is acked rather than retried; redelivery cannot fix
// either.
func (h *handler) processRecord(ctx context.Context, record events.SQSMessage) error {
	var msg types.EmailMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		h.logger.ErrorContext(ctx, "dropping malformed email message",
			"message_id", record.MessageId, "error", err)
		return nil
	}

	if !h.emailEnabled {
		h.logger.InfoContext(ctx, "email delivery disabled, dropping message",
			"email_kind", msg.Kind, "trace_id", msg.TraceID)
		return nil
	}

	_, err := h.channel.Deliver(ctx, msg)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeEmailBlocked {
			h.logger.WarnContext(ctx, "provider rejected message permanently, dropping",
				"email_kind", msg.Kind, "trace_id", msg.TraceID, "error", err)
			return nil
		}
		return err
	}
	return nil
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
		With("service", "medevent-email-worker")
	slog.SetDefault(logger)
	logger.Info("email worker initializing", "environment", cfg.Environment)

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("failed to load AWS configuration", "error", err)
		os.Exit(1)
	}

	mailer := external.NewSESMailer(awsCfg, external.SESMailerConfig{
		ConfigSetName: cfg.Email.ConfigSetName,
		Logger:        logger,
	})
	channel := email.NewChannel(email.ChannelConfig{
		Provider: mailer,
		From: types.EmailAddress{
			Name:    cfg.Email.FromName,
			Address: cfg.Email.FromAddress,
		},
		Logger: logger,
	})

	h := &handler{
		channel:      channel,
		emailEnabled: cfg.Email.Enabled,
		logger:       logger,
	}
	lambda.Start(h.handle)
}
