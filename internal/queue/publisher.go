// Package queue publishes email dispatches to SQS. Everything here is
// fire-and-forget from the caller's point of view: delivery outcomes belong
// to the email worker consuming the queue.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"medevent/internal/types"
)

// SQSSender is the subset of the SQS client the publisher uses.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// EmailPublisher serializes EmailMessages onto the email queue.
type EmailPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewEmailPublisher creates a publisher bound to one queue.
func NewEmailPublisher(client SQSSender, queueURL string, logger *slog.Logger) *EmailPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailPublisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// PublishEmail enqueues one email dispatch. A missing trace id is filled in
// so the worker can always correlate its deliveries.
func (p *EmailPublisher) PublishEmail(ctx context.Context, msg types.EmailMessage) error {
	if msg.TraceID == "" {
		if requestID := types.GetRequestID(ctx); requestID != "" {
			msg.TraceID = requestID
		} else {
			msg.TraceID = uuid.NewString()
		}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to encode email message", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("failed to publish %s email", msg.Kind), err)
	}

	p.logger.DebugContext(ctx, "email dispatch queued",
		"email_kind", msg.Kind, "event_id", msg.EventID, "user_id", msg.UserID, "trace_id", msg.TraceID)
	return nil
}
