package email

import (
	"context"
	"log/slog"

	"medevent/internal/types"
)

// Provider transmits a fully rendered email and returns the provider's
// message id.
type Provider interface {
	Send(ctx context.Context, input types.SendInput) (string, error)
}

// Channel turns queued EmailMessages into provider deliveries: template
// selection, rendering, and transmission.
type Channel struct {
	provider Provider
	from     types.EmailAddress
	logger   *slog.Logger
}

// ChannelConfig holds the dependencies for NewChannel.
type ChannelConfig struct {
	Provider Provider
	From     types.EmailAddress
	Logger   *slog.Logger
}

// NewChannel creates an email delivery channel.
func NewChannel(cfg ChannelConfig) *Channel {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		provider: cfg.Provider,
		from:     cfg.From,
		logger:   logger,
	}
}

// Deliver renders and sends one message, returning the provider message id.
func (c *Channel) Deliver(ctx context.Context, msg types.EmailMessage) (string, error) {
	if msg.To == "" {
		return "", types.NewAppError(types.ErrCodeValidationMissingField,
			"email message has no recipient address", nil)
	}

	rendered, err := Render(msg)
	if err != nil {
		return "", err
	}

	msgID, err := c.provider.Send(ctx, types.SendInput{
		From:     c.from,
		To:       msg.To,
		Subject:  rendered.Subject,
		BodyHTML: rendered.BodyHTML,
		BodyText: rendered.BodyText,
		TraceID:  msg.TraceID,
	})
	if err != nil {
		return "", err
	}

	c.logger.InfoContext(ctx, "email delivered",
		"email_kind", msg.Kind, "event_id", msg.EventID, "user_id", msg.UserID,
		"message_id", msgID, "trace_id", msg.TraceID)
	return msgID, nil
}
