package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"medevent/internal/types"
)

// SESAPI is the subset of the SES v2 client the mailer uses. Tests supply a
// mock implementation.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESMailer transmits pre-rendered emails through AWS SES v2. Auth comes from
// the execution role and the SDK retries transient failures itself, so this
// adapter stays off the BaseClient path.
type SESMailer struct {
	api           SESAPI
	configSetName string
	logger        *slog.Logger
}

// SESMailerConfig holds the optional settings for NewSESMailer.
type SESMailerConfig struct {
	// ConfigSetName enables SES event tracking when set.
	ConfigSetName string
	Logger        *slog.Logger
}

// NewSESMailer creates a mailer from an AWS config.
func NewSESMailer(awsCfg aws.Config, cfg SESMailerConfig) *SESMailer {
	return NewSESMailerWithAPI(sesv2.NewFromConfig(awsCfg), cfg)
}

// NewSESMailerWithAPI creates a mailer over a caller-provided SES API,
// usually a mock.
func NewSESMailerWithAPI(api SESAPI, cfg SESMailerConfig) *SESMailer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SESMailer{
		api:           api,
		configSetName: cfg.ConfigSetName,
		logger:        logger,
	}
}

// Send transmits one email and returns the provider message id.
func (s *SESMailer) Send(ctx context.Context, input types.SendInput) (string, error) {
	from := input.From.Address
	if input.From.Name != "" {
		from = fmt.Sprintf("%s <%s>", input.From.Name, input.From.Address)
	}

	emailInput := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &sestypes.Destination{
			ToAddresses: []string{input.To},
		},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{
					Data:    aws.String(input.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &sestypes.Body{},
			},
		},
	}
	if input.BodyHTML != "" {
		emailInput.Content.Simple.Body.Html = &sestypes.Content{
			Data:    aws.String(input.BodyHTML),
			Charset: aws.String("UTF-8"),
		}
	}
	if input.BodyText != "" {
		emailInput.Content.Simple.Body.Text = &sestypes.Content{
			Data:    aws.String(input.BodyText),
			Charset: aws.String("UTF-8"),
		}
	}
	if s.configSetName != "" {
		emailInput.ConfigurationSetName = aws.String(s.configSetName)
	}
	if input.TraceID != "" {
		emailInput.EmailTags = []sestypes.MessageTag{
			{Name: aws.String("TraceId"), Value: aws.String(input.TraceID)},
		}
	}

	result, err := s.api.SendEmail(ctx, emailInput)
	if err != nil {
		return "", mapSESError(err)
	}
	if result.MessageId == nil {
		return "", nil
	}
	return *result.MessageId, nil
}

// mapSESError translates SES failures into the domain error taxonomy.
// Rejections are permanent and must not be retried by the queue.
func mapSESError(err error) error {
	var rejected *sestypes.MessageRejected
	if errors.As(err, &rejected) {
		return types.NewAppError(types.ErrCodeEmailBlocked,
			fmt.Sprintf("SES rejected message: %v", err), err)
	}

	var throttled *sestypes.TooManyRequestsException
	if errors.As(err, &throttled) {
		return types.NewAppError(types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("SES rate limit exceeded: %v", err), err)
	}

	var paused *sestypes.SendingPausedException
	if errors.As(err, &paused) {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("SES account sending paused: %v", err), err)
	}

	return types.NewAppError(types.ErrCodeUpstreamEmailProvider,
		fmt.Sprintf("SES send failed: %v", err), err)
}
