package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"medevent/internal/types"
)

// TaskInserter persists new certificate tasks.
type TaskInserter interface {
	Insert(ctx context.Context, task *types.Task) error
}

// EventLoader resolves events by id.
type EventLoader interface {
	GetByID(ctx context.Context, id string) (*types.Event, error)
}

// UserDirectory resolves attendees for email personalization.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
}

// EmailDispatcher hands an email off for asynchronous delivery.
type EmailDispatcher interface {
	PublishEmail(ctx context.Context, msg types.EmailMessage) error
}

// EnqueuePolicy decides, at attendance-scan time, whether an event/attendee
// pair gets a scheduled certificate task, a courtesy email, or nothing. It is
// invoked from the scan flow and must never surface a failure back to it; all
// outcomes here are logged and swallowed.
type EnqueuePolicy struct {
	tasks  TaskInserter
	users  UserDirectory
	emails EmailDispatcher
	logger *slog.Logger
}

// EnqueuePolicyConfig carries the dependencies for NewEnqueuePolicy.
type EnqueuePolicyConfig struct {
	Tasks  TaskInserter
	Users  UserDirectory
	Emails EmailDispatcher
	Logger *slog.Logger
}

// NewEnqueuePolicy creates the scan-time scheduling policy.
func NewEnqueuePolicy(cfg EnqueuePolicyConfig) *EnqueuePolicy {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EnqueuePolicy{
		tasks:  cfg.Tasks,
		users:  cfg.Users,
		emails: cfg.Emails,
		logger: logger,
	}
}

// HandleScan applies the enqueue policy for one successful attendance scan.
//
// The decision is a three-way split on the event's certificate flags:
//
//   - auto-generation enabled with a template and no feedback gate: schedule
//     a per-user certificate task at the event's computed run time,
//   - feedback-gated certificates: deliberately schedule nothing; generation
//     happens on feedback submission instead,
//   - no certificate policy: fall through to the courtesy-email table.
//
// Courtesy emails (feedback request, attendance thank-you) are mutually
// exclusive with certificate scheduling and with each other.
func (p *EnqueuePolicy) HandleScan(ctx context.Context, event *types.Event, userID string, now time.Time) {
	if event == nil || userID == "" {
		return
	}

	switch {
	case event.HasCertificatePolicy() && !event.FeedbackRequiredForCertificate:
		p.scheduleTask(ctx, event, userID, now)
		return
	case event.HasCertificatePolicy():
		// Generation for this event is gated on feedback submission, so the
		// scan itself schedules nothing. Logged so a missing certificate can
		// be traced back to the gate instead of looking like a lost task.
		p.logger.InfoContext(ctx, "certificate generation deferred to feedback submission",
			"event_id", event.ID, "user_id", userID)
	}

	p.sendCourtesyEmail(ctx, event, userID)
}

// ShouldGenerateOnFeedback reports whether submitting feedback for the event
// should generate the attendee's certificate immediately. This is the second
// trigger path, complementing the scan-time scheduling above.
func ShouldGenerateOnFeedback(event *types.Event) bool {
	return event != nil && event.HasCertificatePolicy() && event.FeedbackRequiredForCertificate
}

func (p *EnqueuePolicy) scheduleTask(ctx context.Context, event *types.Event, userID string, now time.Time) {
	task := &types.Task{
		TaskType:       types.TaskCertificatesAutoGenerate,
		EventID:        event.ID,
		UserID:         userID,
		IdempotencyKey: IdempotencyKey(types.TaskCertificatesAutoGenerate, event.ID, userID, KeyDate(event, now)),
		Status:         types.TaskStatusPending,
		RunAt:          ComputeRunAt(event, now),
	}

	err := p.tasks.Insert(ctx, task)
	if err == nil {
		p.logger.InfoContext(ctx, "certificate task scheduled",
			"event_id", event.ID, "user_id", userID, "run_at", task.RunAt)
		return
	}

	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictDuplicateTask {
		// Re-scan of the same attendee on the same day. The unique key did
		// its job; nothing to do.
		p.logger.DebugContext(ctx, "certificate task already scheduled",
			"event_id", event.ID, "user_id", userID)
		return
	}

	p.logger.ErrorContext(ctx, "failed to schedule certificate task",
		"event_id", event.ID, "user_id", userID, "error", err)
}

// sendCourtesyEmail applies the post-scan email table. Feedback requests win
// over attendance thank-yous when both flags are set.
func (p *EnqueuePolicy) sendCourtesyEmail(ctx context.Context, event *types.Event, userID string) {
	var kind types.EmailKind
	switch {
	case event.FeedbackEnabled:
		kind = types.EmailFeedbackRequest
	case event.BookingEnabled:
		kind = types.EmailAttendanceThankYou
	default:
		return
	}

	user, err := p.users.GetByID(ctx, userID)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to resolve attendee for courtesy email",
			"event_id", event.ID, "user_id", userID, "email_kind", kind, "error", err)
		return
	}

	msg := types.EmailMessage{
		Kind:          kind,
		EventID:       event.ID,
		UserID:        userID,
		To:            user.Email,
		RecipientName: user.FullName,
		EventTitle:    event.Title,
	}
	if !event.Date.IsZero() {
		msg.EventDate = event.Date.UTC().Format(keyDateLayout)
	}
	if err := p.emails.PublishEmail(ctx, msg); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish courtesy email",
			"event_id", event.ID, "user_id", userID, "email_kind", kind, "error", err)
		return
	}
	p.logger.InfoContext(ctx, "courtesy email queued",
		"event_id", event.ID, "user_id", userID, "email_kind", kind)
}
