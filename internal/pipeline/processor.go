package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"medevent/internal/types"
)

// defaultBatchSize bounds one sweep when the configuration does not.
const defaultBatchSize = 50

// TaskStore is the task persistence surface the processor drives.
type TaskStore interface {
	ClaimDue(ctx context.Context, taskType types.TaskType, now time.Time, limit int) ([]*types.Task, error)
	Insert(ctx context.Context, task *types.Task) error
	ExistsByKey(ctx context.Context, key string) (bool, error)
	MarkFailed(ctx context.Context, id string, errMsg string, now time.Time) error
	MarkCompleted(ctx context.Context, id string, now time.Time) error
	BulkComplete(ctx context.Context, ids []string, now time.Time) error
	Delete(ctx context.Context, id string) error
}

// CertificateChecker answers whether an (event, attendee) pair already has a
// certificate. This is the persistent half of the idempotency guard; the key
// uniqueness on tasks is the scheduling half.
type CertificateChecker interface {
	ExistsFor(ctx context.Context, eventID, userID string) (bool, error)
}

// BookingStore resolves or synthesizes the attendance record a certificate
// must reference.
type BookingStore interface {
	FindActive(ctx context.Context, eventID, userID string) (*types.Booking, error)
	Insert(ctx context.Context, b *types.Booking) error
}

// ScanResolver lists the attendees a fan-out task expands into.
type ScanResolver interface {
	SuccessfulScanUserIDs(ctx context.Context, eventID string) ([]string, error)
}

// Generator performs the actual certificate generation call for one resolved
// task.
type Generator interface {
	Generate(ctx context.Context, req types.GenerateRequest) (*types.GenerateResult, error)
}

// BatchProcessor sweeps due certificate tasks and drives each to a terminal
// state. One invocation claims at most BatchSize tasks; anything left over
// waits for the next sweep. A failure in one task never aborts the batch.
type BatchProcessor struct {
	tasks        TaskStore
	events       EventLoader
	certificates CertificateChecker
	bookings     BookingStore
	scans        ScanResolver
	generator    Generator
	batchSize    int
	logger       *slog.Logger
}

// BatchProcessorConfig carries the dependencies for NewBatchProcessor.
type BatchProcessorConfig struct {
	Tasks        TaskStore
	Events       EventLoader
	Certificates CertificateChecker
	Bookings     BookingStore
	Scans        ScanResolver
	Generator    Generator
	BatchSize    int
	Logger       *slog.Logger
}

// NewBatchProcessor creates a sweep processor.
func NewBatchProcessor(cfg BatchProcessorConfig) *BatchProcessor {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchProcessor{
		tasks:        cfg.Tasks,
		events:       cfg.Events,
		certificates: cfg.Certificates,
		bookings:     cfg.Bookings,
		scans:        cfg.Scans,
		generator:    cfg.Generator,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// taskOutcome is the per-task result folded into the sweep summary.
type taskOutcome struct {
	generated bool
	skipped   bool
	emailed   bool
	failed    bool
	completed bool // eligible for the bulk completion at the end
}

// Process runs one sweep at the given reference time and reports what it did.
// The returned error covers only batch-level failures (the claim itself);
// per-task failures are recorded on the task rows and logged.
func (p *BatchProcessor) Process(ctx context.Context, now time.Time) (types.ProcessSummary, error) {
	now = now.UTC()
	summary := types.ProcessSummary{Now: now}

	tasks, err := p.tasks.ClaimDue(ctx, types.TaskCertificatesAutoGenerate, now, p.batchSize)
	if err != nil {
		return summary, fmt.Errorf("failed to claim due certificate tasks: %w", err)
	}
	summary.TasksProcessed = len(tasks)
	if len(tasks) == 0 {
		return summary, nil
	}

	var completed []string
	for _, task := range tasks {
		outcome := p.processTask(ctx, task, now)
		if outcome.generated {
			summary.Generated++
		}
		if outcome.skipped {
			summary.Skipped++
		}
		if outcome.emailed {
			summary.Emailed++
		}
		if outcome.failed {
			summary.Failed++
		}
		if outcome.completed {
			if err := ValidateTransition(task.Status, types.TaskStatusCompleted); err != nil {
				p.logger.ErrorContext(ctx, "task left out of bulk completion, not in a completable state",
					"task_id", task.ID, "status", task.Status, "error", err)
				continue
			}
			completed = append(completed, task.ID)
		}
	}

	if len(completed) > 0 {
		if err := p.tasks.BulkComplete(ctx, completed, now); err != nil {
			// The work itself succeeded; only the bookkeeping write failed.
			// The tasks stay in processing and need operator attention, but
			// the idempotency guard makes a manual re-run safe.
			p.logger.ErrorContext(ctx, "failed to bulk-complete certificate tasks",
				"task_count", len(completed), "error", err)
		}
	}

	p.logger.InfoContext(ctx, "certificate sweep finished",
		"tasks_processed", summary.TasksProcessed,
		"generated", summary.Generated,
		"skipped", summary.Skipped,
		"emailed", summary.Emailed,
		"failed", summary.Failed)
	return summary, nil
}

// processTask resolves one claimed task to a terminal state. Panics are
// contained here so a single malformed task cannot take down the sweep.
func (p *BatchProcessor) processTask(ctx context.Context, task *types.Task, now time.Time) (outcome taskOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = taskOutcome{failed: true}
			p.failTask(ctx, task, fmt.Sprintf("panic while processing task: %v", r), now)
		}
	}()

	event, err := p.events.GetByID(ctx, task.EventID)
	if err != nil {
		p.failTask(ctx, task, fmt.Sprintf("failed to load event %s: %v", task.EventID, err), now)
		return taskOutcome{failed: true}
	}

	// The policy may have changed between enqueue and execution; the stored
	// task never outranks the event's current configuration.
	if !event.HasCertificatePolicy() {
		p.logger.InfoContext(ctx, "certificate task completed as no-op, policy disabled",
			"task_id", task.ID, "event_id", event.ID)
		return taskOutcome{completed: true}
	}
	if event.FeedbackRequiredForCertificate {
		// The event became feedback-gated after scheduling. The pending task
		// now contradicts the policy and is removed rather than completed,
		// so a later un-gating can schedule fresh work.
		if err := p.tasks.Delete(ctx, task.ID); err != nil {
			p.failTask(ctx, task, fmt.Sprintf("failed to remove feedback-gated task: %v", err), now)
			return taskOutcome{failed: true}
		}
		p.logger.InfoContext(ctx, "certificate task removed, event is feedback-gated",
			"task_id", task.ID, "event_id", event.ID)
		return taskOutcome{skipped: true}
	}

	if task.IsFanOut() {
		return p.expandFanOut(ctx, task, event, now)
	}
	return p.generateForUser(ctx, task, event, now)
}

// expandFanOut turns an event-wide marker task into one concrete task per
// successfully scanned attendee. Attendees whose key already exists are
// passed over silently; the marker completes once expansion has been
// attempted for everyone.
func (p *BatchProcessor) expandFanOut(ctx context.Context, task *types.Task, event *types.Event, now time.Time) taskOutcome {
	userIDs, err := p.scans.SuccessfulScanUserIDs(ctx, event.ID)
	if err != nil {
		p.failTask(ctx, task, fmt.Sprintf("failed to resolve scanned attendees: %v", err), now)
		return taskOutcome{failed: true}
	}

	created := 0
	for _, userID := range userIDs {
		key := IdempotencyKey(task.TaskType, event.ID, userID, KeyDate(event, now))
		exists, err := p.tasks.ExistsByKey(ctx, key)
		if err != nil {
			p.logger.ErrorContext(ctx, "failed to check task key during fan-out",
				"task_id", task.ID, "event_id", event.ID, "user_id", userID, "error", err)
			continue
		}
		if exists {
			continue
		}

		child := &types.Task{
			TaskType:       task.TaskType,
			EventID:        event.ID,
			UserID:         userID,
			IdempotencyKey: key,
			Status:         types.TaskStatusPending,
			RunAt:          ComputeRunAt(event, now),
		}
		if err := p.tasks.Insert(ctx, child); err != nil {
			var appErr *types.AppError
			if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictDuplicateTask {
				// Raced with a concurrent scan enqueue. Either way the work
				// is scheduled exactly once.
				continue
			}
			p.logger.ErrorContext(ctx, "failed to create per-user certificate task",
				"task_id", task.ID, "event_id", event.ID, "user_id", userID, "error", err)
			continue
		}
		created++
	}

	// The marker completes as soon as expansion has been attempted for every
	// attendee; the children carry the actual generation work.
	if err := ValidateTransition(task.Status, types.TaskStatusCompleted); err != nil {
		p.logger.ErrorContext(ctx, "fan-out marker not in a completable state",
			"task_id", task.ID, "status", task.Status, "error", err)
	} else if err := p.tasks.MarkCompleted(ctx, task.ID, now); err != nil {
		p.logger.ErrorContext(ctx, "failed to record fan-out completion",
			"task_id", task.ID, "error", err)
	}
	p.logger.InfoContext(ctx, "fan-out task expanded",
		"task_id", task.ID, "event_id", event.ID,
		"attendees", len(userIDs), "tasks_created", created)
	return taskOutcome{}
}

// generateForUser drives one concrete per-user task through the existence
// check, booking resolution, and the generation call.
func (p *BatchProcessor) generateForUser(ctx context.Context, task *types.Task, event *types.Event, now time.Time) taskOutcome {
	exists, err := p.certificates.ExistsFor(ctx, event.ID, task.UserID)
	if err != nil {
		p.failTask(ctx, task, fmt.Sprintf("failed to check existing certificate: %v", err), now)
		return taskOutcome{failed: true}
	}
	if exists {
		p.logger.InfoContext(ctx, "certificate already exists, skipping generation",
			"task_id", task.ID, "event_id", event.ID, "user_id", task.UserID)
		return taskOutcome{skipped: true, completed: true}
	}

	booking, err := p.bookings.FindActive(ctx, event.ID, task.UserID)
	if err != nil {
		p.failTask(ctx, task, fmt.Sprintf("failed to resolve booking: %v", err), now)
		return taskOutcome{failed: true}
	}
	if booking == nil {
		// Walk-in attendee: scanned in without ever booking. The certificate
		// needs an attendance record, so one is created on the spot.
		booking = &types.Booking{
			EventID:   event.ID,
			UserID:    task.UserID,
			Status:    types.BookingStatusAttended,
			CheckedIn: true,
		}
		if err := p.bookings.Insert(ctx, booking); err != nil {
			p.failTask(ctx, task, fmt.Sprintf("failed to create attendance booking for certificate generation: %v", err), now)
			return taskOutcome{failed: true}
		}
		p.logger.InfoContext(ctx, "synthesized attendance booking for walk-in attendee",
			"task_id", task.ID, "event_id", event.ID, "user_id", task.UserID, "booking_id", booking.ID)
	}

	result, err := p.generator.Generate(ctx, types.GenerateRequest{
		EventID:    event.ID,
		UserID:     task.UserID,
		BookingID:  booking.ID,
		TemplateID: event.CertificateTemplateID,
		SendEmail:  event.CertificateAutoSendEmail,
	})
	if err != nil {
		p.failTask(ctx, task, fmt.Sprintf("certificate generation failed: %v", err), now)
		return taskOutcome{failed: true}
	}

	if result.AlreadyExisted {
		// The generation endpoint's own guard caught a certificate created
		// between our check and the call.
		return taskOutcome{skipped: true, completed: true}
	}
	p.logger.InfoContext(ctx, "certificate generated",
		"task_id", task.ID, "event_id", event.ID, "user_id", task.UserID,
		"certificate_id", result.CertificateID, "email_sent", result.EmailSent)
	return taskOutcome{generated: true, emailed: result.EmailSent, completed: true}
}

func (p *BatchProcessor) failTask(ctx context.Context, task *types.Task, reason string, now time.Time) {
	if err := ValidateTransition(task.Status, types.TaskStatusFailed); err != nil {
		p.logger.ErrorContext(ctx, "refusing failure write, task not in a failable state",
			"task_id", task.ID, "status", task.Status, "error", err)
		return
	}
	p.logger.ErrorContext(ctx, "certificate task failed",
		"task_id", task.ID, "event_id", task.EventID, "user_id", task.UserID, "reason", reason)
	if err := p.tasks.MarkFailed(ctx, task.ID, reason, now); err != nil {
		p.logger.ErrorContext(ctx, "failed to record task failure",
			"task_id", task.ID, "error", err)
	}
}
