package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"medevent/internal/types"
)

// EventRepository provides the pipeline's read-only view of the events table.
// Event rows are owned by the platform's event-management module; the
// pipeline only reads policy flags and scheduling fields.
type EventRepository struct {
	db DBTX
}

// NewEventRepository creates a new EventRepository backed by the given
// database connection (pool or transaction).
func NewEventRepository(db DBTX) *EventRepository {
	return &EventRepository{db: db}
}

// GetByID loads an event. Returns ErrCodeNotFoundEvent when the row is
// missing; a task pointing at a deleted event resolves as failed on this
// error.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*types.Event, error) {
	var (
		e          types.Event
		date       *time.Time
		startTime  *string
		endTime    *string
		templateID *string
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, title, date, start_time, end_time,
		        auto_generate_certificate, certificate_template_id,
		        feedback_required_for_certificate, certificate_auto_send_email,
		        feedback_enabled, booking_enabled
		 FROM events
		 WHERE id = $1`,
		id,
	).Scan(
		&e.ID,
		&e.Title,
		&date,
		&startTime,
		&endTime,
		&e.AutoGenerateCertificate,
		&templateID,
		&e.FeedbackRequiredForCertificate,
		&e.CertificateAutoSendEmail,
		&e.FeedbackEnabled,
		&e.BookingEnabled,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, types.NewAppError(types.ErrCodeNotFoundEvent, "event not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load event", err)
	}

	e.Date = derefTime(date)
	e.StartTime = derefString(startTime)
	e.EndTime = derefString(endTime)
	e.CertificateTemplateID = derefString(templateID)

	return &e, nil
}
