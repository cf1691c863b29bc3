package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"medevent/internal/types"
)

// BookingRepository provides the pipeline's narrow view of the bookings
// table. Bookings are owned by the platform's booking module; this
// repository only looks up active rows and synthesizes attendance records
// when a certificate task resolves an attendee who was never booked.
type BookingRepository struct {
	db DBTX
}

// NewBookingRepository creates a new BookingRepository backed by the given
// database connection (pool or transaction).
func NewBookingRepository(db DBTX) *BookingRepository {
	return &BookingRepository{db: db}
}

// FindActive returns the attendee's non-cancelled booking for the event, or
// nil when none exists. When an attendee somehow holds multiple non-cancelled
// rows the oldest wins, keeping the certificate's booking reference stable
// across retries.
func (r *BookingRepository) FindActive(ctx context.Context, eventID, userID string) (*types.Booking, error) {
	var (
		b      types.Booking
		status string
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, event_id, user_id, status, checked_in, created_at
		 FROM bookings
		 WHERE event_id = $1 AND user_id = $2 AND status != $3
		 ORDER BY created_at
		 LIMIT 1`,
		eventID,
		userID,
		string(types.BookingStatusCancelled),
	).Scan(&b.ID, &b.EventID, &b.UserID, &status, &b.CheckedIn, &b.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to find active booking", err)
	}

	b.Status = types.BookingStatus(status)
	return &b, nil
}

// Insert creates a booking row. The pipeline uses this to synthesize an
// attended, checked-in booking; this is a deliberate, auditable side effect
// of task resolution, not a precondition failure.
func (r *BookingRepository) Insert(ctx context.Context, b *types.Booking) error {
	if b.ID == "" {
		b.ID = "bkg_" + uuid.New().String()
	}
	if b.Status == "" {
		b.Status = types.BookingStatusAttended
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO bookings (id, event_id, user_id, status, checked_in, created_at)
		 VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`,
		b.ID,
		b.EventID,
		b.UserID,
		string(b.Status),
		b.CheckedIn,
		nilIfZeroTime(b.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert booking", err)
	}
	return nil
}
