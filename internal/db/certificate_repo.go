package db

import (
	"context"

	"github.com/google/uuid"

	"medevent/internal/types"
)

// CertificateRepository provides data access for the certificates table.
//
// Schema contract:
//
//	certificates (
//	  id              TEXT PRIMARY KEY,          -- "cert_" || uuid
//	  event_id        TEXT NOT NULL,
//	  user_id         TEXT NOT NULL,
//	  booking_id      TEXT NOT NULL,
//	  template_id     TEXT NOT NULL,
//	  certificate_url TEXT NOT NULL,
//	  generated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	  sent_via_email  BOOLEAN NOT NULL DEFAULT FALSE,
//	  email_sent_at   TIMESTAMPTZ,
//	  UNIQUE (event_id, user_id)
//	)
//
// The UNIQUE (event_id, user_id) constraint is the second idempotency layer.
// Certificates can also be created through the feedback path without any
// cert_tasks row, so task uniqueness alone cannot guarantee at-most-one
// artifact; the constraint closes the check-then-insert race for good.
type CertificateRepository struct {
	db DBTX
}

// NewCertificateRepository creates a new CertificateRepository backed by the
// given database connection (pool or transaction).
func NewCertificateRepository(db DBTX) *CertificateRepository {
	return &CertificateRepository{db: db}
}

// ExistsFor reports whether a certificate already exists for the attendee of
// the event. This read-side check lets the batch processor resolve a task as
// skipped without spending a render.
func (r *CertificateRepository) ExistsFor(ctx context.Context, eventID, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM certificates WHERE event_id = $1 AND user_id = $2
		 )`,
		eventID,
		userID,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check certificate existence", err)
	}
	return exists, nil
}

// Insert creates a certificate row. A fresh prefixed UUID is generated when
// the ID is empty; IDs are never reused across retries. A unique violation on
// (event_id, user_id) is returned as ErrCodeConflictCertificateExists so
// racing writers can treat the loss as a benign duplicate.
func (r *CertificateRepository) Insert(ctx context.Context, c *types.Certificate) error {
	if c.ID == "" {
		c.ID = "cert_" + uuid.New().String()
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO certificates
		 (id, event_id, user_id, booking_id, template_id, certificate_url,
		  generated_at, sent_via_email, email_sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()), $8, $9)`,
		c.ID,
		c.EventID,
		c.UserID,
		c.BookingID,
		c.TemplateID,
		c.CertificateURL,
		nilIfZeroTime(c.GeneratedAt),
		c.SentViaEmail,
		nilIfZeroTime(c.EmailSentAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictCertificateExists,
				"certificate already exists for this event and attendee", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert certificate", err)
	}
	return nil
}

// MarkEmailSent records that the certificate email went out.
func (r *CertificateRepository) MarkEmailSent(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE certificates
		 SET sent_via_email = TRUE, email_sent_at = NOW()
		 WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark certificate email sent", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundCertificate, "certificate not found", nil)
	}
	return nil
}
