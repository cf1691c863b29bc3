// Package types defines the shared domain model for the MedEvent certificate
// pipeline: events, bookings, scheduled tasks, certificates, the application
// error taxonomy, and the message shapes exchanged with workers.
package types

import "time"

// Event carries the subset of the events table the certificate pipeline
// reads. Scheduling fields are stored separately (a date plus optional
// HH:MM:SS strings) because events are created in local wall-clock terms and
// normalized to UTC only when a run time is computed.
type Event struct {
	ID    string
	Title string

	// Date is the calendar day of the event (midnight UTC). Zero when the
	// organizer has not scheduled it yet.
	Date      time.Time
	StartTime string // "HH:MM:SS", empty when unset
	EndTime   string // "HH:MM:SS", empty when unset

	// Certificate policy flags.
	AutoGenerateCertificate        bool
	CertificateTemplateID          string // empty when no template is assigned
	FeedbackRequiredForCertificate bool
	CertificateAutoSendEmail       bool

	// Independent engagement flags driving the post-scan email selection.
	FeedbackEnabled bool
	BookingEnabled  bool
}

// HasCertificatePolicy reports whether the event is configured for automatic
// certificate generation at all: the flag is on and a template is assigned.
func (e *Event) HasCertificatePolicy() bool {
	return e.AutoGenerateCertificate && e.CertificateTemplateID != ""
}

// Task is one row of the cert_tasks table: a unit of scheduled work.
//
// A task with an empty UserID is a fan-out marker: its resolution step
// discovers every successfully scanned attendee of the event and creates one
// concrete per-user task each. Concrete tasks carry the attendee directly.
type Task struct {
	ID             string
	TaskType       TaskType
	EventID        string
	UserID         string // empty marks a fan-out task
	IdempotencyKey string
	Status         TaskStatus
	RunAt          time.Time
	ProcessedAt    time.Time // zero until the task leaves pending
	ErrorMessage   string    // set only on failed
	CreatedAt      time.Time
}

// IsFanOut reports whether the task is a fan-out marker rather than a
// concrete per-user unit of work.
func (t *Task) IsFanOut() bool {
	return t.UserID == ""
}

// Certificate is one row of the certificates table: a successfully rendered
// artifact for an (event, attendee) pair. The table carries a unique
// constraint on (event_id, user_id); the ID is generated fresh at creation
// and never reused across retries.
type Certificate struct {
	ID             string
	EventID        string
	UserID         string
	BookingID      string
	TemplateID     string
	CertificateURL string
	GeneratedAt    time.Time
	SentViaEmail   bool
	EmailSentAt    time.Time // zero unless SentViaEmail
}

// Booking is an attendance record. The pipeline does not own bookings but
// will synthesize one (status attended, checked in) when a task resolves an
// attendee who was never booked, so the certificate has a booking reference.
type Booking struct {
	ID        string
	EventID   string
	UserID    string
	Status    BookingStatus
	CheckedIn bool
	CreatedAt time.Time
}

// User carries the attendee fields needed for email delivery.
type User struct {
	ID       string
	Email    string
	FullName string
	Role     UserRole
}

// JobRecord tracks one sweep execution in the job_history table for
// operational visibility.
type JobRecord struct {
	ID         int64
	JobType    string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	ItemsCount int
	Error      string
}
