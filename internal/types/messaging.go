package types

import "time"

// EmailMessage is the payload published to the email SQS queue for
// fire-and-forget dispatches. Delivery failures are the email worker's
// problem; nothing in the certificate task state machine depends on them.
type EmailMessage struct {
	Kind          EmailKind `json:"kind"`
	EventID       string    `json:"event_id"`
	UserID        string    `json:"user_id"`
	To            string    `json:"to"`
	RecipientName string    `json:"recipient_name"`
	EventTitle    string    `json:"event_title"`
	EventDate     string    `json:"event_date,omitempty"` // YYYY-MM-DD, for template copy
	// CertificateURL is set only for certificate_issued messages.
	CertificateURL string `json:"certificate_url,omitempty"`
	TraceID        string `json:"trace_id"`
}

// EmailAddress is a sender or recipient identity.
type EmailAddress struct {
	Name    string
	Address string
}

// SendInput is one fully rendered email handed to the delivery provider.
// Template selection and rendering happen upstream in the email worker; the
// provider only transmits.
type SendInput struct {
	From     EmailAddress
	To       string
	Subject  string
	BodyHTML string
	BodyText string
	// TraceID correlates the delivery with the originating dispatch.
	TraceID string
}

// GenerateRequest is the body of the internal certificate-generation call.
// It is produced by the batch processor (and the feedback trigger) and
// consumed by the generation endpoint.
type GenerateRequest struct {
	EventID string `json:"event_id" validate:"required"`
	UserID  string `json:"user_id" validate:"required"`
	// BookingID is optional; when empty the generation service resolves the
	// attendee's active booking or synthesizes one.
	BookingID string `json:"booking_id,omitempty"`
	// TemplateID is optional; when empty the event's assigned template is
	// used.
	TemplateID string `json:"template_id,omitempty"`
	SendEmail  bool   `json:"send_email"`
}

// GenerateResult is the generation endpoint's success payload.
type GenerateResult struct {
	CertificateID  string `json:"certificate_id"`
	CertificateURL string `json:"certificate_url"`
	EmailSent      bool   `json:"email_sent"`
	// AlreadyExisted is true when the existence check short-circuited and no
	// new artifact was rendered.
	AlreadyExisted bool `json:"already_existed"`
}

// ProcessSummary is the batch processor's per-invocation result. The counts
// cover only the tasks claimed by that invocation.
type ProcessSummary struct {
	Generated      int       `json:"generated"`
	Skipped        int       `json:"skipped"`
	Emailed        int       `json:"emailed"`
	Failed         int       `json:"failed"`
	TasksProcessed int       `json:"tasks_processed"`
	Now            time.Time `json:"now"`
}
