// Package certs implements the certificate generation capability behind the
// internal generation endpoint. It is transport-agnostic: the HTTP handler
// and the feedback trigger both call into Service.
package certs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"medevent/internal/external"
	"medevent/internal/types"
)

// CertificateStore is the persistence surface for issued certificates.
type CertificateStore interface {
	ExistsFor(ctx context.Context, eventID, userID string) (bool, error)
	Insert(ctx context.Context, c *types.Certificate) error
	MarkEmailSent(ctx context.Context, id string) error
}

// BookingStore resolves or synthesizes the attendance record referenced by
// the certificate.
type BookingStore interface {
	FindActive(ctx context.Context, eventID, userID string) (*types.Booking, error)
	Insert(ctx context.Context, b *types.Booking) error
}

// EventLoader resolves events by id.
type EventLoader interface {
	GetByID(ctx context.Context, id string) (*types.Event, error)
}

// UserDirectory resolves attendees.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
}

// Renderer composites the certificate artifact and returns its URL.
type Renderer interface {
	Render(ctx context.Context, req external.RenderRequest) (string, error)
}

// EmailDispatcher hands the certificate email off for asynchronous delivery.
type EmailDispatcher interface {
	PublishEmail(ctx context.Context, msg types.EmailMessage) error
}

// Service generates certificates: existence check, booking resolution,
// artifact rendering, persistence, and the optional issue email.
type Service struct {
	certificates CertificateStore
	bookings     BookingStore
	events       EventLoader
	users        UserDirectory
	renderer     Renderer
	emails       EmailDispatcher
	emailEnabled bool
	logger       *slog.Logger
}

// ServiceConfig carries the dependencies for NewService.
type ServiceConfig struct {
	Certificates CertificateStore
	Bookings     BookingStore
	Events       EventLoader
	Users        UserDirectory
	Renderer     Renderer
	Emails       EmailDispatcher
	// EmailEnabled gates certificate emails globally, independent of the
	// per-event auto-send flag.
	EmailEnabled bool
	Logger       *slog.Logger
}

// NewService creates the generation service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		certificates: cfg.Certificates,
		bookings:     cfg.Bookings,
		events:       cfg.Events,
		users:        cfg.Users,
		renderer:     cfg.Renderer,
		emails:       cfg.Emails,
		emailEnabled: cfg.EmailEnabled,
		logger:       logger,
	}
}

// Generate issues one certificate for the requested event/attendee pair.
//
// The operation is idempotent at two layers: an up-front existence check
// short-circuits the common re-run, and the database's unique constraint on
// (event_id, user_id) absorbs the remaining race. A lost insert race is a
// success from the caller's perspective, reported via AlreadyExisted.
//
// An empty BookingID is resolved here: the attendee's active booking is
// reused, or an attended, checked-in record is synthesized for walk-ins.
func (s *Service) Generate(ctx context.Context, req types.GenerateRequest) (*types.GenerateResult, error) {
	event, err := s.events.GetByID(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	exists, err := s.certificates.ExistsFor(ctx, req.EventID, req.UserID)
	if err != nil {
		return nil, err
	}
	if exists {
		s.logger.InfoContext(ctx, "certificate already issued, skipping render",
			"event_id", req.EventID, "user_id", req.UserID)
		return &types.GenerateResult{AlreadyExisted: true}, nil
	}

	bookingID := req.BookingID
	if bookingID == "" {
		bookingID, err = s.resolveBooking(ctx, req.EventID, req.UserID)
		if err != nil {
			return nil, err
		}
	}

	templateID := req.TemplateID
	if templateID == "" {
		templateID = event.CertificateTemplateID
	}
	if templateID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField,
			"event has no certificate template assigned", nil)
	}

	cert := &types.Certificate{
		ID:         "cert_" + uuid.New().String(),
		EventID:    req.EventID,
		UserID:     req.UserID,
		BookingID:  bookingID,
		TemplateID: templateID,
	}

	renderReq := external.RenderRequest{
		TemplateID:    templateID,
		EventID:       event.ID,
		UserID:        user.ID,
		AttendeeName:  user.FullName,
		EventTitle:    event.Title,
		CertificateID: cert.ID,
	}
	if !event.Date.IsZero() {
		renderReq.EventDate = event.Date.UTC().Format("2006-01-02")
	}
	cert.CertificateURL, err = s.renderer.Render(ctx, renderReq)
	if err != nil {
		return nil, err
	}

	if err := s.certificates.Insert(ctx, cert); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictCertificateExists {
			// A concurrent writer got there first; the rendered artifact is
			// orphaned but the outcome is correct.
			s.logger.InfoContext(ctx, "lost certificate insert race, treating as issued",
				"event_id", req.EventID, "user_id", req.UserID)
			return &types.GenerateResult{AlreadyExisted: true}, nil
		}
		return nil, err
	}

	result := &types.GenerateResult{
		CertificateID:  cert.ID,
		CertificateURL: cert.CertificateURL,
	}
	if req.SendEmail && s.emailEnabled {
		result.EmailSent = s.dispatchEmail(ctx, event, user, cert)
	}

	s.logger.InfoContext(ctx, "certificate issued",
		"event_id", req.EventID, "user_id", req.UserID,
		"certificate_id", cert.ID, "email_sent", result.EmailSent)
	return result, nil
}

func (s *Service) resolveBooking(ctx context.Context, eventID, userID string) (string, error) {
	booking, err := s.bookings.FindActive(ctx, eventID, userID)
	if err != nil {
		return "", err
	}
	if booking != nil {
		return booking.ID, nil
	}

	booking = &types.Booking{
		EventID:   eventID,
		UserID:    userID,
		Status:    types.BookingStatusAttended,
		CheckedIn: true,
	}
	if err := s.bookings.Insert(ctx, booking); err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "synthesized attendance booking",
		"event_id", eventID, "user_id", userID, "booking_id", booking.ID)
	return booking.ID, nil
}

// dispatchEmail queues the issue email and records the send. Failures leave
// the certificate intact and unsent; the flag stays false so a later re-send
// sweep can pick it up.
func (s *Service) dispatchEmail(ctx context.Context, event *types.Event, user *types.User, cert *types.Certificate) bool {
	msg := types.EmailMessage{
		Kind:           types.EmailCertificateIssued,
		EventID:        event.ID,
		UserID:         user.ID,
		To:             user.Email,
		RecipientName:  user.FullName,
		EventTitle:     event.Title,
		CertificateURL: cert.CertificateURL,
	}
	if !event.Date.IsZero() {
		msg.EventDate = event.Date.UTC().Format("2006-01-02")
	}

	if err := s.emails.PublishEmail(ctx, msg); err != nil {
		s.logger.ErrorContext(ctx, "failed to queue certificate email",
			"certificate_id", cert.ID, "user_id", user.ID, "error", err)
		return false
	}
	if err := s.certificates.MarkEmailSent(ctx, cert.ID); err != nil {
		s.logger.ErrorContext(ctx, "failed to record certificate email send",
			"certificate_id", cert.ID, "error", err)
	}
	cert.SentViaEmail = true
	cert.EmailSentAt = time.Now().UTC()
	return true
}
