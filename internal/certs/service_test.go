package certs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medevent/internal/external"
	"medevent/internal/types"
)

type mockCertStore struct {
	mu        sync.Mutex
	existing  map[string]bool // "eventID/userID"
	inserted  []*types.Certificate
	emailSent []string
	insertErr error
}

func newMockCertStore() *mockCertStore {
	return &mockCertStore{existing: make(map[string]bool)}
}

func (m *mockCertStore) ExistsFor(_ context.Context, eventID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.existing[eventID+"/"+userID], nil
}

func (m *mockCertStore) Insert(_ context.Context, c *types.Certificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	if m.existing[c.EventID+"/"+c.UserID] {
		return types.NewAppError(types.ErrCodeConflictCertificateExists, "certificate already exists", nil)
	}
	m.existing[c.EventID+"/"+c.UserID] = true
	cp := *c
	m.inserted = append(m.inserted, &cp)
	return nil
}

func (m *mockCertStore) MarkEmailSent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emailSent = append(m.emailSent, id)
	return nil
}

type mockBookings struct {
	mu       sync.Mutex
	existing map[string]*types.Booking
	inserted []*types.Booking
	nextID   int
}

func (m *mockBookings) FindActive(_ context.Context, eventID, userID string) (*types.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.existing[eventID+"/"+userID]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, nil
}

func (m *mockBookings) Insert(_ context.Context, b *types.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	b.ID = fmt.Sprintf("bkg_%d", m.nextID)
	cp := *b
	m.inserted = append(m.inserted, &cp)
	return nil
}

type mockEvents struct{ events map[string]*types.Event }

func (m *mockEvents) GetByID(_ context.Context, id string) (*types.Event, error) {
	if ev, ok := m.events[id]; ok {
		cp := *ev
		return &cp, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundEvent, "event not found", nil)
}

type mockUsers struct{ users map[string]*types.User }

func (m *mockUsers) GetByID(_ context.Context, id string) (*types.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
}

type mockRenderer struct {
	mu       sync.Mutex
	requests []external.RenderRequest
	err      error
}

func (m *mockRenderer) Render(_ context.Context, req external.RenderRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.requests = append(m.requests, req)
	return "https://cdn.medevent.io/certs/" + req.CertificateID + ".pdf", nil
}

type mockEmails struct {
	mu        sync.Mutex
	published []types.EmailMessage
	err       error
}

func (m *mockEmails) PublishEmail(_ context.Context, msg types.EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, msg)
	return nil
}

type serviceFixture struct {
	certs    *mockCertStore
	bookings *mockBookings
	events   *mockEvents
	users    *mockUsers
	renderer *mockRenderer
	emails   *mockEmails
	service  *Service
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		certs:    newMockCertStore(),
		bookings: &mockBookings{existing: make(map[string]*types.Booking)},
		events: &mockEvents{events: map[string]*types.Event{
			"evt_1": {
				ID:                      "evt_1",
				Title:                   "Advanced Cardiology Workshop",
				Date:                    time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC),
				AutoGenerateCertificate: true,
				CertificateTemplateID:   "tpl_1",
			},
		}},
		users: &mockUsers{users: map[string]*types.User{
			"usr_1": {ID: "usr_1", Email: "ana@example.org", FullName: "Ana Ruiz"},
		}},
		renderer: &mockRenderer{},
		emails:   &mockEmails{},
	}
	f.service = NewService(ServiceConfig{
		Certificates: f.certs,
		Bookings:     f.bookings,
		Events:       f.events,
		Users:        f.users,
		Renderer:     f.renderer,
		Emails:       f.emails,
		EmailEnabled: true,
	})
	return f
}

func TestGenerateIssuesCertificate(t *testing.T) {
	f := newServiceFixture()

	result, err := f.service.Generate(context.Background(), types.GenerateRequest{
		EventID:    "evt_1",
		UserID:     "usr_1",
		BookingID:  "bkg_9",
		TemplateID: "tpl_1",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.CertificateID)
	assert.Contains(t, result.CertificateURL, result.CertificateID)
	assert.False(t, result.AlreadyExisted)
	assert.False(t, result.EmailSent)

	require.Len(t, f.certs.inserted, 1)
	cert := f.certs.inserted[0]
	assert.Equal(t, "bkg_9", cert.BookingID)
	assert.Equal(t, "tpl_1", cert.TemplateID)

	require.Len(t, f.renderer.requests, 1)
	assert.Equal(t, "Ana Ruiz", f.renderer.requests[0].AttendeeName)
	assert.Equal(t, "2026-07-10", f.renderer.requests[0].EventDate)
}

func TestGenerateShortCircuitsOnExistingCertificate(t *testing.T) {
	f := newServiceFixture()
	f.certs.existing["evt_1/usr_1"] = true

	result, err := f.service.Generate(context.Background(), types.GenerateRequest{
		EventID: "evt_1", UserID: "usr_1", BookingID: "bkg_9", TemplateID: "tpl_1",
	})
	require.NoError(t, err)

	assert.True(t, result.AlreadyExisted)
	assert.Empty(t, f.renderer.requests, "no render is spent on a duplicate")
	assert.Empty(t, f.certs.inserted)
}

func TestGenerateLostInsertRaceIsBenign(t *testing.T) {
	f := newServiceFixture()
	f.certs.insertErr = types.NewAppError(types.ErrCodeConflictCertificateExists, "certificate already exists", nil)

	result, err := f.service.Generate(context.Background(), types.GenerateRequest{
		EventID: "evt_1", UserID: "usr_1", BookingID: "bkg_9", TemplateID: "tpl_1",
	})
	require.NoError(t, err, "losing the unique-constraint race is success")
	assert.True(t, result.AlreadyExisted)
}

func TestGenerateResolvesBooking(t *testing.T) {
	t.Run("reuses the active booking", func(t *testing.T) {
		f := newServiceFixture()
		f.bookings.existing["evt_1/usr_1"] = &types.Booking{ID: "bkg_77", EventID: "evt_1", UserID: "usr_1"}

		_, err := f.service.Generate(context.Background(), types.GenerateRequest{
			EventID: "evt_1", UserID: "usr_1", TemplateID: "tpl_1",
		})
		require.NoError(t, err)
		assert.Equal(t, "bkg_77", f.certs.inserted[0].BookingID)
		assert.Empty(t, f.bookings.inserted)
	})

	t.Run("synthesizes one for walk-ins", func(t *testing.T) {
		f := newServiceFixture()

		_, err := f.service.Generate(context.Background(), types.GenerateRequest{
			EventID: "evt_1", UserID: "usr_1", TemplateID: "tpl_1",
		})
		require.NoError(t, err)

		require.Len(t, f.bookings.inserted, 1)
		b := f.bookings.inserted[0]
		assert.Equal(t, types.BookingStatusAttended, b.Status)
		assert.True(t, b.CheckedIn)
		assert.Equal(t, b.ID, f.certs.inserted[0].BookingID)
	})
}

func TestGenerateFallsBackToEventTemplate(t *testing.T) {
	f := newServiceFixture()

	_, err := f.service.Generate(context.Background(), types.GenerateRequest{
		EventID: "evt_1", UserID: "usr_1", BookingID: "bkg_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "tpl_1", f.certs.inserted[0].TemplateID)
}

func TestGenerateSendEmail(t *testing.T) {
	f := newServiceFixture()

	result, err := f.service.Generate(context.Background(), types.GenerateRequest{
		EventID: "evt_1", UserID: "usr_1", BookingID: "bkg_1", TemplateID: "tpl_1", SendEmail: true,
	})
	require.NoError(t, err)
	assert.True(t, result.EmailSent)

	require.Len(t, f.emails.published, 1)
	msg := f.emails.published[0]
	assert.Equal(t, types.EmailCertificateIssued, msg.Kind)
	assert.Equal(t, "ana@example.org", msg.To)
	assert.Equal(t, result.CertificateURL, msg.CertificateURL)

	require.Len(t, f.certs.emailSent, 1)
	assert.Equal(t, result.CertificateID, f.certs.emailSent[0])
}

func TestGenerateEmailFailureDoesNotFailGeneration(t *testing.T) {
	f := newServiceFixture()
	f.emails.err = errors.New("queue unavailable")

	result, err := f.service.Generate(context.Background(), types.GenerateRequest{
		EventID: "evt_1", UserID: "usr_1", BookingID: "bkg_1", TemplateID: "tpl_1", SendEmail: true,
	})
	require.NoError(t, err, "email dispatch is fire-and-forget")
	assert.False(t, result.EmailSent)
	assert.Empty(t, f.certs.emailSent, "unsent certificates stay flagged for a later re-send")
}

func TestGenerateRendererFailurePropagates(t *testing.T) {
	f := newServiceFixture()
	f.renderer.err = types.NewAppError(types.ErrCodeUpstreamRenderer, "renderer returned 502: upstream timeout", nil)

	_, err := f.service.Generate(context.Background(), types.GenerateRequest{
		EventID: "evt_1", UserID: "usr_1", BookingID: "bkg_1", TemplateID: "tpl_1",
	})
	require.Error(t, err)
	assert.Empty(t, f.certs.inserted, "nothing is persisted without an artifact")
}

func TestGenerateUnknownEvent(t *testing.T) {
	f := newServiceFixture()

	_, err := f.service.Generate(context.Background(), types.GenerateRequest{
		EventID: "evt_gone", UserID: "usr_1", BookingID: "bkg_1", TemplateID: "tpl_1",
	})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundEvent, appErr.Code)
}
