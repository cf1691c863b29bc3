// Package handlers contains the HTTP handlers of the certificate pipeline:
// the attendance-scan hook, the feedback trigger, the internal generation
// endpoint, and the internal cron sweep.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"medevent/internal/core"
	"medevent/internal/types"
)

// EventLoader resolves events by id.
type EventLoader interface {
	GetByID(ctx context.Context, id string) (*types.Event, error)
}

// ScanPolicy is the scan-time scheduling decision applied after a successful
// attendance scan.
type ScanPolicy interface {
	HandleScan(ctx context.Context, event *types.Event, userID string, now time.Time)
}

// ScanHandler is the post-scan hook. The scan itself (QR validation,
// persistence) happens upstream in the platform; this handler applies the
// certificate and email side effects.
type ScanHandler struct {
	events    EventLoader
	policy    ScanPolicy
	validator *core.Validator
	logger    *slog.Logger
}

// NewScanHandler creates the scan hook handler.
func NewScanHandler(events EventLoader, policy ScanPolicy, validator *core.Validator, logger *slog.Logger) *ScanHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScanHandler{events: events, policy: policy, validator: validator, logger: logger}
}

// Routes registers the scan hook.
func (h *ScanHandler) Routes(r chi.Router) {
	r.Post("/events/{eventID}/scans", h.handleScan)
}

type scanRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// handleScan applies the enqueue policy for one scanned attendee. Policy
// failures never surface here: the attendee is standing at the door and the
// scan response must not depend on certificate bookkeeping.
func (h *ScanHandler) handleScan(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	if eventID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidID, "event id is required", nil))
		return
	}

	var req scanRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	event, err := h.events.GetByID(r.Context(), eventID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.policy.HandleScan(r.Context(), event, req.UserID, time.Now().UTC())

	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: map[string]string{
		"status": "recorded",
	}})
}
