package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"medevent/internal/core"
	"medevent/internal/pipeline"
	"medevent/internal/types"
)

// CertificateGenerator issues a certificate for one event/attendee pair.
type CertificateGenerator interface {
	Generate(ctx context.Context, req types.GenerateRequest) (*types.GenerateResult, error)
}

// FeedbackHandler accepts feedback submissions. Feedback content itself is
// stored by the platform's survey system; this handler exists for the
// certificate trigger: events that gate certificates on feedback generate
// immediately when the feedback arrives.
type FeedbackHandler struct {
	events    EventLoader
	generator CertificateGenerator
	validator *core.Validator
	logger    *slog.Logger
}

// NewFeedbackHandler creates the feedback trigger handler.
func NewFeedbackHandler(events EventLoader, generator CertificateGenerator, validator *core.Validator, logger *slog.Logger) *FeedbackHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedbackHandler{events: events, generator: generator, validator: validator, logger: logger}
}

// Routes registers the feedback endpoint.
func (h *FeedbackHandler) Routes(r chi.Router) {
	r.Post("/events/{eventID}/feedback", h.handleFeedback)
}

type feedbackRequest struct {
	UserID  string `json:"user_id" validate:"required"`
	Rating  int    `json:"rating" validate:"omitempty,min=1,max=5"`
	Comment string `json:"comment" validate:"omitempty,max=4000"`
}

type feedbackResponse struct {
	Status      string                `json:"status"`
	Certificate *types.GenerateResult `json:"certificate,omitempty"`
}

// handleFeedback acknowledges the submission and, for feedback-gated events
// with auto-generation enabled, generates the certificate on the spot. A
// generation failure is logged and omitted from the response; the feedback
// acknowledgment itself never fails because of it.
func (h *FeedbackHandler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	if eventID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidID, "event id is required", nil))
		return
	}

	var req feedbackRequest
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

	resp := feedbackResponse{Status: "received"}
	if pipeline.ShouldGenerateOnFeedback(event) {
		result, genErr := h.generator.Generate(r.Context(), types.GenerateRequest{
			EventID:   event.ID,
			UserID:    req.UserID,
			SendEmail: event.CertificateAutoSendEmail,
		})
		if genErr != nil {
			h.logger.ErrorContext(r.Context(), "feedback-triggered generation failed",
				"event_id", event.ID, "user_id", req.UserID, "error", genErr)
		} else if !result.AlreadyExisted {
			resp.Certificate = result
		}
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: resp})
}
