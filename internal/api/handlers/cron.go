package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"medevent/internal/core"
	"medevent/internal/pipeline"
	"medevent/internal/types"
)

// CronHandler is the HTTP face of the batch processor: the same sweep the
// scheduled worker runs, exposed for operator-triggered runs behind the
// internal token.
type CronHandler struct {
	processor *pipeline.BatchProcessor
	jobs      pipeline.JobHistory
	logger    *slog.Logger
}

// NewCronHandler creates the cron endpoint handler.
func NewCronHandler(processor *pipeline.BatchProcessor, jobs pipeline.JobHistory, logger *slog.Logger) *CronHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CronHandler{processor: processor, jobs: jobs, logger: logger}
}

// Routes registers the cron endpoint.
func (h *CronHandler) Routes(r chi.Router) {
	r.Post("/cron/certificates", h.handleSweep)
}

type cronRequest struct {
	// ReferenceTime overrides "now" for the sweep, RFC 3339. Used to drain
	// a backlog up to a known point in time.
	ReferenceTime string `json:"reference_time,omitempty"`
}

// handleSweep runs one bounded sweep and returns its summary. An empty body
// is allowed and means "run now".
func (h *CronHandler) handleSweep(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()

	// Decode regardless of Content-Length: chunked requests report -1, and
	// a reference_time sent that way still counts. An absent body reads as
	// io.EOF and means "run now".
	var req cronRequest
	if err := core.DecodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		core.Error(w, r, err)
		return
	}
	if req.ReferenceTime != "" {
		parsed, err := time.Parse(time.RFC3339, req.ReferenceTime)
		if err != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidTime,
				"reference_time must be RFC 3339", err))
			return
		}
		now = parsed.UTC()
	}

	summary, err := pipeline.RunSweep(r.Context(), h.processor, h.jobs, h.logger, now)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: summary})
}
