package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"medevent/internal/core"
	"medevent/internal/types"
)

// CertificatesHandler exposes the generation capability on the internal
// surface. Callers are the batch processor's callback and operator tooling;
// the route sits behind the internal-token middleware.
type CertificatesHandler struct {
	generator CertificateGenerator
	validator *core.Validator
	logger    *slog.Logger
}

// NewCertificatesHandler creates the internal generation handler.
func NewCertificatesHandler(generator CertificateGenerator, validator *core.Validator, logger *slog.Logger) *CertificatesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CertificatesHandler{generator: generator, validator: validator, logger: logger}
}

// Routes registers the generation endpoint.
func (h *CertificatesHandler) Routes(r chi.Router) {
	r.Post("/certificates/generate", h.handleGenerate)
}

// handleGenerate issues one certificate. The operation is idempotent; a
// request for an already-certified attendee succeeds with already_existed
// set rather than erroring, so retrying callers never have to distinguish
// the two outcomes.
func (h *CertificatesHandler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req types.GenerateRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.generator.Generate(r.Context(), req)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.AlreadyExisted {
		status = http.StatusOK
	}
	core.JSON(w, r, status, core.APIResponse{Data: result})
}
