package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"medevent/internal/config"
)

// RouteRegistrar registers a group of domain routes on the router. The
// indirection keeps core free of handler imports; main wires the two
// together.
type RouteRegistrar func(r chi.Router)

// Server is the API chassis: configuration, logger, validator, and the chi
// router with the global middleware chain.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	router *chi.Mux
}

// NewServer builds a server ready for route mounting.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(),
		router:    chi.NewRouter(),
	}, nil
}

// MountRoutes applies the global middleware chain and registers routes.
// Middleware order matters: the recoverer sits outermost, the request id
// must exist before the logger runs, and InternalAuth applies only inside
// the /internal group.
func (s *Server) MountRoutes(public []RouteRegistrar, internal []RouteRegistrar) {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestID)
	s.router.Use(RequestLogger(s.Logger))

	s.router.Get("/health", s.handleHealth)

	for _, register := range public {
		register(s.router)
	}

	s.router.Route("/internal", func(r chi.Router) {
		r.Use(s.InternalAuth)
		for _, register := range internal {
			register(r)
		}
	})
}

// Handler returns the router for http.ListenAndServe or a Lambda adapter.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the chi mux for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, APIResponse{Data: map[string]string{
		"status":      "ok",
		"environment": s.Config.Environment,
		"service":     s.Config.Service,
	}})
}

// Shutdown releases server-held resources. Connection pools are owned by
// main and closed there.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")
	return nil
}
