package core

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"medevent/internal/auth"
	"medevent/internal/types"
)

// requestIDHeader is both read from inbound requests (gateway-assigned ids)
// and echoed on responses.
const requestIDHeader = "X-Request-Id"

// internalTokenHeader carries the service token for internal endpoints.
const internalTokenHeader = "X-Internal-Token"

// responseCapture records the status code written downstream so the logger
// can report it after the chain completes.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rc *responseCapture) WriteHeader(code int) {
	if !rc.written {
		rc.statusCode = code
		rc.written = true
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if !rc.written {
		rc.statusCode = http.StatusOK
		rc.written = true
	}
	return rc.ResponseWriter.Write(b)
}

func (rc *responseCapture) Unwrap() http.ResponseWriter {
	return rc.ResponseWriter
}

// RequestID attaches a request id to the context and response, reusing the
// inbound header when the gateway already assigned one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := types.WithRequestID(r.Context(), requestID)
		w.Header().Set(requestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Recoverer converts panics into logged 500 responses. It must sit outermost
// in the chain.
func (s *Server) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				s.Logger.Error("panic recovered",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("panic", fmt.Sprintf("%v", rvr)),
					slog.String("stack", string(debug.Stack())),
				)
				Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected,
					"an unexpected error occurred", nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs one line per request with method, path, status, and
// duration.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rc := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rc, r)

			logger.InfoContext(r.Context(), "request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rc.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", types.GetRequestID(r.Context())),
			)
		})
	}
}

// InternalAuth guards the internal routes (cron, generation callback) with
// the bcrypt-hashed service token. Requests carrying a valid token run as the
// system actor.
func (s *Server) InternalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(internalTokenHeader)
		if token == "" {
			// The worker's self-call authenticates with the bypass secret
			// instead of the operator token.
			if bypass := r.Header.Get("x-service-bypass"); bypass != "" &&
				auth.ConstantTimeEquals(bypass, s.Config.Generation.BypassSecret.Unmask()) {
				ctx := types.WithActor(r.Context(), types.Actor{Type: types.ActorTypeSystem})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}

		if err := auth.VerifyInternalToken(s.Config.Security.InternalTokenHash, token); err != nil {
			s.Logger.WarnContext(r.Context(), "internal endpoint rejected",
				slog.String("path", r.URL.Path))
			Error(w, r, err)
			return
		}

		ctx := types.WithActor(r.Context(), types.Actor{Type: types.ActorTypeSystem})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
