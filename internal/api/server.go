// Package api exposes the secure-session REST surface: session creation,
// consent, command execution, termination, lookup, and administrative room
// eviction. Signaling itself stays on the WebSocket endpoint; this API only
// drives the session state machine.
package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/crossdesk/relay/internal/auth"
	"github.com/crossdesk/relay/internal/config"
	"github.com/crossdesk/relay/internal/rooms"
	"github.com/crossdesk/relay/internal/session"
)

type Server struct {
	cfg      config.Config
	verifier auth.Verifier
	sessions *session.Manager
	registry *rooms.Registry
	logger   *slog.Logger
}

func NewServer(cfg config.Config, verifier auth.Verifier, sessions *session.Manager, registry *rooms.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		verifier: verifier,
		sessions: sessions,
		registry: registry,
		logger:   logger,
	}
}

// Router returns the /api/v1 route tree. Every route sits behind the bearer
// credential check.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Post("/consent", s.handleConsent)
				r.Post("/commands", s.handleExecuteCommand)
				r.Post("/terminate", s.handleTerminate)
			})
		})

		r.Delete("/rooms/{name}", s.handleEvictRoom)
	})

	return r
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential := bearerToken(r)
		if _, err := s.verifier.Verify(credential); err != nil {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}
