// Package api exposes the escrow engine and the chat assistant over HTTP.
//
// Responses share one envelope: {"success", "message", "data"}. Domain
// rejections are 422 with the engine's message, unknown records 404, an
// exhausted chat quota 429, a missing or bad token 401 and everything
// unexpected 500 with a generic message.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/assistant"
)

// SessionHeader carries the guest chat session.
const SessionHeader = "X-Session-ID"

// Server holds the handlers.
type Server struct {
	engine  *escrow.Engine
	chat    *assistant.Assistant
	auth    *Authenticator
	logger  *slog.Logger
	timeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithTimeout bounds each request. Zero disables the limit.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// New creates a Server.
func New(engine *escrow.Engine, chat *assistant.Assistant, auth *Authenticator, opts ...Option) *Server {
	s := &Server{
		engine:  engine,
		chat:    chat,
		auth:    auth,
		logger:  slog.Default(),
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the full router with middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	if s.timeout > 0 {
		r.Use(middleware.Timeout(s.timeout))
	}

	s.Routes(r)
	return r
}

// Routes mounts the endpoints on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.health)

	// Guests and members alike; the assistant decides the tier.
	r.With(s.identify(false)).Post("/chat/send", s.sendChat)

	r.Group(func(r chi.Router) {
		r.Use(s.identify(true))

		r.Route("/rci", func(r chi.Router) {
			r.Post("/chat", s.sendChat)
			r.Post("/topup", s.topUp)
			r.Post("/upgrade", s.subscribePro)
			r.Post("/escrow/start", s.lockFunds)
			r.Post("/escrow/release", s.releaseFunds)
		})

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/", s.walletSummary)
			r.Get("/transactions", s.walletHistory)
		})

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/status", s.subscriptionStatus)
			r.Post("/pro", s.subscribePro)
			r.Post("/pro/renew", s.renewPro)
		})

		r.Post("/membership/upgrade", s.upgradeMembership)

		r.Route("/cases", func(r chi.Router) {
			r.Post("/", s.openCase)
			r.Get("/{id}", s.getCase)
			r.Post("/{id}/status", s.setCaseStatus)
			r.Post("/{id}/apply", s.applyToCase)
		})
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Store().Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, Envelope{Success: false, Message: "store unavailable"})
		return
	}
	ok(w, "OK", nil)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
