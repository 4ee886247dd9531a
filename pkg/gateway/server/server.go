package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vango-go/vai-live/pkg/core/live"
	"github.com/vango-go/vai-live/pkg/gateway/config"
	"github.com/vango-go/vai-live/pkg/gateway/handlers"
	"github.com/vango-go/vai-live/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-live/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-live/pkg/gateway/metrics"
	"github.com/vango-go/vai-live/pkg/gateway/mw"
	"github.com/vango-go/vai-live/pkg/gateway/profiles"
	"github.com/vango-go/vai-live/pkg/gateway/recordings"
	"github.com/vango-go/vai-live/pkg/gateway/tokens"
)

// Dependencies are the long-lived components shared by all requests.
type Dependencies struct {
	Dialer     live.Dialer
	Profiles   *profiles.Registry
	Tokens     *tokens.Store
	Recordings recordings.Sink
	Metrics    *metrics.Metrics
	Lifecycle  *lifecycle.Lifecycle
	Sessions   *sessions.Tracker
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	deps   Dependencies
	router chi.Router
}

func New(cfg config.Config, logger *slog.Logger, deps Dependencies) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = &lifecycle.Lifecycle{}
	}
	if deps.Sessions == nil {
		deps.Sessions = sessions.NewTracker()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		deps:   deps,
		router: chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.NotFound(handlers.NotFoundHandler{}.ServeHTTP)
	r.MethodNotAllowed(handlers.MethodNotAllowedHandler{}.ServeHTTP)

	r.Method(http.MethodGet, "/health", handlers.HealthHandler{})
	r.Method(http.MethodGet, "/healthz", handlers.LivenessHandler{})
	r.Method(http.MethodGet, "/readyz", handlers.ReadyHandler{
		Config:    s.cfg,
		Lifecycle: s.deps.Lifecycle,
		Sessions:  s.deps.Sessions,
	})

	r.Method(http.MethodGet, "/ws", handlers.LiveHandler{
		Config:       s.cfg,
		Dialer:       s.deps.Dialer,
		Profiles:     s.deps.Profiles,
		Tokens:       s.deps.Tokens,
		Logger:       s.logger,
		Metrics:      s.deps.Metrics,
		Lifecycle:    s.deps.Lifecycle,
		LiveSessions: s.deps.Sessions,
	})

	r.Method(http.MethodPost, "/api/recordings", handlers.RecordingsHandler{
		Tokens:   s.deps.Tokens,
		Sink:     s.deps.Recordings,
		MaxBytes: s.cfg.UploadMaxBytes,
		Logger:   s.logger,
		Metrics:  s.deps.Metrics,
	})

	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}
}

// Lifecycle returns the drain state shared with the handlers.
func (s *Server) Lifecycle() *lifecycle.Lifecycle { return s.deps.Lifecycle }

// Sessions returns the live session tracker.
func (s *Server) Sessions() *sessions.Tracker { return s.deps.Sessions }

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
