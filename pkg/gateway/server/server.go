// Package server wires the HTTP routes and middleware chain.
package server

import (
	"log/slog"
	"net/http"

	"github.com/swaralab/riyaz/pkg/gateway/config"
	"github.com/swaralab/riyaz/pkg/gateway/handlers"
	"github.com/swaralab/riyaz/pkg/gateway/metrics"
	"github.com/swaralab/riyaz/pkg/gateway/mw"
	"github.com/swaralab/riyaz/pkg/gateway/practice/session"
	"github.com/swaralab/riyaz/pkg/gateway/practice/sessions"
)

// Dependencies are the shared services behind the routes. Catalog,
// History, and Metrics may be nil when the matching feature is
// disabled.
type Dependencies struct {
	Logger   *slog.Logger
	Sessions *sessions.Tracker
	Catalog  session.CatalogResolver
	History  handlers.HistoryStore
	Metrics  *metrics.Metrics
}

type Server struct {
	cfg  config.Config
	deps Dependencies
	mux  *http.ServeMux
}

func New(cfg config.Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Sessions == nil {
		deps.Sessions = sessions.NewTracker()
	}

	s := &Server{
		cfg:  cfg,
		deps: deps,
		mux:  http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Sessions: s.deps.Sessions})

	if s.deps.Metrics != nil {
		s.mux.Handle("/metrics", s.deps.Metrics.Handler())
	}

	var sessionHistory session.HistoryRecorder
	if recorder, ok := s.deps.History.(session.HistoryRecorder); ok {
		sessionHistory = recorder
	}

	s.mux.Handle("/v1/practice", handlers.PracticeHandler{
		Config:   s.cfg,
		Logger:   s.deps.Logger,
		Sessions: s.deps.Sessions,
		Catalog:  s.deps.Catalog,
		History:  sessionHistory,
		Metrics:  s.deps.Metrics,
	})

	historyHandler := handlers.HistoryHandler{Config: s.cfg, Store: s.deps.History}
	s.mux.Handle("/v1/history", historyHandler)
	s.mux.Handle("/v1/history/", historyHandler)

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.deps.Logger, h)
	h = mw.AccessLog(s.deps.Logger, h)
	h = mw.RequestID(h)
	return h
}
