// Package api provides the read-only dashboard HTTP surface: experiment
// status, run history, aggregated metrics, and schedules.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Server holds the HTTP router and dependencies.
type Server struct {
	router   *mux.Router
	handlers *Handlers
	limiter  *rate.Limiter
}

// NewServer creates the dashboard server. rps and burst bound the total
// request rate; zero rps disables limiting.
func NewServer(h *Handlers, rps float64, burst int) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		handlers: h,
	}
	if rps > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	s.setupRoutes()
	return s
}

// Router returns the configured router for use with http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handlers.Health).Methods("GET")
	s.router.HandleFunc("/healthz", s.handlers.Health).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/experiments", s.handlers.ListExperiments).Methods("GET")
	api.HandleFunc("/experiments/{id}", s.handlers.GetExperiment).Methods("GET")
	api.HandleFunc("/experiments/{id}/runs", s.handlers.ListExperimentRuns).Methods("GET")
	api.HandleFunc("/experiments/{id}/metrics", s.handlers.GetExperimentMetrics).Methods("GET")
	api.HandleFunc("/schedules", s.handlers.ListSchedules).Methods("GET")
	api.HandleFunc("/tools/{name}", s.handlers.GetTool).Methods("GET")

	s.router.Use(s.rateLimitMiddleware)
	s.router.Use(s.handlers.LoggingMiddleware)
	s.router.Use(s.handlers.RecoveryMiddleware)
}
