// Package server exposes the HTTP surface: the streaming websocket,
// web-app file serving, health checks and Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/progrunhq/progrun/internal/execution"
	"github.com/progrunhq/progrun/internal/platform/config"
	"github.com/progrunhq/progrun/internal/platform/logger"
	"github.com/progrunhq/progrun/internal/platform/metrics"
	"github.com/progrunhq/progrun/internal/progerr"
	"github.com/progrunhq/progrun/internal/stream"
)

type Server struct {
	config     *config.Config
	logger     logger.Logger
	metrics    *metrics.Metrics
	hub        *stream.Hub
	executions *execution.Service
	httpServer *http.Server
}

type Option func(*Server)

func WithConfig(cfg *config.Config) Option {
	return func(s *Server) { s.config = cfg }
}

func WithLogger(logger logger.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

func WithMetrics(met *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = met }
}

func WithHub(hub *stream.Hub) Option {
	return func(s *Server) { s.hub = hub }
}

func WithExecutionService(svc *execution.Service) Option {
	return func(s *Server) { s.executions = svc }
}

func New(opts ...Option) (*Server, error) {
	s := &Server{}
	for _, opt := range opts {
		opt(s)
	}

	if s.config == nil {
		return nil, fmt.Errorf("server requires a config")
	}
	if s.hub == nil {
		return nil, fmt.Errorf("server requires a streaming hub")
	}

	s.setupHTTPServer()
	return s, nil
}

func (s *Server) setupHTTPServer() {
	router := mux.NewRouter()

	// Health checks
	router.HandleFunc("/health/live", s.handleLiveness).Methods("GET")
	router.HandleFunc("/health/ready", s.handleReadiness).Methods("GET")

	// Streaming surface
	router.Handle("/ws", stream.NewWSHandler(s.hub, s.logger))

	// Web-app components are served from the file store
	if s.executions != nil {
		router.HandleFunc("/programs/{programId}/webapp", s.handleWebApp).Methods("GET")
		router.HandleFunc("/programs/{programId}/webapp/{path:.*}", s.handleWebApp).Methods("GET")
	}

	if s.metrics != nil {
		router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.HTTP.Port),
		Handler:      router,
		ReadTimeout:  s.config.HTTP.ReadTimeout,
		WriteTimeout: s.config.HTTP.WriteTimeout,
		IdleTimeout:  s.config.HTTP.IdleTimeout,
	}
}

func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "port", s.config.HTTP.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"alive"}`)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ready"}`)
}

func (s *Server) handleWebApp(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	programID := vars["programId"]
	path := vars["path"]

	data, contentType, err := s.executions.WebAppFile(r.Context(), programID, path)
	if err != nil {
		status := http.StatusInternalServerError
		switch progerr.CodeOf(err) {
		case progerr.CodeNotFound:
			status = http.StatusNotFound
		case progerr.CodeValidation:
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
