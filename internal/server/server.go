package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/cors"
)

// Server is the TagSentry HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	Verifier Verifier
	Store    ReportStore
	Logger   *slog.Logger

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxConcurrentRuns   int
	VerifyTimeout       time.Duration
	MaxRequestBodyBytes int64
	CORSAllowedOrigins  []string
	Version             string
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Verifier:            cfg.Verifier,
		Store:               cfg.Store,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxConcurrentRuns:   cfg.MaxConcurrentRuns,
		VerifyTimeout:       cfg.VerifyTimeout,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/verify", h.HandleVerify)
	mux.HandleFunc("GET /v1/reports", h.HandleListReports)
	mux.HandleFunc("GET /v1/reports/{report_id}", h.HandleGetReport)
	mux.HandleFunc("GET /healthz", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → CORS → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Origin", "X-Requested-With", "Content-Type", "Accept", "X-Request-ID"},
	}).Handler(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
