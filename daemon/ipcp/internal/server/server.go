// Package server exposes the IPCP's status over HTTP: lifecycle state,
// flows, neighbors and the RIB dump.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/your-org/rina-stack/common/metrics"
	"github.com/your-org/rina-stack/daemon/ipcp/internal/config"
)

// StatusSource answers status queries. The implementation marshals the
// request onto the event loop so component state is never read
// concurrently.
type StatusSource interface {
	Status() (any, error)
	RIBDump(prefix string) (any, error)
	Flows() (any, error)
	Neighbors() (any, error)
}

// IPCPServer represents the IPCP status HTTP server
type IPCPServer struct {
	config     *config.Config
	source     StatusSource
	router     *chi.Mux
	httpServer *http.Server
	logger     *zap.Logger
}

// NewIPCPServer creates a new status server instance
func NewIPCPServer(cfg *config.Config, source StatusSource, logger *zap.Logger) *IPCPServer {
	s := &IPCPServer{
		config: cfg,
		source: source,
		router: chi.NewRouter(),
		logger: logger,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures HTTP routes
func (s *IPCPServer) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/status", s.handleStatus)
	s.router.Get("/rib", s.handleRIB)
	s.router.Get("/flows", s.handleFlows)
	s.router.Get("/neighbors", s.handleNeighbors)
}

// loggingMiddleware logs requests and feeds the HTTP metrics
func (s *IPCPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		metrics.RecordHTTPRequest(r.Method, r.URL.Path, fmt.Sprintf("%d", ww.Status()), duration.Seconds())
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", duration),
		)
	})
}

func (s *IPCPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *IPCPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respond(w, func() (any, error) { return s.source.Status() })
}

func (s *IPCPServer) handleRIB(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	s.respond(w, func() (any, error) { return s.source.RIBDump(prefix) })
}

func (s *IPCPServer) handleFlows(w http.ResponseWriter, r *http.Request) {
	s.respond(w, func() (any, error) { return s.source.Flows() })
}

func (s *IPCPServer) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	s.respond(w, func() (any, error) { return s.source.Neighbors() })
}

func (s *IPCPServer) respond(w http.ResponseWriter, fetch func() (any, error)) {
	data, err := fetch()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("Response encoding failed", zap.Error(err))
	}
}

// Start starts the HTTP server
func (s *IPCPServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.HTTP.IPv4, s.config.HTTP.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *IPCPServer) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
