// Package server exposes the IPC Manager's northbound API: IPCP
// lifecycle, DIF templates, registration and flow mediation.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/your-org/rina-stack/common/metrics"
	"github.com/your-org/rina-stack/common/rerr"
	"github.com/your-org/rina-stack/daemon/ipcm/internal/config"
	"github.com/your-org/rina-stack/daemon/ipcm/internal/factory"
	"github.com/your-org/rina-stack/daemon/ipcm/internal/flowlog"
	"github.com/your-org/rina-stack/daemon/ipcm/internal/store"
)

// IPCMServer represents the IPC Manager HTTP server
type IPCMServer struct {
	config     *config.Config
	factory    *factory.Factory
	store      *store.Store
	archive    *flowlog.Archive
	router     *chi.Mux
	httpServer *http.Server
	logger     *zap.Logger

	// controlPort is handed to every spawned IPCP daemon.
	controlPort int
}

// NewIPCMServer creates a new IPC Manager server instance
func NewIPCMServer(cfg *config.Config, f *factory.Factory, st *store.Store,
	archive *flowlog.Archive, controlPort int, logger *zap.Logger) *IPCMServer {
	s := &IPCMServer{
		config:      cfg,
		factory:     f,
		store:       st,
		archive:     archive,
		router:      chi.NewRouter(),
		logger:      logger,
		controlPort: controlPort,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures HTTP routes
func (s *IPCMServer) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(90 * time.Second))

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/status", s.handleStatus)

	// IPC process lifecycle
	s.router.Route("/ipcps", func(r chi.Router) {
		r.Post("/", s.handleCreateIPCP)
		r.Get("/", s.handleListIPCPs)
		r.Get("/{ipcpID}", s.handleGetIPCP)
		r.Delete("/{ipcpID}", s.handleDestroyIPCP)

		r.Post("/{ipcpID}/assign", s.handleAssign)
		r.Put("/{ipcpID}/dif-config", s.handleUpdateDIFConfig)
		r.Post("/{ipcpID}/enroll", s.handleEnroll)
		r.Post("/{ipcpID}/apps/register", s.handleRegisterApp)
		r.Post("/{ipcpID}/apps/unregister", s.handleUnregisterApp)
		r.Post("/{ipcpID}/flows", s.handleAllocateFlow)
		r.Delete("/{ipcpID}/flows/{portID}", s.handleDeallocateFlow)
		r.Put("/{ipcpID}/routing", s.handleUpdateRouting)
		r.Get("/{ipcpID}/rib", s.handleQueryRIB)
	})

	// DIF templates
	s.router.Route("/dif-templates", func(r chi.Router) {
		r.Get("/", s.handleListTemplates)
		r.Put("/{name}", s.handlePutTemplate)
		r.Get("/{name}", s.handleGetTemplate)
		r.Delete("/{name}", s.handleDeleteTemplate)
	})
}

// loggingMiddleware logs requests and feeds the HTTP metrics
func (s *IPCMServer) loggingMiddleware(next http.Handler) http.Handler {
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

func (s *IPCMServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *IPCMServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ipcps": s.factory.List(),
	})
}

// Start starts the HTTP server
func (s *IPCMServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.HTTP.IPv4, s.config.HTTP.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 90 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *IPCMServer) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var re *rerr.Error
	if errors.As(err, &re) {
		switch re.Kind {
		case rerr.KindMalformedMessage, rerr.KindInvalidField, rerr.KindRequiredFieldMissing:
			status = http.StatusBadRequest
		case rerr.KindInvalidStateTransition, rerr.KindAlreadyRegistered, rerr.KindNotRegistered,
			rerr.KindNotAMemberOfDIF, rerr.KindObjectAlreadyExists:
			status = http.StatusConflict
		case rerr.KindUnknownApplication, rerr.KindUnknownObjectName, rerr.KindUnknownObjectClass:
			status = http.StatusNotFound
		case rerr.KindTimeout:
			status = http.StatusGatewayTimeout
		case rerr.KindKernelBusy, rerr.KindChannelClosed:
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, map[string]any{
		"result": rerr.CodeOf(err),
		"reason": rerr.ReasonOf(err),
	})
}
