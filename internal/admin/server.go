package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsiec/netsync/internal/config"
	"github.com/zsiec/netsync/internal/errors"
	"github.com/zsiec/netsync/internal/health"
	"github.com/zsiec/netsync/internal/logger"
	"github.com/zsiec/netsync/internal/presence"
	"github.com/zsiec/netsync/internal/transport"
)

// Source is the part of a transport server the admin API reads and acts on.
// Snapshot must be safe to call from any goroutine.
type Source interface {
	Snapshot() *transport.Snapshot
	Client(id string) (transport.ClientInfo, bool)
	Disconnect(id string) bool
	Broadcast(payload []byte, mode transport.DeliveryMode) error
}

// Server is the admin HTTP server.
type Server struct {
	config       *config.AdminConfig
	metrics      config.MetricsConfig
	router       *mux.Router
	httpServer   *http.Server
	logger       logger.Logger
	source       Source
	presence     presence.Store
	healthMgr    *health.Manager
	errorHandler *errors.ErrorHandler

	mu       sync.Mutex
	listener net.Listener

	// Additional handlers can be registered
	additionalRoutes []func(*mux.Router)
}

// New creates the admin server. presenceStore may be nil.
func New(cfg *config.AdminConfig, metricsCfg config.MetricsConfig, source Source, healthMgr *health.Manager, presenceStore presence.Store, log logger.Logger) *Server {
	log = logger.OrNull(log).WithField("component", "admin")
	if healthMgr == nil {
		healthMgr = health.NewManager(log)
	}

	return &Server{
		config:           cfg,
		metrics:          metricsCfg,
		router:           mux.NewRouter(),
		logger:           log,
		source:           source,
		presence:         presenceStore,
		healthMgr:        healthMgr,
		errorHandler:     errors.NewErrorHandler(log),
		additionalRoutes: make([]func(*mux.Router), 0),
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.setupRoutes()

	addr := transport.BindAddress(s.config.ListenAddr, s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.WithField("addr", ln.Addr().String()).Info("Starting admin server")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("admin server failed: %w", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Addr returns the bound address once Start is listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.logger.Info("Shutting down admin server")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown admin server: %w", err)
	}

	s.logger.Info("Admin server shutdown complete")
	return nil
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(logger.RequestLoggerMiddleware(s.logger))
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.corsMiddleware)

	// Health endpoints
	healthHandler := health.NewHandler(s.healthMgr)
	s.router.HandleFunc("/health", healthHandler.HandleHealth).Methods("GET")
	s.router.HandleFunc("/ready", healthHandler.HandleReady).Methods("GET")
	s.router.HandleFunc("/live", healthHandler.HandleLive).Methods("GET")

	s.router.HandleFunc("/version", s.handleVersion).Methods("GET")

	if s.metrics.Enabled {
		path := s.metrics.Path
		if path == "" {
			path = "/metrics"
		}
		s.router.Handle(path, promhttp.Handler()).Methods("GET")
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/clients", s.handleListClients).Methods("GET")
	api.HandleFunc("/clients/{id}", s.handleGetClient).Methods("GET")
	api.HandleFunc("/clients/{id}", s.handleKickClient).Methods("DELETE")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/broadcast", s.handleBroadcast).Methods("POST")
	if s.presence != nil {
		api.HandleFunc("/presence", s.handlePresence).Methods("GET")
	}

	if s.config.DebugEndpoints {
		s.setupDebugEndpoints()
	}

	for _, registerFunc := range s.additionalRoutes {
		registerFunc(s.router)
	}

	s.router.NotFoundHandler = http.HandlerFunc(s.errorHandler.HandleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.errorHandler.HandleMethodNotAllowed)
}

// setupDebugEndpoints registers pprof on the admin router only.
func (s *Server) setupDebugEndpoints() {
	s.logger.Info("Enabling debug endpoints")

	s.router.HandleFunc("/debug/pprof/", pprof.Index)
	s.router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	s.router.HandleFunc("/debug/pprof/profile", pprof.Profile)
	s.router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	s.router.HandleFunc("/debug/pprof/trace", pprof.Trace)
	s.router.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)

	s.router.HandleFunc("/debug/info", func(w http.ResponseWriter, r *http.Request) {
		snap := s.source.Snapshot()
		info := map[string]interface{}{
			"debug_enabled":   true,
			"metrics_enabled": s.metrics.Enabled,
			"presence":        s.presence != nil,
		}
		if snap != nil {
			info["network"] = snap.Network
			info["address"] = snap.Address
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(info)
	}).Methods("GET")
}

// RegisterRoutes adds additional route handlers to the server
func (s *Server) RegisterRoutes(registerFunc func(*mux.Router)) {
	s.additionalRoutes = append(s.additionalRoutes, registerFunc)
}

// GetRouter returns the router for testing.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}
