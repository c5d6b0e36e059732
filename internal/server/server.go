// Package server exposes the discovery service over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/HerbHall/wofinder/internal/discovery"
	"github.com/HerbHall/wofinder/pkg/models"
)

// DefaultDiscoveryRate is the minimum spacing of manual discovery requests.
const DefaultDiscoveryRate = 6 * time.Second

// Discovery is the part of the discovery service the API serves.
type Discovery interface {
	Servers() []models.ServerRecord
	LastScanTime() time.Time
	ClearOfflineServers() discovery.Result
	AddManualServer(in discovery.ManualServerInput) discovery.Result
	UpdateManualServer(id string, in discovery.ManualServerInput) discovery.Result
	RemoveManualServer(id string) discovery.Result
}

// Trigger starts manual discovery cycles.
type Trigger interface {
	Trigger(ctx context.Context) (discovery.CycleResult, error)
	Busy() bool
	Last() discovery.CycleResult
}

// Config holds HTTP server settings.
type Config struct {
	Addr          string
	DiscoveryRate time.Duration
}

// Server is the wofinder HTTP API.
type Server struct {
	httpServer *http.Server
	svc        Discovery
	trigger    Trigger
	gatherer   prometheus.Gatherer
	limiter    *rate.Limiter
	logger     *zap.Logger
	mux        *http.ServeMux
}

// New creates a Server. gatherer backs /metrics; nil uses the default
// Prometheus registry.
func New(cfg Config, svc Discovery, trigger Trigger, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if cfg.DiscoveryRate <= 0 {
		cfg.DiscoveryRate = DefaultDiscoveryRate
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()

	s := &Server{
		svc:      svc,
		trigger:  trigger,
		gatherer: gatherer,
		limiter:  rate.NewLimiter(rate.Every(cfg.DiscoveryRate), 1),
		logger:   logger,
		mux:      mux,
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      logRequests(logger, mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/servers", s.handleListServers)
	s.mux.HandleFunc("POST /api/v1/discovery", s.handleDiscovery)
	s.mux.HandleFunc("POST /api/v1/servers", s.handleAddServer)
	s.mux.HandleFunc("POST /api/v1/servers/clear-offline", s.handleClearOffline)
	s.mux.HandleFunc("PUT /api/v1/servers/{id}", s.handleUpdateServer)
	s.mux.HandleFunc("DELETE /api/v1/servers/{id}", s.handleRemoveServer)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

// Handler returns the routed handler without request logging.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting HTTP server", zap.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Start listens on the configured address and serves.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
