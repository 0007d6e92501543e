package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/smartfarm/farmbridge/internal/infrastructure/config"
	"github.com/smartfarm/farmbridge/internal/infrastructure/logging"
	"github.com/smartfarm/farmbridge/internal/infrastructure/mqtt"
	"github.com/smartfarm/farmbridge/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// defaultMetricsPath is used when metrics are enabled without a path.
const defaultMetricsPath = "/metrics"

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Metrics config.MetricsConfig
	Logger  *logging.Logger

	// MQTT hands out the broker connection manager. Required.
	MQTT *mqtt.Provider

	// QoS is used for actuator commands and for publishes that name none.
	QoS byte

	// Store answers history and latest-value queries. Required.
	Store telemetry.Reader

	// Gateway records actuator commands issued through the API. Required.
	Gateway telemetry.Gateway

	// Hub, if set, is used instead of a server-owned hub. main shares one
	// hub between the API and the ingest router.
	Hub *Hub

	// Gatherer backs the metrics endpoint when Metrics.Enabled is set.
	Gatherer prometheus.Gatherer

	Version string
}

// Server is the HTTP API server for farmbridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	metricsCfg  config.MetricsConfig
	logger      *logging.Logger
	mqtt        *mqtt.Provider
	qos         byte
	store       telemetry.Reader
	gateway     telemetry.Gateway
	gatherer    prometheus.Gatherer
	version     string
	server      *http.Server
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.MQTT == nil {
		return nil, fmt.Errorf("mqtt provider is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("telemetry store is required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("telemetry gateway is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		metricsCfg: deps.Metrics,
		logger:     deps.Logger,
		mqtt:       deps.MQTT,
		qos:        deps.QoS,
		store:      deps.Store,
		gateway:    deps.Gateway,
		gatherer:   deps.Gatherer,
		version:    deps.Version,
	}

	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	}

	return s, nil
}

// Hub returns the server's WebSocket hub, or nil before Start when none
// was injected.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub (unless one was injected), builds the router
// and launches the HTTP listener in a background goroutine. The server can
// be stopped with Close().
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
