package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/smartfarm/farmbridge/internal/infrastructure/metrics"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	if s.metricsCfg.Enabled && s.gatherer != nil {
		path := s.metricsCfg.Path
		if path == "" {
			path = defaultMetricsPath
		}
		r.Method(http.MethodGet, path, metrics.Handler(s.gatherer))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Broker connection control
		r.Route("/mqtt", func(r chi.Router) {
			r.Get("/status", s.handleMQTTStatus)
			r.Post("/connect", s.handleMQTTConnect)
			r.Post("/disconnect", s.handleMQTTDisconnect)
			r.Post("/publish", s.handleMQTTPublish)
		})

		r.Route("/actuators", func(r chi.Router) {
			r.Get("/", s.handleListActuatorEvents)
			r.Post("/", s.handleActuatorCommand)
			r.Get("/status", s.handleActuatorStatus)
		})

		r.Route("/sensors", func(r chi.Router) {
			r.Get("/", s.handleListSensorReadings)
			r.Get("/latest", s.handleLatestSensorReading)
			r.Get("/all", s.handleAllSensorReadings)
			r.Get("/{type}", s.handleSensorReadingsByType)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}
