package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/smartfarm/farmbridge/internal/infrastructure/mqtt"
)

// publishRequest is the body of POST /mqtt/publish.
type publishRequest struct {
	Topic   string          `json:"topic"`
	Message json.RawMessage `json:"message"`
	QoS     *int            `json:"qos,omitempty"`
}

// configurationErrorBody is the 400 body returned when broker settings are
// missing.
type configurationErrorBody struct {
	Error
	Missing []string `json:"missing"`
}

// handleMQTTStatus returns the connection snapshot.
func (s *Server) handleMQTTStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.mqtt.Get().Status())
}

// handleMQTTConnect connects to the broker, or joins the attempt in flight.
func (s *Server) handleMQTTConnect(w http.ResponseWriter, r *http.Request) {
	mgr := s.mqtt.Get()
	if mgr.IsConnected() {
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "already connected",
			"status":  mgr.Status(),
		})
		return
	}

	if err := mgr.Connect(r.Context()); err != nil {
		s.logger.Warn("broker connect requested via API failed", "error", err)
		writeConnectError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "connected",
		"status":  mgr.Status(),
	})
}

// handleMQTTDisconnect tears down the broker connection.
func (s *Server) handleMQTTDisconnect(w http.ResponseWriter, _ *http.Request) {
	mgr := s.mqtt.Get()
	mgr.Disconnect()
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "disconnected",
		"status":  mgr.Status(),
	})
}

// handleMQTTPublish publishes an arbitrary message to one of the bridge's
// topics, connecting first if needed.
func (s *Server) handleMQTTPublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if !mqtt.IsKnownTopic(req.Topic) {
		writeValidationError(w, "unknown topic: "+req.Topic)
		return
	}
	if len(req.Message) == 0 || string(req.Message) == "null" {
		writeValidationError(w, "message is required")
		return
	}
	qos := s.qos
	if req.QoS != nil {
		if *req.QoS < 0 || *req.QoS > 2 {
			writeValidationError(w, "qos must be 0, 1 or 2")
			return
		}
		qos = byte(*req.QoS)
	}

	if !s.publish(r.Context(), w, req.Topic, req.Message, qos) {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "published",
		"topic":   req.Topic,
		"qos":     qos,
	})
}

// publish connects if needed, sends message and waits for the broker to
// acknowledge it. On failure it writes the error response and returns false.
func (s *Server) publish(ctx context.Context, w http.ResponseWriter, topic string, message any, qos byte) bool {
	mgr := s.mqtt.Get()
	if !mgr.IsConnected() {
		if err := mgr.Connect(ctx); err != nil {
			s.logger.Warn("broker connect before publish failed", "topic", topic, "error", err)
			writeConnectError(w, err)
			return false
		}
	}

	res, err := mgr.Publish(topic, message, qos)
	switch {
	case errors.Is(err, mqtt.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotConnected, "broker connection lost")
		return false
	case errors.Is(err, mqtt.ErrInvalidTopic), errors.Is(err, mqtt.ErrInvalidQoS), errors.Is(err, mqtt.ErrPublishFailed):
		writeValidationError(w, err.Error())
		return false
	case err != nil:
		s.logger.Error("publish failed", "topic", topic, "error", err)
		writeInternalError(w, "publish failed")
		return false
	}

	if err := res.Wait(ctx); err != nil {
		writeError(w, http.StatusBadGateway, ErrCodePublishFailed, err.Error())
		return false
	}
	return true
}

// writeConnectError maps a Connect failure to a response.
func writeConnectError(w http.ResponseWriter, err error) {
	var cfgErr *mqtt.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		writeJSON(w, http.StatusBadRequest, configurationErrorBody{
			Error: Error{
				Status:  http.StatusBadRequest,
				Code:    ErrCodeNotConfigured,
				Message: "broker connection is not configured",
			},
			Missing: cfgErr.Missing,
		})
	case errors.Is(err, mqtt.ErrConfiguration):
		writeError(w, http.StatusBadRequest, ErrCodeNotConfigured, err.Error())
	case errors.Is(err, mqtt.ErrConnectTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeBrokerTimeout, err.Error())
	case errors.Is(err, mqtt.ErrTransport):
		writeError(w, http.StatusBadGateway, ErrCodeBrokerError, err.Error())
	case errors.Is(err, mqtt.ErrConnectAborted):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotConnected, err.Error())
	}
}
