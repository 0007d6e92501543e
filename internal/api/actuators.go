package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/smartfarm/farmbridge/internal/infrastructure/mqtt"
	"github.com/smartfarm/farmbridge/internal/telemetry"
)

// actuatorCommandRequest is the body of POST /actuators.
type actuatorCommandRequest struct {
	ActuatorType string   `json:"actuator_type"`
	Action       string   `json:"action"`
	Value        *float64 `json:"value,omitempty"`
}

// handleListActuatorEvents returns actuator history, newest first.
//
// Query parameters: type, limit (default 100, max 1000).
func (s *Server) handleListActuatorEvents(w http.ResponseWriter, r *http.Request) {
	q := telemetry.ActuatorQuery{}

	if v := r.URL.Query().Get("type"); v != "" {
		kind, err := telemetry.ParseActuatorKind(v)
		if err != nil {
			writeValidationError(w, err.Error())
			return
		}
		q.Kind = kind
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	q.Limit = limit

	events, err := s.store.ListActuatorEvents(r.Context(), q)
	if err != nil {
		s.logger.Error("failed to list actuator events", "error", err)
		writeInternalError(w, "failed to list actuator events")
		return
	}
	if events == nil {
		events = []telemetry.ActuatorEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// handleActuatorCommand publishes a control command and records it.
//
// The command is only recorded once the broker has acknowledged the
// publish. A failure to record it is logged and does not fail the request.
func (s *Server) handleActuatorCommand(w http.ResponseWriter, r *http.Request) {
	var req actuatorCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	kind, err := telemetry.ParseActuatorKind(req.ActuatorType)
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}
	action, err := telemetry.ParseAction(req.Action)
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}
	payload, err := telemetry.EncodeActuatorCommand(kind, action, req.Value)
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}

	if !s.publish(r.Context(), w, mqtt.ActuatorTopic(kind), payload, s.qos) {
		return
	}

	ev := telemetry.ActuatorEvent{
		Kind:   kind,
		Action: action,
		Value:  req.Value,
		UserID: userIDFromRequest(r),
	}
	if err := s.gateway.InsertActuatorEvent(r.Context(), ev); err != nil {
		s.logger.Error("actuator command sent but not recorded",
			"actuator", kind,
			"action", action,
			"error", err,
		)
	}
	ev.CreatedAt = time.Now().UTC()

	s.logger.Info("actuator command sent", "actuator", kind, "action", action)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "command sent",
		"event":   ev,
	})
}

// handleActuatorStatus returns the state of every actuator derived from its
// most recent event.
func (s *Server) handleActuatorStatus(w http.ResponseWriter, r *http.Request) {
	latest, err := s.store.LatestActuatorEvents(r.Context())
	if err != nil && !errors.Is(err, telemetry.ErrNotFound) {
		s.logger.Error("failed to load actuator state", "error", err)
		writeInternalError(w, "failed to load actuator state")
		return
	}
	writeJSON(w, http.StatusOK, telemetry.DeriveActuatorState(latest))
}
