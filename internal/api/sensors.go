package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/smartfarm/farmbridge/internal/telemetry"
)

// dateLayout is accepted for start_date and end_date alongside RFC 3339.
const dateLayout = "2006-01-02"

// handleListSensorReadings returns sensor history, newest first.
//
// Query parameters: type, device_id, limit, start_date, end_date.
func (s *Server) handleListSensorReadings(w http.ResponseWriter, r *http.Request) {
	q, ok := sensorQueryFromRequest(w, r)
	if !ok {
		return
	}
	if v := r.URL.Query().Get("type"); v != "" {
		kind, err := telemetry.ParseSensorKind(v)
		if err != nil {
			writeValidationError(w, err.Error())
			return
		}
		q.Kind = kind
	}
	s.writeSensorReadings(w, r, q)
}

// handleSensorReadingsByType returns history for the kind in the path.
func (s *Server) handleSensorReadingsByType(w http.ResponseWriter, r *http.Request) {
	kind, err := telemetry.ParseSensorKind(chi.URLParam(r, "type"))
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}
	q, ok := sensorQueryFromRequest(w, r)
	if !ok {
		return
	}
	q.Kind = kind
	s.writeSensorReadings(w, r, q)
}

func (s *Server) writeSensorReadings(w http.ResponseWriter, r *http.Request, q telemetry.SensorQuery) {
	readings, err := s.store.ListSensorReadings(r.Context(), q)
	if err != nil {
		s.logger.Error("failed to list sensor readings", "error", err)
		writeInternalError(w, "failed to list sensor readings")
		return
	}
	if readings == nil {
		readings = []telemetry.SensorReading{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"readings": readings, "count": len(readings)})
}

// handleLatestSensorReading returns the newest reading, optionally for one
// kind and device.
func (s *Server) handleLatestSensorReading(w http.ResponseWriter, r *http.Request) {
	var kind telemetry.SensorKind
	if v := r.URL.Query().Get("type"); v != "" {
		k, err := telemetry.ParseSensorKind(v)
		if err != nil {
			writeValidationError(w, err.Error())
			return
		}
		kind = k
	}

	reading, err := s.store.LatestSensorReading(r.Context(), kind, r.URL.Query().Get("device_id"))
	if errors.Is(err, telemetry.ErrNotFound) {
		writeNotFound(w, "no sensor readings")
		return
	}
	if err != nil {
		s.logger.Error("failed to load latest sensor reading", "error", err)
		writeInternalError(w, "failed to load latest sensor reading")
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// handleAllSensorReadings returns the newest reading of every kind. Kinds
// never reported are null.
func (s *Server) handleAllSensorReadings(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	latest, err := telemetry.LatestPerKind(r.Context(), s.store, deviceID)
	if err != nil {
		s.logger.Error("failed to load latest sensor readings", "error", err)
		writeInternalError(w, "failed to load latest sensor readings")
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

// sensorQueryFromRequest parses the shared history filters. On failure it
// writes a 400 and returns false.
func sensorQueryFromRequest(w http.ResponseWriter, r *http.Request) (telemetry.SensorQuery, bool) {
	q := telemetry.SensorQuery{DeviceID: r.URL.Query().Get("device_id")}

	limit, ok := parseLimit(w, r)
	if !ok {
		return q, false
	}
	q.Limit = limit

	var err error
	if q.Since, err = parseTime(r.URL.Query().Get("start_date"), false); err != nil {
		writeValidationError(w, "start_date: "+err.Error())
		return q, false
	}
	if q.Until, err = parseTime(r.URL.Query().Get("end_date"), true); err != nil {
		writeValidationError(w, "end_date: "+err.Error())
		return q, false
	}
	if !q.Since.IsZero() && !q.Until.IsZero() && q.Until.Before(q.Since) {
		writeValidationError(w, "end_date is before start_date")
		return q, false
	}
	return q, true
}

// parseLimit reads the limit parameter, clamped to the store limits.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return telemetry.DefaultQueryLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		writeValidationError(w, "limit must be a positive integer")
		return 0, false
	}
	return telemetry.NormalizeLimit(n), true
}

// parseTime accepts RFC 3339 or a bare date. A bare end date covers the
// whole day.
func parseTime(v string, endOfDay bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, errors.New("expected RFC 3339 timestamp or YYYY-MM-DD")
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
