package telemetry

import (
	"context"
	"errors"
	"time"
)

// Query limits shared by every store.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// Gateway is the write side of the persistence layer, used by the ingest
// handlers and the control API. Writes are append-only and the store stamps
// CreatedAt.
type Gateway interface {
	InsertSensorReading(ctx context.Context, r SensorReading) error
	InsertActuatorEvent(ctx context.Context, ev ActuatorEvent) error
}

// BatchWriter is implemented by gateways that can write the readings of one
// combined message atomically with a single observation time.
type BatchWriter interface {
	InsertSensorRound(ctx context.Context, readings []SensorReading) error
}

// SensorQuery filters sensor history. Zero fields do not filter.
type SensorQuery struct {
	Kind     SensorKind
	DeviceID string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// ActuatorQuery filters actuator history. Zero fields do not filter.
type ActuatorQuery struct {
	Kind  ActuatorKind
	Limit int
}

// Reader is the query side of the persistence layer. Results are newest first.
type Reader interface {
	ListSensorReadings(ctx context.Context, q SensorQuery) ([]SensorReading, error)

	// LatestSensorReading returns the newest reading matching kind and
	// deviceID (either may be empty). Returns ErrNotFound when none match.
	LatestSensorReading(ctx context.Context, kind SensorKind, deviceID string) (SensorReading, error)

	ListActuatorEvents(ctx context.Context, q ActuatorQuery) ([]ActuatorEvent, error)

	// LatestActuatorEvents returns the newest event for each kind that has one.
	LatestActuatorEvents(ctx context.Context) (map[ActuatorKind]ActuatorEvent, error)
}

// Store is a complete persistence backend.
type Store interface {
	Gateway
	BatchWriter
	Reader
	HealthCheck(ctx context.Context) error
}

// WriteSensorRound persists the readings of one combined message. When gw
// implements BatchWriter the round is written atomically; otherwise each
// reading is written in turn and failures are collected into a
// *PartialWriteError.
func WriteSensorRound(ctx context.Context, gw Gateway, readings []SensorReading) error {
	if bw, ok := gw.(BatchWriter); ok {
		return bw.InsertSensorRound(ctx, readings)
	}

	failed := make(map[SensorKind]error)
	for _, r := range readings {
		if err := gw.InsertSensorReading(ctx, r); err != nil {
			failed[r.Kind] = err
		}
	}
	if len(failed) > 0 {
		return &PartialWriteError{Failed: failed}
	}
	return nil
}

// LatestPerKind returns the newest reading of every sensor kind for a
// device. Kinds with no reading map to nil.
func LatestPerKind(ctx context.Context, r Reader, deviceID string) (map[SensorKind]*SensorReading, error) {
	out := make(map[SensorKind]*SensorReading, len(SensorKinds))
	for _, k := range SensorKinds {
		reading, err := r.LatestSensorReading(ctx, k, deviceID)
		switch {
		case errors.Is(err, ErrNotFound):
			out[k] = nil
		case err != nil:
			return nil, err
		default:
			out[k] = &reading
		}
	}
	return out, nil
}

// NormalizeLimit clamps a requested row limit to [1, MaxQueryLimit],
// substituting DefaultQueryLimit for non-positive values.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}

func validateRound(readings []SensorReading) error {
	if len(readings) == 0 {
		return ErrInvalidReading
	}
	for _, r := range readings {
		if err := ValidateReading(r); err != nil {
			return err
		}
	}
	return nil
}
