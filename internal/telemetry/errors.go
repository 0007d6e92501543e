package telemetry

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for the telemetry package.
//
//	if errors.Is(err, telemetry.ErrDecode) {
//	    // malformed broker payload
//	}
var (
	// ErrDecode is returned when a broker payload cannot be decoded.
	ErrDecode = errors.New("telemetry: decode failed")

	// ErrInvalidSensorKind is returned for an unknown sensor kind.
	ErrInvalidSensorKind = errors.New("telemetry: invalid sensor kind")

	// ErrInvalidActuatorKind is returned for an unknown actuator kind.
	ErrInvalidActuatorKind = errors.New("telemetry: invalid actuator kind")

	// ErrInvalidAction is returned for an unknown actuator action.
	ErrInvalidAction = errors.New("telemetry: invalid action")

	// ErrInvalidReading is returned when a reading fails validation before a write.
	ErrInvalidReading = errors.New("telemetry: invalid reading")

	// ErrInvalidEvent is returned when an actuator event fails validation before a write.
	ErrInvalidEvent = errors.New("telemetry: invalid actuator event")

	// ErrNotFound is returned when a query matches no rows.
	ErrNotFound = errors.New("telemetry: not found")
)

// DecodeError describes a payload that could not be decoded.
type DecodeError struct {
	Topic string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Topic == "" {
		return fmt.Sprintf("%v: %v", ErrDecode, e.Err)
	}
	return fmt.Sprintf("%v on %s: %v", ErrDecode, e.Topic, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDecode) true for every DecodeError.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// PartialWriteError reports which readings of a combined round failed when
// the store could not write them as one batch. Readings not listed were written.
type PartialWriteError struct {
	Failed map[SensorKind]error
}

func (e *PartialWriteError) Error() string {
	kinds := make([]string, 0, len(e.Failed))
	for _, k := range SensorKinds {
		if err, ok := e.Failed[k]; ok {
			kinds = append(kinds, fmt.Sprintf("%s (%v)", k, err))
		}
	}
	return fmt.Sprintf("telemetry: %d of %d readings not written: %s",
		len(e.Failed), len(SensorKinds), strings.Join(kinds, ", "))
}

// Unwrap exposes the individual write errors to errors.Is / errors.As.
func (e *PartialWriteError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, k := range SensorKinds {
		if err, ok := e.Failed[k]; ok {
			errs = append(errs, err)
		}
	}
	return errs
}
