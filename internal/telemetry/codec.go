package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// combinedMessage is the wire shape published on smartfarm/sensors/all.
type combinedMessage struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	EC          *float64 `json:"ec"`
	PH          *float64 `json:"ph"`
	DeviceID    string   `json:"device_id"`
	Timestamp   *int64   `json:"timestamp"`
}

// actuatorMessage is the wire shape on smartfarm/actuators/{kind}, in both directions.
type actuatorMessage struct {
	State      json.RawMessage `json:"state,omitempty"`
	Brightness *float64        `json:"brightness,omitempty"`
	Value      *float64        `json:"value,omitempty"`
}

type statusMessage struct {
	Status    string `json:"status"`
	DeviceID  string `json:"device_id"`
	Timestamp int64  `json:"timestamp"`
}

// DecodeCombinedSensor turns a combined sensor payload into one reading per
// kind, in SensorKinds order. All four fields are required. The device id
// falls back to defaultDeviceID when the payload carries none.
func DecodeCombinedSensor(payload []byte, defaultDeviceID string) ([]SensorReading, error) {
	var msg combinedMessage
	if err := unmarshalObject(payload, &msg); err != nil {
		return nil, err
	}

	values := map[SensorKind]*float64{
		SensorTemperature: msg.Temperature,
		SensorHumidity:    msg.Humidity,
		SensorEC:          msg.EC,
		SensorPH:          msg.PH,
	}

	var missing []string
	for _, k := range SensorKinds {
		if values[k] == nil {
			missing = append(missing, string(k))
		}
	}
	if len(missing) > 0 {
		return nil, &DecodeError{Err: fmt.Errorf("missing fields: %s", strings.Join(missing, ", "))}
	}

	deviceID := strings.TrimSpace(msg.DeviceID)
	if deviceID == "" {
		deviceID = defaultDeviceID
	}

	readings := make([]SensorReading, 0, len(SensorKinds))
	for _, k := range SensorKinds {
		readings = append(readings, NewSensorReading(k, *values[k], deviceID))
	}
	return readings, nil
}

// DecodeActuator turns an actuator payload into an event for kind.
//
// Field precedence: a present "state" gives on/off by its truthiness (false,
// 0, "" and null are off; anything else is on); otherwise "brightness"
// gives set with that value; otherwise "value" gives set with that value;
// a payload with none of them is recorded as off with no value.
// The returned event has no user id.
func DecodeActuator(kind ActuatorKind, payload []byte) (ActuatorEvent, error) {
	if !kind.Valid() {
		return ActuatorEvent{}, fmt.Errorf("%w: %q", ErrInvalidActuatorKind, kind)
	}

	var msg actuatorMessage
	if err := unmarshalObject(payload, &msg); err != nil {
		return ActuatorEvent{}, err
	}

	ev := ActuatorEvent{Kind: kind, Action: ActionOff}
	switch {
	case len(msg.State) > 0:
		if truthy(msg.State) {
			ev.Action = ActionOn
		}
	case msg.Brightness != nil:
		ev.Action = ActionSet
		ev.Value = msg.Brightness
	case msg.Value != nil:
		ev.Action = ActionSet
		ev.Value = msg.Value
	}
	return ev, nil
}

// truthy reports whether a JSON value counts as on. Arrays and objects
// count as on.
func truthy(raw json.RawMessage) bool {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0 && !math.IsNaN(x)
	case string:
		return x != ""
	default:
		return true
	}
}

// DecodeStatus decodes a device presence payload. The status field must be
// "online" or "offline"; the receive time is left for the caller to stamp.
func DecodeStatus(payload []byte) (DeviceStatus, error) {
	var msg statusMessage
	if err := unmarshalObject(payload, &msg); err != nil {
		return DeviceStatus{}, err
	}

	st := DeviceStatus{DeviceID: msg.DeviceID, DeviceTimestamp: msg.Timestamp}
	switch strings.ToLower(msg.Status) {
	case "online":
		st.Online = true
	case "offline":
	default:
		return DeviceStatus{}, &DecodeError{Err: fmt.Errorf("unknown status %q", msg.Status)}
	}
	return st, nil
}

// EncodeActuatorCommand builds the control payload for an actuator command.
//
//	on           -> {"state":true}
//	off          -> {"state":false}
//	set (led)    -> {"brightness":v}
//	set (others) -> {"value":v}
func EncodeActuatorCommand(kind ActuatorKind, action Action, value *float64) (json.RawMessage, error) {
	if err := ValidateCommand(kind, action, value); err != nil {
		return nil, err
	}

	var msg actuatorMessage
	switch action {
	case ActionOn, ActionOff:
		msg.State = json.RawMessage("false")
		if action == ActionOn {
			msg.State = json.RawMessage("true")
		}
	case ActionSet:
		if kind == ActuatorLED {
			msg.Brightness = value
		} else {
			msg.Value = value
		}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding actuator command: %w", err)
	}
	return data, nil
}

// EncodeStatus builds a presence payload, as used for the last will.
func EncodeStatus(deviceID string, online bool) []byte {
	status := "offline"
	if online {
		status = "online"
	}
	data, _ := json.Marshal(struct { //nolint:errcheck // Two string fields cannot fail to marshal
		Status   string `json:"status"`
		DeviceID string `json:"device_id"`
	}{status, deviceID})
	return data
}

// ValidateCommand checks that value is present for set and absent otherwise.
func ValidateCommand(kind ActuatorKind, action Action, value *float64) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidActuatorKind, kind)
	}
	switch action {
	case ActionSet:
		if value == nil {
			return fmt.Errorf("%w: set requires a value", ErrInvalidEvent)
		}
		if math.IsNaN(*value) || math.IsInf(*value, 0) {
			return fmt.Errorf("%w: value must be finite", ErrInvalidEvent)
		}
	case ActionOn, ActionOff:
		if value != nil {
			return fmt.Errorf("%w: %s takes no value", ErrInvalidEvent, action)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	return nil
}

// ValidateReading checks a reading before it is written.
func ValidateReading(r SensorReading) error {
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: kind %q", ErrInvalidReading, r.Kind)
	}
	if r.Unit != r.Kind.Unit() {
		return fmt.Errorf("%w: unit %q for %s", ErrInvalidReading, r.Unit, r.Kind)
	}
	if r.DeviceID == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalidReading)
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return fmt.Errorf("%w: value must be finite", ErrInvalidReading)
	}
	return nil
}

// ValidateEvent checks an actuator event before it is written.
func ValidateEvent(ev ActuatorEvent) error {
	return ValidateCommand(ev.Kind, ev.Action, ev.Value)
}

// unmarshalObject decodes payload into v, requiring a JSON object.
func unmarshalObject(payload []byte, v any) error {
	trimmed := strings.TrimSpace(string(payload))
	if !strings.HasPrefix(trimmed, "{") {
		return &DecodeError{Err: errors.New("payload is not a JSON object")}
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}
