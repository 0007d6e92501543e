package telemetry

import (
	"fmt"
	"time"
)

// DefaultDeviceID is recorded when a combined sensor message names no device.
const DefaultDeviceID = "arduino-uno-r4"

// SensorKind identifies a measured quantity.
type SensorKind string

// Sensor kinds reported by the field controller.
const (
	SensorTemperature SensorKind = "temperature"
	SensorHumidity    SensorKind = "humidity"
	SensorEC          SensorKind = "ec"
	SensorPH          SensorKind = "ph"
)

// SensorKinds lists every kind in the order a combined message is persisted.
var SensorKinds = []SensorKind{SensorTemperature, SensorHumidity, SensorEC, SensorPH}

var sensorUnits = map[SensorKind]string{
	SensorTemperature: "°C",
	SensorHumidity:    "%",
	SensorEC:          "mS/cm",
	SensorPH:          "pH",
}

// Unit returns the fixed unit for the kind, or "" for an unknown kind.
func (k SensorKind) Unit() string {
	return sensorUnits[k]
}

// Valid reports whether k is a known sensor kind.
func (k SensorKind) Valid() bool {
	_, ok := sensorUnits[k]
	return ok
}

// ParseSensorKind validates s as a sensor kind.
func ParseSensorKind(s string) (SensorKind, error) {
	k := SensorKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSensorKind, s)
	}
	return k, nil
}

// SensorReading is one persisted measurement.
type SensorReading struct {
	ID        int64      `json:"id,omitempty"`
	Kind      SensorKind `json:"sensor_type"`
	Value     float64    `json:"value"`
	Unit      string     `json:"unit"`
	DeviceID  string     `json:"device_id"`
	CreatedAt time.Time  `json:"created_at"`
}

// NewSensorReading builds a reading with the kind's fixed unit.
func NewSensorReading(kind SensorKind, value float64, deviceID string) SensorReading {
	return SensorReading{
		Kind:     kind,
		Value:    value,
		Unit:     kind.Unit(),
		DeviceID: deviceID,
	}
}

// ActuatorKind identifies a controllable output.
type ActuatorKind string

// Actuator kinds. ActuatorLED is the grow light.
const (
	ActuatorLED  ActuatorKind = "led"
	ActuatorPump ActuatorKind = "pump"
	ActuatorFan1 ActuatorKind = "fan1"
	ActuatorFan2 ActuatorKind = "fan2"
)

// ActuatorKinds lists every actuator kind.
var ActuatorKinds = []ActuatorKind{ActuatorLED, ActuatorPump, ActuatorFan1, ActuatorFan2}

// Valid reports whether k is a known actuator kind.
func (k ActuatorKind) Valid() bool {
	switch k {
	case ActuatorLED, ActuatorPump, ActuatorFan1, ActuatorFan2:
		return true
	}
	return false
}

// ParseActuatorKind validates s as an actuator kind.
func ParseActuatorKind(s string) (ActuatorKind, error) {
	k := ActuatorKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidActuatorKind, s)
	}
	return k, nil
}

// Action is the command applied to an actuator.
type Action string

// Actuator actions. ActionSet carries a value (brightness or level).
const (
	ActionOn  Action = "on"
	ActionOff Action = "off"
	ActionSet Action = "set"
)

// ParseAction validates s as an action.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionOn, ActionOff, ActionSet:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

// ActuatorEvent is one entry in the append-only actuator command log.
//
// Value is non-nil exactly when Action is ActionSet. UserID is nil for
// events observed on the broker rather than issued through the API.
type ActuatorEvent struct {
	ID        int64        `json:"id,omitempty"`
	Kind      ActuatorKind `json:"actuator_type"`
	Action    Action       `json:"action"`
	Value     *float64     `json:"value"`
	UserID    *string      `json:"user_id"`
	CreatedAt time.Time    `json:"created_at"`
}

// DeviceStatus is a presence announcement on the status topic.
type DeviceStatus struct {
	DeviceID string `json:"device_id"`
	Online   bool   `json:"online"`

	// DeviceTimestamp is the device's own clock value, passed through untouched.
	DeviceTimestamp int64     `json:"device_timestamp,omitempty"`
	ReceivedAt      time.Time `json:"received_at"`
}

// ActuatorState is the dashboard view of every actuator, derived from the
// most recent event per kind.
type ActuatorState struct {
	LED  LEDState    `json:"led"`
	Pump SwitchState `json:"pump"`
	Fan1 SwitchState `json:"fan1"`
	Fan2 SwitchState `json:"fan2"`
}

// LEDState is the grow light's derived state.
type LEDState struct {
	Enabled    bool    `json:"enabled"`
	Brightness float64 `json:"brightness"`
}

// SwitchState is an on/off actuator's derived state.
type SwitchState struct {
	Enabled bool `json:"enabled"`
}

// DeriveActuatorState folds the latest event per kind into an ActuatorState.
// Kinds with no event stay disabled.
//
// The light is enabled by "on" or by "set" with a positive value; its
// brightness is the last set value. Other actuators are enabled only by "on".
func DeriveActuatorState(latest map[ActuatorKind]ActuatorEvent) ActuatorState {
	var st ActuatorState

	if ev, ok := latest[ActuatorLED]; ok {
		switch ev.Action {
		case ActionOn:
			st.LED.Enabled = true
		case ActionSet:
			if ev.Value != nil {
				st.LED.Brightness = *ev.Value
				st.LED.Enabled = *ev.Value > 0
			}
		}
	}

	switchOn := func(kind ActuatorKind) bool {
		ev, ok := latest[kind]
		return ok && ev.Action == ActionOn
	}
	st.Pump.Enabled = switchOn(ActuatorPump)
	st.Fan1.Enabled = switchOn(ActuatorFan1)
	st.Fan2.Enabled = switchOn(ActuatorFan2)

	return st
}
