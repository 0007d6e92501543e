package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names in the mirror bucket.
const (
	MeasurementSensor   = "sensor_readings"
	MeasurementActuator = "actuator_events"
)

// WriteSensorReading mirrors one sensor reading.
//
// Example:
//
//	client.WriteSensorReading("arduino-uno-r4", "temperature", "°C", 24.5, time.Now())
func (c *Client) WriteSensorReading(deviceID, kind, unit string, value float64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(sensorPoint(deviceID, kind, unit, value, at))
}

// WriteActuatorEvent mirrors one actuator command. value may be nil for on/off.
// source is "api" or "broker".
func (c *Client) WriteActuatorEvent(kind, action string, value *float64, source string, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(actuatorPoint(kind, action, value, source, at))
}

func sensorPoint(deviceID, kind, unit string, value float64, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementSensor,
		map[string]string{
			"device_id":   deviceID,
			"sensor_type": kind,
			"unit":        unit,
		},
		map[string]any{
			"value": value,
		},
		at,
	)
}

func actuatorPoint(kind, action string, value *float64, source string, at time.Time) *write.Point {
	fields := map[string]any{
		// Numeric state so dashboards can graph on/off alongside set levels.
		"enabled": action != "off",
	}
	if value != nil {
		fields["value"] = *value
	}
	return write.NewPoint(
		MeasurementActuator,
		map[string]string{
			"actuator_type": kind,
			"action":        action,
			"source":        source,
		},
		fields,
		at,
	)
}
