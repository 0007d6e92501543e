package telemetry

import (
	"context"
	"time"
)

// PointWriter receives a copy of every successful write. It is satisfied by
// *influxdb.Client. Implementations must not block.
type PointWriter interface {
	WriteSensorReading(deviceID, kind, unit string, value float64, at time.Time)
	WriteActuatorEvent(kind, action string, value *float64, source string, at time.Time)
}

// MirroredGateway forwards writes to a primary Gateway and, once the primary
// accepts them, copies them to a PointWriter. Mirror failures never fail the write.
type MirroredGateway struct {
	primary Gateway
	mirror  PointWriter
	now     func() time.Time
}

// NewMirroredGateway wraps primary. A nil mirror returns primary unchanged.
func NewMirroredGateway(primary Gateway, mirror PointWriter) Gateway {
	if mirror == nil {
		return primary
	}
	return &MirroredGateway{primary: primary, mirror: mirror, now: time.Now}
}

// InsertSensorReading writes to the primary store then mirrors.
func (g *MirroredGateway) InsertSensorReading(ctx context.Context, r SensorReading) error {
	if err := g.primary.InsertSensorReading(ctx, r); err != nil {
		return err
	}
	g.mirror.WriteSensorReading(r.DeviceID, string(r.Kind), r.Unit, r.Value, g.now())
	return nil
}

// InsertSensorRound writes the round to the primary store then mirrors
// every reading with one timestamp.
func (g *MirroredGateway) InsertSensorRound(ctx context.Context, readings []SensorReading) error {
	if err := WriteSensorRound(ctx, g.primary, readings); err != nil {
		return err
	}
	at := g.now()
	for _, r := range readings {
		g.mirror.WriteSensorReading(r.DeviceID, string(r.Kind), r.Unit, r.Value, at)
	}
	return nil
}

// InsertActuatorEvent writes to the primary store then mirrors.
func (g *MirroredGateway) InsertActuatorEvent(ctx context.Context, ev ActuatorEvent) error {
	if err := g.primary.InsertActuatorEvent(ctx, ev); err != nil {
		return err
	}
	source := "broker"
	if ev.UserID != nil {
		source = "api"
	}
	g.mirror.WriteActuatorEvent(string(ev.Kind), string(ev.Action), ev.Value, source, g.now())
	return nil
}
