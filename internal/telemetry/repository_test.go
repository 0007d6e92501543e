package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// memGateway is a Gateway without batch support.
type memGateway struct {
	mu       sync.Mutex
	readings []SensorReading
	events   []ActuatorEvent
	fail     map[SensorKind]error
	eventErr error
}

func (g *memGateway) InsertSensorReading(_ context.Context, r SensorReading) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail[r.Kind]; err != nil {
		return err
	}
	g.readings = append(g.readings, r)
	return nil
}

func (g *memGateway) InsertActuatorEvent(_ context.Context, ev ActuatorEvent) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.eventErr != nil {
		return g.eventErr
	}
	g.events = append(g.events, ev)
	return nil
}

// batchGateway records InsertSensorRound calls.
type batchGateway struct {
	memGateway
	rounds [][]SensorReading
}

func (g *batchGateway) InsertSensorRound(_ context.Context, readings []SensorReading) error {
	g.rounds = append(g.rounds, readings)
	return nil
}

func testRound(deviceID string) []SensorReading {
	return []SensorReading{
		NewSensorReading(SensorTemperature, 21, deviceID),
		NewSensorReading(SensorHumidity, 55, deviceID),
		NewSensorReading(SensorEC, 1.2, deviceID),
		NewSensorReading(SensorPH, 6.8, deviceID),
	}
}

func TestWriteSensorRound_UsesBatchWriter(t *testing.T) {
	gw := &batchGateway{}
	if err := WriteSensorRound(context.Background(), gw, testRound("dev")); err != nil {
		t.Fatalf("WriteSensorRound() error = %v", err)
	}
	if len(gw.rounds) != 1 || len(gw.rounds[0]) != 4 {
		t.Errorf("rounds = %v, want one round of 4", gw.rounds)
	}
	if len(gw.readings) != 0 {
		t.Errorf("single inserts = %d, want 0", len(gw.readings))
	}
}

func TestWriteSensorRound_PartialFailure(t *testing.T) {
	boom := errors.New("disk full")
	gw := &memGateway{fail: map[SensorKind]error{SensorEC: boom}}

	err := WriteSensorRound(context.Background(), gw, testRound("dev"))

	var pe *PartialWriteError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *PartialWriteError", err)
	}
	if len(pe.Failed) != 1 || pe.Failed[SensorEC] == nil {
		t.Errorf("failed = %v, want only ec", pe.Failed)
	}
	if !errors.Is(err, boom) {
		t.Error("PartialWriteError does not unwrap to the cause")
	}
	if len(gw.readings) != 3 {
		t.Errorf("written = %d, want 3 (the others still land)", len(gw.readings))
	}
}

func TestNormalizeLimit(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, DefaultQueryLimit},
		{-5, DefaultQueryLimit},
		{1, 1},
		{250, 250},
		{MaxQueryLimit + 1, MaxQueryLimit},
	}
	for _, tt := range tests {
		if got := NormalizeLimit(tt.in); got != tt.want {
			t.Errorf("NormalizeLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// latestReader answers LatestSensorReading from a fixed map.
type latestReader struct {
	Reader
	latest map[SensorKind]SensorReading
	err    error
}

func (r latestReader) LatestSensorReading(_ context.Context, kind SensorKind, _ string) (SensorReading, error) {
	if r.err != nil {
		return SensorReading{}, r.err
	}
	reading, ok := r.latest[kind]
	if !ok {
		return SensorReading{}, ErrNotFound
	}
	return reading, nil
}

func TestLatestPerKind(t *testing.T) {
	r := latestReader{latest: map[SensorKind]SensorReading{
		SensorPH: {Kind: SensorPH, Value: 6.1, Unit: "pH", DeviceID: "dev", CreatedAt: time.Now()},
	}}

	got, err := LatestPerKind(context.Background(), r, "dev")
	if err != nil {
		t.Fatalf("LatestPerKind() error = %v", err)
	}
	if len(got) != len(SensorKinds) {
		t.Fatalf("kinds = %d, want %d", len(got), len(SensorKinds))
	}
	if got[SensorPH] == nil || got[SensorPH].Value != 6.1 {
		t.Errorf("ph = %+v", got[SensorPH])
	}
	if got[SensorTemperature] != nil {
		t.Errorf("temperature = %+v, want nil", got[SensorTemperature])
	}

	boom := errors.New("db down")
	if _, err := LatestPerKind(context.Background(), latestReader{err: boom}, ""); !errors.Is(err, boom) {
		t.Errorf("error = %v, want %v", err, boom)
	}
}
