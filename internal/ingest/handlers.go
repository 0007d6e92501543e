package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smartfarm/farmbridge/internal/infrastructure/mqtt"
	"github.com/smartfarm/farmbridge/internal/telemetry"
)

// SensorHandler persists combined sensor messages.
//
// Only smartfarm/sensors/all is stored. Single-sensor topics are ignored so
// that every stored round shares one observation time; the combined and
// single messages are not guaranteed to arrive in order.
type SensorHandler struct {
	gateway         telemetry.Gateway
	defaultDeviceID string
	notifier        Notifier
	logger          Logger
	now             func() time.Time
}

// Handle decodes and stores one sensor message.
func (h *SensorHandler) Handle(ctx context.Context, topic string, payload []byte) (Outcome, error) {
	if topic != mqtt.TopicSensorsAll {
		h.logger.Debug("ignoring single-sensor message", "topic", topic)
		return OutcomeIgnored, nil
	}

	readings, err := telemetry.DecodeCombinedSensor(payload, h.defaultDeviceID)
	if err != nil {
		return "", withTopic(topic, err)
	}

	if err := telemetry.WriteSensorRound(ctx, h.gateway, readings); err != nil {
		return "", fmt.Errorf("persisting sensor round: %w", err)
	}

	h.logger.Debug("sensor round stored",
		"device_id", readings[0].DeviceID,
		"readings", len(readings),
	)
	h.notifier.SensorRound(readings, h.now())
	return OutcomePersisted, nil
}

// ActuatorHandler records actuator state reports. The actuator kind is the
// last topic segment; one event is stored per message with no user id.
type ActuatorHandler struct {
	gateway  telemetry.Gateway
	notifier Notifier
	logger   Logger
	now      func() time.Time
}

// Handle decodes and stores one actuator message.
func (h *ActuatorHandler) Handle(ctx context.Context, topic string, payload []byte) (Outcome, error) {
	if topic == mqtt.TopicActuatorsAll {
		h.logger.Debug("ignoring broadcast actuator message", "topic", topic)
		return OutcomeIgnored, nil
	}
	name := topic[strings.LastIndex(topic, "/")+1:]

	ev, err := telemetry.DecodeActuator(telemetry.ActuatorKind(name), payload)
	if err != nil {
		return "", withTopic(topic, err)
	}

	if err := h.gateway.InsertActuatorEvent(ctx, ev); err != nil {
		return "", fmt.Errorf("persisting %s event: %w", ev.Kind, err)
	}

	h.logger.Debug("actuator event stored", "actuator", ev.Kind, "action", ev.Action)
	ev.CreatedAt = h.now()
	h.notifier.ActuatorEvent(ev)
	return OutcomePersisted, nil
}

// StatusHandler logs device presence announcements. They are not persisted.
type StatusHandler struct {
	notifier Notifier
	logger   Logger
	now      func() time.Time
}

// Handle decodes and logs one status message.
func (h *StatusHandler) Handle(_ context.Context, topic string, payload []byte) (Outcome, error) {
	st, err := telemetry.DecodeStatus(payload)
	if err != nil {
		return "", withTopic(topic, err)
	}
	st.ReceivedAt = h.now()

	h.logger.Info("device status", "device_id", st.DeviceID, "online", st.Online)
	h.notifier.DeviceStatus(st)
	return OutcomeLogged, nil
}

// withTopic records topic on decode errors.
func withTopic(topic string, err error) error {
	if de, ok := err.(*telemetry.DecodeError); ok && de.Topic == "" {
		return &telemetry.DecodeError{Topic: topic, Err: de.Err}
	}
	return err
}
