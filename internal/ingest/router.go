package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smartfarm/farmbridge/internal/infrastructure/mqtt"
	"github.com/smartfarm/farmbridge/internal/telemetry"
)

// persistTimeout bounds the store writes made for one inbound message.
const persistTimeout = 10 * time.Second

// Route is the handler class a topic maps to.
type Route string

// Routes.
const (
	RouteSensor   Route = "sensor"
	RouteActuator Route = "actuator"
	RouteStatus   Route = "status"
	RouteUnknown  Route = "unknown"
)

// Outcome is what happened to one inbound message.
type Outcome string

// Outcomes.
const (
	OutcomePersisted    Outcome = "persisted"
	OutcomeLogged       Outcome = "logged"
	OutcomeIgnored      Outcome = "ignored"
	OutcomeDecodeError  Outcome = "decode_error"
	OutcomePersistError Outcome = "persist_error"
	OutcomeUnrouted     Outcome = "unrouted"
)

// Logger is the logging surface used by the router and handlers.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Notifier receives every message once it has been handled successfully,
// e.g. to push it to live-feed clients. Implementations must not block.
type Notifier interface {
	SensorRound(readings []telemetry.SensorReading, at time.Time)
	ActuatorEvent(ev telemetry.ActuatorEvent)
	DeviceStatus(st telemetry.DeviceStatus)
}

// Observer counts routed messages by route and outcome.
type Observer interface {
	MessageHandled(route Route, outcome Outcome)
}

// Deps holds the collaborators of a Router.
type Deps struct {
	// Gateway receives every persisted reading and event. Required.
	Gateway telemetry.Gateway

	// DefaultDeviceID is used for combined messages without device_id.
	DefaultDeviceID string

	Logger   Logger
	Notifier Notifier
	Observer Observer
}

// Router classifies inbound MQTT messages by topic and dispatches them.
//
// Precedence: smartfarm/sensors/ prefix, then smartfarm/actuators/ prefix,
// then the exact status topic. Anything else is logged and dropped.
//
// A malformed message is logged and dropped; it never reaches the caller
// and never affects later messages. Persistence failures are returned so
// the connection manager can log them; the message is not retried.
type Router struct {
	sensors   *SensorHandler
	actuators *ActuatorHandler
	status    *StatusHandler
	logger    Logger
	observer  Observer
}

// NewRouter wires the three handlers around deps.
func NewRouter(deps Deps) *Router {
	if deps.Logger == nil {
		deps.Logger = nopLogger{}
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.DefaultDeviceID == "" {
		deps.DefaultDeviceID = telemetry.DefaultDeviceID
	}

	now := time.Now
	return &Router{
		sensors: &SensorHandler{
			gateway:         deps.Gateway,
			defaultDeviceID: deps.DefaultDeviceID,
			notifier:        deps.Notifier,
			logger:          deps.Logger,
			now:             now,
		},
		actuators: &ActuatorHandler{
			gateway:  deps.Gateway,
			notifier: deps.Notifier,
			logger:   deps.Logger,
			now:      now,
		},
		status: &StatusHandler{
			notifier: deps.Notifier,
			logger:   deps.Logger,
			now:      now,
		},
		logger:   deps.Logger,
		observer: deps.Observer,
	}
}

// Classify returns the route for topic.
func Classify(topic string) Route {
	switch {
	case strings.HasPrefix(topic, mqtt.TopicSensorPrefix):
		return RouteSensor
	case strings.HasPrefix(topic, mqtt.TopicActuatorPrefix):
		return RouteActuator
	case topic == mqtt.TopicStatus:
		return RouteStatus
	default:
		return RouteUnknown
	}
}

// Handle satisfies mqtt.MessageHandler.
func (r *Router) Handle(topic string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	return r.HandleContext(ctx, topic, payload)
}

// HandleContext routes one message with ctx bounding the store writes.
func (r *Router) HandleContext(ctx context.Context, topic string, payload []byte) error {
	route := Classify(topic)

	var (
		outcome Outcome
		err     error
	)
	switch route {
	case RouteSensor:
		outcome, err = r.sensors.Handle(ctx, topic, payload)
	case RouteActuator:
		outcome, err = r.actuators.Handle(ctx, topic, payload)
	case RouteStatus:
		outcome, err = r.status.Handle(ctx, topic, payload)
	default:
		r.logger.Warn("dropping message on unknown topic", "topic", topic)
		outcome = OutcomeUnrouted
	}

	if err != nil && isDropped(err) {
		r.logger.Warn("dropping malformed message",
			"topic", topic,
			"error", err,
			"payload_bytes", len(payload),
		)
		outcome, err = OutcomeDecodeError, nil
	}
	if err != nil {
		outcome = OutcomePersistError
	}

	if r.observer != nil {
		r.observer.MessageHandled(route, outcome)
	}
	return err
}

// isDropped reports whether err comes from the message itself rather than
// the store.
func isDropped(err error) bool {
	return errors.Is(err, telemetry.ErrDecode) ||
		errors.Is(err, telemetry.ErrInvalidActuatorKind) ||
		errors.Is(err, telemetry.ErrInvalidReading) ||
		errors.Is(err, telemetry.ErrInvalidEvent)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type nopNotifier struct{}

func (nopNotifier) SensorRound([]telemetry.SensorReading, time.Time) {}
func (nopNotifier) ActuatorEvent(telemetry.ActuatorEvent)            {}
func (nopNotifier) DeviceStatus(telemetry.DeviceStatus)              {}
