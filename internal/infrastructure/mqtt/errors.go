package mqtt

import (
	"errors"
	"strings"
)

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConfiguration is returned when broker URL or credentials are missing
	// or unusable. The concrete error is a *ConfigurationError.
	ErrConfiguration = errors.New("mqtt: connection not configured")

	// ErrConnectTimeout is returned when the handshake does not complete
	// within the connect timeout.
	ErrConnectTimeout = errors.New("mqtt: connect timed out")

	// ErrTransport is returned when the broker or network rejects the
	// connection attempt.
	ErrTransport = errors.New("mqtt: transport error")

	// ErrNotConnected is returned when attempting operations on a disconnected client.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectAborted is returned to callers waiting on an attempt that
	// was cancelled by Disconnect.
	ErrConnectAborted = errors.New("mqtt: connect aborted")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty or wildcard topic is used for publishing.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)

// ConfigurationError lists the connection settings that must be supplied
// before Connect can create a transport.
type ConfigurationError struct {
	// Missing holds config keys, e.g. "mqtt.broker.url".
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return ErrConfiguration.Error() + ": missing " + strings.Join(e.Missing, ", ")
}

// Is reports ErrConfiguration as the error's kind.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
