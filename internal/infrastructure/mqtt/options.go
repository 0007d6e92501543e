package mqtt

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/smartfarm/farmbridge/internal/infrastructure/config"
	"github.com/smartfarm/farmbridge/internal/telemetry"
)

// Connection constants.
const (
	// DefaultQoS is used for subscriptions and for publishes that do not
	// name a QoS.
	DefaultQoS byte = 1

	// defaultConnectTimeout bounds a connection attempt when the config
	// leaves connect_timeout unset.
	defaultConnectTimeout = 30 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultSubscribeTimeout bounds the wait for all subscription acks
	// after a connect.
	defaultSubscribeTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// schemeAliases maps URL schemes accepted in config onto the ones paho
// dials.
var schemeAliases = map[string]string{
	"mqtt":  "tcp",
	"tcp":   "tcp",
	"mqtts": "ssl",
	"ssl":   "ssl",
	"tls":   "ssl",
	"ws":    "ws",
	"wss":   "wss",
}

// missingSettings returns the config keys Connect needs but cfg lacks.
func missingSettings(cfg config.MQTTConfig) []string {
	var missing []string
	if cfg.Broker.URL == "" {
		missing = append(missing, "mqtt.broker.url")
	}
	if cfg.Auth.Username == "" {
		missing = append(missing, "mqtt.auth.username")
	}
	if cfg.Auth.Password == "" {
		missing = append(missing, "mqtt.auth.password")
	}
	return missing
}

// normalizeBrokerURL rewrites the configured URL to a scheme paho can dial.
func normalizeBrokerURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: broker url: %w", ErrConfiguration, err)
	}
	scheme, ok := schemeAliases[strings.ToLower(u.Scheme)]
	if !ok || u.Host == "" {
		return "", fmt.Errorf("%w: broker url %q: expected scheme://host:port", ErrConfiguration, raw)
	}
	u.Scheme = scheme
	return u.String(), nil
}

// transportOptions builds the options for a new transport from config.
func transportOptions(cfg config.MQTTConfig, brokerURL string, connectTimeout time.Duration) TransportOptions {
	return TransportOptions{
		BrokerURL:      brokerURL,
		ClientID:       cfg.Broker.ClientID,
		Username:       cfg.Auth.Username,
		Password:       cfg.Auth.Password,
		KeepAlive:      time.Duration(cfg.KeepAlive) * time.Second,
		ConnectTimeout: connectTimeout,
		Will:           lastWill(cfg.Will.DeviceID),
	}
}

// lastWill announces the bridge offline on the status topic.
//
// Topic: smartfarm/status
// QoS: 1
// Retained: false
func lastWill(deviceID string) Will {
	return Will{
		Topic:   TopicStatus,
		Payload: telemetry.EncodeStatus(deviceID, false),
		QoS:     1,
	}
}

// buildClientOptions creates paho MQTT options.
//
// This configures:
//   - Broker URL and TLS for ssl/wss schemes
//   - Client ID and credentials
//   - Clean session mode
//   - No automatic reconnect; reconnection is left to the caller
//   - In-order message delivery
//   - Last will
func buildClientOptions(o TransportOptions) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(o.BrokerURL)
	opts.SetClientID(o.ClientID)

	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	// Handlers run sequentially on paho's router goroutine.
	opts.SetOrderMatters(true)

	opts.SetConnectTimeout(o.ConnectTimeout)
	if o.KeepAlive > 0 {
		opts.SetKeepAlive(o.KeepAlive)
	}

	if o.Will.Topic != "" {
		opts.SetBinaryWill(o.Will.Topic, o.Will.Payload, o.Will.QoS, o.Will.Retained)
	}

	if strings.HasPrefix(o.BrokerURL, "ssl://") || strings.HasPrefix(o.BrokerURL, "wss://") {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	if o.OnConnectionLost != nil {
		lost := o.OnConnectionLost
		opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			lost(err)
		})
	}

	return opts
}
