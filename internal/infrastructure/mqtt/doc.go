// Package mqtt owns farmbridge's single connection to the farm's MQTT broker.
//
// This package manages:
//   - One transport per Manager, with concurrent Connect calls sharing a
//     single in-flight attempt
//   - A bounded connect timeout and a last will on smartfarm/status
//   - The fixed subscription set (every sensor and actuator topic plus status)
//   - Asynchronous publishing with an awaitable PublishResult
//   - Strict connection reporting that reconciles cached state with the transport
//
// # Reconnection
//
// There is no automatic reconnect. When the connection drops the Manager
// returns to Disconnected and records the failure; Status exposes the
// attempt count and last error so callers can apply their own backoff.
//
// # Architecture
//
//	farm devices ↔ MQTT broker ↔ Manager → MessageHandler (internal/ingest)
//	                                ↑
//	                        HTTP API (Connect/Publish via Provider)
//
// # Security Considerations
//
//   - mqtts:// and wss:// URLs use TLS 1.2 or newer
//   - Credentials should come from FARMBRIDGE_MQTT_USERNAME / FARMBRIDGE_MQTT_PASSWORD
//
// # Usage
//
//	provider := mqtt.NewProvider(cfg.MQTT,
//	    mqtt.WithMessageHandler(router.Handle),
//	    mqtt.WithLogger(log),
//	)
//	defer provider.Close()
//
//	mgr := provider.Get()
//	if err := mgr.Connect(ctx); err != nil {
//	    var cfgErr *mqtt.ConfigurationError
//	    if errors.As(err, &cfgErr) {
//	        log.Warn("broker not configured", "missing", cfgErr.Missing)
//	    }
//	}
//
//	res, err := mgr.Publish(mqtt.TopicActuatorsAll, map[string]bool{"state": false}, mqtt.DefaultQoS)
package mqtt
