// Package api implements the HTTP REST API and WebSocket server for farmbridge.
//
// This package provides:
//   - Broker connection control (status, connect, disconnect, publish)
//   - Actuator commands and actuator history/state
//   - Sensor history and latest-value queries
//   - WebSocket hub for live sensor, actuator and device status events
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The API server sits between the farm dashboard and the broker. Commands
// flow from the API to the field controller via MQTT and are recorded once
// the broker acknowledges them. Inbound messages are handled by the ingest
// router, which notifies the Hub so subscribed WebSocket clients see them.
//
// The server is created with New, started with Start and stopped with
// Close:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// # Broker Connection
//
// Nothing here connects on startup. POST /api/v1/mqtt/connect, and any
// command or publish while disconnected, calls the connection manager's
// Connect; concurrent requests share a single attempt. Missing broker
// settings are reported as a 400 listing the missing keys.
//
// # Users
//
// Authentication is handled in front of this service. The optional
// X-User-ID header is recorded against actuator commands.
package api
