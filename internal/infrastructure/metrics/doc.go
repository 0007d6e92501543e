// Package metrics exposes farmbridge's Prometheus collectors: broker
// connection state, connect and publish outcomes, inbound message outcomes
// and live-feed clients.
//
// Collectors register on an injected prometheus.Registerer so tests can use
// a private registry.
package metrics
