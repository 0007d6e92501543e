// Package ingest turns inbound MQTT messages into stored telemetry.
//
// The Router is installed as the connection manager's message handler:
//
//	router := ingest.NewRouter(ingest.Deps{
//	    Gateway:         store,
//	    DefaultDeviceID: cfg.Farm.DefaultDeviceID,
//	    Logger:          log,
//	    Notifier:        hub,
//	})
//	provider := mqtt.NewProvider(cfg.MQTT, mqtt.WithMessageHandler(router.Handle))
//
// Messages are handled sequentially in arrival order. Nothing is
// deduplicated, so a QoS 1 redelivery is stored twice.
package ingest
