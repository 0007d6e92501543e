// Package influxdb mirrors farm telemetry into InfluxDB v2.
//
// The SQL store remains the system of record. This package wraps the
// official influxdb-client-go v2 library so readings and actuator commands
// can also be graphed as time series.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // mirror switched off
//	}
//	defer client.Close()
//
//	client.WriteSensorReading("arduino-uno-r4", "ph", "pH", 6.4, time.Now())
//
// Writes are non-blocking and batched (batch_size, flush_interval). Batch
// failures are delivered to the SetOnError callback.
package influxdb
