package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	// Callers treat it as "no mirror", not as a failure.
	ErrDisabled = errors.New("influxdb: mirror disabled in configuration")

	// ErrConnectionFailed wraps ping failures during Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: client closed")

	// ErrWriteFailed wraps batch rejections delivered to the SetOnError callback.
	ErrWriteFailed = errors.New("influxdb: mirror write failed")
)
