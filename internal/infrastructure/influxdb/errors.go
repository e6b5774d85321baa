package influxdb

import "errors"

var (
	// ErrDisabled means influxdb.enabled is false. Callers treat it as
	// "no telemetry sink" rather than a failure.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed means the server did not answer the initial ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected means the client has been closed.
	ErrNotConnected = errors.New("influxdb: not connected")
)
