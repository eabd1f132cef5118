package influxdb

import "errors"

// Sentinel errors returned by the telemetry client. Write failures are
// asynchronous and reach the SetOnError callback instead.
var (
	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed wraps the error from the initial ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
