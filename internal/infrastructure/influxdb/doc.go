// Package influxdb mirrors security events into InfluxDB.
//
// The audit table is the system of record. This package feeds dashboards
// and alerting: one point per audit event in the security_events
// measurement, tagged by organization, type and outcome, and one point per
// retention sweep in the sweeps measurement.
//
// Writes are non-blocking and batched. A missing or slow InfluxDB never
// affects the operation that produced the event.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without telemetry
//	}
//	defer client.Close()
//
//	auditLogger := audit.NewLogger(repo, logger, audit.WithSink(client))
package influxdb
