package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/audit"
)

// Measurements written by this package.
const (
	MeasurementSecurityEvents = "security_events"
	MeasurementSweeps         = "sweeps"
)

// WriteSecurityEvent mirrors an audit event as a point. Tags stay low
// cardinality (organization, type, outcome); user and resource go into
// fields. It implements audit.Sink.
func (c *Client) WriteSecurityEvent(e audit.Event) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(securityEventPoint(e))
}

// WriteSweep records how many rows one retention job removed.
func (c *Client) WriteSweep(job string, removed int64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(sweepPoint(job, removed, at))
}

func securityEventPoint(e audit.Event) *write.Point {
	org := e.OrganizationID
	if org == "" {
		org = "none"
	}
	outcome := "success"
	if !e.Success {
		outcome = "failure"
	}
	fields := map[string]interface{}{
		"count": 1,
	}
	if e.UserID != "" {
		fields["user_id"] = e.UserID
	}
	if e.Resource != "" {
		fields["resource"] = e.Resource
	}
	if e.IPAddress != "" {
		fields["ip_address"] = e.IPAddress
	}
	at := e.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(
		MeasurementSecurityEvents,
		map[string]string{
			"organization_id": org,
			"type":            string(e.Type),
			"outcome":         outcome,
		},
		fields,
		at,
	)
}

func sweepPoint(job string, removed int64, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementSweeps,
		map[string]string{"job": job},
		map[string]interface{}{"removed": removed},
		at,
	)
}
