package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementSighting   = "ble_sighting"
	MeasurementNodeHealth = "node_health"
)

// WriteSighting records one connection attempt outcome at its observation time.
//
// Example:
//
//	client.WriteSighting("AA:BB:CC:DD:EE:FF", -61, true, seenAt)
func (c *Client) WriteSighting(identifier string, rssi int, success bool, timestamp time.Time) {
	c.WritePointWithTime(MeasurementSighting,
		map[string]string{
			"identifier": identifier,
			"success":    strconv.FormatBool(success),
		},
		map[string]interface{}{
			"rssi":    rssi,
			"success": success,
		},
		timestamp,
	)
}

// HealthSample is one node health measurement.
type HealthSample struct {
	Devices   int
	Pending   int
	Attempts  uint64
	Successes uint64
	Uptime    time.Duration
}

// WriteNodeHealth records the node's registry and attempt counters.
func (c *Client) WriteNodeHealth(s HealthSample) {
	c.WritePointWithTime(MeasurementNodeHealth,
		nil,
		map[string]interface{}{
			"devices":   s.Devices,
			"pending":   s.Pending,
			"attempts":  s.Attempts,
			"successes": s.Successes,
			"uptime_s":  int64(s.Uptime / time.Second),
		},
		time.Now(),
	)
}

// WritePointWithTime writes a point with a specific timestamp. The node_id tag
// is always added.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	merged := make(map[string]string, len(tags)+1)
	for k, v := range tags {
		merged[k] = v
	}
	merged["node_id"] = c.nodeID

	c.writer.WritePoint(write.NewPoint(measurement, merged, fields, timestamp))
}
