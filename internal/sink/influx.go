package sink

import (
	"context"
	"time"
)

// sightingWriter is the part of *influxdb.Client the sink needs.
type sightingWriter interface {
	WriteSighting(identifier string, rssi int, success bool, timestamp time.Time)
}

// InfluxPublisher writes each sighting as a ble_sighting point. Writes are
// batched by the client; failures surface through its error callback.
type InfluxPublisher struct {
	writer sightingWriter
}

// NewInfluxPublisher wraps an InfluxDB client.
func NewInfluxPublisher(w sightingWriter) *InfluxPublisher {
	return &InfluxPublisher{writer: w}
}

// Publish implements Publisher.
func (p *InfluxPublisher) Publish(ctx context.Context, s Sighting) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.writer.WriteSighting(s.Identifier, s.RSSI, s.ConnectionSuccess, s.Timestamp)
	return nil
}
