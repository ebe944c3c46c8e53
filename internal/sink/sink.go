package sink

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/btlesniffer/internal/radio"
)

// Sighting is the record a node produces for each connection attempt.
type Sighting struct {
	ID                string          `json:"id"`
	NodeID            string          `json:"node_id"`
	Identifier        string          `json:"identifier"`
	RSSI              int             `json:"rssi"`
	Timestamp         time.Time       `json:"timestamp"`
	ConnectionSuccess bool            `json:"connection_success"`
	Error             string          `json:"error,omitempty"`
	Device            *radio.Metadata `json:"device,omitempty"`
}

// NewSighting builds a sighting with a fresh ID. attemptErr is flattened
// into the Error field.
func NewSighting(nodeID, identifier string, rssi int, ts time.Time, success bool, attemptErr error, device *radio.Metadata) Sighting {
	s := Sighting{
		ID:                uuid.NewString(),
		NodeID:            nodeID,
		Identifier:        identifier,
		RSSI:              rssi,
		Timestamp:         ts.UTC(),
		ConnectionSuccess: success,
		Device:            device,
	}
	if attemptErr != nil {
		s.Error = attemptErr.Error()
	}
	return s
}

// Publisher delivers sightings somewhere.
type Publisher interface {
	Publish(ctx context.Context, s Sighting) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, s Sighting) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, s Sighting) error {
	return f(ctx, s)
}

// Discard drops every sighting.
type Discard struct{}

// Publish does nothing.
func (Discard) Publish(context.Context, Sighting) error { return nil }

// Fanout publishes to every publisher in order. A failing publisher does not
// stop the others; all errors are joined.
type Fanout []Publisher

// NewFanout skips nil publishers.
func NewFanout(publishers ...Publisher) Fanout {
	f := make(Fanout, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			f = append(f, p)
		}
	}
	return f
}

// Publish implements Publisher.
func (f Fanout) Publish(ctx context.Context, s Sighting) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
