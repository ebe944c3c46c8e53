package sink

import (
	"context"
	"fmt"

	"github.com/nerrad567/btlesniffer/internal/infrastructure/mqtt"
)

// jsonPublisher is the part of *mqtt.Client the sink needs.
type jsonPublisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// MQTTPublisher publishes each sighting, non-retained, on
// btlesniffer/node/{node_id}/sighting/{identifier}.
type MQTTPublisher struct {
	client jsonPublisher
	topics mqtt.Topics
}

// NewMQTTPublisher wraps a connected MQTT client.
func NewMQTTPublisher(client jsonPublisher) *MQTTPublisher {
	return &MQTTPublisher{client: client}
}

// Publish implements Publisher.
func (p *MQTTPublisher) Publish(ctx context.Context, s Sighting) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.client.PublishJSON(p.topics.Sighting(s.NodeID, s.Identifier), s, false); err != nil {
		return fmt.Errorf("publishing sighting to mqtt: %w", err)
	}
	return nil
}
