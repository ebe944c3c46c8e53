// Package mqtt provides the MQTT connection a btlesniffer node uses to
// publish sightings and node status.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS and payload validation
//   - Last Will and Testament (LWT) so aggregators notice a dead node
//   - Retained online/offline status per node
//
// # Architecture
//
// Nodes only produce. Every node publishes under its own subtree and the
// aggregation side subscribes to the wildcards in Topics:
//
//	btlesniffer/node/{node_id}/status             retained online/offline
//	btlesniffer/node/{node_id}/info               retained location and settings
//	btlesniffer/node/{node_id}/health             periodic health report
//	btlesniffer/node/{node_id}/sighting/{address} one message per attempt
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Node.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.Sighting(cfg.Node.ID, "AA:BB:CC:DD:EE:FF")
//	err = client.PublishJSON(topic, sighting, false)
//
// Use TLS (mqtt.broker.tls) whenever the broker is not on the local network.
package mqtt
