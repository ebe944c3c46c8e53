package mqtt

import "fmt"

// TopicPrefix is the root of every topic a node publishes.
const TopicPrefix = "btlesniffer"

// Topics provides builders for btlesniffer MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.Sighting("node-001", "AA:BB:CC:DD:EE:FF")
//	// Returns: "btlesniffer/node/node-001/sighting/AA:BB:CC:DD:EE:FF"
type Topics struct{}

// NodeStatus returns the retained online/offline topic of a node.
//
// Example: btlesniffer/node/node-001/status
func (Topics) NodeStatus(nodeID string) string {
	return fmt.Sprintf("%s/node/%s/status", TopicPrefix, nodeID)
}

// NodeInfo returns the retained topic carrying a node's location and scanner
// settings.
//
// Example: btlesniffer/node/node-001/info
func (Topics) NodeInfo(nodeID string) string {
	return fmt.Sprintf("%s/node/%s/info", TopicPrefix, nodeID)
}

// NodeHealth returns the periodic health topic of a node.
//
// Example: btlesniffer/node/node-001/health
func (Topics) NodeHealth(nodeID string) string {
	return fmt.Sprintf("%s/node/%s/health", TopicPrefix, nodeID)
}

// Sighting returns the topic for one device's sightings on a node.
//
// Example: btlesniffer/node/node-001/sighting/AA:BB:CC:DD:EE:FF
func (Topics) Sighting(nodeID, identifier string) string {
	return fmt.Sprintf("%s/node/%s/sighting/%s", TopicPrefix, nodeID, identifier)
}

// AllSightings matches sightings from every node.
//
// Pattern: btlesniffer/node/+/sighting/+
func (Topics) AllSightings() string {
	return fmt.Sprintf("%s/node/+/sighting/+", TopicPrefix)
}

// AllNodeStatus matches the status topic of every node.
//
// Pattern: btlesniffer/node/+/status
func (Topics) AllNodeStatus() string {
	return fmt.Sprintf("%s/node/+/status", TopicPrefix)
}

// AllTopics matches all btlesniffer traffic.
//
// Pattern: btlesniffer/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
