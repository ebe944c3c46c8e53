package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/btlesniffer/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	defaultKeepAlive = 60 * time.Second

	maxQoS = 2

	tlsMinVersion = tls.VersionTLS12
)

// Node status values carried on the status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// NodeStatus is the retained payload on Topics.NodeStatus.
type NodeStatus struct {
	Status    string    `json:"status"`
	NodeID    string    `json:"node_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// clientID returns the configured client ID, or one derived from the node ID
// so that two nodes never share a session on the broker.
func clientID(cfg config.MQTTConfig, nodeID string) string {
	if cfg.Broker.ClientID != "" {
		return cfg.Broker.ClientID
	}
	return "btlesniffer-" + nodeID
}

// buildClientOptions creates paho MQTT options from the node config.
func buildClientOptions(cfg config.MQTTConfig, nodeID string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(clientID(cfg, nodeID))

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)

	// Sightings keep flowing into the local store while the broker is away;
	// paho reconnects in the background with exponential backoff.
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

// configureLWT makes the broker mark the node offline if it vanishes without
// a graceful Close.
//
// Topic: btlesniffer/node/{node_id}/status
// QoS: 1, Retained: true
func configureLWT(opts *pahomqtt.ClientOptions, nodeID string) {
	opts.SetWill(Topics{}.NodeStatus(nodeID), string(statusPayload(nodeID, StatusOffline, "unexpected_disconnect")), 1, true)
}

// statusPayload builds the JSON body for the node status topic.
func statusPayload(nodeID, status, reason string) []byte {
	payload, _ := json.Marshal(NodeStatus{ //nolint:errcheck // Struct of plain fields always marshals
		Status:    status,
		NodeID:    nodeID,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
	return payload
}
