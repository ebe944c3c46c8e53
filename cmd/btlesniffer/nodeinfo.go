package main

import (
	"time"

	"github.com/nerrad567/btlesniffer/internal/infrastructure/config"
)

// nodeInfo is the retained registration message on the node info topic.
// Aggregators read the antenna position from it.
type nodeInfo struct {
	NodeID   string          `json:"node_id"`
	Name     string          `json:"name,omitempty"`
	Version  string          `json:"version"`
	Location nodeLocation    `json:"location"`
	Scanner  nodeScannerInfo `json:"scanner"`
	Started  time.Time       `json:"started_at"`
}

type nodeLocation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type nodeScannerInfo struct {
	ThresholdRSSI          int     `json:"threshold_rssi"`
	MinimumIntervalSeconds float64 `json:"minimum_interval_seconds"`
	ConnectTimeoutSeconds  float64 `json:"connect_timeout_seconds"`
	MaxConcurrentAttempts  int     `json:"max_concurrent_attempts"`
}

func newNodeInfo(cfg *config.Config, version string) nodeInfo {
	return nodeInfo{
		NodeID:  cfg.Node.ID,
		Name:    cfg.Node.Name,
		Version: version,
		Location: nodeLocation{
			X: cfg.Node.Location.X,
			Y: cfg.Node.Location.Y,
		},
		Scanner: nodeScannerInfo{
			ThresholdRSSI:          cfg.Scanner.ThresholdRSSI,
			MinimumIntervalSeconds: cfg.Scanner.MinimumInterval.Seconds(),
			ConnectTimeoutSeconds:  cfg.Scanner.ConnectTimeout.Seconds(),
			MaxConcurrentAttempts:  cfg.Scanner.MaxConcurrentAttempts,
		},
		Started: time.Now().UTC(),
	}
}
