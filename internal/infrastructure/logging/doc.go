// Package logging provides structured logging for the btlesniffer node agent.
//
// It wraps the standard log/slog package so that every component logs with
// the same handler, level and default fields.
//
// # Features
//
//   - JSON output for deployed nodes (machine-parsable)
//   - Text output for bench work (human-readable)
//   - Default fields (service, version, node_id) on all log entries
//   - Optional source locations for debugging
//
// # Configuration
//
//	logging:
//	  level: "warn"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//	  add_source: false
//
// The command line can raise the level (-v, -v -v, -d) on top of the file.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version, cfg.Node.ID)
//	logger.Info("scan started", "adapter", "hci0")
//	logger.Debug("advertisement", "identifier", id, "rssi", rssi)
//
// Never log MQTT passwords, InfluxDB tokens or JWT secrets.
package logging
