// Package config loads and validates the btlesniffer node configuration.
//
// Values are layered in this order, later layers winning:
//  1. Built-in defaults
//  2. The YAML configuration file
//  3. BTLESNIFFER_* environment variables
//  4. Command-line overrides (see Overrides)
//
// Every layer is followed by Validate, so an out-of-range value from any source
// is rejected before the scanner starts. Validation failures wrap
// ErrInvalidArgument.
//
// Secrets (MQTT password, InfluxDB token, JWT secret) should come from the
// environment rather than the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Scanner.ThresholdRSSI)
package config
