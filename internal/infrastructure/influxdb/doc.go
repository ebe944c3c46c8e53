// Package influxdb writes sighting and node health time series to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Writes are
// non-blocking and batched according to influxdb.batch_size and
// influxdb.flush_interval; asynchronous write failures are delivered to the
// callback registered with SetOnError.
//
// # Measurements
//
//	ble_sighting  tags: node_id, identifier, success   fields: rssi, success
//	node_health   tags: node_id                        fields: devices, pending, attempts, successes, uptime_s
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Node.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteSighting("AA:BB:CC:DD:EE:FF", -61, true, time.Now())
package influxdb
