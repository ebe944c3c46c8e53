// Package sink delivers sighting records produced by the node.
//
// A Sighting is emitted once per connection attempt, after the registry has
// recorded the outcome. Publishers are pluggable: MQTT for the aggregation
// bus, InfluxDB for time series, a local SQLite store that the status API
// reads back, and a Fanout that combines them.
//
// Publishers must be safe for concurrent use; the attempter calls Publish
// from several goroutines at once.
package sink
