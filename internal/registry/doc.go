// Package registry is the node's in-memory table of observed BLE devices.
//
// It is the single authority for deduplication and per-device rate limiting:
// the scan loop upserts every advertisement, and a connection attempt may
// only start after TryReserveAttempt has atomically moved the record to
// StatePendingConnect. The attempter then records exactly one outcome.
//
// State machine:
//
//	discovered -> pending_connect -> connected
//	                              -> failed
//	connected/failed --(new advertisement)--> discovered
//
// All methods are safe for concurrent use. Returned Records are copies.
package registry
