// Package api implements the node's read-only status API and live sighting
// stream.
//
// This package provides:
//   - REST endpoints over the in-memory device registry and the local
//     sighting store
//   - WebSocket hub broadcasting sightings and node health as they happen
//   - Optional JWT bearer authentication (HS256, security.jwt.secret)
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - TLS support for deployments reachable beyond the sensor LAN
//
// # Endpoints
//
//	GET /api/v1/health                  no auth
//	GET /api/v1/devices[?state=]
//	GET /api/v1/devices/stats
//	GET /api/v1/devices/{identifier}
//	GET /api/v1/sightings[?identifier=&limit=]
//	GET /api/v1/ws[?token=]             WebSocket, channels "sighting" and "health"
//
// # Graceful Degradation
//
// The sighting store is optional. Without it /sightings answers 503 and
// device responses carry no stored history; everything else works.
package api
