// Package auth verifies the bearer tokens that protect the status API.
//
// Tokens are HS256 JWTs signed with security.jwt.secret. The node does not
// manage users: tokens are minted by whoever operates the sensor network and
// only need a subject and an expiry.
package auth
