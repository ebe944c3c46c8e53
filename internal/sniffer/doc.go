// Package sniffer implements the node's scan-and-register loop.
//
// The Sniffer consumes advertisements from a radio.Radio and, for each one:
//
//  1. records the sighting in the registry,
//  2. stops if the signal is weaker than the threshold (passive observation),
//  3. stops if the registry refuses to reserve an attempt,
//  4. hands the identifier to the Attempter without blocking.
//
// The Attempter runs a bounded number of connection attempts at once, each
// with its own timeout, and always records an outcome in the registry before
// publishing a sink.Sighting.
//
// # Shutdown
//
// Cancelling the Run context stops the loop; Run then waits for in-flight
// attempts before returning nil. Losing the radio is fatal: Run waits the same
// way and returns an error wrapping radio.ErrRadioLost.
package sniffer
