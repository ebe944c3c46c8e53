package sniffer

import "errors"

// Attempt errors. Both are local to a single attempt and are recorded as a
// failed outcome; they never stop the scan loop.
var (
	// ErrConnectionTimeout means the probe did not finish within the
	// configured connect timeout.
	ErrConnectionTimeout = errors.New("sniffer: connection timeout")

	// ErrConnectionFailed means the probe returned an error or panicked.
	ErrConnectionFailed = errors.New("sniffer: connection failed")
)
