package sniffer

// ShouldAttempt reports whether a device advertising at rssi is close enough
// to be worth a connection attempt. The threshold itself qualifies.
func ShouldAttempt(rssi, thresholdRSSI int) bool {
	return rssi >= thresholdRSSI
}
