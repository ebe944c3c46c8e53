package registry

import "time"

// State is the connection lifecycle state of a device.
type State string

// Device states.
const (
	StateDiscovered     State = "discovered"
	StatePendingConnect State = "pending_connect"
	StateConnected      State = "connected"
	StateFailed         State = "failed"
)

// AllStates lists every state in lifecycle order.
var AllStates = []State{StateDiscovered, StatePendingConnect, StateConnected, StateFailed}

// ParseState validates a state string.
func ParseState(s string) (State, bool) {
	for _, st := range AllStates {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// IsTerminal reports whether an attempt has finished for this state.
func (s State) IsTerminal() bool {
	return s == StateConnected || s == StateFailed
}

// Record is the registry's view of one device.
type Record struct {
	// Identifier is the BLE address, e.g. "AA:BB:CC:DD:EE:FF".
	Identifier string `json:"identifier"`

	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`

	// LastAttemptAt is nil until the first reservation.
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`

	// LastRSSI is the signal strength of the newest advertisement (dBm).
	LastRSSI int `json:"last_rssi"`

	State State `json:"state"`

	Advertisements uint64 `json:"advertisements"`
	Attempts       uint64 `json:"attempts"`
	Successes      uint64 `json:"successes"`
}

// clone returns a copy that shares no pointers with r.
func (r *Record) clone() Record {
	c := *r
	if r.LastAttemptAt != nil {
		t := *r.LastAttemptAt
		c.LastAttemptAt = &t
	}
	return c
}

// Stats summarises the registry for health reports and the status API.
type Stats struct {
	TotalDevices   int           `json:"total_devices"`
	ByState        map[State]int `json:"by_state"`
	Advertisements uint64        `json:"advertisements"`
	Attempts       uint64        `json:"attempts"`
	Successes      uint64        `json:"successes"`
}
