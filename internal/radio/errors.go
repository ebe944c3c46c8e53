package radio

import "errors"

var (
	// ErrRadioUnavailable is returned by Open when the adapter cannot be
	// acquired at startup.
	ErrRadioUnavailable = errors.New("radio: unavailable")

	// ErrRadioLost is sent on the Scan error channel when the adapter
	// disappears or is powered off while scanning.
	ErrRadioLost = errors.New("radio: lost")

	// ErrNotOpen is returned when Scan or Probe is used before Open.
	ErrNotOpen = errors.New("radio: not open")

	// ErrInvalidAddress is returned for identifiers that are not BLE addresses.
	ErrInvalidAddress = errors.New("radio: invalid address")
)
