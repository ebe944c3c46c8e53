package radio

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Radio is an opened BLE adapter.
type Radio interface {
	// Open acquires the adapter. Errors wrap ErrRadioUnavailable.
	Open(ctx context.Context) error

	// Scan starts discovery and streams advertisements until ctx is
	// cancelled, at which point the advertisement channel is closed. If the
	// adapter is lost, one error wrapping ErrRadioLost is sent on the error
	// channel and the advertisement channel is closed.
	Scan(ctx context.Context) (<-chan Advertisement, <-chan error)

	// Probe connects to a device, reads its identifying data and
	// disconnects. It must honour ctx cancellation.
	Probe(ctx context.Context, identifier string) (Metadata, error)

	// Close releases the adapter.
	Close() error
}

// Advertisement is one received advertising packet.
type Advertisement struct {
	// Identifier is the upper-case BLE address.
	Identifier string

	// RSSI is the received signal strength in dBm.
	RSSI int

	// SeenAt is when the packet was received. Zero means unknown.
	SeenAt time.Time
}

// Metadata is what a successful probe learned about a device.
type Metadata struct {
	Name            string   `json:"name,omitempty"`
	AddressType     string   `json:"address_type,omitempty"`
	ServiceUUIDs    []string `json:"service_uuids,omitempty"`
	ManufacturerIDs []uint16 `json:"manufacturer_ids,omitempty"`

	// Manufacturer and Model come from the Device Information service, when
	// the device exposes it.
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
}

// NormalizeAddress upper-cases a colon-separated 48-bit address and checks
// its shape.
func NormalizeAddress(s string) (string, error) {
	addr := strings.ToUpper(strings.TrimSpace(s))
	if len(addr) != 17 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	for i := 0; i < len(addr); i++ {
		c := addr[i]
		if i%3 == 2 {
			if c != ':' {
				return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
			}
			continue
		}
		if !isHex(c) {
			return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
	}
	return addr, nil
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')
}
