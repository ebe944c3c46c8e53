package bluez

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/nerrad567/btlesniffer/internal/radio"
)

const (
	resolvePollInterval = 100 * time.Millisecond
	disconnectTimeout   = 3 * time.Second
)

// Probe connects to identifier, reads its properties and, if configured, the
// Device Information strings. The device is always disconnected afterwards.
func (r *Radio) Probe(ctx context.Context, identifier string) (radio.Metadata, error) {
	conn, adapter, err := r.session()
	if err != nil {
		return radio.Metadata{}, err
	}

	devPath, err := devicePath(adapter, identifier)
	if err != nil {
		return radio.Metadata{}, err
	}
	dev := conn.Object(busName, devPath)

	if err := dev.CallWithContext(ctx, deviceIface+".Connect", 0).Err; err != nil {
		return radio.Metadata{}, fmt.Errorf("connecting to %s: %w", identifier, err)
	}
	defer r.disconnect(dev, identifier)

	if err := waitServicesResolved(ctx, dev); err != nil {
		return radio.Metadata{}, fmt.Errorf("resolving services of %s: %w", identifier, err)
	}

	var props map[string]dbus.Variant
	if err := dev.CallWithContext(ctx, propertiesIface+".GetAll", 0, deviceIface).Store(&props); err != nil {
		return radio.Metadata{}, fmt.Errorf("reading properties of %s: %w", identifier, err)
	}
	meta := metadataFromProps(props)

	if r.cfg.ReadDeviceInfo {
		r.readDeviceInfo(ctx, conn, devPath, &meta)
	}

	return meta, nil
}

func waitServicesResolved(ctx context.Context, dev dbus.BusObject) error {
	ticker := time.NewTicker(resolvePollInterval)
	defer ticker.Stop()

	for {
		var resolved bool
		err := dev.CallWithContext(ctx, propertiesIface+".Get", 0, deviceIface, "ServicesResolved").Store(&resolved)
		if err == nil && resolved {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// readDeviceInfo fills Manufacturer and Model. Devices without the Device
// Information service are common, so failures are only logged.
func (r *Radio) readDeviceInfo(ctx context.Context, conn *dbus.Conn, devPath dbus.ObjectPath, meta *radio.Metadata) {
	objects, err := managedObjects(ctx, conn)
	if err != nil {
		r.logger.Debug("listing characteristics failed", "device", devPath, "error", err)
		return
	}

	for uuid, charPath := range deviceInfoCharacteristics(objects, devPath) {
		var value []byte
		options := map[string]interface{}{}
		if err := conn.Object(busName, charPath).CallWithContext(ctx, characteristicIface+".ReadValue", 0, options).Store(&value); err != nil {
			r.logger.Debug("reading characteristic failed", "path", charPath, "error", err)
			continue
		}
		switch uuid {
		case uuidManufacturerName:
			meta.Manufacturer = characteristicString(value)
		case uuidModelNumber:
			meta.Model = characteristicString(value)
		}
	}
}

// disconnect runs on its own deadline so a timed-out probe still frees the
// adapter's connection slot.
func (r *Radio) disconnect(dev dbus.BusObject, identifier string) {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()

	if err := dev.CallWithContext(ctx, deviceIface+".Disconnect", 0).Err; err != nil {
		r.logger.Debug("disconnect failed", "identifier", identifier, "error", err)
	}
}
