package bluez

import (
	"fmt"
	"path"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/nerrad567/btlesniffer/internal/radio"
)

// Device Information service characteristics (Bluetooth SIG assigned numbers).
const (
	uuidManufacturerName = "00002a29-0000-1000-8000-00805f9b34fb"
	uuidModelNumber      = "00002a24-0000-1000-8000-00805f9b34fb"
)

// findAdapter picks the adapter named name ("hci0") or, when name is empty,
// the first adapter in path order. It also reports whether it is powered.
func findAdapter(objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant, name string) (dbus.ObjectPath, bool, error) {
	var candidates []dbus.ObjectPath
	for p, ifaces := range objects {
		if _, ok := ifaces[adapterIface]; !ok {
			continue
		}
		if name == "" || path.Base(string(p)) == name {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		if name == "" {
			return "", false, fmt.Errorf("no bluetooth adapter found")
		}
		return "", false, fmt.Errorf("bluetooth adapter %q not found", name)
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
	adapter := candidates[0]

	powered, _ := objects[adapter][adapterIface]["Powered"].Value().(bool)
	return adapter, powered, nil
}

// cachedDevices lists devices under adapter that BlueZ remembers but that
// are not currently connected.
func cachedDevices(objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant, adapter dbus.ObjectPath) []dbus.ObjectPath {
	var out []dbus.ObjectPath
	for p, ifaces := range objects {
		props, ok := ifaces[deviceIface]
		if !ok || !underPath(p, adapter) {
			continue
		}
		if connected, _ := props["Connected"].Value().(bool); connected {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func underPath(p, parent dbus.ObjectPath) bool {
	return strings.HasPrefix(string(p), string(parent)+"/")
}

// addressFromPath turns /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF into
// AA:BB:CC:DD:EE:FF.
func addressFromPath(p dbus.ObjectPath) (string, bool) {
	base := path.Base(string(p))
	raw, ok := strings.CutPrefix(base, "dev_")
	if !ok {
		return "", false
	}
	addr, err := radio.NormalizeAddress(strings.ReplaceAll(raw, "_", ":"))
	if err != nil {
		return "", false
	}
	return addr, true
}

// devicePath is the inverse of addressFromPath.
func devicePath(adapter dbus.ObjectPath, identifier string) (dbus.ObjectPath, error) {
	addr, err := radio.NormalizeAddress(identifier)
	if err != nil {
		return "", err
	}
	return dbus.ObjectPath(string(adapter) + "/dev_" + strings.ReplaceAll(addr, ":", "_")), nil
}

// signalKind classifies a D-Bus signal for the scan loop.
type signalKind int

const (
	signalIgnored signalKind = iota
	signalAdvertisement
	signalAdapterLost
	signalDeviceLost
)

// classifySignal inspects one signal received while scanning on adapter.
// Advertisements are InterfacesAdded for a new Device1 carrying an RSSI, or a
// PropertiesChanged on Device1 that includes RSSI.
func classifySignal(sig *dbus.Signal, adapter dbus.ObjectPath, seenAt time.Time) (signalKind, radio.Advertisement, string) {
	if sig == nil {
		return signalIgnored, radio.Advertisement{}, ""
	}

	switch sig.Name {
	case objectManagerIface + ".InterfacesAdded":
		if len(sig.Body) < 2 {
			return signalIgnored, radio.Advertisement{}, ""
		}
		objPath, _ := sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)
		props, ok := ifaces[deviceIface]
		if !ok || !underPath(objPath, adapter) {
			return signalIgnored, radio.Advertisement{}, ""
		}
		return advertisementFrom(objPath, props, seenAt)

	case objectManagerIface + ".InterfacesRemoved":
		if len(sig.Body) < 2 {
			return signalIgnored, radio.Advertisement{}, ""
		}
		objPath, _ := sig.Body[0].(dbus.ObjectPath)
		removed, _ := sig.Body[1].([]string)
		if objPath == adapter && slices.Contains(removed, adapterIface) {
			return signalAdapterLost, radio.Advertisement{}, "adapter removed"
		}
		if slices.Contains(removed, deviceIface) && underPath(objPath, adapter) {
			if addr, ok := addressFromPath(objPath); ok {
				return signalDeviceLost, radio.Advertisement{Identifier: addr}, ""
			}
		}

	case propertiesIface + ".PropertiesChanged":
		if len(sig.Body) < 2 {
			return signalIgnored, radio.Advertisement{}, ""
		}
		iface, _ := sig.Body[0].(string)
		changed, _ := sig.Body[1].(map[string]dbus.Variant)
		switch {
		case iface == adapterIface && sig.Path == adapter:
			if powered, ok := changed["Powered"].Value().(bool); ok && !powered {
				return signalAdapterLost, radio.Advertisement{}, "adapter powered off"
			}
		case iface == deviceIface && underPath(sig.Path, adapter):
			return advertisementFrom(sig.Path, changed, seenAt)
		}

	case "org.freedesktop.DBus.NameOwnerChanged":
		if len(sig.Body) < 3 {
			return signalIgnored, radio.Advertisement{}, ""
		}
		name, _ := sig.Body[0].(string)
		newOwner, _ := sig.Body[2].(string)
		if name == busName && newOwner == "" {
			return signalAdapterLost, radio.Advertisement{}, "bluetoothd exited"
		}
	}

	return signalIgnored, radio.Advertisement{}, ""
}

func advertisementFrom(objPath dbus.ObjectPath, props map[string]dbus.Variant, seenAt time.Time) (signalKind, radio.Advertisement, string) {
	rssiVar, ok := props["RSSI"]
	if !ok {
		return signalIgnored, radio.Advertisement{}, ""
	}
	rssi, ok := toInt(rssiVar.Value())
	if !ok {
		return signalIgnored, radio.Advertisement{}, ""
	}
	addr, ok := addressFromPath(objPath)
	if !ok {
		return signalIgnored, radio.Advertisement{}, ""
	}
	return signalAdvertisement, radio.Advertisement{Identifier: addr, RSSI: rssi, SeenAt: seenAt}, ""
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case int:
		return n, true
	case uint8:
		return int(int8(n)), true
	default:
		return 0, false
	}
}

// metadataFromProps extracts identifying fields from Device1 properties.
func metadataFromProps(props map[string]dbus.Variant) radio.Metadata {
	var m radio.Metadata

	if name, ok := props["Name"].Value().(string); ok {
		m.Name = name
	} else if alias, ok := props["Alias"].Value().(string); ok {
		m.Name = alias
	}
	m.AddressType, _ = props["AddressType"].Value().(string)

	if uuids, ok := props["UUIDs"].Value().([]string); ok {
		m.ServiceUUIDs = append([]string(nil), uuids...)
		sort.Strings(m.ServiceUUIDs)
	}

	if mfr, ok := props["ManufacturerData"].Value().(map[uint16]dbus.Variant); ok {
		for id := range mfr {
			m.ManufacturerIDs = append(m.ManufacturerIDs, id)
		}
		sort.Slice(m.ManufacturerIDs, func(i, j int) bool { return m.ManufacturerIDs[i] < m.ManufacturerIDs[j] })
	}

	return m
}

// deviceInfoCharacteristics maps Device Information characteristic UUIDs to
// their object paths under the device.
func deviceInfoCharacteristics(objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant, device dbus.ObjectPath) map[string]dbus.ObjectPath {
	out := make(map[string]dbus.ObjectPath)
	for p, ifaces := range objects {
		props, ok := ifaces[characteristicIface]
		if !ok || !underPath(p, device) {
			continue
		}
		uuid, _ := props["UUID"].Value().(string)
		uuid = strings.ToLower(uuid)
		if uuid == uuidManufacturerName || uuid == uuidModelNumber {
			out[uuid] = p
		}
	}
	return out
}

// characteristicString decodes a UTF-8 characteristic value, dropping the
// NUL padding some firmware appends.
func characteristicString(value []byte) string {
	return strings.TrimSpace(strings.TrimRight(string(value), "\x00"))
}
