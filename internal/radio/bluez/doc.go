// Package bluez implements radio.Radio on top of BlueZ over the D-Bus system bus.
//
// Open finds the adapter, powers it on, restricts discovery to LE and
// optionally removes devices BlueZ has cached so that every nearby device is
// reported again. Scan turns InterfacesAdded and PropertiesChanged(RSSI)
// signals into advertisements and watches the adapter for removal, power-off
// and bluetoothd restarts. Probe connects with org.bluez.Device1.Connect,
// reads identifying properties and the Device Information service, then
// always disconnects.
//
// The process needs permission to talk to org.bluez on the system bus
// (typically membership of the "bluetooth" group).
package bluez
