// Package radio defines the BLE radio capability the node agent runs on.
//
// The scan loop and the connection attempter only see the Radio interface.
// The production implementation talks to BlueZ over D-Bus (package bluez);
// tests inject in-memory fakes.
//
// A Radio is acquired once with Open, shared by the scan loop and the
// attempter, and released with Close after both have stopped.
package radio
