package bluez

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/nerrad567/btlesniffer/internal/radio"
)

// D-Bus names used by BlueZ.
const (
	busName = "org.bluez"

	adapterIface        = "org.bluez.Adapter1"
	deviceIface         = "org.bluez.Device1"
	characteristicIface = "org.bluez.GattCharacteristic1"

	objectManagerIface = "org.freedesktop.DBus.ObjectManager"
	propertiesIface    = "org.freedesktop.DBus.Properties"
)

// Config configures the BlueZ radio.
type Config struct {
	// Adapter is the HCI name, e.g. "hci0". Empty selects the first adapter.
	Adapter string

	// ClearDeviceCache removes cached, unconnected devices at Open.
	ClearDeviceCache bool

	// ReadDeviceInfo reads manufacturer and model strings during Probe.
	ReadDeviceInfo bool
}

// Logger defines the logging interface used by the radio.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Radio is a BlueZ adapter reached over a private system bus connection.
type Radio struct {
	cfg    Config
	logger Logger
	now    func() time.Time

	mu      sync.Mutex
	conn    *dbus.Conn
	adapter dbus.ObjectPath
}

var _ radio.Radio = (*Radio)(nil)

// New creates an unopened BlueZ radio.
func New(cfg Config) *Radio {
	return &Radio{
		cfg:    cfg,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the radio.
func (r *Radio) SetLogger(logger Logger) {
	r.logger = logger
}

// Adapter returns the D-Bus path of the opened adapter.
func (r *Radio) Adapter() dbus.ObjectPath {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.adapter
}

// Open connects to the system bus and prepares the adapter for LE discovery.
func (r *Radio) Open(ctx context.Context) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("%w: connecting to system bus: %w", radio.ErrRadioUnavailable, err)
	}

	adapter, err := r.prepareAdapter(ctx, conn)
	if err != nil {
		conn.Close() //nolint:errcheck // Best effort cleanup on error path
		return fmt.Errorf("%w: %w", radio.ErrRadioUnavailable, err)
	}

	r.mu.Lock()
	r.conn = conn
	r.adapter = adapter
	r.mu.Unlock()

	r.logger.Info("bluetooth adapter ready", "adapter", adapter)
	return nil
}

func (r *Radio) prepareAdapter(ctx context.Context, conn *dbus.Conn) (dbus.ObjectPath, error) {
	objects, err := managedObjects(ctx, conn)
	if err != nil {
		return "", err
	}

	adapter, powered, err := findAdapter(objects, r.cfg.Adapter)
	if err != nil {
		return "", err
	}
	obj := conn.Object(busName, adapter)

	if !powered {
		r.logger.Info("powering on bluetooth adapter", "adapter", adapter)
		if err := obj.CallWithContext(ctx, propertiesIface+".Set", 0,
			adapterIface, "Powered", dbus.MakeVariant(true)).Err; err != nil {
			return "", fmt.Errorf("powering on %s: %w", adapter, err)
		}
	}

	filter := map[string]interface{}{
		"Transport":     "le",
		"DuplicateData": true,
	}
	if err := obj.CallWithContext(ctx, adapterIface+".SetDiscoveryFilter", 0, filter).Err; err != nil {
		return "", fmt.Errorf("setting discovery filter: %w", err)
	}

	if r.cfg.ClearDeviceCache {
		for _, dev := range cachedDevices(objects, adapter) {
			if err := obj.CallWithContext(ctx, adapterIface+".RemoveDevice", 0, dev).Err; err != nil {
				r.logger.Warn("failed to remove cached device", "path", dev, "error", err)
				continue
			}
			r.logger.Debug("removed cached device", "path", dev)
		}
	}

	return adapter, nil
}

// Close closes the private bus connection, which also ends any running scan.
func (r *Radio) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("closing system bus connection: %w", err)
	}
	return nil
}

func (r *Radio) session() (*dbus.Conn, dbus.ObjectPath, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil, "", radio.ErrNotOpen
	}
	return r.conn, r.adapter, nil
}

func managedObjects(ctx context.Context, conn *dbus.Conn) (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	objects := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant)
	obj := conn.Object(busName, "/")
	if err := obj.CallWithContext(ctx, objectManagerIface+".GetManagedObjects", 0).Store(&objects); err != nil {
		return nil, fmt.Errorf("listing bluez objects: %w", err)
	}
	return objects, nil
}
