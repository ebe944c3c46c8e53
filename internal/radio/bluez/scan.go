package bluez

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/nerrad567/btlesniffer/internal/radio"
)

const (
	// signalBuffer absorbs bursts of advertisements in crowded places.
	signalBuffer = 512

	advertisementBuffer = 128

	stopDiscoveryTimeout = 2 * time.Second
)

// matchRules returns the AddMatch rules needed while scanning on adapter.
func matchRules(adapter dbus.ObjectPath) []string {
	return []string{
		"type='signal',sender='org.bluez',interface='org.freedesktop.DBus.ObjectManager',member='InterfacesAdded'",
		"type='signal',sender='org.bluez',interface='org.freedesktop.DBus.ObjectManager',member='InterfacesRemoved'",
		fmt.Sprintf("type='signal',sender='org.bluez',interface='org.freedesktop.DBus.Properties',member='PropertiesChanged',path_namespace='%s'", adapter),
		"type='signal',sender='org.freedesktop.DBus',interface='org.freedesktop.DBus',member='NameOwnerChanged',arg0='org.bluez'",
	}
}

// Scan starts LE discovery and streams advertisements until ctx is cancelled
// or the adapter is lost.
func (r *Radio) Scan(ctx context.Context) (<-chan radio.Advertisement, <-chan error) {
	advs := make(chan radio.Advertisement, advertisementBuffer)
	errs := make(chan error, 1)

	conn, adapter, err := r.session()
	if err != nil {
		errs <- fmt.Errorf("%w: %w", radio.ErrRadioLost, err)
		close(advs)
		return advs, errs
	}

	rules := matchRules(adapter)
	for _, rule := range rules {
		if err := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
			errs <- fmt.Errorf("%w: adding match rule: %w", radio.ErrRadioLost, err)
			close(advs)
			return advs, errs
		}
	}

	signals := make(chan *dbus.Signal, signalBuffer)
	conn.Signal(signals)

	obj := conn.Object(busName, adapter)
	if err := obj.CallWithContext(ctx, adapterIface+".StartDiscovery", 0).Err; err != nil {
		conn.RemoveSignal(signals)
		errs <- fmt.Errorf("%w: starting discovery: %w", radio.ErrRadioLost, err)
		close(advs)
		return advs, errs
	}
	r.logger.Info("LE discovery started", "adapter", adapter)

	go func() {
		defer close(advs)
		defer r.stopScan(conn, obj, signals, rules)

		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					errs <- fmt.Errorf("%w: system bus connection closed", radio.ErrRadioLost)
					return
				}

				kind, adv, reason := classifySignal(sig, adapter, r.now())
				switch kind {
				case signalAdvertisement:
					select {
					case advs <- adv:
					case <-ctx.Done():
						return
					}
				case signalDeviceLost:
					r.logger.Debug("device lost", "identifier", adv.Identifier)
				case signalAdapterLost:
					errs <- fmt.Errorf("%w: %s", radio.ErrRadioLost, reason)
					return
				}
			}
		}
	}()

	return advs, errs
}

// stopScan undoes what Scan set up. Failures are expected when the adapter
// or the connection is already gone.
func (r *Radio) stopScan(conn *dbus.Conn, obj dbus.BusObject, signals chan *dbus.Signal, rules []string) {
	conn.RemoveSignal(signals)

	ctx, cancel := context.WithTimeout(context.Background(), stopDiscoveryTimeout)
	defer cancel()

	if err := obj.CallWithContext(ctx, adapterIface+".StopDiscovery", 0).Err; err != nil {
		r.logger.Debug("stop discovery failed", "error", err)
	}
	for _, rule := range rules {
		conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.RemoveMatch", 0, rule) //nolint:errcheck // Connection may be closed
	}
	r.logger.Info("LE discovery stopped")
}
