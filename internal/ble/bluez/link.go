package bluez

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/godbus/dbus/v5"
)

// LinkEvent reports a central connecting to or disconnecting from the
// adapter.
type LinkEvent struct {
	Device    dbus.ObjectPath
	Address   string // "AA:BB:CC:DD:EE:FF"
	Connected bool
}

// WatchLinks follows the Connected property of every device below adapter.
// The returned channel is closed when ctx is done.
func (c *Client) WatchLinks(ctx context.Context, adapter dbus.ObjectPath) (<-chan LinkEvent, error) {
	sigs, stop, err := c.bus.Signals(adapter)
	if err != nil {
		return nil, fmt.Errorf("bluez: watch devices on %s: %w", adapter, err)
	}
	out := make(chan LinkEvent, 8)
	go func() {
		defer close(out)
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-sigs:
				if !ok {
					return
				}
				ev, ok := parseLinkSignal(adapter, sig)
				if !ok {
					continue
				}
				slog.Debug("[BLE] device link changed", "device", ev.Device, "connected", ev.Connected)
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// parseLinkSignal extracts a Connected change of a device directly below
// adapter from a PropertiesChanged signal.
func parseLinkSignal(adapter dbus.ObjectPath, sig *dbus.Signal) (LinkEvent, bool) {
	if sig == nil || sig.Name != propertiesInterface+".PropertiesChanged" || len(sig.Body) < 2 {
		return LinkEvent{}, false
	}
	rest, ok := strings.CutPrefix(string(sig.Path), string(adapter)+"/")
	if !ok || strings.Contains(rest, "/") {
		return LinkEvent{}, false
	}
	addr, ok := addressFromPath(sig.Path)
	if !ok {
		return LinkEvent{}, false
	}
	if iface, _ := sig.Body[0].(string); iface != deviceInterface {
		return LinkEvent{}, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return LinkEvent{}, false
	}
	v, ok := changed["Connected"]
	if !ok {
		return LinkEvent{}, false
	}
	connected, ok := v.Value().(bool)
	if !ok {
		return LinkEvent{}, false
	}
	return LinkEvent{Device: sig.Path, Address: addr, Connected: connected}, true
}

// addressFromPath turns ".../dev_AA_BB_CC_DD_EE_FF" into "AA:BB:CC:DD:EE:FF".
func addressFromPath(path dbus.ObjectPath) (string, bool) {
	p := string(path)
	name := p[strings.LastIndex(p, "/")+1:]
	hex, ok := strings.CutPrefix(name, "dev_")
	if !ok {
		return "", false
	}
	parts := strings.Split(hex, "_")
	if len(parts) != 6 {
		return "", false
	}
	for _, b := range parts {
		if len(b) != 2 {
			return "", false
		}
	}
	return strings.ToUpper(strings.Join(parts, ":")), true
}
