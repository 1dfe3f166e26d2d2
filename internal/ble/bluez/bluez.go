// Package bluez drives the BlueZ daemon over the system D-Bus. It prepares
// the adapter for peripheral use, watches device links and answers pairing
// requests with a fixed passkey.
package bluez

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	busName             = "org.bluez"
	adapterInterface    = "org.bluez.Adapter1"
	deviceInterface     = "org.bluez.Device1"
	propertiesInterface = "org.freedesktop.DBus.Properties"
)

// Settings is the adapter state applied by Prepare.
type Settings struct {
	Alias               string // name shown to centrals; empty keeps the current one
	Discoverable        bool
	DiscoverableTimeout uint32 // seconds, 0 for no timeout
	Pairable            bool
}

// bus is the slice of D-Bus the client needs.
type bus interface {
	ManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error)
	Get(path dbus.ObjectPath, iface, prop string) (dbus.Variant, error)
	Set(path dbus.ObjectPath, iface, prop string, value dbus.Variant) error
	// Call invokes a BlueZ method that returns nothing.
	Call(path dbus.ObjectPath, method string, args ...interface{}) error
	// Export serves v's methods as iface at path on this connection.
	Export(v interface{}, path dbus.ObjectPath, iface string) error
	// Signals subscribes to PropertiesChanged below path. stop ends the
	// subscription; the channel is not closed.
	Signals(path dbus.ObjectPath) (sigs <-chan *dbus.Signal, stop func(), err error)
	Close() error
}

// Client talks to the BlueZ daemon.
type Client struct {
	bus bus
}

// Connect opens a private system bus connection. The shared one belongs to
// the bluetooth adapter and must outlive this client.
func Connect() (*Client, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: connect to system D-Bus: %w", err)
	}
	return &Client{bus: &systemBus{conn: conn}}, nil
}

// Close releases the bus connection.
func (c *Client) Close() error { return c.bus.Close() }

// FindAdapter returns the object path of the named adapter ("hci0"), or of
// the first adapter when name is empty.
func (c *Client) FindAdapter(name string) (dbus.ObjectPath, error) {
	objects, err := c.bus.ManagedObjects()
	if err != nil {
		return "", fmt.Errorf("bluez: list objects: %w", err)
	}
	var paths []string
	for path, ifaces := range objects {
		if _, ok := ifaces[adapterInterface]; ok {
			paths = append(paths, string(path))
		}
	}
	sort.Strings(paths)
	for _, p := range paths {
		if name == "" || strings.HasSuffix(p, "/"+name) {
			return dbus.ObjectPath(p), nil
		}
	}
	if name == "" {
		return "", fmt.Errorf("bluez: no bluetooth adapter found")
	}
	return "", fmt.Errorf("bluez: adapter %q not found", name)
}

type property struct {
	name  string
	value interface{}
}

// Prepare powers the adapter on and applies s. Discoverable goes last so
// the adapter is never visible under its old alias.
func (c *Client) Prepare(path dbus.ObjectPath, s Settings) error {
	props := []property{{"Powered", true}}
	if s.Alias != "" {
		props = append(props, property{"Alias", s.Alias})
	}
	props = append(props,
		property{"Pairable", s.Pairable},
		property{"PairableTimeout", uint32(0)},
		property{"DiscoverableTimeout", s.DiscoverableTimeout},
		property{"Discoverable", s.Discoverable},
	)

	for _, p := range props {
		if err := c.bus.Set(path, adapterInterface, p.name, dbus.MakeVariant(p.value)); err != nil {
			return fmt.Errorf("bluez: set %s on %s: %w", p.name, path, err)
		}
	}
	slog.Info("[BLE] adapter prepared", "adapter", path, "alias", s.Alias, "discoverable", s.Discoverable, "pairable", s.Pairable)
	return nil
}

// Powered reports whether the adapter is powered on.
func (c *Client) Powered(path dbus.ObjectPath) (bool, error) {
	v, err := c.bus.Get(path, adapterInterface, "Powered")
	if err != nil {
		return false, fmt.Errorf("bluez: get Powered on %s: %w", path, err)
	}
	on, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("bluez: Powered on %s has type %s", path, v.Signature())
	}
	return on, nil
}

// systemBus implements bus on a live connection.
type systemBus struct {
	conn *dbus.Conn
}

func (b *systemBus) ManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	err := b.conn.Object(busName, "/").Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&objects)
	return objects, err
}

func (b *systemBus) Get(path dbus.ObjectPath, iface, prop string) (dbus.Variant, error) {
	var v dbus.Variant
	err := b.conn.Object(busName, path).Call("org.freedesktop.DBus.Properties.Get", 0, iface, prop).Store(&v)
	return v, err
}

func (b *systemBus) Set(path dbus.ObjectPath, iface, prop string, value dbus.Variant) error {
	return b.conn.Object(busName, path).Call("org.freedesktop.DBus.Properties.Set", 0, iface, prop, value).Err
}

func (b *systemBus) Call(path dbus.ObjectPath, method string, args ...interface{}) error {
	return b.conn.Object(busName, path).Call(method, 0, args...).Err
}

func (b *systemBus) Export(v interface{}, path dbus.ObjectPath, iface string) error {
	return b.conn.Export(v, path, iface)
}

func (b *systemBus) Signals(path dbus.ObjectPath) (<-chan *dbus.Signal, func(), error) {
	match := []dbus.MatchOption{
		dbus.WithMatchInterface(propertiesInterface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace(path),
	}
	if err := b.conn.AddMatchSignal(match...); err != nil {
		return nil, nil, err
	}
	ch := make(chan *dbus.Signal, 16)
	b.conn.Signal(ch)
	stop := func() {
		b.conn.RemoveSignal(ch)
		_ = b.conn.RemoveMatchSignal(match...)
	}
	return ch, stop, nil
}

func (b *systemBus) Close() error { return b.conn.Close() }
