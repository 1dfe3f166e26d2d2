package bluez

import (
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
)

type setCall struct {
	path  dbus.ObjectPath
	iface string
	prop  string
	value interface{}
}

type methodCall struct {
	path   dbus.ObjectPath
	method string
	args   []interface{}
}

type export struct {
	v     interface{}
	path  dbus.ObjectPath
	iface string
}

type fakeBus struct {
	objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	props   map[string]dbus.Variant
	sets    []setCall
	failOn  string
	closed  bool

	calls   []methodCall
	exports []export
	sigs    chan *dbus.Signal
	watched dbus.ObjectPath
	stopped chan struct{}
}

func (b *fakeBus) ManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	return b.objects, nil
}

func (b *fakeBus) Get(_ dbus.ObjectPath, _ string, prop string) (dbus.Variant, error) {
	v, ok := b.props[prop]
	if !ok {
		return dbus.Variant{}, errors.New("no such property")
	}
	return v, nil
}

func (b *fakeBus) Set(path dbus.ObjectPath, iface, prop string, value dbus.Variant) error {
	if prop == b.failOn {
		return errors.New("org.bluez.Error.Failed")
	}
	b.sets = append(b.sets, setCall{path, iface, prop, value.Value()})
	return nil
}

func (b *fakeBus) Call(path dbus.ObjectPath, method string, args ...interface{}) error {
	if method == b.failOn {
		return errors.New("org.bluez.Error.AlreadyExists")
	}
	b.calls = append(b.calls, methodCall{path, method, args})
	return nil
}

func (b *fakeBus) Export(v interface{}, path dbus.ObjectPath, iface string) error {
	b.exports = append(b.exports, export{v, path, iface})
	return nil
}

func (b *fakeBus) Signals(path dbus.ObjectPath) (<-chan *dbus.Signal, func(), error) {
	if b.failOn == "Signals" {
		return nil, nil, errors.New("org.freedesktop.DBus.Error.AccessDenied")
	}
	if b.sigs == nil {
		b.sigs = make(chan *dbus.Signal, 16)
	}
	b.watched = path
	b.stopped = make(chan struct{})
	return b.sigs, func() { close(b.stopped) }, nil
}

func (b *fakeBus) Close() error {
	b.closed = true
	return nil
}

func adapterObjects(names ...string) map[dbus.ObjectPath]map[string]map[string]dbus.Variant {
	objects := map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		"/org/bluez": {"org.bluez.AgentManager1": nil},
	}
	for _, n := range names {
		objects[dbus.ObjectPath("/org/bluez/"+n)] = map[string]map[string]dbus.Variant{
			adapterInterface: {"Address": dbus.MakeVariant("00:11:22:33:44:55")},
		}
	}
	return objects
}

func TestFindAdapter(t *testing.T) {
	c := &Client{bus: &fakeBus{objects: adapterObjects("hci1", "hci0")}}

	tests := []struct {
		name    string
		want    dbus.ObjectPath
		wantErr bool
	}{
		{"", "/org/bluez/hci0", false},
		{"hci1", "/org/bluez/hci1", false},
		{"hci7", "", true},
	}
	for _, tt := range tests {
		got, err := c.FindAdapter(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("FindAdapter(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("FindAdapter(%q) = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestFindAdapterNone(t *testing.T) {
	c := &Client{bus: &fakeBus{objects: adapterObjects()}}
	if _, err := c.FindAdapter(""); err == nil {
		t.Error("FindAdapter() with no adapters should fail")
	}
}

func TestPrepare(t *testing.T) {
	b := &fakeBus{}
	c := &Client{bus: b}
	err := c.Prepare("/org/bluez/hci0", Settings{Alias: "ESP32 Mouse Jiggler", Discoverable: true, Pairable: true})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	want := []struct {
		prop  string
		value interface{}
	}{
		{"Powered", true},
		{"Alias", "ESP32 Mouse Jiggler"},
		{"Pairable", true},
		{"PairableTimeout", uint32(0)},
		{"DiscoverableTimeout", uint32(0)},
		{"Discoverable", true},
	}
	if len(b.sets) != len(want) {
		t.Fatalf("Set calls = %d, want %d: %+v", len(b.sets), len(want), b.sets)
	}
	for i, w := range want {
		got := b.sets[i]
		if got.prop != w.prop || got.value != w.value {
			t.Errorf("Set[%d] = %s=%v, want %s=%v", i, got.prop, got.value, w.prop, w.value)
		}
		if got.iface != adapterInterface || got.path != "/org/bluez/hci0" {
			t.Errorf("Set[%d] on %s %s", i, got.path, got.iface)
		}
	}
}

func TestPrepareKeepsAliasWhenEmpty(t *testing.T) {
	b := &fakeBus{}
	c := &Client{bus: b}
	if err := c.Prepare("/org/bluez/hci0", Settings{}); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	for _, s := range b.sets {
		if s.prop == "Alias" {
			t.Error("empty alias should not be written")
		}
	}
}

func TestPrepareError(t *testing.T) {
	b := &fakeBus{failOn: "Pairable"}
	c := &Client{bus: b}
	if err := c.Prepare("/org/bluez/hci0", Settings{Pairable: true}); err == nil {
		t.Fatal("Prepare() should fail when a property is rejected")
	}
	for _, s := range b.sets {
		if s.prop == "Discoverable" {
			t.Error("Discoverable set after an earlier failure")
		}
	}
}

func TestPowered(t *testing.T) {
	b := &fakeBus{props: map[string]dbus.Variant{"Powered": dbus.MakeVariant(true)}}
	c := &Client{bus: b}
	on, err := c.Powered("/org/bluez/hci0")
	if err != nil || !on {
		t.Errorf("Powered() = %v, %v, want true", on, err)
	}

	b.props["Powered"] = dbus.MakeVariant("yes")
	if _, err := c.Powered("/org/bluez/hci0"); err == nil {
		t.Error("Powered() with a non-bool value should fail")
	}

	if err := c.Close(); err != nil || !b.closed {
		t.Error("Close() should close the bus")
	}
}
