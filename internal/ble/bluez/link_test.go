package bluez

import (
	"context"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
)

const testAdapter = dbus.ObjectPath("/org/bluez/hci0")

func changed(path dbus.ObjectPath, iface string, props map[string]dbus.Variant) *dbus.Signal {
	return &dbus.Signal{
		Path: path,
		Name: "org.freedesktop.DBus.Properties.PropertiesChanged",
		Body: []interface{}{iface, props, []string{}},
	}
}

func connectedSignal(path dbus.ObjectPath, on bool) *dbus.Signal {
	return changed(path, deviceInterface, map[string]dbus.Variant{"Connected": dbus.MakeVariant(on)})
}

func TestParseLinkSignal(t *testing.T) {
	dev := dbus.ObjectPath("/org/bluez/hci0/dev_aa_BB_cc_DD_ee_FF")

	tests := []struct {
		name   string
		sig    *dbus.Signal
		want   LinkEvent
		wantOK bool
	}{
		{"connected", connectedSignal(dev, true), LinkEvent{Device: dev, Address: "AA:BB:CC:DD:EE:FF", Connected: true}, true},
		{"disconnected", connectedSignal(dev, false), LinkEvent{Device: dev, Address: "AA:BB:CC:DD:EE:FF"}, true},
		{"other adapter", connectedSignal("/org/bluez/hci1/dev_AA_BB_CC_DD_EE_FF", true), LinkEvent{}, false},
		{"nested object", connectedSignal(dev+"/service0010", true), LinkEvent{}, false},
		{"adapter itself", connectedSignal(testAdapter, true), LinkEvent{}, false},
		{"other interface", changed(dev, "org.bluez.MediaControl1", map[string]dbus.Variant{"Connected": dbus.MakeVariant(true)}), LinkEvent{}, false},
		{"other property", changed(dev, deviceInterface, map[string]dbus.Variant{"RSSI": dbus.MakeVariant(int16(-40))}), LinkEvent{}, false},
		{"wrong type", changed(dev, deviceInterface, map[string]dbus.Variant{"Connected": dbus.MakeVariant("yes")}), LinkEvent{}, false},
		{"other signal", &dbus.Signal{Path: dev, Name: "org.freedesktop.DBus.ObjectManager.InterfacesAdded"}, LinkEvent{}, false},
		{"nil", nil, LinkEvent{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseLinkSignal(testAdapter, tt.sig)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("parseLinkSignal() = %+v, %v, want %+v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestAddressFromPath(t *testing.T) {
	tests := []struct {
		path   dbus.ObjectPath
		want   string
		wantOK bool
	}{
		{"/org/bluez/hci0/dev_11_22_33_44_55_66", "11:22:33:44:55:66", true},
		{"/org/bluez/hci0/dev_11_22_33", "", false},
		{"/org/bluez/hci0/dev_111_22_33_44_55_6", "", false},
		{"/org/bluez/hci0", "", false},
	}
	for _, tt := range tests {
		got, ok := addressFromPath(tt.path)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("addressFromPath(%s) = %q, %v, want %q, %v", tt.path, got, ok, tt.want, tt.wantOK)
		}
	}
}

func recvLink(t *testing.T, ch <-chan LinkEvent) LinkEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("link channel closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("no link event")
	}
	return LinkEvent{}
}

func TestWatchLinks(t *testing.T) {
	b := &fakeBus{}
	c := &Client{bus: b}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	links, err := c.WatchLinks(ctx, testAdapter)
	if err != nil {
		t.Fatalf("WatchLinks() error = %v", err)
	}
	if b.watched != testAdapter {
		t.Errorf("watching %s, want %s", b.watched, testAdapter)
	}

	dev := dbus.ObjectPath("/org/bluez/hci0/dev_11_22_33_44_55_66")
	b.sigs <- connectedSignal(dev, true)
	b.sigs <- changed(dev, deviceInterface, map[string]dbus.Variant{"ServicesResolved": dbus.MakeVariant(true)})
	b.sigs <- connectedSignal(dev, false)

	if ev := recvLink(t, links); !ev.Connected || ev.Address != "11:22:33:44:55:66" {
		t.Errorf("first event = %+v, want connect of 11:22:33:44:55:66", ev)
	}
	// Unrelated property changes are filtered out.
	if ev := recvLink(t, links); ev.Connected || ev.Device != dev {
		t.Errorf("second event = %+v, want disconnect", ev)
	}

	cancel()
	select {
	case <-b.stopped:
	case <-time.After(time.Second):
		t.Fatal("subscription not stopped after cancel")
	}
	if _, ok := <-links; ok {
		t.Error("link channel still open after cancel")
	}
}

func TestWatchLinksError(t *testing.T) {
	c := &Client{bus: &fakeBus{failOn: "Signals"}}
	if _, err := c.WatchLinks(context.Background(), testAdapter); err == nil {
		t.Error("WatchLinks() should fail when the subscription is refused")
	}
}
