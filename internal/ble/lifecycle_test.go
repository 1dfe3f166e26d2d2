package ble

import (
	"errors"
	"testing"
)

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicySingle, false},
		{"single", PolicySingle, false},
		{"rotate", PolicyRotate, false},
		{"round-robin", PolicySingle, true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePolicy(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestAdvertisingEventWithoutOwnerIsStale(t *testing.T) {
	h := NewHost(newMockStack(), testHostOptions())
	err := h.Dispatcher().Dispatch(Event{Kind: EventAdvStarted})
	if !errors.Is(err, ErrStaleEvent) {
		t.Errorf("Dispatch() error = %v, want ErrStaleEvent", err)
	}
}

func TestAdvertisingEventOutOfOrderIsStale(t *testing.T) {
	s := newMockStack()
	h := NewHost(s, testHostOptions())
	m := provisionedMouse(t, h, s, 1)

	// The mouse is advertising with nothing in flight.
	err := h.Dispatcher().Dispatch(Event{Kind: EventAdvDataConfigured})
	if !errors.Is(err, ErrStaleEvent) {
		t.Errorf("Dispatch() error = %v, want ErrStaleEvent", err)
	}
	if m.adv != AdvAdvertising {
		t.Errorf("adv = %s, want advertising", m.adv)
	}
}

func TestAdvertisingStartFailure(t *testing.T) {
	s := newMockStack()
	s.failNext[EventAdvStarted] = StatusFailure
	h := NewHost(s, testHostOptions())
	m := provisionedMouse(t, h, s, 1)

	if m.adv == AdvAdvertising {
		t.Fatal("mouse should not be advertising")
	}
	if h.adv.Owner() != nil {
		t.Error("radio should be released after a failed start")
	}
	if m.Status().Err == nil {
		t.Error("advertising failure should be recorded")
	}

	// A disconnect-style request retries with the payload already loaded.
	h.mu.Lock()
	h.adv.RequestAdvertise(m)
	h.mu.Unlock()
	pump(t, h, s)
	if m.adv != AdvAdvertising {
		t.Errorf("adv = %s after new request, want advertising", m.adv)
	}
	if n := s.count("ConfigureAdvertisingData"); n != 1 {
		t.Errorf("ConfigureAdvertisingData calls = %d, want 1", n)
	}
}

func TestConnectWhileConfiguringSkipsStart(t *testing.T) {
	s := newMockStack()
	s.auto = false
	h := NewHost(s, testHostOptions())
	d := h.Dispatcher()
	m, _ := h.AddMouse(testMouseConfig(1))

	// Drive provisioning by hand up to the advertising payload.
	h.mu.Lock()
	m.state = StateDone
	m.iface, m.hasIface = 3, true
	h.reg.byIface[3] = m
	h.adv.RequestAdvertise(m)
	h.mu.Unlock()
	if n := s.count("ConfigureAdvertisingData"); n != 1 {
		t.Fatalf("ConfigureAdvertisingData calls = %d, want 1", n)
	}

	_ = d.Dispatch(Event{Kind: EventConnected, Iface: 3, Conn: 1})
	if err := d.Dispatch(Event{Kind: EventAdvDataConfigured}); err != nil {
		t.Fatalf("Dispatch(configured) error = %v", err)
	}
	if n := s.count("StartAdvertising"); n != 0 {
		t.Errorf("StartAdvertising calls = %d, want 0", n)
	}
	if h.adv.Owner() != nil {
		t.Error("radio should be free once the payload is loaded")
	}
}
