package ble

import (
	"fmt"
	"log/slog"

	"github.com/grozycki/esphome-ble-mouse-jiggler/internal/ble/catalog"
	"github.com/grozycki/esphome-ble-mouse-jiggler/internal/ble/protocol"
)

// Policy decides how mice share the single radio.
type Policy uint8

const (
	// PolicySingle lets one mouse advertise at a time. Others wait in FIFO
	// order until the radio is released by a connection or a teardown.
	PolicySingle Policy = iota
	// PolicyRotate additionally hands the radio to the next waiting mouse on
	// every Rotate call.
	PolicyRotate
)

func (p Policy) String() string {
	if p == PolicyRotate {
		return "rotate"
	}
	return "single"
}

// ParsePolicy converts a config string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "single":
		return PolicySingle, nil
	case "rotate":
		return PolicyRotate, nil
	default:
		return PolicySingle, fmt.Errorf("ble: unknown advertising policy %q", s)
	}
}

// Lifecycle owns the advertising and connection state of every mouse. One
// mouse at a time owns the radio; advertising completions carry no interface
// handle and are attributed to that owner. Callers hold the host lock.
type Lifecycle struct {
	stack  Stack
	policy Policy
	params AdvertisingParams

	owner   *Mouse // holds the radio: advertising or a command in flight
	loaded  *Mouse // whose payload the controller currently holds
	waiting []*Mouse
}

func newLifecycle(stack Stack, policy Policy, params AdvertisingParams) *Lifecycle {
	return &Lifecycle{stack: stack, policy: policy, params: params}
}

// Owner returns the mouse currently holding the radio, or nil.
func (l *Lifecycle) Owner() *Mouse { return l.owner }

// RequestAdvertise makes m discoverable. A request while one is already in
// flight or while m is advertising is coalesced; a request from a connected
// or unprovisioned mouse is ignored.
func (l *Lifecycle) RequestAdvertise(m *Mouse) {
	if m.cancelled || m.state != StateDone || m.conn == Connected {
		return
	}
	switch {
	case m.advPending == advStopping:
		m.readvertise = true
		return
	case m.advPending != advNone, m.adv == AdvAdvertising:
		return
	}
	if l.owner != nil && l.owner != m {
		l.enqueue(m)
		return
	}
	l.owner = m
	l.kick(m)
}

func (l *Lifecycle) enqueue(m *Mouse) {
	for _, w := range l.waiting {
		if w == m {
			return
		}
	}
	slog.Debug("[BLE] radio busy, queued for advertising", "mouse", m.cfg.ID, "owner", l.owner.cfg.ID)
	l.waiting = append(l.waiting, m)
}

func (l *Lifecycle) dequeue(m *Mouse) {
	for i, w := range l.waiting {
		if w == m {
			l.waiting = append(l.waiting[:i], l.waiting[i+1:]...)
			return
		}
	}
}

// kick issues the next advertising command for the radio owner m.
func (l *Lifecycle) kick(m *Mouse) {
	if l.loaded == m && m.adv == AdvDataConfigured {
		l.start(m)
		return
	}
	if l.loaded != nil && l.loaded != m {
		l.loaded.adv = AdvIdle
	}
	l.loaded = m
	m.adv = AdvIdle
	m.advPending = advConfiguring
	data := protocol.MouseAdvertisement(m.cfg.Name, catalog.AdvertisedServices...)
	if err := l.stack.ConfigureAdvertisingData(m.iface, data); err != nil {
		l.abort(m, fmt.Errorf("ble: configure advertising data: %w", err))
	}
}

func (l *Lifecycle) start(m *Mouse) {
	m.advPending = advStarting
	if err := l.stack.StartAdvertising(m.iface, l.params); err != nil {
		l.abort(m, fmt.Errorf("ble: start advertising: %w", err))
	}
}

func (l *Lifecycle) stop(m *Mouse) {
	m.advPending = advStopping
	m.stopWanted = false
	if err := l.stack.StopAdvertising(); err != nil {
		slog.Warn("[BLE] stop advertising rejected", "mouse", m.cfg.ID, "error", err)
		m.advPending = advNone
		m.adv = AdvDataConfigured
		l.release(m)
	}
}

// abort records an advertising failure on m and frees the radio. Advertising
// is not retried until the next request.
func (l *Lifecycle) abort(m *Mouse, err error) {
	slog.Error("[BLE] advertising failed", "mouse", m.cfg.ID, "error", err)
	m.lastErr = err
	m.advPending = advNone
	m.stopWanted = false
	if m.adv != AdvDataConfigured {
		m.adv = AdvIdle
		if l.loaded == m {
			l.loaded = nil
		}
	}
	l.release(m)
}

// release frees the radio if m holds it and serves the next waiter.
func (l *Lifecycle) release(m *Mouse) {
	if l.owner != m {
		return
	}
	l.owner = nil
	if m.readvertise {
		m.readvertise = false
		l.RequestAdvertise(m)
		if l.owner != nil {
			return
		}
	}
	l.next()
}

func (l *Lifecycle) next() {
	for len(l.waiting) > 0 {
		m := l.waiting[0]
		l.waiting = l.waiting[1:]
		if m.cancelled || m.state != StateDone || m.conn == Connected {
			continue
		}
		l.owner = m
		l.kick(m)
		return
	}
}

// onAdvEvent applies an advertising completion to the radio owner.
func (l *Lifecycle) onAdvEvent(ev Event) error {
	m := l.owner
	if m == nil {
		slog.Debug("[BLE] advertising event with no radio owner", "event", ev)
		return ErrStaleEvent
	}
	want := map[EventKind]advOp{
		EventAdvDataConfigured: advConfiguring,
		EventAdvStarted:        advStarting,
		EventAdvStopped:        advStopping,
	}[ev.Kind]
	if m.advPending != want {
		slog.Warn("[BLE] dropping unexpected advertising event", "mouse", m.cfg.ID, "event", ev)
		return ErrStaleEvent
	}

	switch ev.Kind {
	case EventAdvDataConfigured:
		if ev.Status != StatusSuccess {
			l.abort(m, fmt.Errorf("ble: configure advertising data: %s", ev.Status))
			return nil
		}
		m.adv = AdvDataConfigured
		m.advPending = advNone
		if m.cancelled || m.conn == Connected || m.stopWanted {
			m.stopWanted = false
			l.release(m)
			return nil
		}
		l.start(m)

	case EventAdvStarted:
		if ev.Status != StatusSuccess {
			l.abort(m, fmt.Errorf("ble: start advertising: %s", ev.Status))
			return nil
		}
		m.adv = AdvAdvertising
		m.advPending = advNone
		if m.cancelled || m.conn == Connected || m.stopWanted {
			l.stop(m)
			return nil
		}
		slog.Info("[BLE] advertising", "mouse", m.cfg.ID, "name", m.cfg.Name)

	case EventAdvStopped:
		if ev.Status != StatusSuccess {
			slog.Warn("[BLE] stop advertising reported failure", "mouse", m.cfg.ID, "status", ev.Status)
		}
		m.adv = AdvDataConfigured
		m.advPending = advNone
		if m.rotatedOut {
			m.rotatedOut = false
			if !m.cancelled && m.conn == Disconnected {
				l.owner = nil
				l.waiting = append(l.waiting, m)
				l.next()
				return nil
			}
		}
		l.release(m)
	}
	return nil
}

// OnConnected marks m connected and stops its advertising, immediately or
// as soon as the command in flight completes.
func (l *Lifecycle) OnConnected(m *Mouse, conn ConnHandle) {
	m.conn = Connected
	m.connHandle = conn
	m.readvertise = false
	l.dequeue(m)
	slog.Info("[BLE] connected", "mouse", m.cfg.ID, "name", m.cfg.Name, "conn", conn)

	if l.owner != m {
		return
	}
	switch {
	case m.advPending == advConfiguring, m.advPending == advStarting:
		m.stopWanted = true
	case m.advPending == advNone && m.adv == AdvAdvertising:
		l.stop(m)
	case m.advPending == advNone:
		l.release(m)
	}
}

// OnDisconnected marks m disconnected and advertises again.
func (l *Lifecycle) OnDisconnected(m *Mouse, reason uint8) {
	m.conn = Disconnected
	m.connHandle = 0
	slog.Info("[BLE] disconnected, advertising again", "mouse", m.cfg.ID, "reason", reason)
	l.RequestAdvertise(m)
}

// Rotate hands the radio to the next waiting mouse. It does nothing under
// PolicySingle or when nobody is waiting.
func (l *Lifecycle) Rotate() {
	if l.policy != PolicyRotate || len(l.waiting) == 0 {
		return
	}
	m := l.owner
	if m == nil {
		l.next()
		return
	}
	if m.advPending != advNone || m.adv != AdvAdvertising {
		return
	}
	slog.Debug("[BLE] rotating advertiser", "from", m.cfg.ID, "to", l.waiting[0].cfg.ID)
	m.rotatedOut = true
	l.stop(m)
}

// Drop forgets m. If it holds the radio, advertising is stopped first and
// the radio is released when the stop completes.
func (l *Lifecycle) Drop(m *Mouse) {
	l.dequeue(m)
	if l.loaded == m {
		l.loaded = nil
	}
	if l.owner != m {
		return
	}
	m.readvertise = false
	m.rotatedOut = false
	switch {
	case m.advPending == advStopping:
	case m.advPending != advNone:
		m.stopWanted = true
	case m.adv == AdvAdvertising:
		l.stop(m)
	default:
		l.release(m)
	}
}
