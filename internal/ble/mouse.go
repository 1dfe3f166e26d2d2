package ble

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/grozycki/esphome-ble-mouse-jiggler/internal/ble/catalog"
	"github.com/grozycki/esphome-ble-mouse-jiggler/internal/ble/protocol"
)

// ConnState is the link state of a mouse.
type ConnState uint8

const (
	Disconnected ConnState = iota
	Connected
)

func (c ConnState) String() string {
	if c == Connected {
		return "connected"
	}
	return "disconnected"
}

// AdvState is the advertising state of a mouse.
type AdvState uint8

const (
	AdvIdle AdvState = iota
	AdvDataConfigured
	AdvAdvertising
)

func (a AdvState) String() string {
	switch a {
	case AdvDataConfigured:
		return "data-configured"
	case AdvAdvertising:
		return "advertising"
	default:
		return "idle"
	}
}

// MouseConfig describes one logical mouse.
type MouseConfig struct {
	ID           uint8
	Name         string
	Manufacturer string
	Model        string
	BatteryLevel uint8
	PinCode      string // empty disables the static passkey
	PnP          catalog.PnPID
}

// advOp is the advertising command a mouse has in flight.
type advOp uint8

const (
	advNone advOp = iota
	advConfiguring
	advStarting
	advStopping
)

// Mouse is one logical HID peripheral hosted on the shared stack. All fields
// are guarded by the owning Host's lock.
type Mouse struct {
	host *Host
	cfg  MouseConfig

	appID    AppID
	iface    InterfaceHandle
	hasIface bool

	conn       ConnState
	connHandle ConnHandle

	battery      uint8
	buttons      uint8
	suspended    bool
	protocolMode uint8
	notify       bool

	hidService       AttrHandle
	batteryService   AttrHandle
	disService       AttrHandle
	reportChar       AttrHandle
	reportCCCD       AttrHandle
	batteryChar      AttrHandle
	controlPointChar AttrHandle
	protocolModeChar AttrHandle

	// construction
	state   State
	stepIdx int
	failed      bool
	started     bool
	registering bool // RegisterApplication submitted, completion not yet seen

	// advertising
	adv         AdvState
	advPending  advOp
	stopWanted  bool // stop once the pending advertising command completes
	readvertise bool // advertise again once a pending stop completes
	rotatedOut  bool

	cancelled  bool
	attempts   int
	retryTimer *time.Timer
	lastErr    error
	sent       uint64
}

func newMouse(h *Host, cfg MouseConfig) *Mouse {
	return &Mouse{
		host:         h,
		cfg:          cfg,
		battery:      catalog.ClampBattery(int(cfg.BatteryLevel)),
		protocolMode: catalog.ProtocolModeReport,
	}
}

// ID returns the owner-chosen mouse id.
func (m *Mouse) ID() uint8 { return m.cfg.ID }

// Name returns the advertised device name.
func (m *Mouse) Name() string { return m.cfg.Name }

// Snapshot is a point-in-time view of a mouse.
type Snapshot struct {
	ID           uint8
	Name         string
	State        State
	Conn         ConnState
	Adv          AdvState
	Interface    InterfaceHandle
	BatteryLevel uint8
	Suspended    bool
	ProtocolMode uint8
	NotifyOn     bool
	ReportsSent  uint64
	Started      bool
	Attempts     int
	Err          error
}

// Status returns a snapshot of the mouse, including the last recorded error.
func (m *Mouse) Status() Snapshot {
	m.host.mu.Lock()
	defer m.host.mu.Unlock()
	return Snapshot{
		ID:           m.cfg.ID,
		Name:         m.cfg.Name,
		State:        m.state,
		Conn:         m.conn,
		Adv:          m.adv,
		Interface:    m.iface,
		BatteryLevel: m.battery,
		Suspended:    m.suspended,
		ProtocolMode: m.protocolMode,
		NotifyOn:     m.notify,
		ReportsSent:  m.sent,
		Started:      m.started,
		Attempts:     m.attempts,
		Err:          m.lastErr,
	}
}

// IsConnected reports whether a central is connected and the mouse is fully
// provisioned.
func (m *Mouse) IsConnected() bool {
	m.host.mu.Lock()
	defer m.host.mu.Unlock()
	return m.readyLocked()
}

func (m *Mouse) readyLocked() bool {
	return !m.cancelled && m.conn == Connected && m.state == StateDone
}

// SendReport notifies the central with one input report. It returns
// ErrNotReady without touching the stack when the mouse is not connected or
// not provisioned, and ErrNotReady wrapping the cause when the write fails.
// Reports are never queued.
func (m *Mouse) SendReport(report [protocol.ReportSize]byte) error {
	m.host.mu.Lock()
	defer m.host.mu.Unlock()
	return m.sendLocked(report)
}

func (m *Mouse) sendLocked(report [protocol.ReportSize]byte) error {
	if !m.readyLocked() {
		return ErrNotReady
	}
	if err := m.host.stack.SendNotify(m.iface, m.connHandle, m.reportChar, report[:]); err != nil {
		m.lastErr = fmt.Errorf("ble: notify report: %w", err)
		slog.Debug("[BLE] report not delivered", "mouse", m.cfg.ID, "error", err)
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	m.sent++
	return nil
}

// Move sends a relative movement with the currently pressed buttons.
func (m *Mouse) Move(dx, dy, wheel int) error {
	m.host.mu.Lock()
	defer m.host.mu.Unlock()
	return m.sendLocked(protocol.EncodeReport(m.buttons, dx, dy, wheel))
}

// Press adds buttons to the pressed set and reports it.
func (m *Mouse) Press(buttons uint8) error {
	m.host.mu.Lock()
	defer m.host.mu.Unlock()
	m.buttons |= buttons
	return m.sendLocked(protocol.EncodeReport(m.buttons, 0, 0, 0))
}

// Release removes buttons from the pressed set and reports it.
func (m *Mouse) Release(buttons uint8) error {
	m.host.mu.Lock()
	defer m.host.mu.Unlock()
	m.buttons &^= buttons
	return m.sendLocked(protocol.EncodeReport(m.buttons, 0, 0, 0))
}

// Click presses and releases buttons with a short pause in between. The
// release is attempted even when the press could not be delivered.
func (m *Mouse) Click(buttons uint8) error {
	pressErr := m.Press(buttons)
	time.Sleep(m.host.opts.ClickDelay)
	releaseErr := m.Release(buttons)
	return errors.Join(pressErr, releaseErr)
}

// SetBatteryLevel stores level (clamped to 100) and writes it to the battery
// level characteristic once the mouse is provisioned, so a central reads the
// new value on its next connection. A connected central is also notified.
func (m *Mouse) SetBatteryLevel(level uint8) error {
	m.host.mu.Lock()
	defer m.host.mu.Unlock()
	m.battery = catalog.ClampBattery(int(level))
	if m.cancelled || m.state != StateDone || m.batteryChar == 0 {
		return nil
	}
	value := []byte{m.battery}
	if err := m.host.stack.SetAttributeValue(m.iface, m.batteryChar, value); err != nil {
		return fmt.Errorf("ble: set battery level: %w", err)
	}
	if !m.readyLocked() {
		return nil
	}
	if err := m.host.stack.SendNotify(m.iface, m.connHandle, m.batteryChar, value); err != nil {
		return fmt.Errorf("ble: notify battery level: %w", err)
	}
	return nil
}

// resetLocked forgets every stack resource so the mouse can be provisioned
// again from StateIdle.
func (m *Mouse) resetLocked() {
	m.iface, m.hasIface = 0, false
	m.conn, m.connHandle = Disconnected, 0
	m.hidService, m.batteryService, m.disService = 0, 0, 0
	m.reportChar, m.reportCCCD, m.batteryChar = 0, 0, 0
	m.controlPointChar, m.protocolModeChar = 0, 0
	m.state, m.stepIdx, m.failed = StateIdle, 0, false
	m.registering = false
	// An advertising command still in flight keeps its bookkeeping so the
	// completion can release the radio.
	if m.advPending == advNone {
		m.adv = AdvIdle
		m.stopWanted, m.readvertise, m.rotatedOut = false, false, false
	}
	m.buttons, m.suspended, m.notify = 0, false, false
	m.protocolMode = catalog.ProtocolModeReport
}
