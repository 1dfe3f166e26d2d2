package ble

import (
	"fmt"
	"log/slog"

	"github.com/grozycki/esphome-ble-mouse-jiggler/internal/ble/catalog"
)

// State is a step of the peripheral construction pipeline. States only move
// forward; a restart goes back through StateIdle.
type State uint8

const (
	StateIdle State = iota
	StateCreatingHidService
	StateStartingHidService
	StateAddingHidInfoChar
	StateAddingHidReportMapChar
	StateAddingHidControlPointChar
	StateAddingHidReportChar
	StateAddingHidReportCccd
	StateAddingHidReportReference
	StateAddingProtocolModeChar
	StateCreatingBatteryService
	StateStartingBatteryService
	StateAddingBatteryLevelChar
	StateCreatingDisService
	StateStartingDisService
	StateAddingDisManufacturerChar
	StateAddingDisModelChar
	StateAddingDisPnpIdChar
	StateDone
)

var stateNames = [...]string{
	StateIdle:                      "idle",
	StateCreatingHidService:        "creating-hid-service",
	StateStartingHidService:        "starting-hid-service",
	StateAddingHidInfoChar:         "adding-hid-info",
	StateAddingHidReportMapChar:    "adding-hid-report-map",
	StateAddingHidControlPointChar: "adding-hid-control-point",
	StateAddingHidReportChar:       "adding-hid-report",
	StateAddingHidReportCccd:       "adding-hid-report-cccd",
	StateAddingHidReportReference:  "adding-hid-report-reference",
	StateAddingProtocolModeChar:    "adding-protocol-mode",
	StateCreatingBatteryService:    "creating-battery-service",
	StateStartingBatteryService:    "starting-battery-service",
	StateAddingBatteryLevelChar:    "adding-battery-level",
	StateCreatingDisService:        "creating-dis-service",
	StateStartingDisService:        "starting-dis-service",
	StateAddingDisManufacturerChar: "adding-dis-manufacturer",
	StateAddingDisModelChar:        "adding-dis-model",
	StateAddingDisPnpIdChar:        "adding-dis-pnp-id",
	StateDone:                      "done",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// step is one row of the construction table: the state entered when the
// command is issued, the event that completes it, and where the resulting
// handle goes.
type step struct {
	state  State
	expect EventKind
	uuid   uint16 // expected characteristic/descriptor UUID, 0 for services
	issue  func(s Stack, m *Mouse) error
	record func(m *Mouse, h AttrHandle)
}

func createService(def catalog.ServiceDef) func(Stack, *Mouse) error {
	return func(s Stack, m *Mouse) error { return s.CreateService(m.iface, def) }
}

func startService(svc func(*Mouse) AttrHandle) func(Stack, *Mouse) error {
	return func(s Stack, m *Mouse) error { return s.StartService(m.iface, svc(m)) }
}

func addChar(svc func(*Mouse) AttrHandle, def func(*Mouse) catalog.CharacteristicDef) func(Stack, *Mouse) error {
	return func(s Stack, m *Mouse) error { return s.AddCharacteristic(m.iface, svc(m), def(m)) }
}

func addDesc(svc func(*Mouse) AttrHandle, def catalog.DescriptorDef) func(Stack, *Mouse) error {
	return func(s Stack, m *Mouse) error { return s.AddDescriptor(m.iface, svc(m), def) }
}

func fixed(def catalog.CharacteristicDef) func(*Mouse) catalog.CharacteristicDef {
	return func(*Mouse) catalog.CharacteristicDef {
		def.Value = append([]byte(nil), def.Value...)
		return def
	}
}

func hidService(m *Mouse) AttrHandle     { return m.hidService }
func batteryService(m *Mouse) AttrHandle { return m.batteryService }
func disService(m *Mouse) AttrHandle     { return m.disService }

// buildSteps returns the ordered construction table. The report CCCD and
// report reference descriptors are only added when descriptors is true.
func buildSteps(descriptors bool) []step {
	steps := []step{
		{
			state: StateCreatingHidService, expect: EventServiceCreated, uuid: catalog.ServiceHID,
			issue:  createService(catalog.HIDService),
			record: func(m *Mouse, h AttrHandle) { m.hidService = h },
		},
		{
			state: StateStartingHidService, expect: EventServiceStarted,
			issue: startService(hidService),
		},
		{
			state: StateAddingHidInfoChar, expect: EventCharAdded, uuid: catalog.CharHIDInformation,
			issue: addChar(hidService, fixed(catalog.HIDInformationChar)),
		},
		{
			state: StateAddingHidReportMapChar, expect: EventCharAdded, uuid: catalog.CharReportMap,
			issue: addChar(hidService, fixed(catalog.ReportMapChar)),
		},
		{
			state: StateAddingHidControlPointChar, expect: EventCharAdded, uuid: catalog.CharHIDControlPoint,
			issue:  addChar(hidService, fixed(catalog.HIDControlPointChar)),
			record: func(m *Mouse, h AttrHandle) { m.controlPointChar = h },
		},
		{
			state: StateAddingHidReportChar, expect: EventCharAdded, uuid: catalog.CharReport,
			issue:  addChar(hidService, fixed(catalog.ReportChar)),
			record: func(m *Mouse, h AttrHandle) { m.reportChar = h },
		},
	}
	if descriptors {
		steps = append(steps,
			step{
				state: StateAddingHidReportCccd, expect: EventDescriptorAdded, uuid: catalog.DescClientConfig,
				issue:  addDesc(hidService, catalog.ReportClientConfig),
				record: func(m *Mouse, h AttrHandle) { m.reportCCCD = h },
			},
			step{
				state: StateAddingHidReportReference, expect: EventDescriptorAdded, uuid: catalog.DescReportReference,
				issue: addDesc(hidService, catalog.ReportReference),
			},
		)
	}
	steps = append(steps,
		step{
			state: StateAddingProtocolModeChar, expect: EventCharAdded, uuid: catalog.CharProtocolMode,
			issue:  addChar(hidService, fixed(catalog.ProtocolModeChar)),
			record: func(m *Mouse, h AttrHandle) { m.protocolModeChar = h },
		},
		step{
			state: StateCreatingBatteryService, expect: EventServiceCreated, uuid: catalog.ServiceBattery,
			issue:  createService(catalog.BatteryService),
			record: func(m *Mouse, h AttrHandle) { m.batteryService = h },
		},
		step{
			state: StateStartingBatteryService, expect: EventServiceStarted,
			issue: startService(batteryService),
		},
		step{
			state: StateAddingBatteryLevelChar, expect: EventCharAdded, uuid: catalog.CharBatteryLevel,
			issue: addChar(batteryService, func(m *Mouse) catalog.CharacteristicDef {
				return catalog.BatteryLevelChar(m.battery)
			}),
			record: func(m *Mouse, h AttrHandle) { m.batteryChar = h },
		},
		step{
			state: StateCreatingDisService, expect: EventServiceCreated, uuid: catalog.ServiceDeviceInformation,
			issue:  createService(catalog.DeviceInformationService),
			record: func(m *Mouse, h AttrHandle) { m.disService = h },
		},
		step{
			state: StateStartingDisService, expect: EventServiceStarted,
			issue: startService(disService),
		},
		step{
			state: StateAddingDisManufacturerChar, expect: EventCharAdded, uuid: catalog.CharManufacturerName,
			issue: addChar(disService, func(m *Mouse) catalog.CharacteristicDef {
				return catalog.ManufacturerNameChar(m.cfg.Manufacturer)
			}),
		},
		step{
			state: StateAddingDisModelChar, expect: EventCharAdded, uuid: catalog.CharModelNumber,
			issue: addChar(disService, func(m *Mouse) catalog.CharacteristicDef {
				return catalog.ModelNumberChar(m.cfg.Model)
			}),
		},
		step{
			state: StateAddingDisPnpIdChar, expect: EventCharAdded, uuid: catalog.CharPnPID,
			issue: addChar(disService, func(m *Mouse) catalog.CharacteristicDef {
				return catalog.PnPIDChar(m.cfg.PnP)
			}),
		},
	)
	return steps
}

// provisioner walks the construction table for every mouse of a host. It
// keeps no per-mouse state of its own: the current index lives on the Mouse.
// Callers hold the host lock.
type provisioner struct {
	stack Stack
	steps []step
	// done is called once a mouse reaches StateDone; failed once a step fails.
	done   func(m *Mouse)
	failed func(m *Mouse, err *ProvisioningError)
}

// begin moves an idle, registered mouse to the first step and issues it.
func (p *provisioner) begin(m *Mouse) error {
	if m.state != StateIdle {
		return fmt.Errorf("ble: mouse %d: begin in state %s", m.cfg.ID, m.state)
	}
	slog.Debug("[BLE] provisioning", "mouse", m.cfg.ID, "steps", len(p.steps))
	p.enter(m, 0)
	return nil
}

// enter assigns step i's state and issues its command.
func (p *provisioner) enter(m *Mouse, i int) {
	st := p.steps[i]
	m.stepIdx = i
	m.state = st.state
	if err := st.issue(p.stack, m); err != nil {
		p.fail(m, &ProvisioningError{State: st.state, Status: StatusRejected, Err: err})
	}
}

// onCompletion applies one completion event. Events that do not complete the
// step currently in flight are stale and change nothing.
func (p *provisioner) onCompletion(m *Mouse, ev Event) error {
	if m.cancelled || m.failed || m.state == StateIdle || m.state == StateDone {
		slog.Debug("[BLE] dropping completion outside provisioning", "mouse", m.cfg.ID, "state", m.state, "event", ev)
		return ErrStaleEvent
	}
	cur := p.steps[m.stepIdx]
	if ev.Kind != cur.expect || (cur.uuid != 0 && ev.UUID != 0 && ev.UUID != cur.uuid) {
		slog.Warn("[BLE] dropping out-of-order completion", "mouse", m.cfg.ID, "state", m.state, "event", ev)
		return ErrStaleEvent
	}

	if ev.Status != StatusSuccess {
		p.fail(m, &ProvisioningError{State: cur.state, Status: ev.Status})
		return nil
	}
	if cur.record != nil {
		cur.record(m, ev.Handle)
	}

	next := m.stepIdx + 1
	if next == len(p.steps) {
		m.stepIdx = next
		m.state = StateDone
		slog.Info("[BLE] mouse provisioned", "mouse", m.cfg.ID, "name", m.cfg.Name)
		p.done(m)
		return nil
	}
	p.enter(m, next)
	return nil
}

func (p *provisioner) fail(m *Mouse, err *ProvisioningError) {
	m.failed = true
	m.lastErr = err
	slog.Error("[BLE] provisioning failed", "mouse", m.cfg.ID, "state", err.State, "status", err.Status, "error", err.Err)
	p.failed(m, err)
}
