// Package ble turns a callback-driven BLE stack into one or more HID mice.
// It provisions the HID, Battery and Device Information services one
// asynchronous step at a time, routes stack events to the owning mouse,
// shares the single radio between advertisers and gates report delivery on
// the connection state.
package ble

import (
	"fmt"
	"time"

	"github.com/grozycki/esphome-ble-mouse-jiggler/internal/ble/catalog"
	"github.com/grozycki/esphome-ble-mouse-jiggler/internal/ble/protocol"
)

// AppID correlates a registration request with its completion event.
type AppID uint16

// InterfaceHandle identifies a registered GATT application. Stacks never
// assign zero.
type InterfaceHandle uint16

// AttrHandle identifies a service, characteristic value or descriptor.
// Stacks never assign zero.
type AttrHandle uint16

// ConnHandle identifies a link to a central.
type ConnHandle uint16

// Status is the completion status carried by stack events.
type Status uint8

const (
	StatusSuccess     Status = 0x00
	StatusNoResources Status = 0x80
	StatusInternal    Status = 0x81
	StatusFailure     Status = 0x85
	// StatusRejected is reported locally when a command could not even be
	// submitted to the stack.
	StatusRejected Status = 0xFE
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNoResources:
		return "no-resources"
	case StatusInternal:
		return "internal-error"
	case StatusFailure:
		return "failure"
	case StatusRejected:
		return "rejected"
	default:
		return fmt.Sprintf("status(0x%02x)", uint8(s))
	}
}

// AdvertisingParams controls the advertising PDU timing.
type AdvertisingParams struct {
	IntervalMin time.Duration
	IntervalMax time.Duration
}

// DefaultAdvertisingParams advertises connectable every 20-40ms.
func DefaultAdvertisingParams() AdvertisingParams {
	return AdvertisingParams{
		IntervalMin: 20 * time.Millisecond,
		IntervalMax: 40 * time.Millisecond,
	}
}

// Stack is the vendor BLE stack. Every command except SendNotify and
// SetAttributeValue completes later through an Event delivered to one of the
// handlers installed with SetEventHandlers, possibly from another goroutine.
// A non-nil error means the command was not accepted and no event follows.
type Stack interface {
	// SetEventHandlers installs the connectivity/advertising (gap) and GATT
	// server (gatts) callbacks.
	SetEventHandlers(gap, gatts func(Event))

	// RegisterApplication completes with EventRegistered carrying app.
	RegisterApplication(app AppID) error
	// UnregisterApplication releases iface and everything created under it.
	UnregisterApplication(iface InterfaceHandle) error

	// CreateService completes with EventServiceCreated.
	CreateService(iface InterfaceHandle, svc catalog.ServiceDef) error
	// StartService completes with EventServiceStarted.
	StartService(iface InterfaceHandle, service AttrHandle) error
	// AddCharacteristic completes with EventCharAdded.
	AddCharacteristic(iface InterfaceHandle, service AttrHandle, char catalog.CharacteristicDef) error
	// AddDescriptor attaches to the last added characteristic and completes
	// with EventDescriptorAdded.
	AddDescriptor(iface InterfaceHandle, service AttrHandle, desc catalog.DescriptorDef) error

	// ConfigureAdvertisingData completes with EventAdvDataConfigured.
	ConfigureAdvertisingData(iface InterfaceHandle, data protocol.AdvertisingData) error
	// StartAdvertising completes with EventAdvStarted.
	StartAdvertising(iface InterfaceHandle, params AdvertisingParams) error
	// StopAdvertising completes with EventAdvStopped.
	StopAdvertising() error

	// SendNotify writes value to attr and notifies the central on conn.
	SendNotify(iface InterfaceHandle, conn ConnHandle, attr AttrHandle, value []byte) error
	// SetAttributeValue updates the stored value of attr without notifying.
	SetAttributeValue(iface InterfaceHandle, attr AttrHandle, value []byte) error
}

// PasskeySetter is implemented by stacks that support a static pairing
// passkey per application.
type PasskeySetter interface {
	SetStaticPasskey(iface InterfaceHandle, passkey uint32) error
}

// PlatformStack is a Stack on the host's own Bluetooth adapter. Link changes
// and pairing are partly handled outside the stack (on Linux by BlueZ), so
// the stack accepts them from the caller.
type PlatformStack interface {
	Stack
	PasskeySetter
	// Enable powers the adapter and starts event delivery.
	Enable() error
	// ReportLink feeds a connect or disconnect of the central at address
	// ("AA:BB:CC:DD:EE:FF") seen by an external watcher. Repeats of a known
	// state are ignored.
	ReportLink(address string, connected bool)
	// SetPairingAgent tells the stack whether a pairing agent will consult
	// Passkey. Without one, SetStaticPasskey fails.
	SetPairingAgent(attached bool)
	// Passkey returns the static passkey of the mouse linked to address, or
	// of the advertising mouse when address is not connected.
	Passkey(address string) (uint32, bool)
}
