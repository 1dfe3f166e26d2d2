package bluez

import (
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
)

const (
	agentInterface        = "org.bluez.Agent1"
	agentManagerInterface = "org.bluez.AgentManager1"
	agentManagerPath      = dbus.ObjectPath("/org/bluez")

	// AgentPath is where the pairing agent is exported.
	AgentPath = dbus.ObjectPath("/org/bluez/jiggler/agent")

	// KeyboardDisplay lets BlueZ both ask for a passkey and show one, so a
	// fixed passkey is used whenever the pairing method allows it.
	agentCapability = "KeyboardDisplay"

	errRejected = "org.bluez.Error.Rejected"
)

// PasskeyFunc returns the passkey to use for pairing with device, or false
// when none is configured.
type PasskeyFunc func(device dbus.ObjectPath, address string) (uint32, bool)

// Agent answers BlueZ pairing requests with the passkey of the mouse the
// central is pairing with. Its exported methods implement org.bluez.Agent1.
type Agent struct {
	Passkey PasskeyFunc
}

func (a *Agent) passkey(device dbus.ObjectPath) (uint32, bool) {
	if a.Passkey == nil {
		return 0, false
	}
	addr, _ := addressFromPath(device)
	return a.Passkey(device, addr)
}

func (a *Agent) Release() *dbus.Error {
	slog.Debug("[BLE] pairing agent released")
	return nil
}

// RequestPinCode serves legacy pairing with the passkey in decimal.
func (a *Agent) RequestPinCode(device dbus.ObjectPath) (string, *dbus.Error) {
	key, ok := a.passkey(device)
	if !ok {
		return "", dbus.NewError(errRejected, nil)
	}
	return fmt.Sprintf("%06d", key), nil
}

func (a *Agent) DisplayPinCode(device dbus.ObjectPath, pincode string) *dbus.Error {
	slog.Info("[BLE] enter PIN on the central", "device", device, "pin", pincode)
	return nil
}

// RequestPasskey hands BlueZ the fixed passkey; the user types the same
// number on the central.
func (a *Agent) RequestPasskey(device dbus.ObjectPath) (uint32, *dbus.Error) {
	key, ok := a.passkey(device)
	if !ok {
		slog.Warn("[BLE] passkey requested but none configured", "device", device)
		return 0, dbus.NewError(errRejected, nil)
	}
	slog.Info("[BLE] pairing with fixed passkey", "device", device)
	return key, nil
}

// DisplayPasskey is called when the kernel picked the passkey itself.
func (a *Agent) DisplayPasskey(device dbus.ObjectPath, passkey uint32, entered uint16) *dbus.Error {
	if entered == 0 {
		slog.Info("[BLE] enter passkey on the central", "device", device, "passkey", fmt.Sprintf("%06d", passkey))
	}
	return nil
}

// RequestConfirmation accepts numeric comparison only when the number
// matches the configured passkey, or when no passkey is configured.
func (a *Agent) RequestConfirmation(device dbus.ObjectPath, passkey uint32) *dbus.Error {
	key, ok := a.passkey(device)
	if ok && key != passkey {
		slog.Warn("[BLE] pairing rejected, passkey mismatch", "device", device)
		return dbus.NewError(errRejected, nil)
	}
	return nil
}

func (a *Agent) RequestAuthorization(device dbus.ObjectPath) *dbus.Error {
	if _, ok := a.passkey(device); ok {
		slog.Warn("[BLE] unauthenticated pairing rejected", "device", device)
		return dbus.NewError(errRejected, nil)
	}
	return nil
}

func (a *Agent) AuthorizeService(device dbus.ObjectPath, uuid string) *dbus.Error {
	return nil
}

func (a *Agent) Cancel() *dbus.Error {
	slog.Info("[BLE] pairing cancelled")
	return nil
}

// RegisterAgent exports a and makes it the default agent, so BlueZ routes
// every pairing request to it.
func (c *Client) RegisterAgent(a *Agent) error {
	if err := c.bus.Export(a, AgentPath, agentInterface); err != nil {
		return fmt.Errorf("bluez: export agent: %w", err)
	}
	if err := c.bus.Call(agentManagerPath, agentManagerInterface+".RegisterAgent", AgentPath, agentCapability); err != nil {
		return fmt.Errorf("bluez: register agent: %w", err)
	}
	if err := c.bus.Call(agentManagerPath, agentManagerInterface+".RequestDefaultAgent", AgentPath); err != nil {
		return fmt.Errorf("bluez: request default agent: %w", err)
	}
	slog.Info("[BLE] pairing agent registered", "path", AgentPath, "capability", agentCapability)
	return nil
}

// UnregisterAgent withdraws the agent registered by RegisterAgent.
func (c *Client) UnregisterAgent() error {
	err := c.bus.Call(agentManagerPath, agentManagerInterface+".UnregisterAgent", AgentPath)
	if xerr := c.bus.Export(nil, AgentPath, agentInterface); xerr != nil && err == nil {
		err = xerr
	}
	if err != nil {
		return fmt.Errorf("bluez: unregister agent: %w", err)
	}
	return nil
}
