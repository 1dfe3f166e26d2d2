package bluez

import (
	"testing"

	"github.com/godbus/dbus/v5"
)

const testDevice = dbus.ObjectPath("/org/bluez/hci0/dev_11_22_33_44_55_66")

func fixedAgent(key uint32) (*Agent, *[]string) {
	var asked []string
	return &Agent{Passkey: func(_ dbus.ObjectPath, addr string) (uint32, bool) {
		asked = append(asked, addr)
		return key, true
	}}, &asked
}

func TestAgentRequestPasskey(t *testing.T) {
	a, asked := fixedAgent(123456)
	key, derr := a.RequestPasskey(testDevice)
	if derr != nil || key != 123456 {
		t.Errorf("RequestPasskey() = %d, %v, want 123456", key, derr)
	}
	if len(*asked) != 1 || (*asked)[0] != "11:22:33:44:55:66" {
		t.Errorf("passkey looked up for %v", *asked)
	}

	pin, derr := a.RequestPinCode(testDevice)
	if derr != nil || pin != "123456" {
		t.Errorf("RequestPinCode() = %q, %v", pin, derr)
	}
}

func TestAgentWithoutPasskey(t *testing.T) {
	a := &Agent{Passkey: func(dbus.ObjectPath, string) (uint32, bool) { return 0, false }}

	if _, derr := a.RequestPasskey(testDevice); derr == nil || derr.Name != errRejected {
		t.Errorf("RequestPasskey() error = %v, want %s", derr, errRejected)
	}
	if derr := a.RequestConfirmation(testDevice, 999999); derr != nil {
		t.Errorf("RequestConfirmation() error = %v, want accept", derr)
	}
	if derr := a.RequestAuthorization(testDevice); derr != nil {
		t.Errorf("RequestAuthorization() error = %v, want accept", derr)
	}
}

func TestAgentConfirmation(t *testing.T) {
	a, _ := fixedAgent(4242)
	if derr := a.RequestConfirmation(testDevice, 4242); derr != nil {
		t.Errorf("RequestConfirmation(match) error = %v", derr)
	}
	if derr := a.RequestConfirmation(testDevice, 4243); derr == nil {
		t.Error("RequestConfirmation(mismatch) should reject")
	}
	// A configured passkey rules out unauthenticated pairing.
	if derr := a.RequestAuthorization(testDevice); derr == nil {
		t.Error("RequestAuthorization() should reject when a passkey is set")
	}
}

func TestRegisterAgent(t *testing.T) {
	b := &fakeBus{}
	c := &Client{bus: b}
	a, _ := fixedAgent(1)

	if err := c.RegisterAgent(a); err != nil {
		t.Fatalf("RegisterAgent() error = %v", err)
	}
	if len(b.exports) != 1 || b.exports[0].v != a || b.exports[0].path != AgentPath || b.exports[0].iface != agentInterface {
		t.Errorf("exports = %+v", b.exports)
	}
	want := []string{
		"org.bluez.AgentManager1.RegisterAgent",
		"org.bluez.AgentManager1.RequestDefaultAgent",
	}
	if len(b.calls) != len(want) {
		t.Fatalf("calls = %+v, want %v", b.calls, want)
	}
	for i, m := range want {
		if b.calls[i].method != m || b.calls[i].path != agentManagerPath || b.calls[i].args[0] != AgentPath {
			t.Errorf("call[%d] = %+v, want %s", i, b.calls[i], m)
		}
	}
	if capability := b.calls[0].args[1]; capability != agentCapability {
		t.Errorf("capability = %v, want %s", capability, agentCapability)
	}

	if err := c.UnregisterAgent(); err != nil {
		t.Fatalf("UnregisterAgent() error = %v", err)
	}
	if last := b.calls[len(b.calls)-1]; last.method != "org.bluez.AgentManager1.UnregisterAgent" {
		t.Errorf("last call = %s, want UnregisterAgent", last.method)
	}
	if last := b.exports[len(b.exports)-1]; last.v != nil {
		t.Error("agent still exported after UnregisterAgent")
	}
}

func TestRegisterAgentError(t *testing.T) {
	b := &fakeBus{failOn: "org.bluez.AgentManager1.RegisterAgent"}
	c := &Client{bus: b}
	a, _ := fixedAgent(1)
	if err := c.RegisterAgent(a); err == nil {
		t.Fatal("RegisterAgent() should fail when BlueZ refuses")
	}
	for _, call := range b.calls {
		if call.method == "org.bluez.AgentManager1.RequestDefaultAgent" {
			t.Error("default agent requested after a failed registration")
		}
	}
}
