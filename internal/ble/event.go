package ble

import "fmt"

// EventKind tags an Event.
type EventKind uint8

const (
	EventRegistered EventKind = iota + 1
	EventServiceCreated
	EventServiceStarted
	EventCharAdded
	EventDescriptorAdded
	EventConnected
	EventDisconnected
	EventWriteReceived
	EventAdvDataConfigured
	EventAdvStarted
	EventAdvStopped
)

var eventKindNames = map[EventKind]string{
	EventRegistered:        "registered",
	EventServiceCreated:    "service-created",
	EventServiceStarted:    "service-started",
	EventCharAdded:         "char-added",
	EventDescriptorAdded:   "descriptor-added",
	EventConnected:         "connected",
	EventDisconnected:      "disconnected",
	EventWriteReceived:     "write-received",
	EventAdvDataConfigured: "adv-data-configured",
	EventAdvStarted:        "adv-started",
	EventAdvStopped:        "adv-stopped",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", uint8(k))
}

// isAdvertising reports whether k completes an advertising command. Those
// carry no interface handle; they belong to whoever holds the radio.
func (k EventKind) isAdvertising() bool {
	return k == EventAdvDataConfigured || k == EventAdvStarted || k == EventAdvStopped
}

// Event is a completion or notification delivered by the Stack.
type Event struct {
	Kind   EventKind
	Status Status

	// App is only set on EventRegistered.
	App   AppID
	Iface InterfaceHandle

	// Handle is the created service (service events), the added attribute
	// (char/descriptor events) or the written attribute (EventWriteReceived).
	Handle AttrHandle
	// UUID of the added characteristic or descriptor, zero if unknown.
	UUID uint16

	Conn   ConnHandle
	Reason uint8 // disconnect reason
	Value  []byte
}

func (e Event) String() string {
	s := fmt.Sprintf("%s status=%s iface=%d", e.Kind, e.Status, e.Iface)
	switch e.Kind {
	case EventRegistered:
		s += fmt.Sprintf(" app=%d", e.App)
	case EventServiceCreated, EventServiceStarted, EventCharAdded, EventDescriptorAdded, EventWriteReceived:
		s += fmt.Sprintf(" handle=%d", e.Handle)
		if e.UUID != 0 {
			s += fmt.Sprintf(" uuid=0x%04x", e.UUID)
		}
	case EventConnected, EventDisconnected:
		s += fmt.Sprintf(" conn=%d", e.Conn)
	}
	return s
}
