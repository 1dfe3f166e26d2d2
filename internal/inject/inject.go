// Package inject moves the pointer, either on the local desktop through
// robotgo or as a BLE HID mouse.
package inject

import (
	"github.com/go-vgo/robotgo"

	"github.com/grozycki/esphome-ble-mouse-jiggler/internal/ble/protocol"
)

// Injector emits pointer activity.
type Injector interface {
	// Move shifts the pointer by dx, dy.
	Move(dx, dy int) error
	// Click presses and releases buttons (protocol.Button* bits).
	Click(buttons uint8) error
	// Ready reports whether activity would reach a host right now.
	Ready() bool
}

// robotgo entry points, swapped out in tests.
var (
	moveRelative = func(x, y int) { robotgo.MoveRelative(x, y) }
	clickButton  = func(button string) { robotgo.Click(button) }
)

// LocalInjector moves the pointer of the machine it runs on.
type LocalInjector struct{}

// Compile-time interface satisfaction check.
var _ Injector = (*LocalInjector)(nil)

// NewLocalInjector creates a LocalInjector.
func NewLocalInjector() *LocalInjector {
	return &LocalInjector{}
}

// Move shifts the local pointer relative to its current position.
func (l *LocalInjector) Move(dx, dy int) error {
	if dx == 0 && dy == 0 {
		return nil
	}
	moveRelative(dx, dy)
	return nil
}

// Click clicks each requested button in turn.
func (l *LocalInjector) Click(buttons uint8) error {
	for _, b := range []struct {
		bit  uint8
		name string
	}{
		{protocol.ButtonLeft, "left"},
		{protocol.ButtonRight, "right"},
		{protocol.ButtonMiddle, "center"},
	} {
		if buttons&b.bit != 0 {
			clickButton(b.name)
		}
	}
	return nil
}

// Ready is always true: the local desktop needs no connection.
func (l *LocalInjector) Ready() bool { return true }
