package inject

// MouseSender is the part of a BLE mouse the injector drives.
type MouseSender interface {
	Move(dx, dy, wheel int) error
	Click(buttons uint8) error
	IsConnected() bool
}

// BLEInjector moves the pointer of whichever host is connected to a BLE
// mouse.
type BLEInjector struct {
	mouse MouseSender
}

// Compile-time interface satisfaction check.
var _ Injector = (*BLEInjector)(nil)

// NewBLEInjector creates a BLEInjector backed by the given mouse.
// Panics if mouse is nil (programmer error).
func NewBLEInjector(mouse MouseSender) *BLEInjector {
	if mouse == nil {
		panic("inject: NewBLEInjector called with nil mouse")
	}
	return &BLEInjector{mouse: mouse}
}

// Move sends one relative movement report.
func (b *BLEInjector) Move(dx, dy int) error {
	return b.mouse.Move(dx, dy, 0)
}

// Click sends a press and a release report.
func (b *BLEInjector) Click(buttons uint8) error {
	return b.mouse.Click(buttons)
}

// Ready reports whether a central is connected.
func (b *BLEInjector) Ready() bool {
	return b.mouse.IsConnected()
}
