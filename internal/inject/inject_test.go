package inject

import (
	"errors"
	"testing"

	"github.com/grozycki/esphome-ble-mouse-jiggler/internal/ble/protocol"
)

// mockMouse records calls from the BLE injector.
type mockMouse struct {
	moves     [][3]int
	clicks    []uint8
	connected bool
	err       error
}

func (m *mockMouse) Move(dx, dy, wheel int) error {
	m.moves = append(m.moves, [3]int{dx, dy, wheel})
	return m.err
}

func (m *mockMouse) Click(buttons uint8) error {
	m.clicks = append(m.clicks, buttons)
	return m.err
}

func (m *mockMouse) IsConnected() bool { return m.connected }

func TestBLEInjectorMove(t *testing.T) {
	mock := &mockMouse{connected: true}
	inj := NewBLEInjector(mock)

	if !inj.Ready() {
		t.Error("Ready() = false with a connected mouse")
	}
	if err := inj.Move(1, -1); err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	if len(mock.moves) != 1 || mock.moves[0] != [3]int{1, -1, 0} {
		t.Errorf("moves = %v, want [[1 -1 0]]", mock.moves)
	}
	if err := inj.Click(protocol.ButtonLeft); err != nil {
		t.Fatalf("Click() error = %v", err)
	}
	if len(mock.clicks) != 1 || mock.clicks[0] != protocol.ButtonLeft {
		t.Errorf("clicks = %v", mock.clicks)
	}
}

func TestBLEInjectorPassesErrors(t *testing.T) {
	want := errors.New("not ready")
	inj := NewBLEInjector(&mockMouse{err: want})
	if inj.Ready() {
		t.Error("Ready() = true with a disconnected mouse")
	}
	if err := inj.Move(1, 1); !errors.Is(err, want) {
		t.Errorf("Move() error = %v, want %v", err, want)
	}
}

func TestNewBLEInjectorPanicsOnNil(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewBLEInjector(nil) should panic")
		}
	}()
	NewBLEInjector(nil)
}

func TestLocalInjector(t *testing.T) {
	var moves [][2]int
	var clicks []string
	origMove, origClick := moveRelative, clickButton
	moveRelative = func(x, y int) { moves = append(moves, [2]int{x, y}) }
	clickButton = func(b string) { clicks = append(clicks, b) }
	defer func() { moveRelative, clickButton = origMove, origClick }()

	inj := NewLocalInjector()
	if !inj.Ready() {
		t.Error("local injector should always be ready")
	}
	_ = inj.Move(0, 0)
	_ = inj.Move(2, -2)
	if len(moves) != 1 || moves[0] != [2]int{2, -2} {
		t.Errorf("moves = %v, want [[2 -2]]", moves)
	}

	_ = inj.Click(protocol.ButtonLeft | protocol.ButtonMiddle)
	if len(clicks) != 2 || clicks[0] != "left" || clicks[1] != "center" {
		t.Errorf("clicks = %v, want [left center]", clicks)
	}
}
