package catalog

import (
	"bytes"
	"testing"
)

func TestPnPIDBytes(t *testing.T) {
	id := PnPID{VendorIDSource: VendorIDSourceUSB, VendorID: 0x303A, ProductID: 0x4001, ProductVersion: 0x0100}
	want := []byte{0x02, 0x3A, 0x30, 0x01, 0x40, 0x00, 0x01}
	if got := id.Bytes(); !bytes.Equal(got, want) {
		t.Errorf("Bytes() = % x, want % x", got, want)
	}

	parsed, err := ParsePnPID(want)
	if err != nil {
		t.Fatalf("ParsePnPID() error = %v", err)
	}
	if parsed != id {
		t.Errorf("ParsePnPID() = %+v, want %+v", parsed, id)
	}
}

func TestParsePnPIDWrongLength(t *testing.T) {
	if _, err := ParsePnPID([]byte{1, 2, 3}); err == nil {
		t.Error("ParsePnPID() should reject short input")
	}
}

func TestClampBattery(t *testing.T) {
	tests := []struct {
		in   int
		want uint8
	}{
		{-5, 0},
		{0, 0},
		{42, 42},
		{100, 100},
		{250, 100},
	}
	for _, tt := range tests {
		if got := ClampBattery(tt.in); got != tt.want {
			t.Errorf("ClampBattery(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestBatteryLevelChar(t *testing.T) {
	c := BatteryLevelChar(77)
	if c.UUID != CharBatteryLevel {
		t.Errorf("UUID = 0x%04x", c.UUID)
	}
	if !bytes.Equal(c.Value, []byte{77}) {
		t.Errorf("Value = %v, want [77]", c.Value)
	}
	if c.Props&PropNotify == 0 || c.Props&PropRead == 0 {
		t.Errorf("Props = %s, want read|notify", c.Props)
	}
}

func TestReportCharacteristicLayout(t *testing.T) {
	if ReportChar.Props != PropRead|PropNotify {
		t.Errorf("report props = %s", ReportChar.Props)
	}
	if len(ReportChar.Value) != 4 {
		t.Errorf("report initial value length = %d, want 4", len(ReportChar.Value))
	}
	if !bytes.Equal(ReportReference.Value, []byte{ReportIDMouse, ReportTypeInput}) {
		t.Errorf("report reference = % x", ReportReference.Value)
	}
	if HIDControlPointChar.Props != PropWriteNoResp {
		t.Errorf("control point props = %s, want write-no-response", HIDControlPointChar.Props)
	}
}

func TestReportMapIsBalanced(t *testing.T) {
	// Every Collection (0xA1) must be closed by an End Collection (0xC0).
	depth := 0
	for i := 0; i < len(ReportMap); {
		prefix := ReportMap[i]
		size := int(prefix & 0x03)
		if size == 3 {
			size = 4
		}
		switch prefix &^ 0x03 {
		case 0xA0:
			depth++
		case 0xC0:
			depth--
		}
		i += 1 + size
	}
	if depth != 0 {
		t.Errorf("report map collection depth = %d, want 0", depth)
	}
}

func TestPropertyString(t *testing.T) {
	if got := (PropRead | PropNotify).String(); got != "read|notify" {
		t.Errorf("String() = %q", got)
	}
	if got := Property(0).String(); got != "none" {
		t.Errorf("String() = %q", got)
	}
}
