package protocol

import "fmt"

// ReportSize is the length of a mouse input report on the wire.
const ReportSize = 4

// Mouse button bits in byte 0 of a report.
const (
	ButtonLeft   uint8 = 1 << 0
	ButtonRight  uint8 = 1 << 1
	ButtonMiddle uint8 = 1 << 2
)

// Axis limits. -128 is representable in a signed byte but the report map
// declares a logical minimum of -127.
const (
	AxisMin = -127
	AxisMax = 127
)

// Report is a decoded mouse input report.
type Report struct {
	Buttons uint8
	DX      int8
	DY      int8
	Wheel   int8
}

// EncodeReport builds the 4-byte input report [buttons][dx][dy][wheel].
// Each axis is clamped to [-127, 127] before being stored as a signed byte.
func EncodeReport(buttons uint8, dx, dy, wheel int) [ReportSize]byte {
	return [ReportSize]byte{
		buttons,
		byte(int8(clampAxis(dx))),
		byte(int8(clampAxis(dy))),
		byte(int8(clampAxis(wheel))),
	}
}

// Bytes returns the wire form of r.
func (r Report) Bytes() [ReportSize]byte {
	return EncodeReport(r.Buttons, int(r.DX), int(r.DY), int(r.Wheel))
}

// DecodeReport parses a wire report.
func DecodeReport(data []byte) (Report, error) {
	if len(data) != ReportSize {
		return Report{}, fmt.Errorf("protocol: report must be %d bytes, got %d", ReportSize, len(data))
	}
	return Report{
		Buttons: data[0],
		DX:      int8(data[1]),
		DY:      int8(data[2]),
		Wheel:   int8(data[3]),
	}, nil
}

func clampAxis(v int) int {
	if v < AxisMin {
		return AxisMin
	}
	if v > AxisMax {
		return AxisMax
	}
	return v
}
