// Package catalog holds the static GATT layout of a BLE HID mouse: service
// and characteristic UUIDs, access permissions, property bits and the fixed
// attribute payloads (HID information, report map, PnP ID, battery level).
package catalog

import (
	"encoding/binary"
	"fmt"
)

// Service UUIDs.
const (
	ServiceHID               uint16 = 0x1812
	ServiceBattery           uint16 = 0x180F
	ServiceDeviceInformation uint16 = 0x180A
)

// Characteristic UUIDs.
const (
	CharHIDInformation   uint16 = 0x2A4A
	CharReportMap        uint16 = 0x2A4B
	CharHIDControlPoint  uint16 = 0x2A4C
	CharReport           uint16 = 0x2A4D
	CharProtocolMode     uint16 = 0x2A4E
	CharBatteryLevel     uint16 = 0x2A19
	CharManufacturerName uint16 = 0x2A29
	CharModelNumber      uint16 = 0x2A24
	CharPnPID            uint16 = 0x2A50
)

// Descriptor UUIDs.
const (
	DescClientConfig    uint16 = 0x2902
	DescReportReference uint16 = 0x2908
)

// Permission is an attribute access permission bitmap.
type Permission uint16

const (
	PermRead  Permission = 1 << 0
	PermWrite Permission = 1 << 4
)

// Property is the characteristic properties bitmap from the characteristic
// declaration.
type Property uint8

const (
	PropBroadcast   Property = 0x01
	PropRead        Property = 0x02
	PropWriteNoResp Property = 0x04
	PropWrite       Property = 0x08
	PropNotify      Property = 0x10
	PropIndicate    Property = 0x20
)

func (p Property) String() string {
	names := []struct {
		bit  Property
		name string
	}{
		{PropBroadcast, "broadcast"},
		{PropRead, "read"},
		{PropWriteNoResp, "write-no-response"},
		{PropWrite, "write"},
		{PropNotify, "notify"},
		{PropIndicate, "indicate"},
	}
	s := ""
	for _, n := range names {
		if p&n.bit == 0 {
			continue
		}
		if s != "" {
			s += "|"
		}
		s += n.name
	}
	if s == "" {
		return "none"
	}
	return s
}

// ServiceDef describes a primary service to create.
type ServiceDef struct {
	UUID      uint16
	AttrCount int // attribute handles to reserve
}

// CharacteristicDef describes a characteristic to add to a service.
type CharacteristicDef struct {
	UUID  uint16
	Perm  Permission
	Props Property
	Value []byte
}

// DescriptorDef describes a descriptor attached to the last added
// characteristic.
type DescriptorDef struct {
	UUID  uint16
	Perm  Permission
	Value []byte
}

// Services, in creation order. Attribute counts cover the declaration, one
// declaration/value pair per characteristic and the descriptors.
var (
	HIDService               = ServiceDef{UUID: ServiceHID, AttrCount: 12}
	BatteryService           = ServiceDef{UUID: ServiceBattery, AttrCount: 4}
	DeviceInformationService = ServiceDef{UUID: ServiceDeviceInformation, AttrCount: 7}
)

// HIDInformation is bcdHID 1.01, country code 0, flags NormallyConnectable.
var HIDInformation = []byte{0x01, 0x01, 0x00, 0x02}

// ReportMap is the HID report descriptor for a 3-button mouse with wheel.
// Report format: [buttons, X, Y, wheel].
var ReportMap = []byte{
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x02, // Usage (Mouse)
	0xA1, 0x01, // Collection (Application)
	0x09, 0x01, //   Usage (Pointer)
	0xA1, 0x00, //   Collection (Physical)
	0x05, 0x09, //     Usage Page (Button)
	0x19, 0x01, //     Usage Minimum (Button 1)
	0x29, 0x03, //     Usage Maximum (Button 3)
	0x15, 0x00, //     Logical Minimum (0)
	0x25, 0x01, //     Logical Maximum (1)
	0x95, 0x03, //     Report Count (3)
	0x75, 0x01, //     Report Size (1)
	0x81, 0x02, //     Input (Data, Variable, Absolute)
	0x95, 0x01, //     Report Count (1)
	0x75, 0x05, //     Report Size (5)
	0x81, 0x03, //     Input (Constant, Variable, Absolute)
	0x05, 0x01, //     Usage Page (Generic Desktop)
	0x09, 0x30, //     Usage (X)
	0x09, 0x31, //     Usage (Y)
	0x15, 0x81, //     Logical Minimum (-127)
	0x25, 0x7F, //     Logical Maximum (127)
	0x75, 0x08, //     Report Size (8)
	0x95, 0x02, //     Report Count (2)
	0x81, 0x06, //     Input (Data, Variable, Relative)
	0x09, 0x38, //     Usage (Wheel)
	0x15, 0x81, //     Logical Minimum (-127)
	0x25, 0x7F, //     Logical Maximum (127)
	0x75, 0x08, //     Report Size (8)
	0x95, 0x01, //     Report Count (1)
	0x81, 0x06, //     Input (Data, Variable, Relative)
	0xC0,       //   End Collection
	0xC0,       // End Collection
}

// Report reference values.
const (
	ReportIDMouse     = 0x01
	ReportTypeInput   = 0x01
	ReportTypeOutput  = 0x02
	ReportTypeFeature = 0x03
)

// Protocol modes.
const (
	ProtocolModeBoot   = 0x00
	ProtocolModeReport = 0x01
)

// HID control point commands.
const (
	ControlSuspend     = 0x00
	ControlExitSuspend = 0x01
)

// HID service characteristics and descriptors.
var (
	HIDInformationChar = CharacteristicDef{
		UUID: CharHIDInformation, Perm: PermRead, Props: PropRead, Value: HIDInformation,
	}
	ReportMapChar = CharacteristicDef{
		UUID: CharReportMap, Perm: PermRead, Props: PropRead, Value: ReportMap,
	}
	HIDControlPointChar = CharacteristicDef{
		UUID: CharHIDControlPoint, Perm: PermWrite, Props: PropWriteNoResp, Value: []byte{ControlExitSuspend},
	}
	ReportChar = CharacteristicDef{
		UUID: CharReport, Perm: PermRead, Props: PropRead | PropNotify, Value: make([]byte, 4),
	}
	ReportClientConfig = DescriptorDef{
		UUID: DescClientConfig, Perm: PermRead | PermWrite, Value: []byte{0x00, 0x00},
	}
	ReportReference = DescriptorDef{
		UUID: DescReportReference, Perm: PermRead, Value: []byte{ReportIDMouse, ReportTypeInput},
	}
	ProtocolModeChar = CharacteristicDef{
		UUID: CharProtocolMode, Perm: PermRead | PermWrite, Props: PropRead | PropWriteNoResp, Value: []byte{ProtocolModeReport},
	}
)

// BatteryLevelChar returns the battery level characteristic holding level.
func BatteryLevelChar(level uint8) CharacteristicDef {
	return CharacteristicDef{
		UUID: CharBatteryLevel, Perm: PermRead, Props: PropRead | PropNotify, Value: []byte{ClampBattery(int(level))},
	}
}

// ManufacturerNameChar returns the DIS manufacturer name characteristic.
func ManufacturerNameChar(name string) CharacteristicDef {
	return CharacteristicDef{UUID: CharManufacturerName, Perm: PermRead, Props: PropRead, Value: []byte(name)}
}

// ModelNumberChar returns the DIS model number characteristic.
func ModelNumberChar(model string) CharacteristicDef {
	return CharacteristicDef{UUID: CharModelNumber, Perm: PermRead, Props: PropRead, Value: []byte(model)}
}

// PnPIDChar returns the DIS PnP ID characteristic.
func PnPIDChar(id PnPID) CharacteristicDef {
	return CharacteristicDef{UUID: CharPnPID, Perm: PermRead, Props: PropRead, Value: id.Bytes()}
}

// ClampBattery limits a battery percentage to [0, 100].
func ClampBattery(level int) uint8 {
	if level < 0 {
		return 0
	}
	if level > 100 {
		return 100
	}
	return uint8(level)
}

// Vendor ID sources for the PnP ID characteristic.
const (
	VendorIDSourceBluetoothSIG = 0x01
	VendorIDSourceUSB          = 0x02
)

// PnPID is the Device Information PnP ID value.
type PnPID struct {
	VendorIDSource uint8
	VendorID       uint16
	ProductID      uint16
	ProductVersion uint16
}

// DefaultPnPID identifies the mouse as a USB-IF vendor product.
var DefaultPnPID = PnPID{
	VendorIDSource: VendorIDSourceUSB,
	VendorID:       0x303A,
	ProductID:      0x4001,
	ProductVersion: 0x0100,
}

// Bytes encodes id as the 7-byte little-endian characteristic value.
func (id PnPID) Bytes() []byte {
	buf := make([]byte, 7)
	buf[0] = id.VendorIDSource
	binary.LittleEndian.PutUint16(buf[1:], id.VendorID)
	binary.LittleEndian.PutUint16(buf[3:], id.ProductID)
	binary.LittleEndian.PutUint16(buf[5:], id.ProductVersion)
	return buf
}

// ParsePnPID decodes a 7-byte PnP ID value.
func ParsePnPID(data []byte) (PnPID, error) {
	if len(data) != 7 {
		return PnPID{}, fmt.Errorf("catalog: PnP ID must be 7 bytes, got %d", len(data))
	}
	return PnPID{
		VendorIDSource: data[0],
		VendorID:       binary.LittleEndian.Uint16(data[1:]),
		ProductID:      binary.LittleEndian.Uint16(data[3:]),
		ProductVersion: binary.LittleEndian.Uint16(data[5:]),
	}, nil
}

// AdvertisedServices is the 16-bit UUID list placed in the advertisement.
var AdvertisedServices = []uint16{ServiceHID, ServiceBattery}
