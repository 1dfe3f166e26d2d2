// Package protocol implements the byte-level formats a BLE HID mouse puts on
// the air: the 4-byte input report and legacy advertising data (AD structures).
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxAdvertisingDataLen is the legacy advertising PDU payload limit.
const MaxAdvertisingDataLen = 31

// AD structure types used in the mouse advertisement.
const (
	ADTypeFlags            = 0x01
	ADTypeIncomplete16UUID = 0x02
	ADTypeComplete16UUID   = 0x03
	ADTypeShortName        = 0x08
	ADTypeCompleteName     = 0x09
	ADTypeAppearance       = 0x19
)

// Advertising flags.
const (
	FlagLEGeneralDiscoverable = 0x02
	FlagBREDRNotSupported     = 0x04
)

// AppearanceMouse is the GAP appearance value for a HID mouse.
const AppearanceMouse uint16 = 0x03C2

// AdvertisingData is the decoded content of an advertising payload.
type AdvertisingData struct {
	Flags        uint8
	LocalName    string
	ShortName    bool // LocalName was truncated to fit
	Appearance   uint16
	ServiceUUIDs []uint16
}

// MouseAdvertisement returns the payload a HID mouse advertises with.
func MouseAdvertisement(name string, services ...uint16) AdvertisingData {
	return AdvertisingData{
		Flags:        FlagLEGeneralDiscoverable | FlagBREDRNotSupported,
		LocalName:    name,
		Appearance:   AppearanceMouse,
		ServiceUUIDs: services,
	}
}

// Marshal encodes a as AD structures. Flags, appearance and the UUID list
// are mandatory; the name is shortened to whatever room is left.
func (a AdvertisingData) Marshal() ([]byte, error) {
	var buf []byte
	if a.Flags != 0 {
		buf = append(buf, 2, ADTypeFlags, a.Flags)
	}
	if a.Appearance != 0 {
		buf = append(buf, 3, ADTypeAppearance)
		buf = binary.LittleEndian.AppendUint16(buf, a.Appearance)
	}
	if len(a.ServiceUUIDs) > 0 {
		buf = append(buf, byte(1+2*len(a.ServiceUUIDs)), ADTypeComplete16UUID)
		for _, u := range a.ServiceUUIDs {
			buf = binary.LittleEndian.AppendUint16(buf, u)
		}
	}
	if len(buf) > MaxAdvertisingDataLen {
		return nil, fmt.Errorf("protocol: advertising data is %d bytes, limit %d", len(buf), MaxAdvertisingDataLen)
	}

	if a.LocalName != "" {
		room := MaxAdvertisingDataLen - len(buf) - 2
		if room <= 0 {
			return buf, nil
		}
		name, typ := a.LocalName, byte(ADTypeCompleteName)
		if len(name) > room {
			name, typ = name[:room], ADTypeShortName
		}
		buf = append(buf, byte(1+len(name)), typ)
		buf = append(buf, name...)
	}
	return buf, nil
}

// ParseAdvertisingData decodes AD structures. Unknown types are skipped.
func ParseAdvertisingData(data []byte) (AdvertisingData, error) {
	var a AdvertisingData
	for len(data) > 0 {
		length := int(data[0])
		if length == 0 {
			// Zero length terminates the significant part.
			break
		}
		if len(data) < 1+length {
			return AdvertisingData{}, fmt.Errorf("protocol: AD structure length %d exceeds remaining %d bytes", length, len(data)-1)
		}
		typ, body := data[1], data[2:1+length]
		switch typ {
		case ADTypeFlags:
			if len(body) != 1 {
				return AdvertisingData{}, errors.New("protocol: flags must be 1 byte")
			}
			a.Flags = body[0]
		case ADTypeAppearance:
			if len(body) != 2 {
				return AdvertisingData{}, errors.New("protocol: appearance must be 2 bytes")
			}
			a.Appearance = binary.LittleEndian.Uint16(body)
		case ADTypeIncomplete16UUID, ADTypeComplete16UUID:
			if len(body)%2 != 0 {
				return AdvertisingData{}, errors.New("protocol: odd-length 16-bit UUID list")
			}
			for i := 0; i < len(body); i += 2 {
				a.ServiceUUIDs = append(a.ServiceUUIDs, binary.LittleEndian.Uint16(body[i:]))
			}
		case ADTypeCompleteName:
			a.LocalName = string(body)
		case ADTypeShortName:
			a.LocalName = string(body)
			a.ShortName = true
		}
		data = data[1+length:]
	}
	return a, nil
}
