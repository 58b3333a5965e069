// Package advertising parses the BlueST vendor field of BLE advertising data.
//
// An advertising payload is a list of AD structures, each a length byte
// followed by a type byte and length-1 bytes of data. BlueST nodes publish a
// manufacturer specific structure (type 0xFF) laid out as:
//
//	offset size
//	0      1    length, 7 or 13
//	1      1    0xFF
//	2      1    protocol version, 0x01
//	3      1    device type
//	4      4    capability mask, little-endian
//	8      6    device address, only when length is 13
//
// Parsing is pure: malformed input is reported through the ok result and
// never panics.
package advertising

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// AD structure types used by the parser.
const (
	TypeShortLocalName    = 0x08
	TypeCompleteLocalName = 0x09
	TypeTxPower           = 0x0A
	TypeManufacturer      = 0xFF
)

const (
	// ProtocolVersion is the only vendor field version understood.
	ProtocolVersion = 0x01

	shortLength = 7
	longLength  = 13

	// TxPowerUnavailable is reported when no TX power structure is present.
	TxPowerUnavailable = 127
)

// Data is the identity a node advertises.
type Data struct {
	Name            string
	TxPower         int
	ProtocolVersion uint8
	// DeviceTypeByte is the device type byte exactly as sent, including the
	// sleeping flag bits.
	DeviceTypeByte uint8
	FeatureMask    uint32
	// Address is the optional advertised device address; nil when the vendor
	// field is the short form.
	Address []byte
}

// DeviceID returns the device type with the flag bits removed: ids with the
// top bit set keep the whole byte, the others keep the low five bits.
func (d Data) DeviceID() uint8 {
	return DeviceID(d.DeviceTypeByte)
}

// BoardType derives the hardware family from the device id.
func (d Data) BoardType() BoardType {
	return BoardTypeOf(d.DeviceID())
}

// Sleeping reports the sleeping flag of the device type byte.
func (d Data) Sleeping() bool {
	return Sleeping(d.DeviceTypeByte)
}

// AddressString formats Address as colon separated hex, or "" when absent.
func (d Data) AddressString() string {
	if len(d.Address) == 0 {
		return ""
	}
	parts := make([]string, len(d.Address))
	for i, b := range d.Address {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// DeviceID masks a raw device type byte.
func DeviceID(b uint8) uint8 {
	if b&0x80 != 0 {
		return b
	}
	return b & 0x1F
}

// Sleeping reports whether a raw device type byte marks a sleeping node.
func Sleeping(b uint8) bool {
	return b&0x80 == 0 && b&0x40 != 0
}

// Parse walks payload looking for a BlueST vendor field. ok is false when no
// vendor structure is a valid BlueST field.
func Parse(payload []byte) (data Data, ok bool) {
	data.TxPower = TxPowerUnavailable
	shortName := ""

	for i := 0; i < len(payload); {
		length := int(payload[i])
		if length == 0 || i+1+length > len(payload) {
			break
		}
		typ := payload[i+1]
		body := payload[i+2 : i+1+length]

		switch typ {
		case TypeCompleteLocalName:
			data.Name = string(body)
		case TypeShortLocalName:
			shortName = string(body)
		case TypeTxPower:
			if len(body) > 0 {
				data.TxPower = int(int8(body[0]))
			}
		case TypeManufacturer:
			if !ok {
				ok = parseVendor(length, body, &data)
			}
		}
		i += 1 + length
	}

	if data.Name == "" {
		data.Name = shortName
	}
	return data, ok
}

func parseVendor(length int, body []byte, d *Data) bool {
	if length != shortLength && length != longLength {
		return false
	}
	if body[0] != ProtocolVersion {
		return false
	}
	d.ProtocolVersion = body[0]
	d.DeviceTypeByte = body[1]
	d.FeatureMask = binary.LittleEndian.Uint32(body[2:6])
	if length == longLength {
		d.Address = append([]byte(nil), body[6:12]...)
	}
	return true
}

// Encode builds the vendor field for d: the short form when d has no
// address, the long form when it has a 6-byte one.
func Encode(d Data) []byte {
	length := shortLength
	if len(d.Address) == 6 {
		length = longLength
	}
	out := make([]byte, 1+length)
	out[0] = byte(length)
	out[1] = TypeManufacturer
	out[2] = d.ProtocolVersion
	out[3] = d.DeviceTypeByte
	binary.LittleEndian.PutUint32(out[4:8], d.FeatureMask)
	if length == longLength {
		copy(out[8:], d.Address)
	}
	return out
}

// EncodePayload builds a full advertising payload: the vendor field followed
// by the local name and TX power structures when set.
func EncodePayload(d Data) []byte {
	out := Encode(d)
	if d.Name != "" {
		out = append(out, byte(len(d.Name)+1), TypeCompleteLocalName)
		out = append(out, d.Name...)
	}
	if d.TxPower != TxPowerUnavailable {
		out = append(out, 2, TypeTxPower, byte(int8(d.TxPower)))
	}
	return out
}
