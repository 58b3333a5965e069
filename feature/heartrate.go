package feature

import (
	"encoding/binary"
	"math"
)

// HeartRateMeasurement decodes the standard Bluetooth heart rate measurement
// characteristic (0x2A37). The payload has no BlueST timestamp.
//
// Flags byte:
//
//	bit 0  heart rate is 8-bit when set, 16-bit otherwise
//	bit 3  energy expended (uint16, kJ) present
//	bit 4  RR interval (uint16, 1/1024 s) present
type HeartRateMeasurement struct{}

const (
	hrFlag8Bit   = 0x01
	hrFlagEnergy = 0x08
	hrFlagRR     = 0x10
)

var heartRateFields = []Field{
	{Name: "Heart Rate Measurement", Unit: "bpm", Type: UInt16, Min: 0, Max: 1 << 16},
	{Name: "Energy Expended", Unit: "kJ", Type: UInt16, Min: 0, Max: 1 << 16},
	{Name: "RR-Interval", Unit: "s", Type: Float, Min: 0, Max: math.MaxFloat64},
}

func NewHeartRate() Decoder { return &HeartRateMeasurement{} }

func (*HeartRateMeasurement) Name() string    { return "Heart Rate" }
func (*HeartRateMeasurement) Fields() []Field { return heartRateFields }

// HostTimestamped marks decoders whose characteristic carries no timestamp.
func (*HeartRateMeasurement) HostTimestamped() bool { return true }

func (h *HeartRateMeasurement) Extract(ts uint16, data []byte, offset int) (Sample, int, error) {
	if err := require(h.Name(), data, offset, 2); err != nil {
		return Sample{}, 0, err
	}
	pos := offset
	flags := data[pos]
	pos++

	var hr Value
	if flags&hrFlag8Bit != 0 {
		hr = Number(data[pos])
		pos++
	} else {
		if err := require(h.Name(), data, pos, 2); err != nil {
			return Sample{}, 0, err
		}
		hr = Number(binary.LittleEndian.Uint16(data[pos:]))
		pos += 2
	}

	energy := NotAvailable
	if flags&hrFlagEnergy != 0 {
		if err := require(h.Name(), data, pos, 2); err != nil {
			return Sample{}, 0, err
		}
		energy = Number(binary.LittleEndian.Uint16(data[pos:]))
		pos += 2
	}

	rr := Number(math.NaN())
	if flags&hrFlagRR != 0 {
		if err := require(h.Name(), data, pos, 2); err != nil {
			return Sample{}, 0, err
		}
		rr = Number(float64(binary.LittleEndian.Uint16(data[pos:])) / 1024)
		pos += 2
	}

	return NewSample(ts, heartRateFields, hr, energy, rr), pos - offset, nil
}

// HeartRate returns the beats per minute.
func HeartRate(s Sample) (int, bool) { return intAt(s, 0) }

// EnergyExpended returns the energy in kJ when the device reported it.
func EnergyExpended(s Sample) (int, bool) { return intAt(s, 1) }

// RRInterval returns the RR interval in seconds, NaN when absent.
func RRInterval(s Sample) float64 { return s.Value(2).Float() }

// HostTimestamped reports whether d decodes a characteristic that has no
// leading BlueST timestamp.
func HostTimestamped(d Decoder) bool {
	h, ok := d.(interface{ HostTimestamped() bool })
	return ok && h.HostTimestamped()
}
