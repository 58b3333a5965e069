package feature

import (
	"encoding/binary"
	"strconv"
)

// axes decodes three signed 16-bit components.
type axes struct {
	name    string
	fields  []Field
	divisor float64
}

func newAxes(name, unit string, limit, divisor float64) axes {
	mk := func(axis string) Field {
		typ := Int16
		if divisor != 1 {
			typ = Float
		}
		return Field{Name: axis, Unit: unit, Type: typ, Min: -limit, Max: limit}
	}
	return axes{name: name, fields: []Field{mk("X"), mk("Y"), mk("Z")}, divisor: divisor}
}

func (d *axes) Name() string    { return d.name }
func (d *axes) Fields() []Field { return d.fields }

func (d *axes) Extract(ts uint16, data []byte, offset int) (Sample, int, error) {
	if err := require(d.name, data, offset, 6); err != nil {
		return Sample{}, 0, err
	}
	values := make([]Value, 3)
	for i := range values {
		raw := float64(int16(binary.LittleEndian.Uint16(data[offset+2*i:])))
		values[i] = Number(raw / d.divisor)
	}
	return NewSample(ts, d.fields, values...), 6, nil
}

type Accelerometer struct{ axes }

func NewAccelerometer() Decoder {
	return &Accelerometer{newAxes("Accelerometer", "mg", 2000, 1)}
}

type Gyroscope struct{ axes }

func NewGyroscope() Decoder {
	return &Gyroscope{newAxes("Gyroscope", "dps", 3276.8, 10)}
}

type Magnetometer struct{ axes }

func NewMagnetometer() Decoder {
	return &Magnetometer{newAxes("Magnetometer", "mGa", 2000, 1)}
}

// Axis indexes the components of a three-axis sample.
type Axis int

const (
	X Axis = iota
	Y
	Z
)

// AxisValue reads one component of an accelerometer, gyroscope or
// magnetometer sample.
func AxisValue(s Sample, a Axis) (float64, bool) { return floatAt(s, int(a)) }

// Pedometer counts steps and cadence.
type Pedometer struct{}

var pedometerFields = []Field{
	{Name: "Steps", Type: UInt32, Min: 0, Max: 1 << 16},
	{Name: "Frequency", Unit: "steps/min", Type: UInt16, Min: 0, Max: 1 << 16},
}

func NewPedometer() Decoder { return &Pedometer{} }

func (*Pedometer) Name() string    { return "Pedometer" }
func (*Pedometer) Fields() []Field { return pedometerFields }

func (p *Pedometer) Extract(ts uint16, data []byte, offset int) (Sample, int, error) {
	if err := require(p.Name(), data, offset, 6); err != nil {
		return Sample{}, 0, err
	}
	steps := binary.LittleEndian.Uint32(data[offset:])
	freq := binary.LittleEndian.Uint16(data[offset+4:])
	return NewSample(ts, pedometerFields, Number(steps), Number(freq)), 6, nil
}

func PedometerSteps(s Sample) (int, bool)     { return intAt(s, 0) }
func PedometerFrequency(s Sample) (int, bool) { return intAt(s, 1) }

// Proximity reads a time-of-flight distance. Bit 15 selects the high range
// sensor; distances above the range maximum are reported as OutOfRange.
type Proximity struct{}

const (
	ProximityOutOfRange   = 0xFFFF
	ProximityLowRangeMax  = 0x00FE
	ProximityHighRangeMax = 0x7FFE
)

var (
	proximityLowRange  = []Field{{Name: "Proximity", Unit: "mm", Type: UInt16, Min: 0, Max: ProximityLowRangeMax}}
	proximityHighRange = []Field{{Name: "Proximity", Unit: "mm", Type: UInt16, Min: 0, Max: ProximityHighRangeMax}}
)

func NewProximity() Decoder { return &Proximity{} }

func (*Proximity) Name() string    { return "Proximity" }
func (*Proximity) Fields() []Field { return proximityHighRange }

func (p *Proximity) Extract(ts uint16, data []byte, offset int) (Sample, int, error) {
	if err := require(p.Name(), data, offset, 2); err != nil {
		return Sample{}, 0, err
	}
	raw := binary.LittleEndian.Uint16(data[offset:])
	distance := raw &^ 0x8000
	fields, limit := proximityLowRange, uint16(ProximityLowRangeMax)
	if raw&0x8000 != 0 {
		fields, limit = proximityHighRange, ProximityHighRangeMax
	}
	if distance > limit {
		distance = ProximityOutOfRange
	}
	return NewSample(ts, fields, Number(distance)), 2, nil
}

// ProximityDistance returns the distance in millimetres.
func ProximityDistance(s Sample) (int, bool) { return intAt(s, 0) }

// ProximityOutOfRangeDistance reports whether the sensor saw nothing.
func ProximityOutOfRangeDistance(s Sample) bool {
	d, ok := ProximityDistance(s)
	return ok && d == ProximityOutOfRange
}

// MicLevel carries one dB byte per microphone and consumes the rest of the
// payload.
type MicLevel struct{}

func NewMicLevel() Decoder { return &MicLevel{} }

func (*MicLevel) Name() string { return "Mic Level" }

func (*MicLevel) Fields() []Field {
	return []Field{{Name: "Mic1", Unit: "dB", Type: UInt8, Min: 0, Max: 128}}
}

func (m *MicLevel) Extract(ts uint16, data []byte, offset int) (Sample, int, error) {
	if err := require(m.Name(), data, offset, 1); err != nil {
		return Sample{}, 0, err
	}
	n := len(data) - offset
	fields := make([]Field, n)
	values := make([]Value, n)
	for i := 0; i < n; i++ {
		fields[i] = Field{Name: "Mic" + strconv.Itoa(i+1), Unit: "dB", Type: UInt8, Min: 0, Max: 128}
		values[i] = Number(data[offset+i])
	}
	return NewSample(ts, fields, values...), n, nil
}

func MicLevelOf(s Sample, mic int) (int, bool) { return intAt(s, mic) }
