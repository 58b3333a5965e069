package feature

import (
	"encoding/binary"
	"math"
)

// scalar decodes a single little-endian number scaled by a divisor.
type scalar struct {
	name    string
	field   Field
	size    int
	signed  bool
	divisor float64
}

func (d *scalar) Name() string    { return d.name }
func (d *scalar) Fields() []Field { return []Field{d.field} }

func (d *scalar) Extract(ts uint16, data []byte, offset int) (Sample, int, error) {
	if err := require(d.name, data, offset, d.size); err != nil {
		return Sample{}, 0, err
	}
	raw := readLE(data[offset:offset+d.size], d.signed)
	v := Number(raw)
	if d.divisor != 1 {
		v = Number(raw / d.divisor)
	}
	return NewSample(ts, d.Fields(), v), d.size, nil
}

func readLE(b []byte, signed bool) float64 {
	switch len(b) {
	case 1:
		if signed {
			return float64(int8(b[0]))
		}
		return float64(b[0])
	case 2:
		u := binary.LittleEndian.Uint16(b)
		if signed {
			return float64(int16(u))
		}
		return float64(u)
	case 4:
		u := binary.LittleEndian.Uint32(b)
		if signed {
			return float64(int32(u))
		}
		return float64(u)
	}
	return math.NaN()
}

// Temperature reads a signed tenth of degree.
type Temperature struct{ scalar }

func NewTemperature() Decoder {
	return &Temperature{scalar{
		name:    "Temperature",
		field:   Field{Name: "Temperature", Unit: "°C", Type: Float, Min: -100, Max: 100},
		size:    2,
		signed:  true,
		divisor: 10,
	}}
}

// Humidity reads an unsigned tenth of percent.
type Humidity struct{ scalar }

func NewHumidity() Decoder {
	return &Humidity{scalar{
		name:    "Humidity",
		field:   Field{Name: "Humidity", Unit: "%", Type: Float, Min: 0, Max: 100},
		size:    2,
		divisor: 10,
	}}
}

// Pressure reads hundredths of millibar.
type Pressure struct{ scalar }

func NewPressure() Decoder {
	return &Pressure{scalar{
		name:    "Pressure",
		field:   Field{Name: "Pressure", Unit: "mBar", Type: Float, Min: 0, Max: 2000},
		size:    4,
		signed:  true,
		divisor: 100,
	}}
}

type Luminosity struct{ scalar }

func NewLuminosity() Decoder {
	return &Luminosity{scalar{
		name:    "Luminosity",
		field:   Field{Name: "Luminosity", Unit: "Lux", Type: UInt16, Min: 0, Max: 1000},
		size:    2,
		divisor: 1,
	}}
}

type Compass struct{ scalar }

func NewCompass() Decoder {
	return &Compass{scalar{
		name:    "Compass",
		field:   Field{Name: "Angle", Unit: "°", Type: Float, Min: 0, Max: 360},
		size:    2,
		divisor: 100,
	}}
}

type COSensor struct{ scalar }

func NewCOSensor() Decoder {
	return &COSensor{scalar{
		name:    "CO Sensor",
		field:   Field{Name: "CO Concentration", Unit: "ppm", Type: Float, Min: 0, Max: 100},
		size:    4,
		divisor: 100,
	}}
}

// Battery reports charge, voltage, current and charger status.
type Battery struct{}

// Battery status codes.
const (
	BatteryLow                = 0x00
	BatteryDischarging        = 0x01
	BatteryPluggedNotCharging = 0x02
	BatteryCharging           = 0x03
	BatteryStatusUnknown      = 0xFF
)

var batteryFields = []Field{
	{Name: "Level", Unit: "%", Type: Float, Min: 0, Max: 100},
	{Name: "Voltage", Unit: "V", Type: Float, Min: -10, Max: 10},
	{Name: "Current", Unit: "mA", Type: Int16, Min: -32768, Max: 32767},
	{Name: "Status", Type: UInt8, Min: 0, Max: 0xFF},
}

func NewBattery() Decoder { return &Battery{} }

func (*Battery) Name() string    { return "Battery" }
func (*Battery) Fields() []Field { return batteryFields }

func (b *Battery) Extract(ts uint16, data []byte, offset int) (Sample, int, error) {
	if err := require(b.Name(), data, offset, 7); err != nil {
		return Sample{}, 0, err
	}
	p := data[offset:]
	level := float64(binary.LittleEndian.Uint16(p[0:])) / 10
	voltage := float64(int16(binary.LittleEndian.Uint16(p[2:]))) / 1000
	current := int16(binary.LittleEndian.Uint16(p[4:]))
	return NewSample(ts, batteryFields, Number(level), Number(voltage), Number(current), Number(p[6])), 7, nil
}

// TemperatureValue reads the temperature out of a sample.
func TemperatureValue(s Sample) (float64, bool) { return floatAt(s, 0) }

func HumidityValue(s Sample) (float64, bool)   { return floatAt(s, 0) }
func PressureValue(s Sample) (float64, bool)   { return floatAt(s, 0) }
func LuminosityValue(s Sample) (int, bool)     { return intAt(s, 0) }
func CompassAngle(s Sample) (float64, bool)    { return floatAt(s, 0) }
func BatteryLevel(s Sample) (float64, bool)    { return floatAt(s, 0) }
func BatteryVoltage(s Sample) (float64, bool)  { return floatAt(s, 1) }
func BatteryCurrent(s Sample) (int, bool)      { return intAt(s, 2) }
func COConcentration(s Sample) (float64, bool) { return floatAt(s, 0) }

func floatAt(s Sample, i int) (float64, bool) {
	v := s.Value(i)
	if !v.Available() {
		return math.NaN(), false
	}
	return v.Float(), true
}

func intAt(s Sample, i int) (int, bool) {
	n, ok := s.Value(i).Int()
	if !ok {
		return -1, false
	}
	return int(n), true
}
