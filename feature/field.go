package feature

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// FieldType describes how a decoded value is represented on the wire.
type FieldType int

const (
	Int8 FieldType = iota
	UInt8
	Int16
	UInt16
	Int32
	UInt32
	Float
)

var fieldTypeNames = map[FieldType]string{
	Int8:   "Int8",
	UInt8:  "UInt8",
	Int16:  "Int16",
	UInt16: "UInt16",
	Int32:  "Int32",
	UInt32: "UInt32",
	Float:  "Float",
}

func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	return "FieldType(" + strconv.Itoa(int(t)) + ")"
}

// MarshalText renders the type by name.
func (t FieldType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Field describes one value of a Sample. Min and Max are informational and
// never used to reject decoded data.
type Field struct {
	Name string    `json:"name"`
	Unit string    `json:"unit,omitempty"`
	Type FieldType `json:"type"`
	Min  float64   `json:"min"`
	Max  float64   `json:"max"`
}

// Value is a decoded number or the NotAvailable sentinel.
type Value struct {
	v     float64
	valid bool
}

// NotAvailable marks a field the device did not send.
var NotAvailable = Value{}

// Number wraps a numeric value.
func Number[T ~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64 | ~int | ~float32 | ~float64](n T) Value {
	return Value{v: float64(n), valid: true}
}

// Available reports whether the value carries a number.
func (v Value) Available() bool { return v.valid }

// Float returns the value as float64. NaN is returned for NotAvailable.
func (v Value) Float() float64 {
	if !v.valid {
		return math.NaN()
	}
	return v.v
}

// Int returns the value truncated to an integer.
func (v Value) Int() (int64, bool) {
	if !v.valid || math.IsNaN(v.v) || math.IsInf(v.v, 0) {
		return 0, false
	}
	return int64(v.v), true
}

func (v Value) String() string {
	if !v.valid {
		return "n/a"
	}
	return strconv.FormatFloat(v.v, 'g', -1, 64)
}

// MarshalJSON renders NotAvailable and NaN as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.valid || math.IsNaN(v.v) || math.IsInf(v.v, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v.v)
}

// Sample is one decoded observation of a Feature.
type Sample struct {
	// Timestamp is the 16-bit device tick, wrapping at 65536.
	Timestamp uint16 `json:"timestamp"`
	// Sequence is the unwrapped timestamp.
	Sequence         uint64    `json:"sequence"`
	Values           []Value   `json:"values"`
	Fields           []Field   `json:"-"`
	NotificationTime time.Time `json:"-"`
}

// NewSample builds a sample stamped with the current time.
func NewSample(ts uint16, fields []Field, values ...Value) Sample {
	return Sample{
		Timestamp:        ts,
		Sequence:         uint64(ts),
		Values:           values,
		Fields:           fields,
		NotificationTime: time.Now(),
	}
}

// Value returns the i-th value or NotAvailable when out of range.
func (s Sample) Value(i int) Value {
	if i < 0 || i >= len(s.Values) {
		return NotAvailable
	}
	return s.Values[i]
}

// Lookup finds a value by field name.
func (s Sample) Lookup(name string) (Value, bool) {
	for i, f := range s.Fields {
		if f.Name == name {
			return s.Value(i), true
		}
	}
	return NotAvailable, false
}
