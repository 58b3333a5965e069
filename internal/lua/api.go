package lua

import (
	"encoding/binary"
	"math"

	"github.com/aarzilli/golua/lua"
)

// reader decodes a little-endian number of size bytes.
type reader struct {
	size int
	read func(b []byte) float64
}

var readers = map[string]reader{
	"u8":  {1, func(b []byte) float64 { return float64(b[0]) }},
	"i8":  {1, func(b []byte) float64 { return float64(int8(b[0])) }},
	"u16": {2, func(b []byte) float64 { return float64(binary.LittleEndian.Uint16(b)) }},
	"i16": {2, func(b []byte) float64 { return float64(int16(binary.LittleEndian.Uint16(b))) }},
	"u32": {4, func(b []byte) float64 { return float64(binary.LittleEndian.Uint32(b)) }},
	"i32": {4, func(b []byte) float64 { return float64(int32(binary.LittleEndian.Uint32(b))) }},
	"f32": {4, func(b []byte) float64 { return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))) }},
}

// registerHelpers installs the global bluest table: bluest.u16(data, pos)
// and friends read a little-endian number at the 1-based pos of a byte
// string and return nil past its end.
func registerHelpers(L *lua.State) {
	L.NewTable()
	for name, r := range readers {
		L.PushString(name)
		L.PushGoFunction(func(L *lua.State) int {
			data := L.ToBytes(1)
			pos := 1
			if L.GetTop() >= 2 && L.IsNumber(2) {
				pos = L.ToInteger(2)
			}
			start := pos - 1
			if start < 0 || start+r.size > len(data) {
				L.PushNil()
				return 1
			}
			L.PushNumber(r.read(data[start : start+r.size]))
			return 1
		})
		L.SetTable(-3)
	}
	L.SetGlobal("bluest")
}
