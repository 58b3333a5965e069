package advertising

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vendorField(length int, version, deviceType byte, mask []byte, address []byte) []byte {
	out := []byte{byte(length), TypeManufacturer, version, deviceType}
	out = append(out, mask...)
	return append(out, address...)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		payload  []byte
		ok       bool
		expected Data
	}{
		{
			name:    "short vendor field",
			payload: vendorField(7, 0x01, 0x02, []byte{0x00, 0x00, 0xE0, 0x00}, nil),
			ok:      true,
			expected: Data{
				TxPower:         TxPowerUnavailable,
				ProtocolVersion: 0x01,
				DeviceTypeByte:  0x02,
				FeatureMask:     0x00E00000,
			},
		},
		{
			name:    "long vendor field with address",
			payload: vendorField(13, 0x01, 0x80, []byte{0x04, 0x00, 0x1C, 0x00}, []byte{0xC0, 0x11, 0x22, 0x33, 0x44, 0x55}),
			ok:      true,
			expected: Data{
				TxPower:         TxPowerUnavailable,
				ProtocolVersion: 0x01,
				DeviceTypeByte:  0x80,
				FeatureMask:     0x001C0004,
				Address:         []byte{0xC0, 0x11, 0x22, 0x33, 0x44, 0x55},
			},
		},
		{
			name: "name and tx power around vendor field",
			payload: append(append(
				[]byte{0x02, 0x01, 0x06, 0x05, TypeCompleteLocalName, 'B', 'C', 'N', 'R'},
				vendorField(7, 0x01, 0x03, []byte{0x01, 0x00, 0x00, 0x00}, nil)...),
				0x02, TypeTxPower, 0xF8),
			ok: true,
			expected: Data{
				Name:            "BCNR",
				TxPower:         -8,
				ProtocolVersion: 0x01,
				DeviceTypeByte:  0x03,
				FeatureMask:     0x00000001,
			},
		},
		{
			name: "shortened name used when complete name missing",
			payload: append([]byte{0x03, TypeShortLocalName, 'S', 'T'},
				vendorField(7, 0x01, 0x00, []byte{0, 0, 0, 0}, nil)...),
			ok: true,
			expected: Data{
				Name:            "ST",
				TxPower:         TxPowerUnavailable,
				ProtocolVersion: 0x01,
			},
		},
		{
			name: "foreign vendor field before a BlueST one",
			payload: append([]byte{0x04, TypeManufacturer, 0x4C, 0x00, 0x02},
				vendorField(7, 0x01, 0x06, []byte{0, 0, 0, 0x80}, nil)...),
			ok: true,
			expected: Data{
				TxPower:         TxPowerUnavailable,
				ProtocolVersion: 0x01,
				DeviceTypeByte:  0x06,
				FeatureMask:     0x80000000,
			},
		},
		{
			name:    "unsupported protocol version",
			payload: vendorField(7, 0x02, 0x02, []byte{0, 0, 0, 0}, nil),
		},
		{
			name:    "no vendor field",
			payload: []byte{0x02, 0x01, 0x06, 0x03, TypeCompleteLocalName, 'A', 'B'},
		},
		{
			name:    "truncated vendor field",
			payload: vendorField(13, 0x01, 0x02, []byte{0, 0, 0, 0}, []byte{0x01, 0x02}),
		},
		{
			name:    "empty payload",
			payload: nil,
		},
		{
			name:    "zero length structure ends the walk",
			payload: append([]byte{0x00}, vendorField(7, 0x01, 0x02, []byte{0, 0, 0, 0}, nil)...),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, ok := Parse(tt.payload)
			require.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.Equal(t, tt.expected, data)
		})
	}
}

func TestParse_RejectsOtherLengths(t *testing.T) {
	for length := 1; length < 32; length++ {
		if length == shortLength || length == longLength {
			continue
		}
		payload := make([]byte, 1+length)
		payload[0] = byte(length)
		payload[1] = TypeManufacturer
		if length > 1 {
			payload[2] = ProtocolVersion
		}
		_, ok := Parse(payload)
		assert.False(t, ok, "length %d", length)
	}
}

func TestParse_NeverPanics(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 5000; i++ {
		buf := make([]byte, rng.Intn(40))
		rng.Read(buf)
		assert.NotPanics(t, func() { Parse(buf) })
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 1000; i++ {
		length := shortLength
		var addr []byte
		if i%2 == 1 {
			length = longLength
			addr = make([]byte, 6)
			rng.Read(addr)
		}
		mask := make([]byte, 4)
		rng.Read(mask)
		field := vendorField(length, ProtocolVersion, byte(rng.Intn(256)), mask, addr)

		data, ok := Parse(field)
		require.True(t, ok)
		assert.Equal(t, field, Encode(data))

		again, ok := Parse(Encode(data))
		require.True(t, ok)
		assert.Equal(t, data, again)
	}
}

func TestEncodePayload(t *testing.T) {
	in := Data{
		Name:            "AM1V310",
		TxPower:         4,
		ProtocolVersion: ProtocolVersion,
		DeviceTypeByte:  0x02,
		FeatureMask:     0x00E40000,
	}
	out, ok := Parse(EncodePayload(in))
	require.True(t, ok)
	assert.Equal(t, in, out)
}

func TestDeviceTypeByte(t *testing.T) {
	tests := []struct {
		name     string
		raw      byte
		id       uint8
		board    BoardType
		sleeping bool
	}{
		{name: "generic", raw: 0x00, id: 0x00, board: Generic},
		{name: "wesu", raw: 0x01, id: 0x01, board: STEVALWESU1},
		{name: "sensor tile", raw: 0x02, id: 0x02, board: SensorTile},
		{name: "blue coin", raw: 0x03, id: 0x03, board: BlueCoin},
		{name: "idb008vx", raw: 0x04, id: 0x04, board: STEVALIDB008VX},
		{name: "bcn002v1", raw: 0x05, id: 0x05, board: STEVALBCN002V1},
		{name: "sensor tile box", raw: 0x06, id: 0x06, board: SensorTileBox},
		{name: "unknown low id", raw: 0x1F, id: 0x1F, board: Generic},
		{name: "sleeping sensor tile", raw: 0x42, id: 0x02, board: SensorTile, sleeping: true},
		{name: "nucleo keeps whole byte", raw: 0x80, id: 0x80, board: Nucleo},
		{name: "nucleo never sleeps", raw: 0xC1, id: 0xC1, board: Nucleo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Data{DeviceTypeByte: tt.raw}
			assert.Equal(t, tt.id, d.DeviceID())
			assert.Equal(t, tt.board, d.BoardType())
			assert.Equal(t, tt.sleeping, d.Sleeping())
		})
	}
}

func TestAddressString(t *testing.T) {
	assert.Empty(t, Data{}.AddressString())
	assert.Equal(t, "C0:11:22:33:44:5A", Data{Address: []byte{0xC0, 0x11, 0x22, 0x33, 0x44, 0x5A}}.AddressString())
	assert.Equal(t, "SENSOR_TILE_BOX", SensorTileBox.String())
}

func FuzzParse(f *testing.F) {
	f.Add(vendorField(7, 0x01, 0x02, []byte{0, 0, 0xE0, 0}, nil))
	f.Add([]byte{0x0D, 0xFF, 0x01})
	f.Fuzz(func(t *testing.T, payload []byte) {
		data, ok := Parse(payload)
		if ok {
			again, ok := Parse(Encode(data))
			if !ok || again.FeatureMask != data.FeatureMask || again.DeviceTypeByte != data.DeviceTypeByte {
				t.Fatalf("re-encoded vendor field does not parse back: %x", payload)
			}
		}
	})
}
