package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bluest/feature"
)

func names(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Constructor().Name()
	}
	return out
}

func bitsOf(entries []Entry) []int {
	out := make([]int, len(entries))
	for i, e := range entries {
		out[i] = e.Bit
	}
	return out
}

func TestResolve_DefaultTable(t *testing.T) {
	r := New()

	tests := []struct {
		name  string
		mask  uint32
		bits  []int
		names []string
	}{
		{
			name:  "motion sensors",
			mask:  0x00E00000,
			bits:  []int{23, 22, 21},
			names: []string{"Accelerometer", "Gyroscope", "Magnetometer"},
		},
		{
			name:  "environmental sensors",
			mask:  0x001D0000,
			bits:  []int{20, 19, 18, 16},
			names: []string{"Pressure", "Humidity", "Temperature", "Temperature"},
		},
		{
			name:  "unmapped bits are skipped",
			mask:  0x80000000 | 0x00000080 | 0x00000001,
			bits:  []int{0},
			names: []string{"Pedometer"},
		},
		{
			name: "empty mask",
			mask: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := r.Resolve(0x02, tt.mask)
			assert.Len(t, entries, len(tt.bits))
			if len(tt.bits) == 0 {
				return
			}
			assert.Equal(t, tt.bits, bitsOf(entries))
			assert.Equal(t, tt.names, names(entries))
		})
	}
}

func TestResolve_DescendingForEveryMask(t *testing.T) {
	r := New()
	for _, mask := range []uint32{0xFFFFFFFF, 0xAAAAAAAA, 0x55555555, 0x0F0F0F0F, 0x80000001} {
		entries := r.Resolve(Wildcard, mask)
		for i := 1; i < len(entries); i++ {
			assert.Greater(t, entries[i-1].Bit, entries[i].Bit, "mask %08x", mask)
		}
		for _, e := range entries {
			assert.NotZero(t, mask&e.Mask())
		}
	}
}

func TestResolve_TypeSpecificOverride(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterBuiltin(0x06, map[int]feature.Constructor{
		18: feature.NewHumidity,
		30: feature.NewAudioSceneClassification,
	}))

	entries := r.Resolve(0x06, 0x40040000)
	assert.Equal(t, []string{"Audio Scene Classification", "Humidity"}, names(entries))

	entries = r.Resolve(0x02, 0x40040000)
	assert.Equal(t, []string{"Temperature"}, names(entries), "other device types keep the wildcard table")

	ctor, ok := r.Constructor(0x06, 17)
	require.True(t, ok, "wildcard fallback")
	assert.Equal(t, "Battery", ctor().Name())
}

func TestRegisterBuiltin_Errors(t *testing.T) {
	tests := []struct {
		name       string
		deviceType uint8
		bits       map[int]feature.Constructor
		wantBit    int
	}{
		{
			name:       "bit above 31",
			deviceType: 0x80,
			bits:       map[int]feature.Constructor{32: feature.NewSwitch},
			wantBit:    32,
		},
		{
			name:       "negative bit",
			deviceType: 0x80,
			bits:       map[int]feature.Constructor{-1: feature.NewSwitch},
			wantBit:    -1,
		},
		{
			name:       "nil constructor",
			deviceType: 0x80,
			bits:       map[int]feature.Constructor{4: nil},
			wantBit:    4,
		},
		{
			name:       "wildcard bit already bound",
			deviceType: Wildcard,
			bits:       map[int]feature.Constructor{18: feature.NewHumidity},
			wantBit:    18,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			err := r.RegisterBuiltin(tt.deviceType, tt.bits)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidBitmask))

			var be *BitmaskError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, tt.wantBit, be.Bit)
			assert.Equal(t, tt.deviceType, be.DeviceType)
		})
	}
}

func TestRegisterBuiltin_AllOrNothing(t *testing.T) {
	r := NewEmpty()
	err := r.RegisterBuiltin(0x80, map[int]feature.Constructor{
		1:  feature.NewSwitch,
		40: feature.NewSwitch,
	})
	require.ErrorIs(t, err, ErrInvalidBitmask)

	_, ok := r.Constructor(0x80, 1)
	assert.False(t, ok, "valid bits of a rejected call are not stored")
}

func TestRegisterBuiltin_DuplicateWithinType(t *testing.T) {
	r := NewEmpty()
	require.NoError(t, r.RegisterBuiltin(0x03, map[int]feature.Constructor{5: feature.NewMotionIntensity}))
	err := r.RegisterBuiltin(0x03, map[int]feature.Constructor{5: feature.NewSwitch})
	assert.ErrorIs(t, err, ErrInvalidBitmask)

	require.NoError(t, r.RegisterBuiltin(0x04, map[int]feature.Constructor{5: feature.NewSwitch}),
		"the same bit is free for another device type")
}

func TestRegistry_Lock(t *testing.T) {
	r := NewEmpty()
	r.Lock()
	assert.True(t, r.Locked())

	err := r.RegisterBuiltin(0x80, map[int]feature.Constructor{1: feature.NewSwitch})
	require.ErrorIs(t, err, ErrInvalidBitmask)
	assert.Contains(t, err.Error(), "locked")

	r.Unlock()
	assert.False(t, r.Locked())
	assert.NoError(t, r.RegisterBuiltin(0x80, map[int]feature.Constructor{1: feature.NewSwitch}))
}

func TestMapCharacteristic(t *testing.T) {
	r := New()

	ctors, ok := r.Characteristic("0x2A37")
	require.True(t, ok, "heart rate is mapped by default")
	require.Len(t, ctors, 1)
	assert.Equal(t, "Heart Rate", ctors[0]().Name())

	_, ok = r.Characteristic("00002a37-0000-1000-8000-00805f9b34fb")
	assert.True(t, ok, "short and long forms resolve to the same mapping")

	require.NoError(t, r.MapCharacteristic("00001234-0000-1000-8000-00805f9b34fb", feature.NewSwitch, feature.NewFreeFall))
	ctors, ok = r.Characteristic("1234")
	require.True(t, ok)
	assert.Len(t, ctors, 2)

	assert.ErrorIs(t, r.MapCharacteristic("not-a-uuid", feature.NewSwitch), ErrInvalidCharacteristic)
	assert.ErrorIs(t, r.MapCharacteristic("2a38"), ErrInvalidCharacteristic)
	assert.ErrorIs(t, r.MapCharacteristic("2a38", nil), ErrInvalidCharacteristic)

	assert.Equal(t, []string{
		"00001234-0000-1000-8000-00805f9b34fb",
		"00002a37-0000-1000-8000-00805f9b34fb",
	}, r.Characteristics())
}
