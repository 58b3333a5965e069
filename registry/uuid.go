package registry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// BlueST service and characteristic identifiers.
const (
	featureSuffix = "-0001-11e1-ac36-0002a5d5c51b"
	bluetoothBase = "-0000-1000-8000-00805f9b34fb"

	DebugService  = "00000000-000e-11e1-9ab4-0002a5d5c51b"
	DebugTerminal = "00000001-000e-11e1-ac36-0002a5d5c51b"
	DebugStderr   = "00000002-000e-11e1-ac36-0002a5d5c51b"
	ConfigService = "00000000-000f-11e1-9ab4-0002a5d5c51b"
	ConfigCommand = "00000002-000f-11e1-9ab4-0002a5d5c51b"
)

// NormalizeUUID returns the lowercase dashed 128-bit form of id. 16 and 32
// bit short ids, with or without a 0x prefix, expand to the Bluetooth base
// UUID; 32 hex digit ids without dashes are accepted.
func NormalizeUUID(id string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(id))
	s = strings.TrimPrefix(s, "0x")
	switch len(s) {
	case 4:
		s = "0000" + s + bluetoothBase
	case 8:
		s += bluetoothBase
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid UUID %q: %w", id, err)
	}
	return u.String(), nil
}

// ShortUUID returns the 16-bit form of ids built on the Bluetooth base UUID
// and the normalized form of every other id. Invalid ids are returned as is.
func ShortUUID(id string) string {
	n, err := NormalizeUUID(id)
	if err != nil {
		return id
	}
	if strings.HasPrefix(n, "0000") && strings.HasSuffix(n, bluetoothBase) {
		return n[4:8]
	}
	return n
}

// IsFeatureCharacteristic reports whether id has the BlueST feature pattern
// XXXXXXXX-0001-11e1-ac36-0002a5d5c51b.
func IsFeatureCharacteristic(id string) bool {
	n, err := NormalizeUUID(id)
	return err == nil && strings.HasSuffix(n, featureSuffix)
}

// FeatureMask extracts the capability mask carried in the leading 32 bits of
// a feature characteristic id.
func FeatureMask(id string) (uint32, bool) {
	n, err := NormalizeUUID(id)
	if err != nil || !strings.HasSuffix(n, featureSuffix) {
		return 0, false
	}
	mask, err := strconv.ParseUint(n[:8], 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(mask), true
}

// FeatureCharacteristicUUID builds the characteristic id for mask.
func FeatureCharacteristicUUID(mask uint32) string {
	return fmt.Sprintf("%08x%s", mask, featureSuffix)
}

// IsDebugCharacteristic reports whether id is the debug terminal or stderr.
func IsDebugCharacteristic(id string) bool {
	n, err := NormalizeUUID(id)
	return err == nil && (n == DebugTerminal || n == DebugStderr)
}
