// Package registry maps capability bits and characteristic identifiers to
// feature decoder constructors.
//
// Bits are looked up per device type first and then in the wildcard table
// registered under device type 0x00. Mutation is rejected while the registry
// is locked, which the manager does for the duration of a discovery.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/srg/bluest/feature"
)

// Wildcard is the device type whose table applies to every node.
const Wildcard uint8 = 0x00

// ErrInvalidBitmask is returned when a bit mapping cannot be registered.
var ErrInvalidBitmask = errors.New("invalid bitmask")

// ErrInvalidCharacteristic is returned for malformed characteristic mappings.
var ErrInvalidCharacteristic = errors.New("invalid characteristic mapping")

// BitmaskError describes the rejected bit.
type BitmaskError struct {
	DeviceType uint8
	Bit        int
	Reason     string
}

func (e *BitmaskError) Error() string {
	return fmt.Sprintf("%v: device type 0x%02x bit %d: %s", ErrInvalidBitmask, e.DeviceType, e.Bit, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidBitmask) work for BitmaskError.
func (e *BitmaskError) Is(target error) bool {
	return target == ErrInvalidBitmask
}

// Entry is one resolved capability bit.
type Entry struct {
	Bit         int
	Constructor feature.Constructor
}

// Mask returns the capability mask value of the entry's bit.
func (e Entry) Mask() uint32 { return 1 << uint(e.Bit) }

// Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tables map[uint8]map[int]feature.Constructor
	chars  map[string][]feature.Constructor
	locked bool
}

// New returns a registry seeded with the default bit table and the standard
// characteristics this module decodes.
func New() *Registry {
	r := NewEmpty()
	if err := r.RegisterBuiltin(Wildcard, DefaultBits()); err != nil {
		panic(err)
	}
	for id, ctors := range DefaultCharacteristics() {
		if err := r.MapCharacteristic(id, ctors...); err != nil {
			panic(err)
		}
	}
	return r
}

// NewEmpty returns a registry with no mappings.
func NewEmpty() *Registry {
	return &Registry{
		tables: make(map[uint8]map[int]feature.Constructor),
		chars:  make(map[string][]feature.Constructor),
	}
}

// RegisterBuiltin binds bits for deviceType. Every bit is validated before
// any is stored: one invalid bit rejects the whole call.
func (r *Registry) RegisterBuiltin(deviceType uint8, bits map[int]feature.Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.locked {
		return &BitmaskError{DeviceType: deviceType, Bit: -1, Reason: "registry is locked while discovering"}
	}

	table := r.tables[deviceType]
	for _, bit := range sortedBits(bits) {
		switch {
		case bit < 0 || bit > 31:
			return &BitmaskError{DeviceType: deviceType, Bit: bit, Reason: "bit out of range 0..31"}
		case bits[bit] == nil:
			return &BitmaskError{DeviceType: deviceType, Bit: bit, Reason: "nil constructor"}
		case table[bit] != nil:
			return &BitmaskError{DeviceType: deviceType, Bit: bit, Reason: "bit already bound"}
		}
	}

	if table == nil {
		table = make(map[int]feature.Constructor, len(bits))
		r.tables[deviceType] = table
	}
	for bit, ctor := range bits {
		table[bit] = ctor
	}
	return nil
}

// Constructor returns the constructor bound to bit for deviceType, falling
// back to the wildcard table.
func (r *Registry) Constructor(deviceType uint8, bit int) (feature.Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookup(deviceType, bit)
}

func (r *Registry) lookup(deviceType uint8, bit int) (feature.Constructor, bool) {
	if ctor := r.tables[deviceType][bit]; ctor != nil {
		return ctor, true
	}
	if ctor := r.tables[Wildcard][bit]; ctor != nil {
		return ctor, true
	}
	return nil, false
}

// Resolve returns the constructors for every set bit of mask, most
// significant bit first. Unmapped bits are skipped.
func (r *Registry) Resolve(deviceType uint8, mask uint32) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for bit := 31; bit >= 0; bit-- {
		if mask&(1<<uint(bit)) == 0 {
			continue
		}
		if ctor, ok := r.lookup(deviceType, bit); ok {
			out = append(out, Entry{Bit: bit, Constructor: ctor})
		}
	}
	return out
}

// MapCharacteristic binds a characteristic outside the capability mask to
// one or more constructors, replacing any previous mapping.
func (r *Registry) MapCharacteristic(id string, ctors ...feature.Constructor) error {
	key, err := NormalizeUUID(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCharacteristic, err)
	}
	if len(ctors) == 0 {
		return fmt.Errorf("%w: %s: no constructors", ErrInvalidCharacteristic, id)
	}
	for i, c := range ctors {
		if c == nil {
			return fmt.Errorf("%w: %s: constructor %d is nil", ErrInvalidCharacteristic, id, i)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.chars[key] = append([]feature.Constructor(nil), ctors...)
	return nil
}

// Characteristic returns the constructors mapped to id.
func (r *Registry) Characteristic(id string) ([]feature.Constructor, bool) {
	key, err := NormalizeUUID(id)
	if err != nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctors, ok := r.chars[key]
	return ctors, ok
}

// Characteristics lists the mapped characteristic ids in sorted order.
func (r *Registry) Characteristics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.chars))
	for id := range r.chars {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Lock rejects RegisterBuiltin until Unlock.
func (r *Registry) Lock() {
	r.mu.Lock()
	r.locked = true
	r.mu.Unlock()
}

// Unlock allows RegisterBuiltin again.
func (r *Registry) Unlock() {
	r.mu.Lock()
	r.locked = false
	r.mu.Unlock()
}

// Locked reports whether mutation is currently rejected.
func (r *Registry) Locked() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.locked
}

func sortedBits(bits map[int]feature.Constructor) []int {
	out := make([]int, 0, len(bits))
	for bit := range bits {
		out = append(out, bit)
	}
	sort.Ints(out)
	return out
}
