// Package transport defines the radio operations the BlueST core consumes.
//
// The core never talks to a Bluetooth stack directly: scanning, GATT
// connections and characteristic I/O all go through a Transport. The goble
// sub-package implements it on top of go-ble.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Advertisement is one received advertising report.
type Advertisement struct {
	Address string
	// Payload is the raw list of AD structures.
	Payload []byte
	RSSI    int
}

// Transport is implemented by radio backends. Handlers may be called from any
// goroutine, but calls for the same address or characteristic are never
// concurrent.
type Transport interface {
	// Scan delivers advertisements until ctx is done.
	Scan(ctx context.Context, handler func(Advertisement)) error
	// Connect opens a GATT link. onLinkLost is invoked once if the link drops
	// without Disconnect being called.
	Connect(ctx context.Context, address string, onLinkLost func(error)) error
	Disconnect(ctx context.Context, address string) error
	// DiscoverCharacteristics lists every characteristic of a connected device.
	DiscoverCharacteristics(ctx context.Context, address string) ([]string, error)
	Subscribe(ctx context.Context, address, charID string, handler func([]byte)) error
	Unsubscribe(ctx context.Context, address, charID string) error
	Read(ctx context.Context, address, charID string) ([]byte, error)
	Write(ctx context.Context, address, charID string, data []byte) error
}

var (
	// ErrNotConnected is returned for operations on a device without a link.
	ErrNotConnected = errors.New("device not connected")
	// ErrAlreadyConnected is returned by Connect on a linked device.
	ErrAlreadyConnected = errors.New("device already connected")
	// ErrBluetoothOff is returned when the adapter is powered off.
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	// ErrUnsupported is returned when the platform has no backend.
	ErrUnsupported = errors.New("operation not supported on this platform")
	// ErrNotFound matches every NotFoundError.
	ErrNotFound = errors.New("not found")
)

// NotFoundError reports a missing device or characteristic.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// Is makes errors.Is(err, ErrNotFound) work for NotFoundError.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
