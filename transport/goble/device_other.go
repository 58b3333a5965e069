//go:build !darwin && !linux

package goble

import (
	"github.com/go-ble/ble"

	"github.com/srg/bluest/transport"
)

func newDevice() (ble.Device, error) {
	return nil, transport.ErrUnsupported
}
