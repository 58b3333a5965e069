package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/bluest/manager"
	"github.com/srg/bluest/node"
	"github.com/srg/bluest/pkg/retry"
	"github.com/srg/bluest/registry"
	"github.com/srg/bluest/transport"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the link dropped while a command was using it.
	ErrConnectionLost = errors.New("connection lost")
	// ErrNodeNotFound is returned when discovery ends without the requested node.
	ErrNodeNotFound = errors.New("node not found")
)

// FormatUserError turns errors from the lower layers into a hint the user can
// act on. Unknown errors are printed as is.
func FormatUserError(err error) string {
	var exhausted *retry.ExhaustedError
	switch {
	case errors.Is(err, ErrNodeNotFound):
		return fmt.Sprintf("%v; make sure the node is advertising and in range, or use 'bluest scan'", err)
	case errors.As(err, &exhausted):
		return fmt.Sprintf("could not connect after %d attempts: %v", exhausted.Attempts, exhausted.Err)
	case errors.Is(err, ErrConnectionLost):
		return fmt.Sprintf("%v; the node went out of range or was reset", err)
	case errors.Is(err, transport.ErrBluetoothOff):
		return fmt.Sprintf("%v; power the Bluetooth adapter on and retry", err)
	case errors.Is(err, registry.ErrInvalidBitmask):
		return fmt.Sprintf("%v; a decoder is already bound to that bit, pick a device type with --decoder type:bit=script", err)
	case errors.Is(err, node.ErrIllegalTransition):
		return fmt.Sprintf("%v; the node is busy", err)
	case errors.Is(err, manager.ErrAlreadyDiscovering):
		return "a discovery is already running"
	case errors.Is(err, context.DeadlineExceeded):
		return "operation timed out"
	}
	return err.Error()
}
