package goble

import (
	"fmt"
	"strings"

	"github.com/srg/bluest/transport"
)

// NormalizeError maps known go-ble error messages to transport sentinels.
// The original error stays in the message.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "have=4 want=5"):
		return fmt.Errorf("%w: %v", transport.ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "powered off"):
		return fmt.Errorf("%w: %v", transport.ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "already connected"):
		return fmt.Errorf("%w: %v", transport.ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", transport.ErrNotConnected, err)
	default:
		return err
	}
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
