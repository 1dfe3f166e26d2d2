//go:build !linux && !windows

package ble

import (
	"fmt"
	"runtime"
)

// NewPlatformStack fails: the bluetooth package cannot act as a GATT server
// here. Use output method "local" instead.
func NewPlatformStack(adapter string) (PlatformStack, error) {
	return nil, fmt.Errorf("%w (%s)", ErrUnsupportedPlatform, runtime.GOOS)
}
