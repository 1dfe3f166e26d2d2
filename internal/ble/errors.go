package ble

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned when a report cannot be delivered because the
	// mouse is not connected, not fully provisioned or the write failed.
	ErrNotReady = errors.New("ble: mouse not ready")
	// ErrStaleEvent marks an event that matched no live mouse or arrived in
	// the wrong state. Such events are dropped.
	ErrStaleEvent = errors.New("ble: stale event")
	// ErrDuplicateRegistration is returned when a mouse id, application id
	// or interface handle is already held by another mouse.
	ErrDuplicateRegistration = errors.New("ble: duplicate registration")
	// ErrUnknownMouse is returned for operations on an id with no mouse.
	ErrUnknownMouse = errors.New("ble: unknown mouse")
	// ErrUnsupportedPlatform is returned by NewPlatformStack where the
	// bluetooth package has no peripheral support.
	ErrUnsupportedPlatform = errors.New("ble: peripheral mode not supported on this platform")
)

// ProvisioningError reports a construction step that did not complete.
// The mouse stays in State until it is restarted.
type ProvisioningError struct {
	State  State
	Status Status
	Err    error // submission error, if the command was rejected
}

func (e *ProvisioningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ble: provisioning failed in %s: %s: %v", e.State, e.Status, e.Err)
	}
	return fmt.Sprintf("ble: provisioning failed in %s: %s", e.State, e.Status)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }
