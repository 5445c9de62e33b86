// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ens160

import "fmt"

// InvalidModeError is returned when a transition to a value outside the
// defined operating modes is requested. The request is rejected before any
// bus traffic happens.
type InvalidModeError struct {
	Mode byte
}

func (e *InvalidModeError) Error() string {
	return fmt.Sprintf("ens160: invalid operating mode 0x%02x", e.Mode)
}

// IdentityMismatchError is returned by CheckID when the part ID register
// reports something other than an ENS160.
type IdentityMismatchError struct {
	Got uint16
}

func (e *IdentityMismatchError) Error() string {
	return fmt.Sprintf("ens160: part ID 0x%04x, want 0x%04x", e.Got, partID)
}

// DeviceNotDetectedError is returned by NewI2C when the identity check of
// the initialization sequence fails. It wraps the underlying
// IdentityMismatchError.
type DeviceNotDetectedError struct {
	cause *IdentityMismatchError
}

func (e *DeviceNotDetectedError) Error() string {
	return "ens160: device not detected: " + e.cause.Error()
}

func (e *DeviceNotDetectedError) Unwrap() error {
	return e.cause
}
