package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrDeviceIDRequired) {
//	    // reject the request
//	}
var (
	// ErrDeviceIDRequired is returned when a device session id is empty.
	ErrDeviceIDRequired = errors.New("device: id is required")

	// ErrInvalidSource is returned when a history source is not recognised.
	ErrInvalidSource = errors.New("device: invalid history source")

	// ErrInvalidRetention is returned when a prune window is not positive.
	ErrInvalidRetention = errors.New("device: retention must be positive")
)
