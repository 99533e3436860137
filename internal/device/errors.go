package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // reject the connection
//	}
var (
	// ErrDeviceNotFound is returned when no device matches an ID or credential.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when the ID or API key is already taken.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when a device fails validation.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidFeature is returned for a feature name outside the known set.
	ErrInvalidFeature = errors.New("device: invalid feature")

	// ErrUserNotFound is returned when a user ID does not exist.
	ErrUserNotFound = errors.New("device: user not found")

	// ErrUserExists is returned when the user ID or username is already taken.
	ErrUserExists = errors.New("device: user already exists")
)
