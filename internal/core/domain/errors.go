package domain

import "errors"

var (
	// ErrUnknownDevice is returned for a device id that is not registered.
	ErrUnknownDevice = errors.New("unknown device")

	// ErrDeviceExists is returned when registering an id twice.
	ErrDeviceExists = errors.New("device already registered")

	// ErrInvalidDevice is returned for an empty device id.
	ErrInvalidDevice = errors.New("invalid device id")

	// ErrNoBackupAvailable is returned when no device can take over.
	ErrNoBackupAvailable = errors.New("no backup device available")

	// ErrGuardTimeout is returned when a protected operation exhausts its retries.
	ErrGuardTimeout = errors.New("hardware operation timed out")

	// ErrInvalidResponse marks a read that returned the floating-bus sentinel.
	ErrInvalidResponse = errors.New("adapter returned invalid data")

	// ErrNilOperation is returned when a nil hardware operation is guarded.
	ErrNilOperation = errors.New("nil hardware operation")
)
