package session

import "errors"

var (
	// ErrAdmission is the parent of every admission rejection. The
	// connection is closed with protocol.ClosePolicyViolation and no
	// device state changes.
	ErrAdmission = errors.New("session: admission rejected")

	// ErrUnknownCredential means no device has the presented API key.
	ErrUnknownCredential = errors.New("session: unknown credential")

	// ErrDeviceDisabled means the device exists but is disabled.
	ErrDeviceDisabled = errors.New("session: device disabled")

	// ErrDuplicateSession means the single-session policy is in force and
	// the device already has a live session.
	ErrDuplicateSession = errors.New("session: device already connected")

	// ErrProtocol ends a running session: a frame without message_type or
	// message, or a device that was disabled mid-session.
	ErrProtocol = errors.New("session: protocol violation")

	// ErrPersistence wraps repository failures inside handlers. The frame
	// is not retried and the session stays open.
	ErrPersistence = errors.New("session: persistence failed")

	// ErrBlobWrite means the media sink rejected a detection blob. The
	// rest of the detection pipeline is skipped.
	ErrBlobWrite = errors.New("session: media write failed")

	// ErrClosed is returned when writing to a session that has ended.
	ErrClosed = errors.New("session: closed")
)
