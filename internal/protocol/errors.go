package protocol

import "errors"

var (
	// ErrMissingField means message_type or message was absent, null or
	// empty. The session must terminate.
	ErrMissingField = errors.New("protocol: missing required field")

	// ErrMalformed means the frame was not a JSON object.
	ErrMalformed = errors.New("protocol: malformed frame")

	// ErrUnknownType means message_type is not one this server handles.
	ErrUnknownType = errors.New("protocol: unknown message type")

	// ErrInvalidPayload means message did not match the shape for its type.
	ErrInvalidPayload = errors.New("protocol: invalid payload")
)

// IsTerminal reports whether a Decode error must end the session rather
// than drop the frame.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrMissingField)
}
