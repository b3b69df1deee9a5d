package chat

import "errors"

var (
	// ErrNotFound is returned when a referenced user or room does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied is returned when the actor lacks the required membership.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidOperation is returned when an operation does not apply to the target's
	// current state, such as adding to a private room or re-adding a contact.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrInvalidInput is returned when an argument fails validation, such as empty content.
	ErrInvalidInput = errors.New("invalid input")
	// ErrMalformedEvent is returned when an inbound event is missing or mistypes a required field.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrDuplicateRoom is returned when the private-pair uniqueness constraint is violated
	// and the existing room cannot be read back.
	ErrDuplicateRoom = errors.New("duplicate room")
)
