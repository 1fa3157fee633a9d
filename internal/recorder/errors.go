package recorder

import "errors"

var (
	// ErrInvalidArgument reports a missing or empty required argument.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidState reports an operation that is illegal in the current state.
	ErrInvalidState = errors.New("invalid state")
	// ErrResourceUnavailable reports a busy capture device or unwritable output path.
	ErrResourceUnavailable = errors.New("resource unavailable")
	// ErrNotHandled reports a command name nobody dispatches. It is a routing
	// miss, not a recorder failure.
	ErrNotHandled = errors.New("not handled")
)
