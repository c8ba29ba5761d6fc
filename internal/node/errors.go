package node

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a player or track does not exist.
	ErrNotFound = errors.New("node: not found")

	// ErrUnauthorized is returned for a missing or wrong credential.
	ErrUnauthorized = errors.New("node: unauthorized")

	// ErrAborted is returned when a hook rejected the command.
	ErrAborted = errors.New("node: aborted by hook")
)

// InputError reports a malformed or out-of-range client request.
type InputError struct {
	Err error
}

func (e *InputError) Error() string { return "node: bad request: " + e.Err.Error() }

func (e *InputError) Unwrap() error { return e.Err }

// inputf returns an [InputError] with a formatted message.
func inputf(format string, args ...any) error {
	return &InputError{Err: fmt.Errorf(format, args...)}
}

// IsInputError reports whether err is or wraps an [InputError].
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}
