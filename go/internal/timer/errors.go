package timer

import "errors"

var (
	// ErrNotFound is returned by stores when the user has no timer row.
	// Absence is equivalent to a fresh Stopped/0 timer.
	ErrNotFound = errors.New("timer not found")

	ErrInvalidRecord   = errors.New("invalid timer record")
	ErrNegativeSeconds = errors.New("accumulated seconds must not be negative")
)
