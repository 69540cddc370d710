package artifact

import "errors"

var (
	// ErrInvalidInput is returned for empty or oversized artifacts.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnrecognized is returned when the input carries no classifiable token.
	ErrUnrecognized = errors.New("unrecognized artifact")
)
