package installer

import "errors"

var (
	// ErrJobNotFound is returned for an unknown job id.
	ErrJobNotFound = errors.New("install job not found")

	// ErrInvalidRequest is returned when an install request is malformed.
	ErrInvalidRequest = errors.New("invalid install request")
)
