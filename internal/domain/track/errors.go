package track

import "errors"

// Sentinel kinds for tracker errors.
var (
	// ErrValidation marks a candidate missing a required discriminator.
	// The call performs no writes.
	ErrValidation = errors.New("invalid score candidate")
)
