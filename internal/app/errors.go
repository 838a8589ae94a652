package app

import "errors"

// Sentinel kinds for service errors.
var (
	ErrCascadeDisabled = errors.New("ranking cascade disabled: no lookup client configured")
)
