package correlate

import "errors"

// Sentinel kinds for correlation errors.
var (
	ErrInvalidEvent = errors.New("event missing player or song hash")
	ErrClosed       = errors.New("correlation engine closed")
)
