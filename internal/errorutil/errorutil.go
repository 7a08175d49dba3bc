package errorutil

import "errors"

var (
	// ErrDataIntegrity wraps failures caused by data that can't be used as
	// is, like callsites with a negative size.
	ErrDataIntegrity = errors.New("data integrity error")

	// ErrNoResults is returned when nothing was stored for what was requested.
	ErrNoResults = errors.New("no results returned")
)
