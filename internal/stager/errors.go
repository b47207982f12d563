package stager

import "errors"

// Sentinel domain errors used to classify staging failures. They should always
// be wrapped with contextual information at the call site.
var (
	ErrResolution = errors.New("docpress: resolution error")
	ErrFetch      = errors.New("docpress: fetch error")
)
