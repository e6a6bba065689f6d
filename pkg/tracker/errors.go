package tracker

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedScheme = errors.New("tracker: unsupported url scheme, udp expected")
	ErrMissingPort       = errors.New("tracker: url has no port")

	ErrProtocolMismatch  = errors.New("tracker: response does not match awaited request")
	ErrMalformedResponse = errors.New("tracker: malformed response")
	ErrTimeout           = errors.New("tracker: no response after all retries")

	ErrNotStarted      = errors.New("tracker: session not started")
	ErrAlreadyStarted  = errors.New("tracker: session already started")
	ErrCycleInProgress = errors.New("tracker: announce already in progress")
	ErrSessionFailed   = errors.New("tracker: session failed")
	ErrSessionClosed   = errors.New("tracker: session closed")
	ErrStatsDecreased  = errors.New("tracker: uploaded or downloaded counter decreased")
)

// TrackerError is the failure message sent by tracker in an error response.
type TrackerError struct {
	Message string
}

func (e *TrackerError) Error() string {
	return fmt.Sprintf("tracker: error response: %s", e.Message)
}

// TransportError wraps socket failures.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("tracker: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
