package chargepoint

import (
	"errors"
	"fmt"
)

var errNotFound = errors.New("not found")

// CommunicationError wraps any transport-level failure talking to the
// ChargePoint API: timeouts, connection errors, 5xx responses. Callers treat
// these as transient and degrade to cached values instead of terminating.
type CommunicationError struct {
	Op         string // the API operation that failed
	StatusCode int    // HTTP status, 0 for transport errors
	Err        error
}

func (e *CommunicationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("chargepoint: %s returned status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("chargepoint: %s failed: %v", e.Op, e.Err)
}

func (e *CommunicationError) Unwrap() error { return e.Err }

// IsCommunicationError reports whether err is (or wraps) a CommunicationError.
func IsCommunicationError(err error) bool {
	var ce *CommunicationError
	return errors.As(err, &ce)
}
