package aiclient

import (
	"errors"
	"fmt"
)

// ErrServiceUnavailable is returned when the AI service answers 503, which
// it does while its models are still loading.
var ErrServiceUnavailable = errors.New("ai service unavailable")

// TransportError means the exchange itself failed: the request could not be
// sent, the reply was not 2xx, or the body could not be understood. It is
// distinct from a task that ran and failed.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("ai %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("ai %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
