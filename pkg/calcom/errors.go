package calcom

import (
	"errors"
	"fmt"
)

var (
	ErrSlotUnavailable    = errors.New("slot unavailable")
	ErrNotFound           = errors.New("booking not found")
	ErrTransientTransport = errors.New("transient transport failure")
	ErrClient             = errors.New("scheduling request rejected")
	ErrServer             = errors.New("scheduling service error")
	ErrInvalidReference   = errors.New("invalid booking reference")
)

// APIError is a non-2xx response from the scheduling service. It unwraps to
// one of the sentinels above so callers can branch with errors.Is.
type APIError struct {
	Status  int
	Code    string
	Message string
	kind    error
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%v: status=%d code=%s message=%s", e.kind, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%v: status=%d message=%s", e.kind, e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.kind
}
