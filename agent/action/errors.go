package action

import (
	"errors"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/contract"
	calcomx "github.com/tanpawarit/Chative-Scheduling-Assistant/pkg/calcom"
	"github.com/tanpawarit/Chative-Scheduling-Assistant/pkg/model"
)

var ErrReferenceNotFound = errors.New("no booking matches the reference")

// ValidationError rejects an action request before any network call.
type ValidationError struct {
	Action string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Action, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", e.Action, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return contractx.ErrValidation
}

func invalid(action Name, field, format string, args ...any) error {
	return &ValidationError{Action: string(action), Field: field, Reason: fmt.Sprintf(format, args...)}
}

// AmbiguousError means a booking reference matched more than one booking.
// It is a request for clarification, not a failure.
type AmbiguousError struct {
	Action     Name
	Reference  string
	Candidates []model.Booking
}

func (e *AmbiguousError) Error() string {
	uids := make([]string, 0, len(e.Candidates))
	for _, b := range e.Candidates {
		uids = append(uids, b.UID)
	}
	return fmt.Sprintf("%s: reference %q matches %d bookings (%s)", e.Action, e.Reference, len(e.Candidates), strings.Join(uids, ", "))
}

func (e *AmbiguousError) Unwrap() error {
	return contractx.ErrAmbiguousReference
}

// KindOf classifies err for an observation.
func KindOf(err error) contractx.ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, contractx.ErrValidation), errors.Is(err, calcomx.ErrInvalidReference):
		return contractx.ErrorKindValidation
	case errors.Is(err, calcomx.ErrSlotUnavailable):
		return contractx.ErrorKindSlotUnavailable
	case errors.Is(err, calcomx.ErrNotFound), errors.Is(err, ErrReferenceNotFound):
		return contractx.ErrorKindNotFound
	case errors.Is(err, calcomx.ErrTransientTransport):
		return contractx.ErrorKindTransientTransport
	case errors.Is(err, calcomx.ErrClient):
		return contractx.ErrorKindClient
	case errors.Is(err, calcomx.ErrServer):
		return contractx.ErrorKindServer
	default:
		return contractx.ErrorKindUnknown
	}
}

// Failure builds the observation for a rejected or failed request.
func Failure(callID string, action string, err error) contractx.Observation {
	return contractx.Observation{
		CallID:    callID,
		Action:    action,
		Error:     err.Error(),
		ErrorKind: KindOf(err),
	}
}
