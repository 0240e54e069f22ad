package action

import (
	"time"

	statex "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/state"
	calcomx "github.com/tanpawarit/Chative-Scheduling-Assistant/pkg/calcom"
	"github.com/tanpawarit/Chative-Scheduling-Assistant/pkg/model"
)

// Action is a validated, fully resolved request. The set of implementations
// is closed; Executor switches over all of them.
type Action interface {
	Name() Name
	Destructive() bool
	sealed()
}

type ListEventTypesAction struct{}

type ListAvailableSlotsAction struct {
	EventTypeID int64
	Start       time.Time
	End         time.Time
	Location    *time.Location
}

type ListBookingsAction struct {
	Query    calcomx.BookingQuery
	Location *time.Location
}

type CreateBookingAction struct {
	Request  calcomx.CreateBookingRequest
	Location *time.Location
}

type CancelBookingAction struct {
	BookingUID string
	Reason     string
	Booking    *model.Booking
}

type RescheduleBookingAction struct {
	BookingUID string
	NewStart   time.Time
	Reason     string
	Booking    *model.Booking
	Location   *time.Location
}

func (ListEventTypesAction) Name() Name     { return ListEventTypes }
func (ListAvailableSlotsAction) Name() Name { return ListAvailableSlots }
func (ListBookingsAction) Name() Name       { return ListBookings }
func (CreateBookingAction) Name() Name      { return CreateBooking }
func (CancelBookingAction) Name() Name      { return CancelBooking }
func (RescheduleBookingAction) Name() Name  { return RescheduleBooking }

func (ListEventTypesAction) Destructive() bool     { return false }
func (ListAvailableSlotsAction) Destructive() bool { return false }
func (ListBookingsAction) Destructive() bool       { return false }
func (CreateBookingAction) Destructive() bool      { return false }
func (CancelBookingAction) Destructive() bool      { return true }
func (RescheduleBookingAction) Destructive() bool  { return true }

func (ListEventTypesAction) sealed()     {}
func (ListAvailableSlotsAction) sealed() {}
func (ListBookingsAction) sealed()       {}
func (CreateBookingAction) sealed()      {}
func (CancelBookingAction) sealed()      {}
func (RescheduleBookingAction) sealed()  {}

// ToPending captures a destructive action as the parameter set the user is
// asked to confirm.
func ToPending(a Action, now time.Time) (statex.PendingConfirmation, bool) {
	switch v := a.(type) {
	case CancelBookingAction:
		return statex.PendingConfirmation{
			Action:      string(CancelBooking),
			Parameters:  statex.ResolvedParameters{BookingUID: v.BookingUID, Reason: v.Reason},
			Booking:     v.Booking,
			RequestedAt: now.UTC(),
		}, true
	case RescheduleBookingAction:
		start := v.NewStart.UTC()
		return statex.PendingConfirmation{
			Action:      string(RescheduleBooking),
			Parameters:  statex.ResolvedParameters{BookingUID: v.BookingUID, NewStart: &start, Reason: v.Reason},
			Booking:     v.Booking,
			RequestedAt: now.UTC(),
		}, true
	default:
		return statex.PendingConfirmation{}, false
	}
}

// FromPending rebuilds the confirmed action exactly as it was stored.
func FromPending(p statex.PendingConfirmation, loc *time.Location) (Action, error) {
	switch Name(p.Action) {
	case CancelBooking:
		return CancelBookingAction{
			BookingUID: p.Parameters.BookingUID,
			Reason:     p.Parameters.Reason,
			Booking:    p.Booking,
		}, nil
	case RescheduleBooking:
		if p.Parameters.NewStart == nil {
			return nil, invalid(RescheduleBooking, "new_start_time", "is missing from the pending confirmation")
		}
		return RescheduleBookingAction{
			BookingUID: p.Parameters.BookingUID,
			NewStart:   *p.Parameters.NewStart,
			Reason:     p.Parameters.Reason,
			Booking:    p.Booking,
			Location:   loc,
		}, nil
	default:
		return nil, invalid(Name(p.Action), "", "is not an action that needs confirmation")
	}
}

// Parameters renders a resolved action back into registry parameters, used to
// replay a confirmed action into the transcript.
func Parameters(a Action) map[string]any {
	switch v := a.(type) {
	case CancelBookingAction:
		out := map[string]any{"booking_uid": v.BookingUID}
		if v.Reason != "" {
			out["reason"] = v.Reason
		}
		return out
	case RescheduleBookingAction:
		out := map[string]any{
			"booking_uid":    v.BookingUID,
			"new_start_time": v.NewStart.UTC().Format(time.RFC3339),
		}
		if v.Reason != "" {
			out["reason"] = v.Reason
		}
		return out
	default:
		return map[string]any{}
	}
}

// TargetUID is the booking a destructive action mutates.
func TargetUID(a Action) string {
	switch v := a.(type) {
	case CancelBookingAction:
		return v.BookingUID
	case RescheduleBookingAction:
		return v.BookingUID
	default:
		return ""
	}
}
