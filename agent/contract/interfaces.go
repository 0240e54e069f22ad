package contract

import (
	"context"
	"time"

	calcomx "github.com/tanpawarit/Chative-Scheduling-Assistant/pkg/calcom"
	"github.com/tanpawarit/Chative-Scheduling-Assistant/pkg/model"
)

// Oracle decides, given the conversation so far and the observations of the
// actions it already requested, whether to reply in text or request actions.
type Oracle interface {
	Next(ctx context.Context, req OracleRequest) (OracleResponse, error)
}

// SchedulingClient is the capability surface of the scheduling service. It
// must be safe for concurrent use and hold no per-session data.
type SchedulingClient interface {
	ListEventTypes(ctx context.Context) ([]model.EventType, error)
	ListAvailableSlots(ctx context.Context, eventTypeID int64, start, end time.Time) ([]model.Slot, error)
	ListBookings(ctx context.Context, query calcomx.BookingQuery) ([]model.Booking, error)
	CreateBooking(ctx context.Context, req calcomx.CreateBookingRequest) (model.Booking, error)
	CancelBooking(ctx context.Context, uid, reason string) error
	RescheduleBooking(ctx context.Context, uid string, newStart time.Time, reason string) (model.Booking, error)
}

var _ SchedulingClient = (*calcomx.Client)(nil)

type EventPublisher interface {
	Publish(ctx context.Context, event BookingEvent) error
}
