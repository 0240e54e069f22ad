package action

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/contract"
	"github.com/tanpawarit/Chative-Scheduling-Assistant/pkg/model"
)

// Outcome is the result of executing one action. Listed is true when
// Bookings holds a fresh list-bookings result that should replace the
// session snapshot. Booking is set by a successful create or reschedule.
type Outcome struct {
	Observation contractx.Observation
	Bookings    []model.Booking
	Listed      bool
	Booking     *model.Booking
}

type ExecutorOption func(*Executor)

// WithPublisher publishes a booking event after every successful create,
// cancel or reschedule.
func WithPublisher(p contractx.EventPublisher) ExecutorOption {
	return func(e *Executor) {
		e.publisher = p
	}
}

func withExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// Executor runs resolved actions against the scheduling service and turns
// every result, success or failure, into an observation.
type Executor struct {
	client    contractx.SchedulingClient
	publisher contractx.EventPublisher
	now       func() time.Time
}

func NewExecutor(client contractx.SchedulingClient, opts ...ExecutorOption) *Executor {
	e := &Executor{client: client, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Execute(ctx context.Context, callID string, a Action) Outcome {
	name := string(a.Name())
	out, err := e.execute(ctx, a)
	if err != nil {
		log.Warn().
			Str("action", name).
			Str("error_kind", string(KindOf(err))).
			Err(err).
			Msg("scheduling action failed")
		return Outcome{Observation: Failure(callID, name, err)}
	}
	out.Observation.CallID = callID
	out.Observation.Action = name
	return out
}

func (e *Executor) execute(ctx context.Context, a Action) (Outcome, error) {
	switch v := a.(type) {
	case ListEventTypesAction:
		items, err := e.client.ListEventTypes(ctx)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Observation: contractx.Observation{Result: viewEventTypes(items)}}, nil

	case ListAvailableSlotsAction:
		slots, err := e.client.ListAvailableSlots(ctx, v.EventTypeID, v.Start, v.End)
		if err != nil {
			return Outcome{}, err
		}
		model.SortSlots(slots)
		return Outcome{Observation: contractx.Observation{Result: viewSlots(v, slots)}}, nil

	case ListBookingsAction:
		bookings, err := e.client.ListBookings(ctx, v.Query)
		if err != nil {
			return Outcome{}, err
		}
		model.SortBookingsByStart(bookings)
		return Outcome{
			Observation: contractx.Observation{Result: viewBookings(bookings, v.Location)},
			Bookings:    bookings,
			Listed:      true,
		}, nil

	case CreateBookingAction:
		b, err := e.client.CreateBooking(ctx, v.Request)
		if err != nil {
			return Outcome{}, err
		}
		e.publish(ctx, contractx.BookingEvent{Type: contractx.BookingCreated, BookingUID: b.UID, Booking: &b, Reason: v.Request.Reason})
		return Outcome{Observation: contractx.Observation{Result: viewBooking(b, v.Location)}, Booking: &b}, nil

	case CancelBookingAction:
		if err := e.client.CancelBooking(ctx, v.BookingUID, v.Reason); err != nil {
			return Outcome{}, err
		}
		e.publish(ctx, contractx.BookingEvent{Type: contractx.BookingCancelled, BookingUID: v.BookingUID, Booking: v.Booking, Reason: v.Reason})
		return Outcome{Observation: contractx.Observation{Result: cancelledView{BookingUID: v.BookingUID, Status: string(model.BookingCancelled)}}}, nil

	case RescheduleBookingAction:
		b, err := e.client.RescheduleBooking(ctx, v.BookingUID, v.NewStart, v.Reason)
		if err != nil {
			return Outcome{}, err
		}
		e.publish(ctx, contractx.BookingEvent{Type: contractx.BookingRescheduled, BookingUID: b.UID, PreviousUID: v.BookingUID, Booking: &b, Reason: v.Reason})
		return Outcome{
			Observation: contractx.Observation{Result: rescheduledView{PreviousUID: v.BookingUID, Booking: viewBooking(b, v.Location)}},
			Booking:     &b,
		}, nil

	default:
		return Outcome{}, fmt.Errorf("%w: unsupported action %T", contractx.ErrValidation, a)
	}
}

// publish never fails the action; the booking change already happened.
func (e *Executor) publish(ctx context.Context, event contractx.BookingEvent) {
	if e.publisher == nil {
		return
	}
	event.OccurredAt = e.now().UTC()
	if err := e.publisher.Publish(ctx, event); err != nil {
		log.Error().
			Str("event", string(event.Type)).
			Str("booking_uid", event.BookingUID).
			Err(err).
			Msg("publish booking event failed")
	}
}
