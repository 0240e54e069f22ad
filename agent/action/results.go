package action

import (
	"time"

	"github.com/tanpawarit/Chative-Scheduling-Assistant/pkg/model"
)

// Result views are what the oracle sees. Numeric booking ids are left out so
// the only booking identifier it can echo back is the uid.

type eventTypeView struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Slug            string `json:"slug,omitempty"`
	DurationMinutes int    `json:"duration_minutes"`
}

type slotsView struct {
	EventTypeID int64    `json:"event_type_id"`
	From        string   `json:"from"`
	To          string   `json:"to"`
	Available   []string `json:"available"`
}

type bookingView struct {
	UID           string `json:"booking_uid"`
	Title         string `json:"title,omitempty"`
	Start         string `json:"start"`
	End           string `json:"end,omitempty"`
	Status        string `json:"status"`
	AttendeeName  string `json:"attendee_name,omitempty"`
	AttendeeEmail string `json:"attendee_email,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type bookingsView struct {
	Count    int           `json:"count"`
	Bookings []bookingView `json:"bookings"`
}

type cancelledView struct {
	BookingUID string `json:"booking_uid"`
	Status     string `json:"status"`
}

type rescheduledView struct {
	PreviousUID string      `json:"previous_booking_uid"`
	Booking     bookingView `json:"booking"`
}

func viewEventTypes(items []model.EventType) []eventTypeView {
	out := make([]eventTypeView, 0, len(items))
	for _, et := range items {
		if !et.Bookable {
			continue
		}
		out = append(out, eventTypeView{ID: et.ID, Title: et.Title, Slug: et.Slug, DurationMinutes: et.DurationMinutes})
	}
	return out
}

func viewSlots(a ListAvailableSlotsAction, slots []model.Slot) slotsView {
	loc := orUTC(a.Location)
	view := slotsView{
		EventTypeID: a.EventTypeID,
		From:        localTime(a.Start, loc),
		To:          localTime(a.End, loc),
		Available:   make([]string, 0, len(slots)),
	}
	for _, s := range slots {
		if s.Available {
			view.Available = append(view.Available, localTime(s.Time, loc))
		}
	}
	return view
}

func viewBooking(b model.Booking, loc *time.Location) bookingView {
	loc = orUTC(loc)
	view := bookingView{
		UID:           b.UID,
		Title:         b.Title,
		Start:         localTime(b.Start, loc),
		Status:        string(b.Status),
		AttendeeName:  b.Attendee.Name,
		AttendeeEmail: b.Attendee.Email,
		Reason:        b.Reason,
	}
	if !b.End.IsZero() {
		view.End = localTime(b.End, loc)
	}
	return view
}

func viewBookings(bookings []model.Booking, loc *time.Location) bookingsView {
	out := bookingsView{Count: len(bookings), Bookings: make([]bookingView, 0, len(bookings))}
	for _, b := range bookings {
		out.Bookings = append(out.Bookings, viewBooking(b, loc))
	}
	return out
}

func localTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(time.RFC3339)
}

func orUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
