// Package model holds the scheduling shapes shared by the client, the
// conversation state and the orchestrator. Every wire envelope returned by the
// scheduling service is normalized into these types before leaving pkg/calcom.
package model

import (
	"sort"
	"strings"
	"time"
)

type BookingStatus string

const (
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

// Attendee identifies the person a booking is made for.
type Attendee struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	TimeZone string `json:"time_zone,omitempty"`
}

// Booking is a normalized scheduling-service booking.
//
// UID is the opaque reference and the only identifier accepted by cancel and
// reschedule. ID is service-internal and must never be sent in their place.
type Booking struct {
	ID        int64         `json:"id"`
	UID       string        `json:"uid"`
	Title     string        `json:"title,omitempty"`
	Start     time.Time     `json:"start"`
	End       time.Time     `json:"end"`
	Attendee  Attendee      `json:"attendee"`
	Reason    string        `json:"reason,omitempty"`
	Status    BookingStatus `json:"status"`
	EventType int64         `json:"event_type_id,omitempty"`
}

func (b Booking) IsCancelled() bool {
	return b.Status == BookingCancelled
}

// Label is a short human readable description used in prompts and replies.
func (b Booking) Label(loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	title := strings.TrimSpace(b.Title)
	if title == "" {
		title = strings.TrimSpace(b.Reason)
	}
	if title == "" {
		title = "Meeting"
	}
	return title + " on " + b.Start.In(loc).Format("Mon, Jan 2 at 15:04 MST")
}

type EventType struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Slug            string `json:"slug,omitempty"`
	DurationMinutes int    `json:"duration_minutes"`
	Bookable        bool   `json:"bookable"`
}

// Slot is an availability instant for one event type. Slots are recomputed per
// query and never cached.
type Slot struct {
	Time      time.Time `json:"time"`
	Available bool      `json:"available"`
}

// SortBookingsByStart orders bookings by start time ascending. The sort is
// stable so bookings sharing a start keep their input order.
func SortBookingsByStart(bookings []Booking) {
	sort.SliceStable(bookings, func(i, j int) bool {
		return bookings[i].Start.Before(bookings[j].Start)
	})
}

func SortSlots(slots []Slot) {
	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].Time.Before(slots[j].Time)
	})
}
