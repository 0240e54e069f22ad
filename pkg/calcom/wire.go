package calcom

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tanpawarit/Chative-Scheduling-Assistant/pkg/model"
)

// Cal.com v2 wraps every payload as {"status": "...", "data": ...}. The shape
// of data differs between endpoints and API versions; all of that variance is
// absorbed here.

type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Error   *wireError      `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wireEventType struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Slug            string `json:"slug"`
	Length          int    `json:"length"`
	LengthInMinutes int    `json:"lengthInMinutes"`
	Hidden          bool   `json:"hidden"`
}

type wireAttendee struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	TimeZone string `json:"timeZone"`
}

type wireBooking struct {
	ID          int64          `json:"id"`
	UID         string         `json:"uid"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Start       string         `json:"start"`
	StartTime   string         `json:"startTime"`
	End         string         `json:"end"`
	EndTime     string         `json:"endTime"`
	Status      string         `json:"status"`
	Attendees   []wireAttendee `json:"attendees"`
	Metadata    map[string]any `json:"metadata"`
	EventTypeID int64          `json:"eventTypeId"`
	EventType   *struct {
		ID int64 `json:"id"`
	} `json:"eventType"`
}

type wireSlot struct {
	Time      string `json:"time"`
	Start     string `json:"start"`
	Available *bool  `json:"available"`
}

type createBookingBody struct {
	Start       string         `json:"start"`
	EventTypeID int64          `json:"eventTypeId"`
	Attendee    wireAttendee   `json:"attendee"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Cancel and reschedule are distinct request shapes: the reason field is named
// differently and reschedule targets its own sub-resource.
type cancelBookingBody struct {
	CancellationReason string `json:"cancellationReason,omitempty"`
}

type rescheduleBookingBody struct {
	Start              string `json:"start"`
	ReschedulingReason string `json:"reschedulingReason,omitempty"`
}

func decodeEnvelope(raw []byte) (envelope, error) {
	var env envelope
	if len(bytes.TrimSpace(raw)) == 0 {
		return env, nil
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

func (e envelope) errorMessage() (string, string) {
	if e.Error != nil {
		return e.Error.Code, e.Error.Message
	}
	return "", e.Message
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func normalizeEventTypes(data json.RawMessage) ([]model.EventType, error) {
	if isNull(data) {
		return nil, nil
	}

	var wire []wireEventType
	if isArray(data) {
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, fmt.Errorf("decode event types: %w", err)
		}
	} else {
		var grouped struct {
			EventTypeGroups []struct {
				EventTypes []wireEventType `json:"eventTypes"`
			} `json:"eventTypeGroups"`
			EventTypes []wireEventType `json:"eventTypes"`
		}
		if err := json.Unmarshal(data, &grouped); err != nil {
			return nil, fmt.Errorf("decode event type groups: %w", err)
		}
		for _, g := range grouped.EventTypeGroups {
			wire = append(wire, g.EventTypes...)
		}
		wire = append(wire, grouped.EventTypes...)
	}

	out := make([]model.EventType, 0, len(wire))
	for _, w := range wire {
		duration := w.LengthInMinutes
		if duration == 0 {
			duration = w.Length
		}
		out = append(out, model.EventType{
			ID:              w.ID,
			Title:           strings.TrimSpace(w.Title),
			Slug:            w.Slug,
			DurationMinutes: duration,
			Bookable:        !w.Hidden,
		})
	}
	return out, nil
}

func normalizeSlots(data json.RawMessage) ([]model.Slot, error) {
	if isNull(data) {
		return nil, nil
	}

	if !isArray(data) {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, fmt.Errorf("decode slots: %w", err)
		}
		if inner, ok := wrapper["slots"]; ok {
			return normalizeSlots(inner)
		}

		var out []model.Slot
		for day, raw := range wrapper {
			slots, err := decodeSlotList(raw)
			if err != nil {
				return nil, fmt.Errorf("decode slots for %s: %w", day, err)
			}
			out = append(out, slots...)
		}
		model.SortSlots(out)
		return out, nil
	}

	out, err := decodeSlotList(data)
	if err != nil {
		return nil, err
	}
	model.SortSlots(out)
	return out, nil
}

func decodeSlotList(raw json.RawMessage) ([]model.Slot, error) {
	if isNull(raw) {
		return nil, nil
	}
	var wire []json.RawMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}

	out := make([]model.Slot, 0, len(wire))
	for _, item := range wire {
		var ts string
		available := true

		if trimmed := bytes.TrimSpace(item); len(trimmed) > 0 && trimmed[0] == '"' {
			if err := json.Unmarshal(item, &ts); err != nil {
				return nil, err
			}
		} else {
			var w wireSlot
			if err := json.Unmarshal(item, &w); err != nil {
				return nil, err
			}
			ts = w.Time
			if ts == "" {
				ts = w.Start
			}
			if w.Available != nil {
				available = *w.Available
			}
		}

		at, err := parseTime(ts)
		if err != nil {
			return nil, err
		}
		out = append(out, model.Slot{Time: at, Available: available})
	}
	return out, nil
}

func normalizeBookings(data json.RawMessage) ([]model.Booking, error) {
	if isNull(data) {
		return nil, nil
	}

	var wire []wireBooking
	if isArray(data) {
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, fmt.Errorf("decode bookings: %w", err)
		}
	} else {
		var wrapper struct {
			Bookings []wireBooking `json:"bookings"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, fmt.Errorf("decode bookings: %w", err)
		}
		wire = wrapper.Bookings
	}

	out := make([]model.Booking, 0, len(wire))
	for _, w := range wire {
		b, err := w.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	model.SortBookingsByStart(out)
	return out, nil
}

// normalizeBooking decodes a single booking. Recurring bookings come back as a
// list; the first occurrence is returned.
func normalizeBooking(data json.RawMessage) (model.Booking, error) {
	if isNull(data) {
		return model.Booking{}, fmt.Errorf("decode booking: empty data")
	}
	if isArray(data) {
		bookings, err := normalizeBookings(data)
		if err != nil {
			return model.Booking{}, err
		}
		if len(bookings) == 0 {
			return model.Booking{}, fmt.Errorf("decode booking: empty list")
		}
		return bookings[0], nil
	}

	var w wireBooking
	if err := json.Unmarshal(data, &w); err != nil {
		return model.Booking{}, fmt.Errorf("decode booking: %w", err)
	}
	return w.toModel()
}

func (w wireBooking) toModel() (model.Booking, error) {
	startRaw := firstNonEmpty(w.Start, w.StartTime)
	start, err := parseTime(startRaw)
	if err != nil {
		return model.Booking{}, fmt.Errorf("booking uid=%s start: %w", w.UID, err)
	}
	var end time.Time
	if endRaw := firstNonEmpty(w.End, w.EndTime); endRaw != "" {
		end, err = parseTime(endRaw)
		if err != nil {
			return model.Booking{}, fmt.Errorf("booking uid=%s end: %w", w.UID, err)
		}
	}

	b := model.Booking{
		ID:        w.ID,
		UID:       strings.TrimSpace(w.UID),
		Title:     strings.TrimSpace(w.Title),
		Start:     start,
		End:       end,
		Status:    normalizeStatus(w.Status),
		EventType: w.EventTypeID,
	}
	if b.EventType == 0 && w.EventType != nil {
		b.EventType = w.EventType.ID
	}
	if len(w.Attendees) > 0 {
		b.Attendee = model.Attendee{
			Name:     w.Attendees[0].Name,
			Email:    w.Attendees[0].Email,
			TimeZone: w.Attendees[0].TimeZone,
		}
	}
	if reason, ok := w.Metadata["reason"].(string); ok && strings.TrimSpace(reason) != "" {
		b.Reason = strings.TrimSpace(reason)
	} else {
		b.Reason = strings.TrimSpace(w.Description)
	}
	return b, nil
}

func normalizeStatus(s string) model.BookingStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cancelled", "canceled", "rejected":
		return model.BookingCancelled
	default:
		return model.BookingConfirmed
	}
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z07:00", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
