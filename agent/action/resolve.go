package action

import (
	"encoding/json"
	"fmt"
	"math"
	"net/mail"
	"strconv"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/contract"
	"github.com/tanpawarit/Chative-Scheduling-Assistant/agent/disambiguate"
	statex "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/state"
	calcomx "github.com/tanpawarit/Chative-Scheduling-Assistant/pkg/calcom"
	"github.com/tanpawarit/Chative-Scheduling-Assistant/pkg/model"
)

type ResolverConfig struct {
	// IdentityFallback fills a missing attendee email/name from the session's
	// default identity. Off means every booking must name its attendee.
	IdentityFallback   bool
	DefaultEventTypeID int64
}

// Session is the slice of conversation state the resolver reads.
type Session struct {
	Identity *statex.Identity
	Location *time.Location
	Snapshot *statex.BookingsSnapshot
	Now      time.Time
}

func SessionFrom(st *statex.ConversationState, now time.Time) Session {
	return Session{
		Identity: st.DefaultIdentity,
		Location: st.Location(),
		Snapshot: st.LastBookings,
		Now:      now,
	}
}

type Resolver struct {
	registry      *Registry
	disambiguator *disambiguate.Disambiguator
	cfg           ResolverConfig
}

func NewResolver(registry *Registry, d *disambiguate.Disambiguator, cfg ResolverConfig) *Resolver {
	if registry == nil {
		registry = NewRegistry()
	}
	if d == nil {
		d = disambiguate.New()
	}
	return &Resolver{registry: registry, disambiguator: d, cfg: cfg}
}

// Resolve validates req against the registry and resolves it into a typed
// action. Errors are *ValidationError, *AmbiguousError or wrap
// ErrReferenceNotFound; none of them involve a network call.
func (r *Resolver) Resolve(req contractx.ActionRequest, sess Session) (Action, error) {
	spec, ok := r.registry.Lookup(req.Name)
	if !ok {
		return nil, invalid(Name(req.Name), "", "is not a known action")
	}
	if sess.Location == nil {
		sess.Location = time.UTC
	}
	if sess.Now.IsZero() {
		sess.Now = time.Now()
	}
	p := params{spec: spec, raw: req.RawParameters}

	switch spec.Name {
	case ListEventTypes:
		return ListEventTypesAction{}, nil
	case ListAvailableSlots:
		return r.resolveSlots(p, sess)
	case ListBookings:
		return r.resolveListBookings(p, sess)
	case CreateBooking:
		return r.resolveCreate(p, sess)
	case CancelBooking:
		uid, booking, err := r.resolveTarget(p, sess)
		if err != nil {
			return nil, err
		}
		reason, err := p.str("reason")
		if err != nil {
			return nil, err
		}
		return CancelBookingAction{BookingUID: uid, Reason: reason, Booking: booking}, nil
	case RescheduleBooking:
		newStart, err := p.instant("new_start_time", sess.Location)
		if err != nil {
			return nil, err
		}
		if newStart.IsZero() {
			return nil, invalid(spec.Name, "new_start_time", "is required")
		}
		if !newStart.After(sess.Now) {
			return nil, invalid(spec.Name, "new_start_time", "is in the past")
		}
		uid, booking, err := r.resolveTarget(p, sess)
		if err != nil {
			return nil, err
		}
		reason, err := p.str("reason")
		if err != nil {
			return nil, err
		}
		return RescheduleBookingAction{BookingUID: uid, NewStart: newStart, Reason: reason, Booking: booking, Location: sess.Location}, nil
	default:
		return nil, invalid(spec.Name, "", "has no resolver")
	}
}

func (r *Resolver) resolveSlots(p params, sess Session) (Action, error) {
	eventTypeID, err := r.eventType(p)
	if err != nil {
		return nil, err
	}

	day, err := p.date("date", sess.Location)
	if err != nil {
		return nil, err
	}
	start, err := p.instant("start_time", sess.Location)
	if err != nil {
		return nil, err
	}
	end, err := p.instant("end_time", sess.Location)
	if err != nil {
		return nil, err
	}

	switch {
	case !day.IsZero():
		start, end = day, day.AddDate(0, 0, 1)
	case start.IsZero():
		return nil, invalid(ListAvailableSlots, "date", "or start_time is required")
	case end.IsZero():
		end = start.Add(24 * time.Hour)
	}
	if !end.After(start) {
		return nil, invalid(ListAvailableSlots, "end_time", "must be after start_time")
	}
	return ListAvailableSlotsAction{EventTypeID: eventTypeID, Start: start, End: end, Location: sess.Location}, nil
}

func (r *Resolver) resolveListBookings(p params, sess Session) (Action, error) {
	email, err := p.str("attendee_email")
	if err != nil {
		return nil, err
	}
	if email == "" && r.cfg.IdentityFallback && sess.Identity != nil {
		email = strings.TrimSpace(sess.Identity.Email)
	}
	status, err := p.str("status")
	if err != nil {
		return nil, err
	}
	if status == "" {
		status = "upcoming"
	}
	if param, _ := p.spec.Param("status"); !contains(param.Enum, status) {
		return nil, invalid(ListBookings, "status", "must be one of %s", strings.Join(param.Enum, ", "))
	}

	q := calcomx.BookingQuery{AttendeeEmail: email, Status: status}
	after, err := p.date("after_date", sess.Location)
	if err != nil {
		return nil, err
	}
	if !after.IsZero() {
		q.AfterStart = &after
	}
	before, err := p.date("before_date", sess.Location)
	if err != nil {
		return nil, err
	}
	if !before.IsZero() {
		end := before.AddDate(0, 0, 1)
		q.BeforeStart = &end
	}
	return ListBookingsAction{Query: q, Location: sess.Location}, nil
}

func (r *Resolver) resolveCreate(p params, sess Session) (Action, error) {
	eventTypeID, err := r.eventType(p)
	if err != nil {
		return nil, err
	}
	start, err := p.instant("start_time", sess.Location)
	if err != nil {
		return nil, err
	}
	if start.IsZero() {
		return nil, invalid(CreateBooking, "start_time", "is required")
	}
	if !start.After(sess.Now) {
		return nil, invalid(CreateBooking, "start_time", "is in the past")
	}

	name, err := p.str("attendee_name")
	if err != nil {
		return nil, err
	}
	email, err := p.str("attendee_email")
	if err != nil {
		return nil, err
	}
	if r.cfg.IdentityFallback && sess.Identity != nil {
		if email == "" {
			email = strings.TrimSpace(sess.Identity.Email)
		}
		if name == "" {
			name = strings.TrimSpace(sess.Identity.Name)
		}
	}
	if email == "" {
		return nil, invalid(CreateBooking, "attendee_email", "is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, invalid(CreateBooking, "attendee_email", "is not a valid email address")
	}
	if name == "" {
		return nil, invalid(CreateBooking, "attendee_name", "is required")
	}

	tz, err := p.str("attendee_timezone")
	if err != nil {
		return nil, err
	}
	if tz != "" {
		if _, err := statex.LoadLocation(tz); err != nil {
			return nil, invalid(CreateBooking, "attendee_timezone", "is not a valid IANA timezone")
		}
	} else {
		tz = sess.Location.String()
	}
	reason, err := p.str("reason")
	if err != nil {
		return nil, err
	}

	return CreateBookingAction{
		Request: calcomx.CreateBookingRequest{
			EventTypeID: eventTypeID,
			Start:       start,
			Attendee:    model.Attendee{Name: name, Email: email, TimeZone: tz},
			Reason:      reason,
		},
		Location: sess.Location,
	}, nil
}

// resolveTarget finds the opaque uid of the booking a destructive action
// addresses. A numeric value is never passed through as a uid.
func (r *Resolver) resolveTarget(p params, sess Session) (string, *model.Booking, error) {
	name := p.spec.Name
	uid, err := p.str("booking_uid")
	if err != nil {
		return "", nil, err
	}
	reference, err := p.str("booking_reference")
	if err != nil {
		return "", nil, err
	}

	if uid != "" {
		if id, convErr := strconv.ParseInt(uid, 10, 64); convErr == nil {
			b, ok := sess.Snapshot.FindByID(id)
			if !ok {
				return "", nil, invalid(name, "booking_uid", "%s is a numeric id, not a booking uid; use the uid from list_bookings", uid)
			}
			uid = b.UID
		}
		b, ok := sess.Snapshot.Find(uid)
		if !ok {
			return uid, nil, nil
		}
		if b.IsCancelled() {
			return "", nil, invalid(name, "booking_uid", "refers to a booking that is already cancelled")
		}
		return uid, &b, nil
	}

	if reference == "" {
		return "", nil, invalid(name, "booking_uid", "or booking_reference is required")
	}
	if sess.Snapshot == nil {
		return "", nil, fmt.Errorf("%w: no bookings have been listed yet; call list_bookings first", ErrReferenceNotFound)
	}

	res := r.disambiguator.Resolve(reference, sess.Snapshot.Bookings, sess.Now.In(sess.Location))
	switch res.Outcome {
	case disambiguate.Match:
		b := res.Booking
		return b.UID, &b, nil
	case disambiguate.Ambiguous:
		return "", nil, &AmbiguousError{Action: name, Reference: reference, Candidates: res.Candidates}
	default:
		return "", nil, fmt.Errorf("%w: %q", ErrReferenceNotFound, reference)
	}
}

func (r *Resolver) eventType(p params) (int64, error) {
	id, err := p.integer("event_type_id")
	if err != nil {
		return 0, err
	}
	if id == 0 {
		id = r.cfg.DefaultEventTypeID
	}
	if id <= 0 {
		return 0, invalid(p.spec.Name, "event_type_id", "is required; call list_event_types to find one")
	}
	return id, nil
}

type params struct {
	spec Spec
	raw  map[string]any
}

func (p params) value(key string) (any, bool) {
	v, ok := p.raw[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (p params) str(key string) (string, error) {
	v, ok := p.value(key)
	if !ok {
		return "", nil
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case json.Number:
		return t.String(), nil
	case int, int64:
		return fmt.Sprint(t), nil
	default:
		return "", invalid(p.spec.Name, key, "must be a string")
	}
}

func (p params) integer(key string) (int64, error) {
	v, ok := p.value(key)
	if !ok {
		return 0, nil
	}
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) {
			return 0, invalid(p.spec.Name, key, "must be an integer")
		}
		return int64(t), nil
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, invalid(p.spec.Name, key, "must be an integer")
		}
		return n, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return 0, nil
		}
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, invalid(p.spec.Name, key, "must be an integer")
		}
		return n, nil
	default:
		return 0, invalid(p.spec.Name, key, "must be an integer")
	}
}

var instantLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// instant parses an ISO 8601 timestamp. Values without an offset are read in
// loc.
func (p params) instant(key string, loc *time.Location) (time.Time, error) {
	s, err := p.str(key)
	if err != nil || s == "" {
		return time.Time{}, err
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range instantLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, invalid(p.spec.Name, key, "must be an ISO 8601 timestamp, got %q", s)
}

// date parses YYYY-MM-DD as midnight in loc.
func (p params) date(key string, loc *time.Location) (time.Time, error) {
	s, err := p.str(key)
	if err != nil || s == "" {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, invalid(p.spec.Name, key, "must be a date in YYYY-MM-DD form, got %q", s)
	}
	return t, nil
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
