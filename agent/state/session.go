package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tanpawarit/Chative-Scheduling-Assistant/pkg/model"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the session transcript. Order is significant.
type Turn struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at,omitempty"`
}

type Identity struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

func (i *Identity) Empty() bool {
	return i == nil || (strings.TrimSpace(i.Email) == "" && strings.TrimSpace(i.Name) == "")
}

// BookingsSnapshot is the most recent list-bookings result. It is the only
// source the booking reference resolver matches against.
type BookingsSnapshot struct {
	Bookings  []model.Booking `json:"bookings"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Find returns the snapshot booking with the given uid.
func (s *BookingsSnapshot) Find(uid string) (model.Booking, bool) {
	if s == nil {
		return model.Booking{}, false
	}
	for _, b := range s.Bookings {
		if b.UID == uid {
			return b, true
		}
	}
	return model.Booking{}, false
}

// FindByID maps a service-internal numeric id to its booking.
func (s *BookingsSnapshot) FindByID(id int64) (model.Booking, bool) {
	if s == nil || id == 0 {
		return model.Booking{}, false
	}
	for _, b := range s.Bookings {
		if b.ID == id {
			return b, true
		}
	}
	return model.Booking{}, false
}

// ResolvedParameters is the fully resolved argument set of a destructive
// action. It is executed verbatim once the user confirms.
type ResolvedParameters struct {
	BookingUID string     `json:"booking_uid"`
	NewStart   *time.Time `json:"new_start,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

type PendingConfirmation struct {
	Action      string             `json:"action"`
	Parameters  ResolvedParameters `json:"parameters"`
	Booking     *model.Booking     `json:"booking,omitempty"`
	RequestedAt time.Time          `json:"requested_at"`
}

// ConversationState is the per-session record threaded through every turn.
type ConversationState struct {
	SessionID string `json:"session_id"`

	Turns           []Turn               `json:"turns,omitempty"`
	DefaultIdentity *Identity            `json:"default_identity,omitempty"`
	TimeZone        string               `json:"timezone,omitempty"`
	LastBookings    *BookingsSnapshot    `json:"last_bookings,omitempty"`
	Pending         *PendingConfirmation `json:"pending,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	ErrInvalidTimeZone = errors.New("invalid timezone")
	ErrInvalidTurn     = errors.New("invalid turn")
)

func NewConversationState(sessionID string, now time.Time) *ConversationState {
	return &ConversationState{
		SessionID: sessionID,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

func (s *ConversationState) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

func (s *ConversationState) AppendTurn(role Role, content string, now time.Time) {
	s.Turns = append(s.Turns, Turn{Role: role, Content: content, At: now.UTC()})
}

// Location is the user's assumed timezone, UTC when unknown or invalid.
func (s *ConversationState) Location() *time.Location {
	if s == nil {
		return time.UTC
	}
	if loc, err := LoadLocation(s.TimeZone); err == nil {
		return loc
	}
	return time.UTC
}

func (s *ConversationState) SetSnapshot(bookings []model.Booking, now time.Time) {
	cp := make([]model.Booking, len(bookings))
	copy(cp, bookings)
	model.SortBookingsByStart(cp)
	s.LastBookings = &BookingsSnapshot{Bookings: cp, FetchedAt: now.UTC()}
}

// MarkCancelled flags a snapshot booking as cancelled so it is no longer a
// disambiguation candidate.
func (s *ConversationState) MarkCancelled(uid string) {
	if s.LastBookings == nil {
		return
	}
	for i := range s.LastBookings.Bookings {
		if s.LastBookings.Bookings[i].UID == uid {
			s.LastBookings.Bookings[i].Status = model.BookingCancelled
		}
	}
}

// ReplaceBooking swaps the snapshot entry for uid with b. A reschedule issues
// a new uid, so the old one must stop resolving.
func (s *ConversationState) ReplaceBooking(uid string, b model.Booking) {
	if s.LastBookings == nil {
		return
	}
	for i := range s.LastBookings.Bookings {
		if s.LastBookings.Bookings[i].UID == uid {
			s.LastBookings.Bookings[i] = b
		}
	}
	model.SortBookingsByStart(s.LastBookings.Bookings)
}

func (s *ConversationState) SetPending(p PendingConfirmation) {
	s.Pending = &p
}

func (s *ConversationState) ClearPending() {
	s.Pending = nil
}

// SetIdentity merges non-empty fields into the default identity.
func (s *ConversationState) SetIdentity(email, name string) {
	email = strings.TrimSpace(email)
	name = strings.TrimSpace(name)
	if email == "" && name == "" {
		return
	}
	if s.DefaultIdentity == nil {
		s.DefaultIdentity = &Identity{}
	}
	if email != "" {
		s.DefaultIdentity.Email = email
	}
	if name != "" {
		s.DefaultIdentity.Name = name
	}
}

// Clone returns a deep copy, so a turn can work on its own copy and be
// discarded without touching the caller's state.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	cp := *s
	if s.Turns != nil {
		cp.Turns = make([]Turn, len(s.Turns))
		copy(cp.Turns, s.Turns)
	}
	if s.DefaultIdentity != nil {
		id := *s.DefaultIdentity
		cp.DefaultIdentity = &id
	}
	if s.LastBookings != nil {
		snap := BookingsSnapshot{FetchedAt: s.LastBookings.FetchedAt}
		snap.Bookings = make([]model.Booking, len(s.LastBookings.Bookings))
		copy(snap.Bookings, s.LastBookings.Bookings)
		cp.LastBookings = &snap
	}
	if s.Pending != nil {
		p := *s.Pending
		if s.Pending.Parameters.NewStart != nil {
			ns := *s.Pending.Parameters.NewStart
			p.Parameters.NewStart = &ns
		}
		if s.Pending.Booking != nil {
			b := *s.Pending.Booking
			p.Booking = &b
		}
		cp.Pending = &p
	}
	return &cp
}

func (s *ConversationState) Validate() error {
	if s == nil {
		return ErrNilSessionState
	}
	if strings.TrimSpace(s.SessionID) == "" {
		return ErrInvalidSession
	}
	if s.TimeZone != "" {
		if _, err := LoadLocation(s.TimeZone); err != nil {
			return err
		}
	}
	for i, t := range s.Turns {
		if t.Role != RoleUser && t.Role != RoleAssistant {
			return fmt.Errorf("%w: turn %d has role %q", ErrInvalidTurn, i, t.Role)
		}
	}
	if s.Pending != nil && strings.TrimSpace(s.Pending.Parameters.BookingUID) == "" {
		return fmt.Errorf("%w: pending confirmation without booking uid", ErrInvalidTurn)
	}
	return nil
}

func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "utc") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimeZone, name)
	}
	return loc, nil
}
