package action

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	contractx "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/contract"
	calcomx "github.com/tanpawarit/Chative-Scheduling-Assistant/pkg/calcom"
	"github.com/tanpawarit/Chative-Scheduling-Assistant/pkg/model"
)

type fakeClient struct {
	mu         sync.Mutex
	eventTypes []model.EventType
	slots      []model.Slot
	bookings   []model.Booking
	created    model.Booking
	err        error

	cancelled   []string
	rescheduled []string
}

func (f *fakeClient) ListEventTypes(context.Context) ([]model.EventType, error) {
	return f.eventTypes, f.err
}

func (f *fakeClient) ListAvailableSlots(context.Context, int64, time.Time, time.Time) ([]model.Slot, error) {
	return append([]model.Slot(nil), f.slots...), f.err
}

func (f *fakeClient) ListBookings(context.Context, calcomx.BookingQuery) ([]model.Booking, error) {
	return append([]model.Booking(nil), f.bookings...), f.err
}

func (f *fakeClient) CreateBooking(context.Context, calcomx.CreateBookingRequest) (model.Booking, error) {
	return f.created, f.err
}

func (f *fakeClient) CancelBooking(_ context.Context, uid, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, uid)
	return f.err
}

func (f *fakeClient) RescheduleBooking(_ context.Context, uid string, newStart time.Time, _ string) (model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rescheduled = append(f.rescheduled, uid)
	if f.err != nil {
		return model.Booking{}, f.err
	}
	return model.Booking{ID: 900, UID: uid + "_moved", Start: newStart, Status: model.BookingConfirmed}, nil
}

type recordingPublisher struct {
	events []contractx.BookingEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event contractx.BookingEvent) error {
	p.events = append(p.events, event)
	return p.err
}

func TestExecuteListBookingsReturnsSnapshotWithoutNumericIDs(t *testing.T) {
	t.Parallel()

	client := &fakeClient{bookings: []model.Booking{
		{ID: 2, UID: "bk_late", Start: testNow.Add(5 * time.Hour), Status: model.BookingConfirmed},
		{ID: 1, UID: "bk_early", Start: testNow.Add(time.Hour), Status: model.BookingConfirmed},
	}}
	out := NewExecutor(client).Execute(context.Background(), "call_9", ListBookingsAction{Location: time.UTC})

	if !out.Observation.OK() || !out.Listed {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Observation.CallID != "call_9" || out.Observation.Action != "list_bookings" {
		t.Fatalf("observation = %+v", out.Observation)
	}
	if out.Bookings[0].UID != "bk_early" {
		t.Fatalf("bookings not sorted: %+v", out.Bookings)
	}
	msg := out.Observation.ToolMessage()
	if msg.ToolCallID != "call_9" {
		t.Fatalf("ToolCallID = %q", msg.ToolCallID)
	}
	if strings.Contains(msg.Content, `"id":`) {
		t.Fatalf("numeric id leaked to the oracle: %s", msg.Content)
	}
}

func TestExecuteSlotsFiltersUnavailable(t *testing.T) {
	t.Parallel()

	loc, _ := time.LoadLocation("Asia/Bangkok")
	client := &fakeClient{slots: []model.Slot{
		{Time: testNow.Add(2 * time.Hour), Available: true},
		{Time: testNow.Add(time.Hour), Available: false},
		{Time: testNow.Add(time.Hour + 30*time.Minute), Available: true},
	}}
	out := NewExecutor(client).Execute(context.Background(), "c", ListAvailableSlotsAction{EventTypeID: 7, Start: testNow, End: testNow.Add(24 * time.Hour), Location: loc})
	view, ok := out.Observation.Result.(slotsView)
	if !ok {
		t.Fatalf("unexpected result type: %T", out.Observation.Result)
	}
	want := []string{"2026-10-19T17:30:00+07:00", "2026-10-19T18:00:00+07:00"}
	if len(view.Available) != len(want) || view.Available[0] != want[0] || view.Available[1] != want[1] {
		t.Fatalf("available = %v, want %v", view.Available, want)
	}
}

func TestExecuteFailureBecomesObservation(t *testing.T) {
	t.Parallel()

	client := &fakeClient{err: fmt.Errorf("%w: slot taken", calcomx.ErrSlotUnavailable)}
	out := NewExecutor(client).Execute(context.Background(), "c", CreateBookingAction{})

	if out.Observation.OK() {
		t.Fatal("failure must not be OK")
	}
	if out.Observation.ErrorKind != contractx.ErrorKindSlotUnavailable {
		t.Fatalf("ErrorKind = %s", out.Observation.ErrorKind)
	}
	if out.Observation.Result != nil {
		t.Fatalf("failed observation carries a result: %v", out.Observation.Result)
	}
}

func TestExecutePublishesMutations(t *testing.T) {
	t.Parallel()

	client := &fakeClient{created: model.Booking{UID: "bk_new", Start: testNow.Add(time.Hour)}}
	pub := &recordingPublisher{}
	exec := NewExecutor(client, WithPublisher(pub), withExecutorClock(func() time.Time { return testNow }))

	exec.Execute(context.Background(), "c1", CreateBookingAction{Request: calcomx.CreateBookingRequest{Reason: "intro"}})
	exec.Execute(context.Background(), "c2", CancelBookingAction{BookingUID: "bk_old"})
	out := exec.Execute(context.Background(), "c3", RescheduleBookingAction{BookingUID: "bk_mv", NewStart: testNow.Add(48 * time.Hour)})
	exec.Execute(context.Background(), "c4", ListEventTypesAction{})

	if len(pub.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(pub.events))
	}
	if pub.events[0].Type != contractx.BookingCreated || pub.events[0].BookingUID != "bk_new" || pub.events[0].Reason != "intro" {
		t.Fatalf("created event = %+v", pub.events[0])
	}
	if pub.events[1].Type != contractx.BookingCancelled || pub.events[1].BookingUID != "bk_old" {
		t.Fatalf("cancelled event = %+v", pub.events[1])
	}
	if pub.events[2].PreviousUID != "bk_mv" || pub.events[2].BookingUID != "bk_mv_moved" || !pub.events[2].OccurredAt.Equal(testNow) {
		t.Fatalf("rescheduled event = %+v", pub.events[2])
	}
	if view := out.Observation.Result.(rescheduledView); view.Booking.UID != "bk_mv_moved" {
		t.Fatalf("reschedule view = %+v", view)
	}
}

func TestExecutePublishFailureDoesNotFailAction(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	pub := &recordingPublisher{err: errors.New("queue down")}
	out := NewExecutor(client, WithPublisher(pub)).Execute(context.Background(), "c", CancelBookingAction{BookingUID: "bk_1"})
	if !out.Observation.OK() {
		t.Fatalf("observation = %+v", out.Observation)
	}
	if len(client.cancelled) != 1 || client.cancelled[0] != "bk_1" {
		t.Fatalf("cancelled = %v", client.cancelled)
	}
}
