package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tanpawarit/Chative-Scheduling-Assistant/agent/action"
	contractx "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/contract"
	nodex "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/nodes"
	statex "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/state"
	calcomx "github.com/tanpawarit/Chative-Scheduling-Assistant/pkg/calcom"
	"github.com/tanpawarit/Chative-Scheduling-Assistant/pkg/model"
)

var testNow = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

type oracleStep struct {
	resp contractx.OracleResponse
	err  error
	// before runs ahead of the step, e.g. to cancel the turn context.
	before func()
}

type scriptedOracle struct {
	mu       sync.Mutex
	steps    []oracleStep
	requests []contractx.OracleRequest
}

func (f *scriptedOracle) Next(ctx context.Context, req contractx.OracleRequest) (contractx.OracleResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cp := req
	cp.Messages = append([]contractx.Message(nil), req.Messages...)
	f.requests = append(f.requests, cp)

	if len(f.steps) == 0 {
		return contractx.OracleResponse{Text: "Is there anything else?"}, nil
	}
	step := f.steps[0]
	f.steps = f.steps[1:]
	if step.before != nil {
		step.before()
	}
	if step.err != nil {
		return contractx.OracleResponse{}, step.err
	}
	if err := ctx.Err(); err != nil {
		return contractx.OracleResponse{}, err
	}
	return step.resp, nil
}

func (f *scriptedOracle) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func request(callID, name string, params map[string]any) contractx.OracleResponse {
	return contractx.OracleResponse{Requests: []contractx.ActionRequest{{CallID: callID, Name: name, RawParameters: params}}}
}

func text(s string) oracleStep {
	return oracleStep{resp: contractx.OracleResponse{Text: s}}
}

func step(resp contractx.OracleResponse) oracleStep {
	return oracleStep{resp: resp}
}

type cancelCall struct {
	uid    string
	reason string
}

type fakeScheduling struct {
	mu       sync.Mutex
	bookings []model.Booking

	createReqs  []calcomx.CreateBookingRequest
	cancels     []cancelCall
	reschedules []string
	queries     []calcomx.BookingQuery
}

func (f *fakeScheduling) ListEventTypes(context.Context) ([]model.EventType, error) {
	return []model.EventType{{ID: 7, Title: "30 min", DurationMinutes: 30, Bookable: true}}, nil
}

func (f *fakeScheduling) ListAvailableSlots(_ context.Context, _ int64, start, _ time.Time) ([]model.Slot, error) {
	return []model.Slot{{Time: start.Add(6 * time.Hour), Available: true}}, nil
}

func (f *fakeScheduling) ListBookings(_ context.Context, q calcomx.BookingQuery) ([]model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return append([]model.Booking(nil), f.bookings...), nil
}

func (f *fakeScheduling) CreateBooking(_ context.Context, req calcomx.CreateBookingRequest) (model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createReqs = append(f.createReqs, req)
	return model.Booking{
		ID:       5001,
		UID:      "bk_new",
		Title:    "Project kickoff",
		Start:    req.Start,
		End:      req.Start.Add(30 * time.Minute),
		Attendee: req.Attendee,
		Reason:   req.Reason,
		Status:   model.BookingConfirmed,
	}, nil
}

func (f *fakeScheduling) CancelBooking(_ context.Context, uid, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, cancelCall{uid: uid, reason: reason})
	return nil
}

func (f *fakeScheduling) RescheduleBooking(_ context.Context, uid string, newStart time.Time, _ string) (model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reschedules = append(f.reschedules, uid)
	return model.Booking{UID: uid + "_r", Title: "Moved", Start: newStart, Status: model.BookingConfirmed}, nil
}

type fakeStore struct {
	loadState *statex.ConversationState
	loadErr   error
	saveErr   error
	saved     []*statex.ConversationState
	deleted   []string
}

func (f *fakeStore) Load(context.Context, string) (*statex.ConversationState, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if f.loadState == nil {
		return nil, statex.ErrStateNotFound
	}
	return f.loadState.Clone(), nil
}

func (f *fakeStore) Save(_ context.Context, st *statex.ConversationState) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, st.Clone())
	return nil
}

func (f *fakeStore) Delete(_ context.Context, sessionID string) error {
	f.deleted = append(f.deleted, sessionID)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []contractx.BookingEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event contractx.BookingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func twoAfternoonBookings() []model.Booking {
	day := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	return []model.Booking{
		{ID: 4821, UID: "bk_design", Title: "Design review", Start: day.Add(14 * time.Hour), Status: model.BookingConfirmed},
		{ID: 4822, UID: "bk_oneonone", Title: "1:1 with Sam", Start: day.Add(14*time.Hour + 15*time.Minute), Status: model.BookingConfirmed},
	}
}

func newTestOrchestrator(
	t *testing.T,
	oracle contractx.Oracle,
	client contractx.SchedulingClient,
	store statex.Store,
	cfg Config,
	opts ...Option,
) *Orchestrator {
	t.Helper()

	opts = append(opts, withClock(func() time.Time { return testNow }))
	o, err := New(oracle, client, store, cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return o
}

func lastToolMessage(msgs []contractx.Message) (contractx.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == contractx.RoleTool {
			return msgs[i], true
		}
	}
	return contractx.Message{}, false
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, &fakeScheduling{}, nil, Config{}); err == nil {
		t.Fatal("New() without oracle should fail")
	}
	if _, err := New(&scriptedOracle{}, nil, nil, Config{}); err == nil {
		t.Fatal("New() without scheduling client should fail")
	}
	if _, err := New(&scriptedOracle{}, &fakeScheduling{}, nil, Config{DefaultTimeZone: "Mars/Olympus"}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("New() error = %v, want ErrValidation", err)
	}
}

func TestHandleMessageInvalidInput(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(t, &scriptedOracle{}, &fakeScheduling{}, &fakeStore{}, Config{})

	_, err := o.HandleMessage(context.Background(), MessageRequest{SessionID: "   ", Text: "  "})
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("HandleMessage() error = %v, want ErrInvalidMessage", err)
	}

	_, err = o.HandleMessage(context.Background(), MessageRequest{SessionID: "s1", Text: "   "})
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("HandleMessage() error = %v, want ErrInvalidMessage", err)
	}

	_, err = o.HandleMessage(context.Background(), MessageRequest{SessionID: "s1", Text: "hi", TimeZone: "Not/AZone"})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("HandleMessage() error = %v, want ErrValidation", err)
	}
}

func TestHandleTurnCreatesBookingWithExactFields(t *testing.T) {
	t.Parallel()

	oracle := &scriptedOracle{steps: []oracleStep{
		step(request("call_1", string(action.CreateBooking), map[string]any{
			"event_type_id":  float64(7),
			"start_time":     "2026-10-20T15:00:00Z",
			"attendee_name":  "Jane Doe",
			"attendee_email": "jane@example.com",
			"reason":         "Project kickoff",
		})),
		text("Booked: Project kickoff on Tue, Oct 20 at 15:00 UTC."),
	}}
	client := &fakeScheduling{}
	pub := &recordingPublisher{}
	o := newTestOrchestrator(t, oracle, client, nil, Config{}, WithPublisher(pub))

	st := statex.NewConversationState("s1", testNow)
	res, err := o.HandleTurn(context.Background(), st,
		"Book a 30-minute meeting tomorrow at 3pm UTC for Jane Doe, jane@example.com, about Project kickoff")
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}

	if len(client.createReqs) != 1 {
		t.Fatalf("create calls = %d, want 1", len(client.createReqs))
	}
	got := client.createReqs[0]
	if got.EventTypeID != 7 ||
		!got.Start.Equal(time.Date(2026, 10, 20, 15, 0, 0, 0, time.UTC)) ||
		got.Attendee.Name != "Jane Doe" ||
		got.Attendee.Email != "jane@example.com" ||
		got.Reason != "Project kickoff" {
		t.Fatalf("unexpected create request: %+v", got)
	}
	if !strings.Contains(res.Reply, "15:00") {
		t.Fatalf("reply = %q, want the booked time", res.Reply)
	}

	if oracle.calls() != 2 {
		t.Fatalf("oracle calls = %d, want 2", oracle.calls())
	}
	obs, ok := lastToolMessage(oracle.requests[1].Messages)
	if !ok || obs.ToolCallID != "call_1" || !strings.Contains(obs.Content, "bk_new") {
		t.Fatalf("observation not fed back: %+v", obs)
	}
	if strings.Contains(obs.Content, "5001") {
		t.Fatalf("numeric id leaked into observation: %s", obs.Content)
	}

	if len(st.Turns) != 0 {
		t.Fatalf("input state modified: %+v", st.Turns)
	}
	if len(res.State.Turns) != 2 || res.State.Turns[1].Role != statex.RoleAssistant || res.State.Turns[1].Content != res.Reply {
		t.Fatalf("unexpected turns: %+v", res.State.Turns)
	}
	if len(pub.events) != 1 || pub.events[0].Type != contractx.BookingCreated || pub.events[0].BookingUID != "bk_new" {
		t.Fatalf("unexpected events: %+v", pub.events)
	}
}

func TestHandleMessageAmbiguousReferenceAsksForClarification(t *testing.T) {
	t.Parallel()

	oracle := &scriptedOracle{steps: []oracleStep{
		step(request("call_list", string(action.ListBookings), map[string]any{})),
		step(request("call_cancel", string(action.CancelBooking), map[string]any{
			"booking_reference": "my 2pm meeting today",
		})),
	}}
	client := &fakeScheduling{bookings: twoAfternoonBookings()}
	store := statex.NewMemoryStore()
	o := newTestOrchestrator(t, oracle, client, store, Config{})

	res, err := o.HandleMessage(context.Background(), MessageRequest{
		SessionID: "s1",
		Text:      "Cancel my 2pm meeting today",
		Email:     "jane@example.com",
	})
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	if len(client.cancels) != 0 {
		t.Fatalf("cancel calls = %d, want 0", len(client.cancels))
	}
	for _, uid := range []string{"bk_design", "bk_oneonone"} {
		if !strings.Contains(res.Reply, uid) {
			t.Fatalf("reply %q does not list %s", res.Reply, uid)
		}
	}
	if res.State.Pending != nil {
		t.Fatalf("ambiguous reference must not leave a pending action: %+v", res.State.Pending)
	}
	if len(client.queries) != 1 || client.queries[0].AttendeeEmail != "jane@example.com" {
		t.Fatalf("list bookings did not default to the session email: %+v", client.queries)
	}

	saved, err := store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if saved.LastBookings == nil || len(saved.LastBookings.Bookings) != 2 {
		t.Fatalf("snapshot not persisted: %+v", saved.LastBookings)
	}
}

func TestHandleMessageCancelRequiresConfirmation(t *testing.T) {
	t.Parallel()

	oracle := &scriptedOracle{steps: []oracleStep{
		step(request("call_list", string(action.ListBookings), map[string]any{})),
		step(request("call_cancel", string(action.CancelBooking), map[string]any{
			"booking_uid": "4821",
			"reason":      "conflict",
		})),
		// Second turn: the oracle repeats the already executed request.
		step(request("call_again", string(action.CancelBooking), map[string]any{
			"booking_uid": "bk_design",
			"reason":      "conflict",
		})),
		text("Your design review is cancelled."),
	}}
	client := &fakeScheduling{bookings: twoAfternoonBookings()}
	store := statex.NewMemoryStore()
	o := newTestOrchestrator(t, oracle, client, store, Config{})
	ctx := context.Background()

	first, err := o.HandleMessage(ctx, MessageRequest{SessionID: "s1", Text: "Cancel the design review", Email: "jane@example.com"})
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if len(client.cancels) != 0 {
		t.Fatalf("cancelled before confirmation: %+v", client.cancels)
	}
	if first.State.Pending == nil || first.State.Pending.Parameters.BookingUID != "bk_design" {
		t.Fatalf("pending = %+v, want bk_design", first.State.Pending)
	}
	if !strings.Contains(first.Reply, "Design review") {
		t.Fatalf("confirmation reply = %q", first.Reply)
	}

	second, err := o.HandleMessage(ctx, MessageRequest{SessionID: "s1", Text: "yes"})
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if len(client.cancels) != 1 {
		t.Fatalf("cancel calls = %d, want 1", len(client.cancels))
	}
	if got := client.cancels[0]; got.uid != "bk_design" || got.reason != "conflict" {
		t.Fatalf("cancel call = %+v, want bk_design/conflict", got)
	}
	if second.State.Pending != nil {
		t.Fatalf("pending not cleared: %+v", second.State.Pending)
	}
	b, ok := second.State.LastBookings.Find("bk_design")
	if !ok || !b.IsCancelled() {
		t.Fatalf("snapshot booking not marked cancelled: %+v", b)
	}
	if second.Reply != "Your design review is cancelled." {
		t.Fatalf("reply = %q", second.Reply)
	}

	obs, ok := lastToolMessage(oracle.requests[len(oracle.requests)-1].Messages)
	if !ok || !strings.Contains(obs.Content, "already cancelled") {
		t.Fatalf("repeat request not rejected: %+v", obs)
	}
}

func TestHandleMessageDeclinedConfirmationClearsPending(t *testing.T) {
	t.Parallel()

	pendingState := statex.NewConversationState("s1", testNow)
	pendingState.SetSnapshot(twoAfternoonBookings(), testNow)
	pendingState.SetPending(statex.PendingConfirmation{
		Action:      string(action.CancelBooking),
		Parameters:  statex.ResolvedParameters{BookingUID: "bk_design"},
		RequestedAt: testNow,
	})
	oracle := &scriptedOracle{steps: []oracleStep{text("Okay, I kept it.")}}
	client := &fakeScheduling{}
	store := &fakeStore{loadState: pendingState}
	o := newTestOrchestrator(t, oracle, client, store, Config{})

	res, err := o.HandleMessage(context.Background(), MessageRequest{SessionID: "s1", Text: "no, keep it"})
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if len(client.cancels) != 0 {
		t.Fatalf("cancel executed after denial: %+v", client.cancels)
	}
	if res.State.Pending != nil {
		t.Fatalf("pending not cleared: %+v", res.State.Pending)
	}
	if len(store.saved) != 1 || store.saved[0].Pending != nil {
		t.Fatalf("saved state still pending: %+v", store.saved)
	}
}

func TestHandleTurnUnknownActionBecomesObservation(t *testing.T) {
	t.Parallel()

	oracle := &scriptedOracle{steps: []oracleStep{
		step(request("call_x", "delete_everything", nil)),
		text("I can't do that."),
	}}
	o := newTestOrchestrator(t, oracle, &fakeScheduling{}, nil, Config{})

	res, err := o.HandleTurn(context.Background(), statex.NewConversationState("s1", testNow), "wipe my calendar")
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if res.Reply != "I can't do that." {
		t.Fatalf("reply = %q", res.Reply)
	}
	obs, ok := lastToolMessage(oracle.requests[1].Messages)
	if !ok || obs.ToolCallID != "call_x" || !strings.Contains(obs.Content, string(contractx.ErrorKindValidation)) {
		t.Fatalf("unexpected observation: %+v", obs)
	}
}

func TestHandleTurnStopsAtIterationBudget(t *testing.T) {
	t.Parallel()

	steps := make([]oracleStep, 0, 10)
	for i := 0; i < 10; i++ {
		steps = append(steps, step(request("call_loop", string(action.ListEventTypes), nil)))
	}
	oracle := &scriptedOracle{steps: steps}
	o := newTestOrchestrator(t, oracle, &fakeScheduling{}, nil, Config{MaxIterations: 3})

	res, err := o.HandleTurn(context.Background(), statex.NewConversationState("s1", testNow), "what can I book?")
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if oracle.calls() != 3 {
		t.Fatalf("oracle calls = %d, want 3", oracle.calls())
	}
	if res.Reply != nodex.LoopExhaustedReply {
		t.Fatalf("reply = %q, want loop exhausted reply", res.Reply)
	}
}

func TestHandleTurnOracleFailureApologises(t *testing.T) {
	t.Parallel()

	oracle := &scriptedOracle{steps: []oracleStep{{err: contractx.ErrModelInvoke}}}
	o := newTestOrchestrator(t, oracle, &fakeScheduling{}, nil, Config{})

	res, err := o.HandleTurn(context.Background(), statex.NewConversationState("s1", testNow), "hello")
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if res.Reply != nodex.ApologyReply {
		t.Fatalf("reply = %q, want apology", res.Reply)
	}
	if len(res.State.Turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(res.State.Turns))
	}
}

func TestHandleMessageCancelledContextLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prior := statex.NewConversationState("s1", testNow)
	prior.AppendTurn(statex.RoleUser, "hi", testNow)
	prior.AppendTurn(statex.RoleAssistant, "Hello!", testNow)

	oracle := &scriptedOracle{steps: []oracleStep{{before: cancel, resp: contractx.OracleResponse{Text: "late"}}}}
	store := &fakeStore{loadState: prior}
	o := newTestOrchestrator(t, oracle, &fakeScheduling{}, store, Config{})

	_, err := o.HandleMessage(ctx, MessageRequest{SessionID: "s1", Text: "list my bookings"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("HandleMessage() error = %v, want context.Canceled", err)
	}
	if len(store.saved) != 0 {
		t.Fatalf("state saved after cancellation: %+v", store.saved)
	}
	if len(prior.Turns) != 2 {
		t.Fatalf("prior state modified: %+v", prior.Turns)
	}
}

func TestHandleTurnIdentityFallback(t *testing.T) {
	t.Parallel()

	newOracle := func() *scriptedOracle {
		return &scriptedOracle{steps: []oracleStep{
			step(request("call_1", string(action.CreateBooking), map[string]any{
				"event_type_id": float64(7),
				"start_time":    "2026-10-20T15:00:00Z",
			})),
			text("done"),
		}}
	}
	st := statex.NewConversationState("s1", testNow)
	st.SetIdentity("jane@example.com", "Jane Doe")

	client := &fakeScheduling{}
	o := newTestOrchestrator(t, newOracle(), client, nil, Config{})
	if _, err := o.HandleTurn(context.Background(), st, "book 3pm tomorrow"); err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if len(client.createReqs) != 1 || client.createReqs[0].Attendee.Email != "jane@example.com" || client.createReqs[0].Attendee.Name != "Jane Doe" {
		t.Fatalf("identity fallback not applied: %+v", client.createReqs)
	}

	strict := &fakeScheduling{}
	oracle := newOracle()
	o = newTestOrchestrator(t, oracle, strict, nil, Config{DisableIdentityFallback: true})
	if _, err := o.HandleTurn(context.Background(), st, "book 3pm tomorrow"); err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if len(strict.createReqs) != 0 {
		t.Fatalf("create executed without attendee: %+v", strict.createReqs)
	}
	obs, ok := lastToolMessage(oracle.requests[1].Messages)
	if !ok || !strings.Contains(obs.Content, "attendee_email") {
		t.Fatalf("missing attendee not reported: %+v", obs)
	}
}

func TestConfigRegistryFollowsIdentityFallback(t *testing.T) {
	t.Parallel()

	requiredOf := func(cfg Config) []string {
		reg := cfg.Registry()
		spec, _ := reg.Lookup(string(action.CreateBooking))
		required, _ := reg.JSONSchema(spec)["required"].([]string)
		return required
	}

	if got := requiredOf(Config{}); len(got) != 1 || got[0] != "start_time" {
		t.Fatalf("default required = %v, want only start_time", got)
	}
	if got := requiredOf(Config{DisableIdentityFallback: true}); len(got) != 3 {
		t.Fatalf("strict required = %v, want attendee fields too", got)
	}
}

func TestHandleMessageTranscriptSessionCarriesConfirmation(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	client := &fakeScheduling{bookings: []model.Booking{
		{ID: 4821, UID: "bk_sync", Title: "Project sync", Start: day.Add(14 * time.Hour), Status: model.BookingConfirmed},
		{ID: 4822, UID: "bk_late", Title: "Retro", Start: day.Add(17 * time.Hour), Status: model.BookingConfirmed},
	}}
	oracle := &scriptedOracle{steps: []oracleStep{
		step(request("call_list", string(action.ListBookings), map[string]any{})),
		step(request("call_cancel", string(action.CancelBooking), map[string]any{"booking_reference": "my 2pm meeting today"})),
		text("Done, your 2pm project sync is cancelled."),
	}}
	store := statex.NewMemoryStore()
	o := newTestOrchestrator(t, oracle, client, store, Config{})
	ctx := context.Background()

	first, err := o.HandleMessage(ctx, MessageRequest{Text: "cancel my 2pm meeting today", Email: "jane@example.com"})
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if first.State.Pending == nil {
		t.Fatal("first turn did not ask for confirmation")
	}
	if first.SessionID != TranscriptSessionID("jane@example.com", first.State.Turns) {
		t.Fatalf("session id = %q, want transcript key", first.SessionID)
	}

	second, err := o.HandleMessage(ctx, MessageRequest{
		Text:       "yes",
		Email:      "jane@example.com",
		PriorTurns: first.State.Turns,
	})
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if len(client.cancels) != 1 || client.cancels[0].uid != "bk_sync" {
		t.Fatalf("cancel calls = %+v, want exactly bk_sync", client.cancels)
	}
	if second.Reply != "Done, your 2pm project sync is cancelled." {
		t.Fatalf("reply = %q", second.Reply)
	}
	if second.SessionID == first.SessionID {
		t.Fatal("session key did not follow the transcript")
	}
	if _, err := store.Load(ctx, first.SessionID); !errors.Is(err, statex.ErrStateNotFound) {
		t.Fatalf("Load(superseded) error = %v, want ErrStateNotFound", err)
	}
	if _, err := store.Load(ctx, second.SessionID); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// A different identity with the same transcript does not see the session.
	if TranscriptSessionID("other@example.com", first.State.Turns) == first.SessionID {
		t.Fatal("transcript key ignores the email")
	}
}

func TestHandleMessageConfirmedActionIsCheckpointed(t *testing.T) {
	t.Parallel()

	turnCtx, cancelTurn := context.WithCancel(context.Background())
	defer cancelTurn()

	oracle := &scriptedOracle{steps: []oracleStep{
		step(request("call_list", string(action.ListBookings), map[string]any{})),
		step(request("call_cancel", string(action.CancelBooking), map[string]any{"booking_uid": "bk_design"})),
		{before: cancelTurn, resp: contractx.OracleResponse{Text: "late"}},
	}}
	client := &fakeScheduling{bookings: twoAfternoonBookings()}
	store := statex.NewMemoryStore()
	o := newTestOrchestrator(t, oracle, client, store, Config{})

	if _, err := o.HandleMessage(context.Background(), MessageRequest{SessionID: "s1", Text: "cancel the design review"}); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	_, err := o.HandleMessage(turnCtx, MessageRequest{SessionID: "s1", Text: "yes"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("HandleMessage() error = %v, want context.Canceled", err)
	}
	if len(client.cancels) != 1 {
		t.Fatalf("cancel calls = %d, want 1", len(client.cancels))
	}

	st, err := store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if st.Pending != nil {
		t.Fatalf("pending survived the confirmed action: %+v", st.Pending)
	}

	if _, err := o.HandleMessage(context.Background(), MessageRequest{SessionID: "s1", Text: "yes"}); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if len(client.cancels) != 1 {
		t.Fatalf("cancel replayed: %+v", client.cancels)
	}
}

func TestHandleMessageSeedsFromPriorTurns(t *testing.T) {
	t.Parallel()

	oracle := &scriptedOracle{steps: []oracleStep{text("Sure, what time works?")}}
	store := &fakeStore{}
	o := newTestOrchestrator(t, oracle, &fakeScheduling{}, store, Config{})

	res, err := o.HandleMessage(context.Background(), MessageRequest{
		SessionID: "s1",
		Text:      "tomorrow please",
		PriorTurns: []statex.Turn{
			{Role: statex.RoleUser, Content: "I need a meeting"},
			{Role: statex.RoleAssistant, Content: "Which day?"},
		},
	})
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if len(res.State.Turns) != 4 {
		t.Fatalf("turns = %d, want 4", len(res.State.Turns))
	}
	msgs := oracle.requests[0].Messages
	if len(msgs) != 3 || msgs[0].Content != "I need a meeting" || msgs[2].Content != "tomorrow please" {
		t.Fatalf("unexpected transcript: %+v", msgs)
	}
}

func TestHandleMessageSaveErrorPropagates(t *testing.T) {
	t.Parallel()

	saveErr := errors.New("save failed")
	o := newTestOrchestrator(t, &scriptedOracle{}, &fakeScheduling{}, &fakeStore{saveErr: saveErr}, Config{})

	_, err := o.HandleMessage(context.Background(), MessageRequest{SessionID: "s1", Text: "hi"})
	if !errors.Is(err, saveErr) {
		t.Fatalf("HandleMessage() error = %v, want save error", err)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	o := newTestOrchestrator(t, &scriptedOracle{}, &fakeScheduling{}, store, Config{})

	if err := o.Reset(context.Background(), "s1"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "s1" {
		t.Fatalf("deleted = %v", store.deleted)
	}
	if err := o.Reset(context.Background(), " "); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("Reset() error = %v, want ErrInvalidSession", err)
	}
}

func TestHandleTurnCancelByReferenceAfterYes(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	bookings := []model.Booking{
		{ID: 4821, UID: "bk_sync", Title: "Project sync", Start: day.Add(14 * time.Hour), Status: model.BookingConfirmed},
		{ID: 4822, UID: "bk_late", Title: "Retro", Start: day.Add(17 * time.Hour), Status: model.BookingConfirmed},
	}
	oracle := &scriptedOracle{steps: []oracleStep{
		step(request("call_list", string(action.ListBookings), map[string]any{"attendee_email": "jane@example.com"})),
		step(request("call_cancel", string(action.CancelBooking), map[string]any{"booking_reference": "my 2pm meeting today"})),
		text("Done, your 2pm project sync is cancelled."),
	}}
	client := &fakeScheduling{bookings: bookings}
	o := newTestOrchestrator(t, oracle, client, nil, Config{})

	first, err := o.HandleTurn(context.Background(), statex.NewConversationState("s1", testNow), "cancel my 2pm meeting today")
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if len(client.cancels) != 0 {
		t.Fatalf("cancelled before confirmation: %+v", client.cancels)
	}

	second, err := o.HandleTurn(context.Background(), first.State, "yes")
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if len(client.cancels) != 1 || client.cancels[0].uid != "bk_sync" {
		t.Fatalf("cancel calls = %+v, want exactly bk_sync", client.cancels)
	}
	if second.Reply != "Done, your 2pm project sync is cancelled." {
		t.Fatalf("reply = %q", second.Reply)
	}
	if first.State.Pending == nil {
		t.Fatal("first turn state lost its pending confirmation")
	}
}
