package orchestratornode

import (
	"fmt"
	"strings"

	"github.com/tanpawarit/Chative-Scheduling-Assistant/agent/action"
	contractx "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/contract"
	statex "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/state"
)

// applyOutcome keeps the booking snapshot in step with what the scheduling
// service reported. Failed actions change nothing.
func applyOutcome(in *GraphState, a action.Action, out action.Outcome) {
	if !out.Observation.OK() {
		return
	}
	switch v := a.(type) {
	case action.ListBookingsAction:
		if out.Listed {
			in.Session.SetSnapshot(out.Bookings, in.Now)
		}
	case action.CancelBookingAction:
		in.Session.MarkCancelled(v.BookingUID)
	case action.RescheduleBookingAction:
		if out.Booking != nil {
			in.Session.ReplaceBooking(v.BookingUID, *out.Booking)
		}
	}
}

// CommitTurn records the reply as the assistant turn.
func CommitTurn(in *GraphState) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	reply := strings.TrimSpace(in.Reply)
	if reply == "" {
		reply = LoopExhaustedReply
	}
	in.Reply = reply
	in.Session.AppendTurn(statex.RoleAssistant, reply, in.Now)
	in.Session.Touch(in.Now)
	return in, nil
}
