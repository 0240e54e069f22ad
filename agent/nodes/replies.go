package orchestratornode

import (
	"fmt"
	"strings"
	"time"

	"github.com/tanpawarit/Chative-Scheduling-Assistant/agent/action"
	"github.com/tanpawarit/Chative-Scheduling-Assistant/pkg/model"
)

const (
	ApologyReply       = "Sorry, something went wrong on my side and I couldn't finish that. Please try again in a moment."
	LoopExhaustedReply = "Sorry, I was unable to complete that request. Could you try again, perhaps one step at a time?"
)

// ConfirmationReply asks the user to approve a destructive action.
func ConfirmationReply(a action.Action, loc *time.Location) string {
	switch v := a.(type) {
	case action.CancelBookingAction:
		return fmt.Sprintf("Just to confirm: cancel %s? Reply \"yes\" to cancel it, or anything else to keep it.",
			describe(v.Booking, v.BookingUID, loc))
	case action.RescheduleBookingAction:
		return fmt.Sprintf("Just to confirm: move %s to %s? Reply \"yes\" to reschedule, or anything else to leave it as is.",
			describe(v.Booking, v.BookingUID, loc), v.NewStart.In(loc).Format("Mon, Jan 2 at 15:04 MST"))
	default:
		return fmt.Sprintf("Please confirm %s with \"yes\".", a.Name())
	}
}

// ClarificationReply lists the candidates of an ambiguous reference in start
// order and asks the user to pick one.
func ClarificationReply(err *action.AmbiguousError, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I found %d bookings that match \"%s\":\n", len(err.Candidates), err.Reference)
	for i, c := range err.Candidates {
		fmt.Fprintf(&b, "%d. %s\n", i+1, describe(&c, c.UID, loc))
	}
	b.WriteString("Which one do you mean?")
	return b.String()
}

func describe(b *model.Booking, uid string, loc *time.Location) string {
	if b == nil {
		return "booking " + uid
	}
	return fmt.Sprintf("%s (%s)", b.Label(loc), b.UID)
}
