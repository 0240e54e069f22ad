package orchestratornode

import (
	"strings"
	"unicode"

	"github.com/tanpawarit/Chative-Scheduling-Assistant/agent/action"
)

var affirmatives = []string{
	"yes", "y", "yeah", "yep", "yup", "sure", "ok", "okay",
	"confirm", "confirmed", "proceed", "correct", "affirmative",
	"go ahead", "do it", "please do",
}

// IsAffirmative reports whether text confirms a pending action: an
// affirmative word or phrase on its own or leading the message.
func IsAffirmative(text string) bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	if len(words) == 0 {
		return false
	}
	if words[0] == "no" || words[0] == "not" || words[0] == "don't" || words[0] == "dont" {
		return false
	}
	for _, phrase := range affirmatives {
		parts := strings.Fields(phrase)
		if len(parts) > len(words) {
			continue
		}
		match := true
		for i, p := range parts {
			if words[i] != p {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// sameAction reports whether b repeats the already confirmed action a.
func sameAction(a, b action.Action) bool {
	if a == nil || b == nil || a.Name() != b.Name() {
		return false
	}
	if action.TargetUID(a) != action.TargetUID(b) {
		return false
	}
	ra, okA := a.(action.RescheduleBookingAction)
	rb, okB := b.(action.RescheduleBookingAction)
	if okA && okB {
		return ra.NewStart.Equal(rb.NewStart)
	}
	return true
}
