package orchestratornode

import (
	"fmt"
	"strings"

	statex "github.com/tanpawarit/Chative-Scheduling-Assistant/agent/state"
)

const maxContextBookings = 20

// OracleContext summarizes the session facts the oracle cannot see in the
// transcript: the default identity and the last listed bookings.
func OracleContext(st *statex.ConversationState, identityFallback bool) string {
	if st == nil {
		return ""
	}
	loc := st.Location()
	var lines []string

	if identityFallback && !st.DefaultIdentity.Empty() {
		id := st.DefaultIdentity
		lines = append(lines, fmt.Sprintf("Default attendee: name=%q email=%q", id.Name, id.Email))
	} else {
		lines = append(lines, "Default attendee: none, ask the user for name and email before booking.")
	}

	if st.LastBookings == nil {
		lines = append(lines, "Listed bookings: none yet this session.")
		return strings.Join(lines, "\n")
	}

	bookings := st.LastBookings.Bookings
	lines = append(lines, fmt.Sprintf("Listed bookings (%d, fetched %s):",
		len(bookings), st.LastBookings.FetchedAt.In(loc).Format("2006-01-02 15:04 MST")))
	for i, b := range bookings {
		if i == maxContextBookings {
			lines = append(lines, fmt.Sprintf("- ... %d more", len(bookings)-maxContextBookings))
			break
		}
		lines = append(lines, fmt.Sprintf("- booking_uid=%s %s [%s]", b.UID, b.Label(loc), b.Status))
	}
	return strings.Join(lines, "\n")
}
