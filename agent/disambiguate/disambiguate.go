// Package disambiguate matches a spoken booking reference such as "my 2pm
// meeting today" against a list of bookings.
package disambiguate

import (
	"strings"
	"time"

	"github.com/tanpawarit/Chative-Scheduling-Assistant/pkg/model"
)

const DefaultTolerance = 30 * time.Minute

type Outcome int

const (
	NotFound Outcome = iota
	Match
	Ambiguous
)

func (o Outcome) String() string {
	switch o {
	case Match:
		return "match"
	case Ambiguous:
		return "ambiguous"
	default:
		return "not_found"
	}
}

// Result carries the matched booking for Match and the full candidate list,
// ordered by start time, for Ambiguous.
type Result struct {
	Outcome    Outcome
	Booking    model.Booking
	Candidates []model.Booking
}

type Disambiguator struct {
	tolerance time.Duration
}

type Option func(*Disambiguator)

func WithTolerance(d time.Duration) Option {
	return func(x *Disambiguator) {
		if d > 0 {
			x.tolerance = d
		}
	}
}

func New(opts ...Option) *Disambiguator {
	d := &Disambiguator{tolerance: DefaultTolerance}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

func (d *Disambiguator) Tolerance() time.Duration {
	return d.tolerance
}

// Resolve matches reference against candidates. Calendar days are compared in
// now's location, so callers pass now already converted to the user's zone.
// A time without a day ("my 2pm meeting") is matched on today first and only
// looks at other days when nothing today is within tolerance.
// Cancelled bookings are never candidates. Bookings sharing a start time are
// never told apart by time alone.
func (d *Disambiguator) Resolve(reference string, candidates []model.Booking, now time.Time) Result {
	live := make([]model.Booking, 0, len(candidates))
	for _, b := range candidates {
		if !b.IsCancelled() {
			live = append(live, b)
		}
	}
	model.SortBookingsByStart(live)
	if len(live) == 0 {
		return Result{Outcome: NotFound}
	}

	if b, ok := matchUID(reference, live); ok {
		return Result{Outcome: Match, Booking: b, Candidates: []model.Booking{b}}
	}

	ref := ParseReference(reference, now)
	var filtered []model.Booking
	switch {
	case ref.HasTime && !ref.HasDay:
		today := ref
		today.HasDay, today.Day = true, midnight(now)
		filtered = d.filterByTime(today, live, now.Location())
		if len(filtered) == 0 {
			filtered = d.filterByTime(ref, live, now.Location())
		}
	case ref.HasDay:
		filtered = d.filterByTime(ref, live, now.Location())
	case len(ref.Keywords) > 0:
		filtered = filterByKeywords(ref.Keywords, live)
	default:
		filtered = live
	}
	return decide(filtered)
}

func decide(filtered []model.Booking) Result {
	switch len(filtered) {
	case 0:
		return Result{Outcome: NotFound}
	case 1:
		return Result{Outcome: Match, Booking: filtered[0], Candidates: filtered}
	default:
		return Result{Outcome: Ambiguous, Candidates: filtered}
	}
}

func (d *Disambiguator) filterByTime(ref Reference, bookings []model.Booking, loc *time.Location) []model.Booking {
	var out []model.Booking
	for _, b := range bookings {
		start := b.Start.In(loc)
		day := midnight(start)
		if ref.HasDay && !day.Equal(ref.Day) {
			continue
		}
		if ref.HasTime {
			target := time.Date(day.Year(), day.Month(), day.Day(), ref.Hour, ref.Minute, 0, 0, loc)
			if absDuration(start.Sub(target)) > d.tolerance {
				continue
			}
		}
		out = append(out, b)
	}
	return out
}

func filterByKeywords(words []string, bookings []model.Booking) []model.Booking {
	var out []model.Booking
	for _, b := range bookings {
		haystack := strings.ToLower(b.Title + " " + b.Reason + " " + b.Attendee.Name)
		for _, w := range words {
			if strings.Contains(haystack, w) {
				out = append(out, b)
				break
			}
		}
	}
	return out
}

func matchUID(reference string, bookings []model.Booking) (model.Booking, bool) {
	trimmed := strings.TrimSpace(reference)
	if trimmed == "" {
		return model.Booking{}, false
	}
	for _, b := range bookings {
		if b.UID == "" {
			continue
		}
		if trimmed == b.UID || containsToken(trimmed, b.UID) {
			return b, true
		}
	}
	return model.Booking{}, false
}

func containsToken(text, token string) bool {
	for _, f := range strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == ',' || r == '"' || r == '\'' || r == '(' || r == ')'
	}) {
		if f == token {
			return true
		}
	}
	return false
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
