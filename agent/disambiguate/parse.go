package disambiguate

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Reference is what could be extracted from a spoken booking reference.
type Reference struct {
	HasTime bool
	Hour    int
	Minute  int

	HasDay bool
	Day    time.Time // midnight in the reference location

	Keywords []string
}

func (r Reference) Empty() bool {
	return !r.HasTime && !r.HasDay && len(r.Keywords) == 0
}

var (
	clockPattern    = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(a\.?m\.?|p\.?m\.?)(?:\W|$)`)
	hhmmPattern     = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
	atHourPattern   = regexp.MustCompile(`\bat\s+(\d{1,2})\b`)
	isoDatePattern  = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	isoStampPattern = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[t ]\d{2}:\d{2}(?::\d{2}(?:\.\d+)?)?(?:z|[+-]\d{2}:\d{2})?`)
	monthDayLead    = regexp.MustCompile(`\b(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+(\d{1,2})(?:st|nd|rd|th)?\b`)
	dayMonthLead    = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\b`)
	weekdayPattern  = regexp.MustCompile(`\b(?:(next|last|this)\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday|mon|tue|tues|wed|thu|thur|thurs|fri|sat|sun)\b`)
	wordPattern     = regexp.MustCompile(`[a-z0-9][a-z0-9_\-]*`)
)

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "sept": time.September, "oct": time.October,
	"nov": time.November, "dec": time.December,
}

var weekdays = map[string]time.Weekday{
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
	"sunday": time.Sunday, "sun": time.Sunday,
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "my": true, "our": true, "me": true, "i": true,
	"meeting": true, "meetings": true, "booking": true, "bookings": true, "appointment": true,
	"call": true, "session": true, "event": true, "one": true, "with": true, "for": true,
	"at": true, "on": true, "in": true, "of": true, "to": true, "and": true, "that": true,
	"this": true, "next": true, "last": true, "please": true, "cancel": true, "reschedule": true,
	"move": true, "today": true, "tonight": true, "tomorrow": true, "yesterday": true,
	"am": true, "pm": true, "noon": true, "midnight": true, "morning": true, "afternoon": true,
	"evening": true, "clock": true, "oclock": true, "is": true, "it": true,
	"january": true, "february": true, "march": true, "april": true, "june": true, "july": true,
	"august": true, "september": true, "october": true, "november": true, "december": true,
}

// ParseReference extracts a time of day, a calendar day and leftover keywords
// from text. Relative days are computed against now in now's location.
func ParseReference(text string, now time.Time) Reference {
	lower := strings.ToLower(strings.TrimSpace(text))
	var ref Reference
	if lower == "" {
		return ref
	}

	if stamp := isoStampPattern.FindString(lower); stamp != "" {
		if at, ok := parseStamp(stamp, now.Location()); ok {
			ref.HasTime, ref.Hour, ref.Minute = true, at.Hour(), at.Minute()
			ref.Day, ref.HasDay = midnight(at), true
			lower = strings.Replace(lower, stamp, " ", 1)
		}
	}
	if !ref.HasTime {
		ref.HasTime, ref.Hour, ref.Minute = parseClock(lower)
	}
	if !ref.HasDay {
		ref.Day, ref.HasDay = parseDay(lower, now)
	}
	ref.Keywords = keywords(lower)
	return ref
}

func parseStamp(stamp string, loc *time.Location) (time.Time, bool) {
	stamp = strings.ToUpper(strings.Replace(stamp, " ", "T", 1))
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		var (
			t   time.Time
			err error
		)
		if strings.HasSuffix(layout, "Z07:00") {
			t, err = time.Parse(layout, stamp)
		} else {
			t, err = time.ParseInLocation(layout, stamp, loc)
		}
		if err == nil {
			return t.In(loc), true
		}
	}
	return time.Time{}, false
}

func parseClock(s string) (bool, int, int) {
	switch {
	case strings.Contains(s, "noon"):
		return true, 12, 0
	case strings.Contains(s, "midnight"):
		return true, 0, 0
	}

	if m := clockPattern.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour < 1 || hour > 12 || minute > 59 {
			return false, 0, 0
		}
		pm := strings.HasPrefix(m[3], "p")
		switch {
		case pm && hour != 12:
			hour += 12
		case !pm && hour == 12:
			hour = 0
		}
		return true, hour, minute
	}

	if m := hhmmPattern.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		return true, hour, minute
	}

	// "at 3" with no meridiem is read as working hours: 1-7 are afternoon.
	if m := atHourPattern.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		if hour > 23 {
			return false, 0, 0
		}
		if hour >= 1 && hour <= 7 {
			hour += 12
		}
		return true, hour, 0
	}
	return false, 0, 0
}

func parseDay(s string, now time.Time) (time.Time, bool) {
	today := midnight(now)

	switch {
	case strings.Contains(s, "today") || strings.Contains(s, "tonight"):
		return today, true
	case strings.Contains(s, "tomorrow"):
		return today.AddDate(0, 0, 1), true
	case strings.Contains(s, "yesterday"):
		return today.AddDate(0, 0, -1), true
	}

	if m := isoDatePattern.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if d, ok := validDate(year, time.Month(month), day, now.Location()); ok {
			return d, true
		}
	}
	if m := monthDayLead.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[2])
		if d, ok := validDate(now.Year(), months[m[1]], day, now.Location()); ok {
			return d, true
		}
	}
	if m := dayMonthLead.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[1])
		if d, ok := validDate(now.Year(), months[m[2]], day, now.Location()); ok {
			return d, true
		}
	}

	if m := weekdayPattern.FindStringSubmatch(s); m != nil {
		target := weekdays[m[2]]
		diff := (int(target) - int(today.Weekday()) + 7) % 7
		switch m[1] {
		case "next":
			if diff == 0 {
				diff = 7
			}
		case "last":
			diff -= 7
			if diff == 0 {
				diff = -7
			}
		}
		return today.AddDate(0, 0, diff), true
	}
	return time.Time{}, false
}

func validDate(year int, month time.Month, day int, loc *time.Location) (time.Time, bool) {
	if month < time.January || month > time.December || day < 1 || day > 31 {
		return time.Time{}, false
	}
	d := time.Date(year, month, day, 0, 0, 0, 0, loc)
	if d.Month() != month {
		return time.Time{}, false
	}
	return d, true
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func keywords(s string) []string {
	var out []string
	for _, w := range wordPattern.FindAllString(s, -1) {
		if stopwords[w] || months[w] != 0 || isWeekday(w) || startsWithDigit(w) || len(w) < 3 {
			continue
		}
		out = append(out, w)
	}
	return out
}

func isWeekday(w string) bool {
	_, ok := weekdays[w]
	return ok
}

func startsWithDigit(w string) bool {
	return w != "" && w[0] >= '0' && w[0] <= '9'
}
