package parse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeWindow is a concrete requested start/end resolved from text like
// "Friday 6-10" against a reference time.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

var sitterKeywords = []string{"sitter", "babysit", "babysitter", "babysitting"}

// IsSitterIntent reports whether the text mentions babysitting at all,
// independent of whether a time window parses.
func IsSitterIntent(text string) bool {
	t := strings.ToLower(text)
	for _, k := range sitterKeywords {
		if strings.Contains(t, k) {
			return true
		}
	}
	return false
}

var weekdayTokens = map[string]time.Weekday{
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
	"sun": time.Sunday, "sunday": time.Sunday,
}

var (
	dayRE = regexp.MustCompile(`(?i)\b(next\s+)?(mon(?:day)?|tue(?:s(?:day)?)?|wed(?:nesday)?|thu(?:rs?(?:day)?)?|fri(?:day)?|sat(?:urday)?|sun(?:day)?)\b`)
	// "6-10", "6:30pm to 10", "6 – 10pm"
	rangeRE = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\s*(?:-|–|to)\s*(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)
)

// nonLetters strips anything outside a-z so "tues." matches a weekday token.
var nonLetters = regexp.MustCompile(`[^a-z]`)

// findDay resolves "today"/"tonight"/"tomorrow" or a (possibly "next ")
// weekday token to the start of the target day. A bare weekday rolls forward
// to its next occurrence; "next <weekday>" forces the week after when the
// plain occurrence would land within the coming week.
func findDay(text string, now time.Time) (time.Time, bool) {
	t := strings.ToLower(text)
	if strings.Contains(t, "tomorrow") {
		return startOfDay(now.AddDate(0, 0, 1)), true
	}
	if strings.Contains(t, "today") || strings.Contains(t, "tonight") {
		return startOfDay(now), true
	}

	m := dayRE.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	hasNext := m[1] != ""
	token := nonLetters.ReplaceAllString(strings.ToLower(m[2]), "")
	target, ok := weekdayTokens[token]
	if !ok {
		return time.Time{}, false
	}

	daysAhead := (int(target) - int(now.Weekday()) + 7) % 7
	if daysAhead == 0 {
		daysAhead = 7
	}
	if hasNext && daysAhead < 7 {
		daysAhead += 7
	}
	return startOfDay(now.AddDate(0, 0, daysAhead)), true
}

type clockRange struct {
	sh, sm int
	eh, em int
	sMer   string // "am", "pm", or ""
	eMer   string
}

func findTimeRange(text string) (clockRange, bool) {
	m := rangeRE.FindStringSubmatch(text)
	if m == nil {
		return clockRange{}, false
	}
	r := clockRange{
		sh:   atoi(m[1]),
		sm:   atoi(m[2]),
		sMer: strings.ToLower(m[3]),
		eh:   atoi(m[4]),
		em:   atoi(m[5]),
		eMer: strings.ToLower(m[6]),
	}
	return r, true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func to24h(hour int, meridiem string) int {
	if meridiem == "am" {
		if hour == 12 {
			return 0
		}
		return hour
	}
	if hour == 12 {
		return 12
	}
	return hour + 12
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// ParseTimeWindow resolves a weekday/keyword plus an hour range to concrete
// instants in now's location. When only one end carries am/pm the other
// inherits it; when neither does, PM is assumed. An end at or before the
// start rolls to the next day.
func ParseTimeWindow(text string, now time.Time) (TimeWindow, bool) {
	day, ok := findDay(text, now)
	if !ok {
		return TimeWindow{}, false
	}
	r, ok := findTimeRange(text)
	if !ok {
		return TimeWindow{}, false
	}

	sMer, eMer := r.sMer, r.eMer
	if sMer != "" && eMer == "" {
		eMer = sMer
	}
	if eMer != "" && sMer == "" {
		sMer = eMer
	}
	if sMer == "" && eMer == "" {
		sMer, eMer = "pm", "pm"
	}

	loc := day.Location()
	start := time.Date(day.Year(), day.Month(), day.Day(), to24h(r.sh, sMer), r.sm, 0, 0, loc)
	end := time.Date(day.Year(), day.Month(), day.Day(), to24h(r.eh, eMer), r.em, 0, 0, loc)
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	return TimeWindow{Start: start, End: end}, true
}

// ParseSitterRequest recognizes a full sitter request: the sitter intent
// keywords plus a parseable time window. Returns false when either is
// missing; callers distinguish "sitter intent without a time" via
// IsSitterIntent.
func ParseSitterRequest(text string, now time.Time) (TimeWindow, bool) {
	if !IsSitterIntent(text) {
		return TimeWindow{}, false
	}
	return ParseTimeWindow(text, now)
}
