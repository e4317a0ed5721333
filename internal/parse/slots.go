package parse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// OfferedSlot is one candidate appointment time extracted from a voice
// transcript.
type OfferedSlot struct {
	Start time.Time
	End   time.Time
}

// SlotOptions configures transcript extraction.
type SlotOptions struct {
	// Now anchors relative dates; its location is the household timezone.
	Now time.Time
	// DefaultDuration sizes each slot (appointment length by intent type).
	DefaultDuration time.Duration
	// MaxSlots caps the result; zero means the default of 3.
	MaxSlots int
}

var monthTokens = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "sept": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

var (
	nextWeekRE = regexp.MustCompile(`(?i)\bnext\s+week\b`)
	// "Feb 12 at 3:30pm", "February 12 3:30"
	monthSlotRE = regexp.MustCompile(`(?i)\b(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|jul(?:y)?|aug(?:ust)?|sep(?:t|tember)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\s+(\d{1,2})(?:st|nd|rd|th)?\b[^0-9]{0,12}(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)?`)
	// "2/12 3:30pm"
	numericSlotRE = regexp.MustCompile(`(?i)\b(\d{1,2})/(\d{1,2})(?:/(\d{2,4}))?\b[^0-9]{0,12}(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)?`)
	// "Tuesday at 3:30", "next Thursday 4:15pm"
	weekdaySlotRE = regexp.MustCompile(`(?i)\b(next\s+)?(mon(?:day)?|tue(?:s(?:day)?)?|wed(?:nesday)?|thu(?:rs?(?:day)?)?|fri(?:day)?|sat(?:urday)?|sun(?:day)?)\b[^0-9]{0,12}(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)?`)
)

func normalizeMeridiem(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "am", "a.m.", "a":
		return "am"
	case "pm", "p.m.", "p":
		return "pm"
	}
	return ""
}

// coerceYear schedules a month/day that already passed this year into next
// year (with a one-day grace so "today" stays in the current year).
func coerceYear(now time.Time, month time.Month, day int) int {
	candidate := time.Date(now.Year(), month, day, 0, 0, 0, 0, now.Location())
	if candidate.Before(now.AddDate(0, 0, -1)) {
		return now.Year() + 1
	}
	return now.Year()
}

func nextWeekdayFrom(now time.Time, target time.Weekday, forceNextWeek bool) time.Time {
	daysAhead := (int(target) - int(now.Weekday()) + 7) % 7
	if daysAhead == 0 {
		daysAhead = 7
	}
	if forceNextWeek && daysAhead < 7 {
		daysAhead += 7
	}
	return startOfDay(now.AddDate(0, 0, daysAhead))
}

func appendUnique(slots []OfferedSlot, slot OfferedSlot) []OfferedSlot {
	for _, s := range slots {
		if s.Start.Equal(slot.Start) {
			return slots
		}
	}
	return append(slots, slot)
}

// OfferedSlots extracts up to MaxSlots concrete appointment times from a
// voice transcript using three concrete patterns: month-name dates, numeric
// m/d dates, and weekdays, each paired with a clock time. Missing meridiems
// default to PM. Results are deduplicated by resolved start instant.
//
// The extraction is deliberately rule-based so behavior stays predictable
// and debuggable.
func OfferedSlots(transcript string, opts SlotOptions) []OfferedSlot {
	text := strings.TrimSpace(transcript)
	if text == "" {
		return nil
	}

	maxSlots := opts.MaxSlots
	if maxSlots <= 0 {
		maxSlots = 3
	}
	now := opts.Now
	loc := now.Location()
	globalNextWeek := nextWeekRE.MatchString(text)

	var slots []OfferedSlot
	add := func(start time.Time) bool {
		slots = appendUnique(slots, OfferedSlot{Start: start, End: start.Add(opts.DefaultDuration)})
		return len(slots) >= maxSlots
	}

	for _, m := range monthSlotRE.FindAllStringSubmatch(text, -1) {
		month, ok := monthTokens[nonLetters.ReplaceAllString(strings.ToLower(m[1]), "")]
		if !ok {
			continue
		}
		day, hour12 := atoi(m[2]), atoi(m[3])
		minute := atoi(m[4])
		mer := normalizeMeridiem(m[5])
		if mer == "" {
			mer = "pm"
		}
		start := time.Date(coerceYear(now, month, day), month, day, to24h(hour12, mer), minute, 0, 0, loc)
		if add(start) {
			return slots[:maxSlots]
		}
	}

	for _, m := range numericSlotRE.FindAllStringSubmatch(text, -1) {
		month, day := atoi(m[1]), atoi(m[2])
		if month < 1 || month > 12 {
			continue
		}
		hour12, minute := atoi(m[4]), atoi(m[5])
		mer := normalizeMeridiem(m[6])
		if mer == "" {
			mer = "pm"
		}
		year := coerceYear(now, time.Month(month), day)
		if m[3] != "" {
			year = atoi(m[3])
			if year < 100 {
				year += 2000
			}
		}
		start := time.Date(year, time.Month(month), day, to24h(hour12, mer), minute, 0, 0, loc)
		if add(start) {
			return slots[:maxSlots]
		}
	}

	for _, m := range weekdaySlotRE.FindAllStringSubmatch(text, -1) {
		hasNext := m[1] != "" || globalNextWeek
		weekday, ok := weekdayTokens[nonLetters.ReplaceAllString(strings.ToLower(m[2]), "")]
		if !ok {
			continue
		}
		hour12, minute := atoi(m[3]), atoi(m[4])
		mer := normalizeMeridiem(m[5])
		if mer == "" {
			mer = "pm"
		}
		day := nextWeekdayFrom(now, weekday, hasNext)
		start := time.Date(day.Year(), day.Month(), day.Day(), to24h(hour12, mer), minute, 0, 0, loc)
		if add(start) {
			return slots[:maxSlots]
		}
	}

	if len(slots) > maxSlots {
		slots = slots[:maxSlots]
	}
	return slots
}

// ParseChoice parses a bare 1-based option number; anything non-numeric
// returns false.
func ParseChoice(text string) (int, bool) {
	t := strings.TrimSpace(text)
	if t == "" {
		return 0, false
	}
	for _, r := range t {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(t)
	if err != nil {
		return 0, false
	}
	return n, true
}
