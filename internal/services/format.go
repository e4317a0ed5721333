package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/hearthkeep/hearth/internal/domain"
)

// Message time formats, rendered in the household's timezone.
const (
	layoutDayDateTime = "Mon 1/2 3:04PM"
	layoutDayTime     = "Mon 3:04PM"
	layoutTime        = "3:04PM"
	layoutSpoken      = "Monday January 2 at 3:04 PM"
)

// householdLocation resolves a household's timezone, falling back to UTC on
// a bad or missing zone name rather than failing the whole decision.
func householdLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// availabilityAsk is the fan-out message sent to each sitter.
func availabilityAsk(start, end time.Time, loc *time.Location) string {
	return fmt.Sprintf(
		"Hi! Are you available to babysit from %s to %s? Reply YES or NO.",
		start.In(loc).Format(layoutDayDateTime),
		end.In(loc).Format(layoutTime),
	)
}

// followUpAsk is the 24h re-ping for non-responders.
func followUpAsk(start, end time.Time, loc *time.Location) string {
	return fmt.Sprintf(
		"Quick check: are you available %s-%s? Reply YES or NO.",
		start.In(loc).Format(layoutDayDateTime),
		end.In(loc).Format(layoutTime),
	)
}

// optionsPrompt renders the ranked option list sent to the requester. Sitter
// options show a start-end time range; clinic and therapy options show the
// dated start only, since the end is implied by the visit length.
func optionsPrompt(options []domain.TaskOption, intent string, loc *time.Location) string {
	clinic := intent == domain.IntentClinic || intent == domain.IntentTherapy

	var b strings.Builder
	b.WriteString("Options found:\n")
	for i, o := range options {
		if clinic {
			fmt.Fprintf(&b, "%d) %s (%s)\n", i+1, o.Contact.Name, o.SlotStart.In(loc).Format(layoutDayDateTime))
			continue
		}
		fmt.Fprintf(&b, "%d) %s (%s-%s)\n",
			i+1, o.Contact.Name,
			o.SlotStart.In(loc).Format(layoutDayTime),
			o.SlotEnd.In(loc).Format(layoutTime),
		)
	}
	fmt.Fprintf(&b, "Reply 1-%d.", len(options))
	return b.String()
}
