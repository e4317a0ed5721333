package parse

import (
	"regexp"
	"strings"
)

// ParsedContact is a name/phone pair extracted from a requester's reply like
// "Sarah 801-555-1234; Jenna 801-555-4567".
type ParsedContact struct {
	Name  string
	Phone string
}

var (
	segmentSplitRE = regexp.MustCompile(`[\n;]+`)
	phoneStartRE   = regexp.MustCompile(`[+\d(]`)
	punctRunRE     = regexp.MustCompile(`[()\-.\s]+`)
	digitRunRE     = regexp.MustCompile(`\b\d+\b`)
)

// ContactList parses a semicolon- or newline-separated list of contacts.
// A segment without a valid phone number is skipped; the remainder of a
// matching segment, minus punctuation and stray digits, becomes the name,
// defaulting to "Unknown".
func ContactList(text, defaultRegion string) []ParsedContact {
	var out []ParsedContact

	for _, part := range segmentSplitRE.Split(text, -1) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		loc := phoneStartRE.FindStringIndex(part)
		if loc == nil {
			continue
		}
		raw := part[loc[0]:]
		phone, err := NormalizePhone(raw, defaultRegion)
		if err != nil {
			continue
		}

		name := part[:loc[0]]
		name = punctRunRE.ReplaceAllString(name, " ")
		name = digitRunRE.ReplaceAllString(name, " ")
		name = strings.TrimSpace(name)
		if name == "" {
			name = "Unknown"
		}
		out = append(out, ParsedContact{Name: name, Phone: phone})
	}

	return out
}
