// Package parse implements the pure text classifiers the orchestration
// engine consumes: yes/no replies, requested time windows, contact lists,
// and offered-slot extraction from voice transcripts. All functions are
// side-effect free and take the household's timezone and reference time as
// arguments where time is involved.
package parse

import (
	"regexp"
	"strings"
)

// YesNo classification results.
const (
	Yes     = "yes"
	No      = "no"
	Unknown = "unknown"
)

var (
	yesRE = regexp.MustCompile(`\b(y|yes|yep|yeah|sure|ok|okay|available|can do)\b`)
	noRE  = regexp.MustCompile(`\b(no|nope|nah|can't|cannot|unavailable)\b`)
)

// YesNoReply classifies a short reply as yes, no, or unknown. Matching is
// case-insensitive token matching; a lone thumbs-up emoji counts as yes.
// Text matching both yes and no tokens, or neither, is unknown.
func YesNoReply(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return Unknown
	}

	yes := yesRE.MatchString(t) || t == "👍"
	no := noRE.MatchString(t)

	switch {
	case yes && !no:
		return Yes
	case no && !yes:
		return No
	default:
		return Unknown
	}
}
