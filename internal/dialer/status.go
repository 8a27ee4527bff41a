package dialer

import (
	"regexp"
	"strings"
)

var (
	noAnswerRe = regexp.MustCompile(`^NO\s?ANSWER$`)
	answeredRe = regexp.MustCompile(`^ANSWER(ED)?$`)
)

// genericStatuses are progress states that only stand when nothing more
// specific was observed.
var genericStatuses = map[string]bool{
	"RINGING":     true,
	"DIALING":     true,
	"TRYING":      true,
	"PROGRESS":    true,
	"UP":          true,
	"DOWN":        true,
	"HUNGUP":      true,
	"UNKNOWN":     true,
	"EARLY MEDIA": true,
}

// normalizeStatus canonicalises a status token: "NOANSWER" and
// "NO ANSWER" collapse to "NO ANSWER", "ANSWER" to "ANSWERED".
func normalizeStatus(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if noAnswerRe.MatchString(s) {
		return "NO ANSWER"
	}
	if answeredRe.MatchString(s) {
		return "ANSWERED"
	}
	return s
}

// pickStatus combines candidate statuses into one: ANSWERED wins,
// specific statuses beat generic progress states, NO ANSWER is the
// fallback of last resort.
func pickStatus(candidates ...string) string {
	var generic, specific string
	sawNoAnswer := false

	for _, raw := range candidates {
		s := normalizeStatus(raw)
		switch {
		case s == "":
			continue
		case s == "ANSWERED":
			return "ANSWERED"
		case s == "NO ANSWER":
			sawNoAnswer = true
		case genericStatuses[s]:
			if generic == "" {
				generic = s
			}
		default:
			if specific == "" {
				specific = s
			}
		}
	}

	if specific != "" {
		return specific
	}
	if generic != "" {
		return generic
	}
	if sawNoAnswer {
		return "NO ANSWER"
	}
	return ""
}
