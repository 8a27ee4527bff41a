package dialer

import (
	"regexp"
	"strings"

	"aridialer/internal/config"
)

// Asterisk splits a Local channel into two in-memory halves suffixed
// ";1" and ";2"; only the ";2" half reaches the real endpoint. These
// helpers are the single home of that convention.

var halfSuffixRe = regexp.MustCompile(`;[12]$`)

// stripHalfSuffix removes the ";1"/";2" half marker from a channel name.
func stripHalfSuffix(name string) string {
	return halfSuffixRe.ReplaceAllString(name, "")
}

// isLocalHalfOne reports whether the name is the ";1" half of a local
// channel pair. Such a channel never reaches a real endpoint.
func isLocalHalfOne(name string) bool {
	return strings.HasPrefix(name, "Local/") && strings.HasSuffix(name, ";1")
}

// swapHalfSuffix flips ";1" <-> ";2", returning "" for other names.
func swapHalfSuffix(name string) string {
	switch {
	case strings.HasSuffix(name, ";1"):
		return strings.TrimSuffix(name, ";1") + ";2"
	case strings.HasSuffix(name, ";2"):
		return strings.TrimSuffix(name, ";2") + ";1"
	}
	return ""
}

// isTargetLocalName reports whether a channel name is a local channel
// toward the configured target extension: Local/<ext>@<context> or
// Local/<ext>@<anything>, half suffix ignored.
func isTargetLocalName(name string, cfg *config.Config) bool {
	base := stripHalfSuffix(name)
	if !strings.HasPrefix(base, "Local/") {
		return false
	}
	rest := strings.TrimPrefix(base, "Local/")
	at := strings.Index(rest, "@")
	if at < 0 {
		return false
	}
	// Any context qualifies; the extension is what identifies the
	// partner originate.
	return rest[:at] == cfg.Dial.TargetExtension && rest[at+1:] != ""
}

// targetFromDialString extracts the dialed target from a dial string:
// "Local/777@default2" -> "777", "PJSIP/123@trunk" -> "123".
func targetFromDialString(ds string) string {
	s := ds
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.Index(s, "@"); i >= 0 {
		s = s[:i]
	}
	return stripHalfSuffix(s)
}
