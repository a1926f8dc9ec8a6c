package session

import (
	"regexp"
	"strings"
)

// Mode is the presentation mode of a content unit.
type Mode string

const (
	ModeWatch  Mode = "watch"
	ModeShorts Mode = "shorts"
)

var (
	watchIDPattern  = regexp.MustCompile(`[?&]v=([A-Za-z0-9_-]{11})(?:[^A-Za-z0-9_-]|$)`)
	shortsIDPattern = regexp.MustCompile(`/shorts/([A-Za-z0-9_-]{11})(?:[^A-Za-z0-9_-]|$)`)
)

// ExtractUnitID returns the 11-character video id in location, or "".
func ExtractUnitID(location string) string {
	if m := watchIDPattern.FindStringSubmatch(location); m != nil {
		return m[1]
	}
	if m := shortsIDPattern.FindStringSubmatch(location); m != nil {
		return m[1]
	}
	return ""
}

// ModeFor reports the presentation mode of location.
func ModeFor(location string) Mode {
	if strings.Contains(location, "/shorts/") {
		return ModeShorts
	}
	return ModeWatch
}

// Selectors returns the comment container selectors for mode, in priority order.
func Selectors(mode Mode) []string {
	if mode == ModeShorts {
		return []string{
			"ytd-comments#comments",
			`ytd-engagement-panel-section-list-renderer[target-id="engagement-panel-comments-section"]`,
			"#comments",
		}
	}
	return []string{
		"ytd-item-section-renderer#sections",
		"ytd-comments#comments",
	}
}
