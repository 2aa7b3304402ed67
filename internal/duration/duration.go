// Package duration converts between ISO-8601 durations and integer seconds.
//
// Only the subset the recipe format uses is supported: PT(<H>H)?(<M>M)?(<S>S)?.
// No calendar component (years/months/days/weeks) is accepted since recipe
// durations are always sub-day.
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var pattern = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// Parse converts an ISO-8601 duration string to total seconds. An empty or
// unmatched string yields 0 rather than an error, matching the tolerant
// behavior the recipe loader expects for optional duration fields.
func Parse(s string) int {
	if s == "" {
		return 0
	}
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	var hours, minutes, seconds int
	if m[1] != "" {
		hours, _ = strconv.Atoi(m[1])
	}
	if m[2] != "" {
		minutes, _ = strconv.Atoi(m[2])
	}
	if m[3] != "" {
		seconds, _ = strconv.Atoi(m[3])
	}
	return hours*3600 + minutes*60 + seconds
}

// Format renders total seconds as an ISO-8601 duration string. Values under
// a minute render as whole seconds (e.g. "PT45S"); values of a minute or more
// render using hours, minutes and seconds, dropping zero components.
func Format(totalSeconds int) string {
	if totalSeconds < 60 {
		return fmt.Sprintf("PT%dS", totalSeconds)
	}

	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	var b strings.Builder
	b.WriteString("PT")
	if hours > 0 {
		fmt.Fprintf(&b, "%dH", hours)
	}
	if minutes > 0 {
		fmt.Fprintf(&b, "%dM", minutes)
	}
	if seconds > 0 {
		fmt.Fprintf(&b, "%dS", seconds)
	}
	return b.String()
}
