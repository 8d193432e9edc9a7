// Package datefmt normalizes the heterogeneous date strings returned by the
// integration tenant into canonical epoch milliseconds and renders them for
// display. Unknown input never fails; it maps to epoch 0 so records without a
// usable date sort first in ascending order.
package datefmt

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// rule pairs a cheap shape test with the parser applied when it matches.
// Rules run in order; a match whose parse fails falls through to later rules,
// so new upstream formats can be added without touching existing ones.
type rule struct {
	match func(string) bool
	parse func(string) (time.Time, bool)
}

var (
	epochMillisRe = regexp.MustCompile(`^\d{13}$`)
	epochSecsRe   = regexp.MustCompile(`^\d{10}$`)
	odataDateRe   = regexp.MustCompile(`^/Date\((\d+)(?:[+-]\d{4})?\)/$`)
	calendarRe    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	usDateRe      = regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{4}$`)
	euDateRe      = regexp.MustCompile(`^\d{1,2}-\d{1,2}-\d{4}$`)
)

var rules = []rule{
	{matches(epochMillisRe), parseEpochMillis},
	{matches(epochSecsRe), parseEpochSeconds},
	{hasISOMarker, parseISO},
	{matches(odataDateRe), parseODataDate},
	{matches(calendarRe), parseCalendarDate},
	{matches(usDateRe), parseUSDate},
	{matches(euDateRe), parseEUDate},
	{matchAny, parseGeneric},
}

// Normalize converts a raw upstream date string into epoch milliseconds.
// Missing or unparseable input yields 0.
func Normalize(raw string) int64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}

	for _, r := range rules {
		if !r.match(s) {
			continue
		}
		if t, ok := r.parse(s); ok {
			return t.UnixMilli()
		}
	}

	return 0
}

// Humanize renders raw relative to now ("5m ago", "Yesterday", ...). Inputs
// Normalize cannot handle render as "Unknown".
func Humanize(raw string, now time.Time) string {
	ms := Normalize(raw)
	if ms == 0 {
		return "Unknown"
	}

	t := time.UnixMilli(ms)
	diff := now.Sub(t)

	switch {
	case diff <= time.Minute:
		return "Just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	}

	days := int(diff.Hours() / 24)
	switch {
	case days == 1:
		return "Yesterday"
	case days < 7:
		return fmt.Sprintf("%d days ago", days)
	case days < 30:
		return pluralAgo(days/7, "week")
	case days < 365:
		return pluralAgo(days/30, "month")
	}

	return t.UTC().Format("Jan 2, 2006")
}

// Exact renders the full timestamp for tooltips, "Unknown" on failure.
func Exact(raw string) string {
	ms := Normalize(raw)
	if ms == 0 {
		return "Unknown"
	}
	return time.UnixMilli(ms).UTC().Format("Jan 2, 2006 15:04:05 MST")
}

func pluralAgo(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

func matches(re *regexp.Regexp) func(string) bool {
	return re.MatchString
}

func matchAny(string) bool { return true }

func hasISOMarker(s string) bool {
	return strings.ContainsAny(s, "TZ")
}

func parseEpochMillis(s string) (time.Time, bool) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func parseEpochSeconds(s string) (time.Time, bool) {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, 0), true
}

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func parseISO(s string) (time.Time, bool) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseODataDate extracts the millisecond value embedded in the OData V2
// "/Date(1712655437375)/" wrapper. A trailing zone offset carries no extra
// information for an epoch value and is ignored.
func parseODataDate(s string) (time.Time, bool) {
	m := odataDateRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func parseCalendarDate(s string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// parseUSDate builds MM/DD/YYYY component-wise; out-of-range components roll
// over into the adjacent month/year instead of failing.
func parseUSDate(s string) (time.Time, bool) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	return buildDate(parts[2], parts[0], parts[1])
}

// parseEUDate builds DD-MM-YYYY component-wise.
func parseEUDate(s string) (time.Time, bool) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	return buildDate(parts[2], parts[1], parts[0])
}

func buildDate(year, month, day string) (time.Time, bool) {
	y, err := strconv.Atoi(year)
	if err != nil {
		return time.Time{}, false
	}
	m, err := strconv.Atoi(month)
	if err != nil {
		return time.Time{}, false
	}
	d, err := strconv.Atoi(day)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC), true
}

var genericLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822,
	"January 2, 2006",
	"Jan 2, 2006",
}

func parseGeneric(s string) (time.Time, bool) {
	for _, layout := range genericLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
