package datefmt

import (
	"strconv"
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want int64
	}{
		{"unix milliseconds", "1712655437375", 1712655437375},
		{"unix seconds", "1712655437", 1712655437000},
		{"iso with zone", "2024-01-15T10:00:00Z", 1705312800000},
		{"iso naive", "2024-01-15T10:00:00", 1705312800000},
		{"iso fractional", "2024-01-15T10:00:00.250Z", 1705312800250},
		{"odata wrapper", "/Date(1712655437375)/", 1712655437375},
		{"odata wrapper with offset", "/Date(1712655437375+0200)/", 1712655437375},
		{"calendar date", "2024-01-15", 1705276800000},
		{"us date", "01/15/2024", 1705276800000},
		{"eu date", "15-01-2024", 1705276800000},
		{"us single digit parts", "1/5/2024", 1704412800000},
		{"generic datetime", "2024-01-15 10:00:00", 1705312800000},
		{"garbage", "garbage", 0},
		{"iso marker but unparseable", "TBD", 0},
		{"empty", "", 0},
		{"whitespace", "   ", 0},
		{"padded input", "  2024-01-15  ", 1705276800000},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.raw); got != tc.want {
				t.Errorf("Normalize(%q) = %d, want %d", tc.raw, got, tc.want)
			}
		})
	}
}

func TestNormalize_FormatsAgree(t *testing.T) {
	// The same calendar day expressed in every supported day-level format
	// must land on the same epoch.
	want := int64(1705276800000) // 2024-01-15T00:00:00Z
	for _, raw := range []string{"2024-01-15", "01/15/2024", "15-01-2024"} {
		if got := Normalize(raw); got != want {
			t.Errorf("Normalize(%q) = %d, want %d", raw, got, want)
		}
	}
}

func TestNormalize_ComponentRollover(t *testing.T) {
	// Out-of-range day components roll into the next month rather than fail.
	got := Normalize("02/30/2024")
	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	if got != want {
		t.Errorf("Normalize(02/30/2024) = %d, want %d (Mar 1)", got, want)
	}
}

func TestHumanize(t *testing.T) {
	now := time.Date(2024, 4, 15, 12, 0, 0, 0, time.UTC)

	ago := func(d time.Duration) string {
		return strconv.FormatInt(now.Add(-d).UnixMilli(), 10)
	}

	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"just now", ago(30 * time.Second), "Just now"},
		{"exactly one minute", ago(time.Minute), "Just now"},
		{"minutes", ago(5 * time.Minute), "5m ago"},
		{"hours", ago(3 * time.Hour), "3h ago"},
		{"yesterday", ago(26 * time.Hour), "Yesterday"},
		{"days", ago(3 * 24 * time.Hour), "3 days ago"},
		{"one week", ago(10 * 24 * time.Hour), "1 week ago"},
		{"weeks", ago(20 * 24 * time.Hour), "2 weeks ago"},
		{"one month", ago(45 * 24 * time.Hour), "1 month ago"},
		{"months", ago(200 * 24 * time.Hour), "6 months ago"},
		{"absolute", ago(400 * 24 * time.Hour), "Mar 12, 2023"},
		{"unparseable", "garbage", "Unknown"},
		{"empty", "", "Unknown"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Humanize(tc.raw, now); got != tc.want {
				t.Errorf("Humanize(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestExact(t *testing.T) {
	if got := Exact("2024-01-15T10:00:00Z"); got != "Jan 15, 2024 10:00:00 UTC" {
		t.Errorf("Exact() = %q", got)
	}

	if got := Exact("not-a-date"); got != "Unknown" {
		t.Errorf("Exact(not-a-date) = %q, want Unknown", got)
	}

	if got := Exact(""); got != "Unknown" {
		t.Errorf("Exact(\"\") = %q, want Unknown", got)
	}
}

func TestHumanizeExact_NeverPanic(t *testing.T) {
	now := time.Date(2024, 4, 15, 12, 0, 0, 0, time.UTC)

	inputs := []string{
		"1712655437375", "1712655437", "2024-01-15T10:00:00Z", "2024-01-15",
		"01/15/2024", "15-01-2024", "/Date(1712655437375)/", "garbage", "",
		"99/99/9999", "0", "-5", "\x00\xff",
	}

	for _, raw := range inputs {
		_ = Humanize(raw, now)
		_ = Exact(raw)
	}
}
