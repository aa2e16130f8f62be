package clock

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"
)

var testZones = StaticZones{
	"Africa/Abidjan",
	"Africa/Cairo",
	"America/Argentina/Buenos_Aires",
	"America/New_York",
	"Asia/Singapore",
	"Asia/Tokyo",
	"GMT",
	"UTC",
}

// Saturday, 21:05:03 UTC.
var testNow = time.Date(2024, 6, 1, 21, 5, 3, 0, time.UTC)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCurrentTime(t *testing.T) {
	tests := []struct {
		name     string
		timezone string
		want     string
	}{
		{
			name:     "utc",
			timezone: "UTC",
			want:     "It's 2024-06-01 09:05:03 PM on Saturday (UTC)",
		},
		{
			name:     "next day ahead of utc",
			timezone: "Asia/Singapore",
			want:     "It's 2024-06-02 05:05:03 AM on Sunday (Asia/Singapore)",
		},
		{
			name:     "daylight saving time",
			timezone: "America/New_York",
			want:     "It's 2024-06-01 05:05:03 PM on Saturday (America/New_York)",
		},
		{
			name:     "unknown zone keeps its label",
			timezone: "Not/AZone",
			want:     "It's 2024-06-01 09:05:03 PM on Saturday (Not/AZone)",
		},
		{
			name:     "zone missing from the catalog",
			timezone: "Europe/Paris",
			want:     "It's 2024-06-01 09:05:03 PM on Saturday (Europe/Paris)",
		},
		{
			name:     "host zone alias",
			timezone: "Local",
			want:     "It's 2024-06-01 09:05:03 PM on Saturday (Local)",
		},
		{
			name:     "empty",
			timezone: "",
			want:     "It's 2024-06-01 09:05:03 PM on Saturday ()",
		},
	}

	c := NewClock(testZones, fixedNow(testNow))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.CurrentTime(tt.timezone); got != tt.want {
				t.Errorf("CurrentTime(%q) = %q, want %q", tt.timezone, got, tt.want)
			}
		})
	}
}

func TestCurrentTimeTwelveHourClock(t *testing.T) {
	tests := []struct {
		now  time.Time
		want string
	}{
		{now: time.Date(2024, 1, 1, 0, 7, 9, 0, time.UTC), want: "2024-01-01 12:07:09 AM"},
		{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), want: "2024-01-01 12:00:00 PM"},
		{now: time.Date(999, 12, 31, 9, 59, 59, 0, time.UTC), want: "0999-12-31 09:59:59 AM"},
	}

	for _, tt := range tests {
		c := NewClock(testZones, fixedNow(tt.now))
		if got := c.CurrentTime("UTC"); !strings.HasPrefix(got, "It's "+tt.want+" on ") {
			t.Errorf("expected time %q, got %q", tt.want, got)
		}
	}
}

func TestCurrentTimeEveryZone(t *testing.T) {
	weekdays := []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}
	c := NewClock(testZones, nil)

	zones, _ := testZones.Zones()
	for _, tz := range zones {
		got := c.CurrentTime(tz)
		if !strings.HasSuffix(got, "("+tz+")") {
			t.Errorf("expected %q to end with the zone label", got)
		}
		if !slices.ContainsFunc(weekdays, func(day string) bool { return strings.Contains(got, " on "+day+" ") }) {
			t.Errorf("expected %q to contain a weekday", got)
		}
	}
}

func TestResolveZone(t *testing.T) {
	failing := ZoneListerFunc(func() ([]string, error) { return nil, errors.New("no zoneinfo") })

	tests := []struct {
		name   string
		zones  ZoneLister
		tz     string
		wantOK bool
	}{
		{name: "listed", zones: testZones, tz: "Asia/Tokyo", wantOK: true},
		{name: "not listed", zones: testZones, tz: "Europe/Paris", wantOK: false},
		{name: "utc without catalog entry", zones: StaticZones{}, tz: "UTC", wantOK: true},
		{name: "catalog unavailable", zones: failing, tz: "Europe/Paris", wantOK: true},
		{name: "catalog unavailable and unknown", zones: failing, tz: "Not/AZone", wantOK: false},
		{name: "malformed", zones: failing, tz: "../etc/passwd", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, ok := NewClock(tt.zones, nil).resolveZone(tt.tz)
			if ok != tt.wantOK {
				t.Fatalf("resolveZone(%q) ok = %v, want %v", tt.tz, ok, tt.wantOK)
			}
			if ok && loc.String() != tt.tz {
				t.Errorf("expected location %s, got %s", tt.tz, loc)
			}
		})
	}
}
