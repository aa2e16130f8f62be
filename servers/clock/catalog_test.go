package clock

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"testing"
)

func TestAvailableContinents(t *testing.T) {
	want := "Available Continents/Regions:\n\n" +
		"• Africa (2 timezones)\n  → Access: timezones://continents/africa\n" +
		"\n" +
		"• America (2 timezones)\n  → Access: timezones://continents/america\n" +
		"\n" +
		"• Asia (2 timezones)\n  → Access: timezones://continents/asia\n" +
		"\n" +
		"• Other (2 timezones)\n  → Access: timezones://continents/other\n" +
		"\nTotal: 8 timezones across 4 regions"

	c := NewCatalog(testZones)

	got := c.AvailableContinents()
	if got != want {
		t.Errorf("AvailableContinents() =\n%s\nwant\n%s", got, want)
	}
	if again := c.AvailableContinents(); again != got {
		t.Errorf("expected identical output on a second call")
	}
}

func TestAvailableContinentsTotals(t *testing.T) {
	var zones StaticZones
	for i := range 40 {
		zones = append(zones, fmt.Sprintf("Region%d/Zone%d", i%7, i))
	}
	zones = append(zones, "UTC", "Zulu")

	got := NewCatalog(zones).AvailableContinents()

	counts := regexp.MustCompile(`\((\d+) timezones\)`).FindAllStringSubmatch(got, -1)
	sum := 0
	for _, m := range counts {
		n, _ := strconv.Atoi(m[1])
		sum += n
	}

	wantFooter := fmt.Sprintf("Total: %d timezones across %d regions", len(zones), len(counts))
	if !strings.HasSuffix(got, wantFooter) {
		t.Errorf("expected footer %q, got %q", wantFooter, got)
	}
	if sum != len(zones) {
		t.Errorf("expected continent counts to add up to %d, got %d", len(zones), sum)
	}
}

func TestAvailableContinentsEmpty(t *testing.T) {
	want := "Available Continents/Regions:\n\n\nTotal: 0 timezones across 0 regions"
	if got := NewCatalog(StaticZones{}).AvailableContinents(); got != want {
		t.Errorf("AvailableContinents() = %q, want %q", got, want)
	}
}

func TestContinentTimezones(t *testing.T) {
	tests := []struct {
		continent string
		want      string
	}{
		{
			continent: "Asia",
			want:      "Timezones in Asia:\n\n• Asia/Singapore\n• Asia/Tokyo\n\nTotal: 2 timezones",
		},
		{
			continent: "asia",
			want:      "Timezones in Asia:\n\n• Asia/Singapore\n• Asia/Tokyo\n\nTotal: 2 timezones",
		},
		{
			continent: "AMERICA",
			want:      "Timezones in America:\n\n• America/Argentina/Buenos_Aires\n• America/New_York\n\nTotal: 2 timezones",
		},
		{
			continent: "other",
			want:      "Timezones in Other:\n\n• GMT\n• UTC\n\nTotal: 2 timezones",
		},
		{
			continent: "Atlantis",
			want:      "No timezones found for continent: Atlantis",
		},
		{
			// Capitalization turns "us" into "Us", which matches no "US/..." zone.
			continent: "us",
			want:      "No timezones found for continent: Us",
		},
	}

	c := NewCatalog(append(StaticZones{"US/Eastern"}, testZones...))

	for _, tt := range tests {
		t.Run(tt.continent, func(t *testing.T) {
			if got := c.ContinentTimezones(tt.continent); got != tt.want {
				t.Errorf("ContinentTimezones(%q) = %q, want %q", tt.continent, got, tt.want)
			}
		})
	}
}

func TestCatalogErrors(t *testing.T) {
	c := NewCatalog(ZoneListerFunc(func() ([]string, error) {
		return nil, errors.New("zoneinfo unavailable")
	}))

	if got := c.AvailableContinents(); got != "Error loading continents" {
		t.Errorf("AvailableContinents() = %q", got)
	}
	if got := c.ContinentTimezones("europe"); got != "Error loading timezones for Europe" {
		t.Errorf("ContinentTimezones() = %q", got)
	}
}

func TestCapitalize(t *testing.T) {
	tests := map[string]string{
		"":       "",
		"a":      "A",
		"aSIA":   "Asia",
		"Other":  "Other",
		"us":     "Us",
		"éurope": "Éurope",
		"1abc":   "1abc",
	}

	for in, want := range tests {
		if got := capitalize(in); got != want {
			t.Errorf("capitalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestContinentOf(t *testing.T) {
	tests := map[string]string{
		"Europe/Paris":                   "Europe",
		"America/Argentina/Buenos_Aires": "America",
		"UTC":                            "Other",
	}

	for tz, want := range tests {
		if got := continentOf(tz); got != want {
			t.Errorf("continentOf(%q) = %q, want %q", tz, got, want)
		}
	}
}
