package clock

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Catalog groups the timezone identifiers of a ZoneLister by continent, the part of an
// identifier before its first "/". Identifiers without a "/" belong to "Other".
type Catalog struct {
	zones ZoneLister
}

const (
	otherContinent = "Other"

	continentsURI         = "timezones://continents"
	continentURIPrefix    = continentsURI + "/"
	continentsURITemplate = continentURIPrefix + "{continent}"
)

// NewCatalog creates a Catalog over zones.
func NewCatalog(zones ZoneLister) Catalog {
	return Catalog{zones: zones}
}

// AvailableContinents lists every continent with its number of timezones and the
// resource URI that lists them, followed by the totals. It returns
// "Error loading continents" when the zones can't be listed.
func (c Catalog) AvailableContinents() string {
	zones, groups, err := c.groups()
	if err != nil {
		return "Error loading continents"
	}

	blocks := make([]string, 0, len(groups))
	for _, continent := range slices.Sorted(maps.Keys(groups)) {
		blocks = append(blocks, fmt.Sprintf("• %s (%d timezones)\n  → Access: %s%s\n",
			continent, len(groups[continent]), continentURIPrefix, strings.ToLower(continent)))
	}

	var sb strings.Builder
	sb.WriteString("Available Continents/Regions:\n\n")
	sb.WriteString(strings.Join(blocks, "\n"))
	fmt.Fprintf(&sb, "\nTotal: %d timezones across %d regions", len(zones), len(groups))

	return sb.String()
}

// ContinentTimezones lists the timezones of continent, matched case-insensitively
// through capitalization, so "asia" and "ASIA" both mean "Asia".
func (c Catalog) ContinentTimezones(continent string) string {
	continent = capitalize(continent)

	_, groups, err := c.groups()
	if err != nil {
		return fmt.Sprintf("Error loading timezones for %s", continent)
	}

	zones := groups[continent]
	if len(zones) == 0 {
		return fmt.Sprintf("No timezones found for continent: %s", continent)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Timezones in %s:\n\n", continent)
	for i, tz := range zones {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("• ")
		sb.WriteString(tz)
	}
	fmt.Fprintf(&sb, "\n\nTotal: %d timezones", len(zones))

	return sb.String()
}

// continents returns the sorted continent names.
func (c Catalog) continents() ([]string, error) {
	_, groups, err := c.groups()
	if err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(groups)), nil
}

// groups partitions a fresh snapshot of the zones. Each group is sorted.
func (c Catalog) groups() ([]string, map[string][]string, error) {
	zones, err := c.zones.Zones()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list zones: %w", err)
	}

	groups := make(map[string][]string)
	for _, tz := range zones {
		continent := continentOf(tz)
		groups[continent] = append(groups[continent], tz)
	}
	for _, tzs := range groups {
		slices.Sort(tzs)
	}

	return zones, groups, nil
}

func continentOf(tz string) string {
	continent, _, found := strings.Cut(tz, "/")
	if !found {
		return otherContinent
	}
	return continent
}

// capitalize title-cases the first rune of s and lower-cases the rest.
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToTitle(r)) + strings.ToLower(s[size:])
}
