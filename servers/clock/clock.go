package clock

import (
	"fmt"
	"slices"
	"time"
)

// Clock renders the current time of a timezone as a sentence.
type Clock struct {
	zones ZoneLister
	now   func() time.Time
}

const (
	utcZone    = "UTC"
	timeLayout = "2006-01-02 03:04:05 PM"
)

// NewClock creates a Clock that resolves identifiers against zones and reads the time
// from now. A nil now uses time.Now.
func NewClock(zones ZoneLister, now func() time.Time) Clock {
	if now == nil {
		now = time.Now
	}
	return Clock{
		zones: zones,
		now:   now,
	}
}

// CurrentTime returns "It's {time} on {weekday} ({timezone})" for the current instant.
//
// An identifier that does not resolve is computed in UTC, but the sentence still
// carries the identifier as given.
func (c Clock) CurrentTime(timezone string) string {
	text, _ := c.currentTime(timezone)
	return text
}

// currentTime is CurrentTime that also reports whether timezone resolved.
func (c Clock) currentTime(timezone string) (string, bool) {
	loc, ok := c.resolveZone(timezone)
	if !ok {
		loc = time.UTC
	}

	now := c.now().In(loc)

	return fmt.Sprintf("It's %s on %s (%s)", now.Format(timeLayout), now.Weekday(), timezone), ok
}

func (c Clock) resolveZone(name string) (*time.Location, bool) {
	switch name {
	case "":
		return nil, false
	case utcZone:
		return time.UTC, true
	case "Local":
		// time.LoadLocation maps it to the host zone, it is not an identifier.
		return nil, false
	}

	// Without a catalog the zoneinfo lookup of time.LoadLocation is the only judge.
	if c.zones != nil {
		if zones, err := c.zones.Zones(); err == nil && !slices.Contains(zones, name) {
			return nil, false
		}
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, false
	}
	return loc, true
}
