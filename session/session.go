// Package session answers one pure question: is a venue's market open at
// a given instant. It is grounded on original_source/lib/market_session.py,
// reimplemented with Go's time package instead of pytz, and fixes the
// month-boundary bug in the original's time_until_open (it replaced only
// the day field of the next-open timestamp, which panics or wraps
// incorrectly when the next day does not exist in the current month).
package session

import (
	"fmt"
	"time"

	"papertrader/domain"
)

// Hours is a venue's local trading window, half-open [Open, Close).
type Hours struct {
	Open  time.Duration // offset from local midnight
	Close time.Duration
}

// tradingDays are Monday through Friday (time.Weekday: Sunday=0).
var tradingDays = map[time.Weekday]bool{
	time.Monday:    true,
	time.Tuesday:   true,
	time.Wednesday: true,
	time.Thursday:  true,
	time.Friday:    true,
}

type venueConfig struct {
	location *time.Location
	hours    Hours
}

var venues = map[domain.VenueClass]venueConfig{
	domain.ClassUS: {
		location: mustLoadLocation("America/New_York"),
		hours:    Hours{Open: 9*time.Hour + 30*time.Minute, Close: 16 * time.Hour},
	},
	domain.ClassASX: {
		location: mustLoadLocation("Australia/Sydney"),
		hours:    Hours{Open: 10 * time.Hour, Close: 16 * time.Hour},
	},
	domain.ClassTSX: {
		location: mustLoadLocation("America/Toronto"),
		hours:    Hours{Open: 9*time.Hour + 30*time.Minute, Close: 16 * time.Hour},
	},
}

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		// The IANA tzdata set is assumed present (Go ships it embeddable via
		// time/tzdata when the host has none); a missing zone is a packaging
		// defect, not a runtime condition to recover from.
		panic(fmt.Sprintf("session: loading timezone %q: %v", name, err))
	}
	return loc
}

// Gate answers market-open queries for the three supported venue classes.
type Gate struct {
	now func() time.Time
}

// NewGate builds a Gate. A nil clock defaults to time.Now.
func NewGate(clock func() time.Time) *Gate {
	if clock == nil {
		clock = time.Now
	}
	return &Gate{now: clock}
}

// IsOpen reports whether class is inside its trading window right now.
func (g *Gate) IsOpen(class domain.VenueClass) bool {
	return isOpenAt(class, g.now())
}

func isOpenAt(class domain.VenueClass, instant time.Time) bool {
	cfg, ok := venues[class]
	if !ok {
		return false
	}
	local := instant.In(cfg.location)
	if !tradingDays[local.Weekday()] {
		return false
	}
	sinceMidnight := local.Sub(startOfDay(local))
	return sinceMidnight >= cfg.hours.Open && sinceMidnight < cfg.hours.Close
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// TimeUntilOpen returns the duration until the next open, or zero if the
// venue is open right now (check IsOpen first to disambiguate).
func (g *Gate) TimeUntilOpen(class domain.VenueClass) time.Duration {
	return timeUntilOpenAt(class, g.now())
}

func timeUntilOpenAt(class domain.VenueClass, instant time.Time) time.Duration {
	if isOpenAt(class, instant) {
		return 0
	}
	cfg := venues[class]
	local := instant.In(cfg.location)

	nextOpen := startOfDay(local).Add(cfg.hours.Open)
	sinceMidnight := local.Sub(startOfDay(local))
	if sinceMidnight >= cfg.hours.Close {
		nextOpen = nextOpen.AddDate(0, 0, 1)
	}
	for !tradingDays[nextOpen.Weekday()] {
		nextOpen = nextOpen.AddDate(0, 0, 1)
	}
	return nextOpen.Sub(local)
}

// Status is a snapshot suitable for logging or a metrics CLI.
type Status struct {
	Class          domain.VenueClass
	IsOpen         bool
	LocalTime      time.Time
	Timezone       string
	SecondsToOpen  float64
}

// Describe returns the current status of class, mirroring get_market_status.
func (g *Gate) Describe(class domain.VenueClass) Status {
	cfg, ok := venues[class]
	if !ok {
		return Status{Class: class}
	}
	now := g.now()
	local := now.In(cfg.location)
	open := isOpenAt(class, now)
	var secs float64
	if !open {
		secs = timeUntilOpenAt(class, now).Seconds()
	}
	return Status{
		Class:         class,
		IsOpen:        open,
		LocalTime:     local,
		Timezone:      cfg.location.String(),
		SecondsToOpen: secs,
	}
}
