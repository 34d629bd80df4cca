package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"papertrader/domain"
)

func clockAt(t *testing.T, rfc3339 string) func() time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		t.Fatalf("bad fixture time %q: %v", rfc3339, err)
	}
	return func() time.Time { return parsed }
}

func TestGate_IsOpen_US(t *testing.T) {
	// Tuesday 10:00 ET -> open
	open := NewGate(clockAt(t, "2026-03-03T15:00:00Z")) // 10:00 EST (UTC-5)
	assert.True(t, open.IsOpen(domain.ClassUS))

	// Tuesday 16:00 ET exactly -> closed (half-open upper bound)
	closeEdge := NewGate(clockAt(t, "2026-03-03T21:00:00Z"))
	assert.False(t, closeEdge.IsOpen(domain.ClassUS))

	// Tuesday 09:29 ET -> closed (one minute before open)
	beforeOpen := NewGate(clockAt(t, "2026-03-03T14:29:00Z"))
	assert.False(t, beforeOpen.IsOpen(domain.ClassUS))
}

func TestGate_IsOpen_WeekendClosed(t *testing.T) {
	// Saturday, well inside the US trading-hours window
	sat := NewGate(clockAt(t, "2026-03-07T15:00:00Z"))
	assert.False(t, sat.IsOpen(domain.ClassUS))
}

func TestGate_IsOpen_ASX(t *testing.T) {
	// Sydney is UTC+11 in March (AEDT); 11:00 local is inside [10:00,16:00)
	g := NewGate(clockAt(t, "2026-03-03T00:00:00Z"))
	assert.True(t, g.IsOpen(domain.ClassASX))
}

func TestGate_IsOpen_UnknownClassClosed(t *testing.T) {
	g := NewGate(clockAt(t, "2026-03-03T15:00:00Z"))
	assert.False(t, g.IsOpen(domain.VenueClass("MARS")))
}

func TestGate_TimeUntilOpen_SameDay(t *testing.T) {
	// Tuesday 08:00 ET, 90 minutes before the 09:30 open
	g := NewGate(clockAt(t, "2026-03-03T13:00:00Z"))
	until := g.TimeUntilOpen(domain.ClassUS)
	assert.Equal(t, 90*time.Minute, until)
}

func TestGate_TimeUntilOpen_RollsPastWeekend(t *testing.T) {
	// Friday 17:00 ET, after close -> next open is Monday 09:30 ET
	g := NewGate(clockAt(t, "2026-03-06T22:00:00Z"))
	until := g.TimeUntilOpen(domain.ClassUS)
	assert.Greater(t, until, 24*time.Hour)
	assert.Less(t, until, 4*24*time.Hour)
}

func TestGate_TimeUntilOpen_MonthBoundary(t *testing.T) {
	// Regression for the original's day-field-replacement bug: the last
	// trading day of a month rolling into the first of the next month
	// must not panic or produce a negative duration.
	g := NewGate(clockAt(t, "2026-01-30T22:00:00Z")) // Friday, after close
	until := g.TimeUntilOpen(domain.ClassUS)
	assert.Greater(t, until, time.Duration(0))
}

func TestGate_Describe(t *testing.T) {
	g := NewGate(clockAt(t, "2026-03-03T15:00:00Z"))
	status := g.Describe(domain.ClassUS)
	assert.Equal(t, domain.ClassUS, status.Class)
	assert.True(t, status.IsOpen)
	assert.Equal(t, float64(0), status.SecondsToOpen)
}
