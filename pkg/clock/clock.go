// Package clock centralises "now" and "today" so business rules can be tested
// against a fixed date.
package clock

import (
	"sync"
	"time"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// Clock reports the current instant and the current calendar day.
type Clock interface {
	Now() time.Time
	Today() time.Time
}

// Real reads the wall clock; Today is computed in the configured location.
type Real struct {
	loc *time.Location
}

// NewReal builds a wall clock for the named IANA zone, falling back to UTC.
func NewReal(zone string) *Real {
	loc, err := time.LoadLocation(zone)
	if err != nil || zone == "" {
		loc = time.UTC
	}
	return &Real{loc: loc}
}

// Now implements Clock.
func (r *Real) Now() time.Time { return time.Now().UTC() }

// Today implements Clock.
func (r *Real) Today() time.Time {
	return DateOf(time.Now().In(r.loc))
}

// Fixed is a settable clock for tests.
type Fixed struct {
	mu  sync.RWMutex
	now time.Time
}

// NewFixed returns a clock frozen at now.
func NewFixed(now time.Time) *Fixed { return &Fixed{now: now} }

// Now implements Clock.
func (f *Fixed) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.now
}

// Today implements Clock.
func (f *Fixed) Today() time.Time { return DateOf(f.Now()) }

// Advance moves the clock forward.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// DateOf truncates t to a UTC midnight carrying t's calendar day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a UTC midnight.
func ParseDate(raw string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, raw, time.UTC)
}

// FormatDate renders a date in YYYY-MM-DD.
func FormatDate(t time.Time) string { return t.Format(DateLayout) }
