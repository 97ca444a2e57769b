// Package clock abstracts time so stores and stage runners are deterministic
// under test.
package clock

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// System implements Clock using the wall clock in UTC.
type System struct{}

// NewSystem creates a System clock.
func NewSystem() System {
	return System{}
}

// Now returns the current UTC time.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a Clock pinned to a settable instant, for tests.
type Fixed struct {
	Time time.Time
}

// Now returns the pinned instant.
func (f *Fixed) Now() time.Time {
	return f.Time
}

// Advance moves the pinned instant forward.
func (f *Fixed) Advance(d time.Duration) {
	f.Time = f.Time.Add(d)
}
