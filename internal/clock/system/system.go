// Package system is the wall-clock scraper.Clock used outside tests.
package system

import "time"

// Clock reads the system time.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC. Request timestamps and window
// clamping all run off UTC so folder-scoped ordering is stable across hosts.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
