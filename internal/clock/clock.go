// Package clock abstracts time for components that need deterministic tests.
package clock

import "time"

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// System implements Clock using time.Now.
type System struct{}

// Now returns the current time in UTC.
func (System) Now() time.Time {
	return time.Now().UTC()
}
