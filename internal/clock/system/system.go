// Package system provides a real clock implementation.
package system

import "time"

// Clock implements courier.Clock using time.Now. Pipeline timestamps are
// always recorded in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
