// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements article.Clock. All timestamps are UTC so history entries
// and schedule computations agree with the UTC cron expression.
type Clock struct{}

// New creates a new Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
