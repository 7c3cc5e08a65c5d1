// Package system provides the wall-clock time source workers stamp
// progress.Event timestamps with.
package system

import "time"

// Clock is the real, UTC-normalized clock; tests substitute a fixed time
// directly rather than through an interface, since only one caller needs it.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
