package actor

import "time"

// Clock provides a testable time source.
//
// Reducers must not call a Clock directly; runtimes read it and inject
// timestamps through inputs so reductions stay deterministic.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock backed by time.Now.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }
