package engine

import "time"

// Clock is the engine's time source. Production uses the system clock;
// tests substitute a manual one to drive expiry deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
