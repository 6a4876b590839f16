package examclient

import "time"

// Clock is the attempt's source of time.
type Clock interface {
	Now() time.Time
	// Ticker returns a tick channel and its stop function.
	Ticker(d time.Duration) (<-chan time.Time, func())
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Ticker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}
