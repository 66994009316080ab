package infra

import "time"

// Clock abstracts wall-clock access so daily-window resets and timeout
// races are deterministic under test.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Sleep(d time.Duration)
}

// SystemClock is the real-time Clock used in production.
type SystemClock struct{}

func (SystemClock) Now() time.Time                         { return time.Now() }
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (SystemClock) Sleep(d time.Duration)                  { time.Sleep(d) }
