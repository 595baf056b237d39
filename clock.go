package taskmaster

import "time"

// Clock is the abstract time source consumed by the engine. Tests
// substitute a fake clock so that backoff, start-confirmation, and
// stop-grace timers run deterministically without sleeping for real.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the cancellable handle returned by Clock.AfterFunc. It
// matches the subset of *time.Timer that the engine needs, so that the
// real implementation can wrap time.AfterFunc directly.
type Timer interface {
	Stop() bool
}

type realClock struct{}

// NewClock returns the production Clock, backed by the standard
// library's wall clock and timers.
func NewClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// backoffDelay implements the clamp spec'd for exit-reaction backoff:
// 2^(restartCount-1) seconds, capped at 20s.
func backoffDelay(restartCount int) time.Duration {
	if restartCount < 1 {
		restartCount = 1
	}
	if restartCount > 6 {
		// 2^5 already exceeds the 20s clamp; avoid a large shift count.
		restartCount = 6
	}
	secs := 1 << uint(restartCount-1)
	if secs > 20 {
		secs = 20
	}
	return time.Duration(secs) * time.Second
}
