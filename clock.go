package sqlqueue

import "time"

// Clock supplies the client-side time used to turn HeaderDeferredUntil into a
// visibility delay. Visibility and expiration timestamps themselves are
// computed by the database.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the system time in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time {
	return f()
}

// ClockOrSystem returns clock, or SystemClock when clock is nil.
func ClockOrSystem(clock Clock) Clock {
	if clock == nil {
		return SystemClock{}
	}

	return clock
}
