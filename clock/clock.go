package clock

import "time"

// Clock abstracts time.Now so rate windows, timestamps, and file naming can
// be tested with a fixed time source.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func NewClock() Clock {
	return &realClock{}
}
