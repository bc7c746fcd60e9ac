package timer

import (
	"errors"
	"fmt"
	"time"
)

// Source yields firing instants.
//
// Next returns the first instant strictly after the given time, or false when
// no further instant exists. Implementations must be pure: the timer calls
// Next more than once with the same argument to look ahead.
type Source interface {
	Next(after time.Time) (time.Time, bool)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(after time.Time) (time.Time, bool)

func (f SourceFunc) Next(after time.Time) (time.Time, bool) { return f(after) }

var ErrInvalidInterval = errors.New("timer: interval must be > 0")

type every struct{ d time.Duration }

// Every returns a fixed-interval source: each instant is the previous one plus d.
func Every(d time.Duration) Source { return every{d: d} }

func (e every) Next(after time.Time) (time.Time, bool) {
	if e.d <= 0 {
		return time.Time{}, false
	}
	return after.Add(e.d), true
}

func (e every) validate() error {
	if e.d <= 0 {
		return fmt.Errorf("%w (got %s)", ErrInvalidInterval, e.d)
	}
	return nil
}
