// Package timer produces waitable cycles from a firing Source.
//
// Each call to Timer.Tick arms one single-shot cycle. A cycle resolves true when
// its deadline elapses and false when the caller's context is canceled (or the
// timer is stopped) first. Cancellation is an outcome, not an error.
//
// Every cycle also describes what comes after it: no further cycle, a next
// cycle at a known instant, or a next cycle whose timing is not known up front
// (jittered deadlines).
//
// Tick returns nil once the timer is stopped or its source is exhausted, and
// keeps returning nil on every later call.
package timer
