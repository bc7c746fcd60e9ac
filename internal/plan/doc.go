// Package plan describes when a plan (a named background job) should run.
//
// A Trigger is a closed set of two kinds:
//   - Timing: fires on a recurrence rule, optionally bounded by a repeat count.
//     NextDate answers "when is the next firing at or after this instant".
//   - Start: fires exactly once, when the host starts. It has no next date.
//
// Triggers are values: they are queried, never mutated. The scheduler in
// internal/task/scheduler is the consumer that turns them into firings.
package plan
