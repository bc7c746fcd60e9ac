// Package scheduler turns plan triggers into task firings.
//
// Execution is delegated to internal/task/engine. The scheduler is
// responsible only for:
//   - registering plans (upsert by name)
//   - driving one timer loop per timing plan
//   - firing start plans once per process
//   - persisting firings and bounded-plan anchors
package scheduler
