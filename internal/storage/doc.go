// Package storage persists plan firing state.
//
// It records:
//   - Fire records (one per plan firing, append-only)
//   - Plan anchors, so bounded repeat counts survive restarts
//
// Drivers: "file" (jsonl + snapshot), "sqlite" (modernc.org/sqlite) and
// "memory" (process-local, for tests and dry runs).
package storage
