package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": jsonl journal + snapshot next to Path
//   - "sqlite": SQLite database file
//   - "memory": in-process only
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	KeepFires   int           // per plan; 0 means DefaultKeepFires
}

const DefaultKeepFires = 200

// Outcome of a firing as seen by the scheduler.
type Outcome string

const (
	OutcomeEnqueued Outcome = "enqueued"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// FireRecord is one plan firing.
type FireRecord struct {
	ID          string    `json:"id"`
	Plan        string    `json:"plan"`
	Trigger     string    `json:"trigger"`
	Seq         uint64    `json:"seq"`
	ScheduledAt time.Time `json:"scheduled_at"`
	FiredAt     time.Time `json:"fired_at"`
	Outcome     Outcome   `json:"outcome"`
	Error       string    `json:"error,omitempty"`
}

// Anchor pins the instant a bounded plan counts its occurrences from.
// Fingerprint identifies the trigger configuration the anchor belongs to;
// callers discard anchors whose fingerprint no longer matches.
type Anchor struct {
	Plan        string    `json:"plan"`
	Fingerprint string    `json:"fingerprint"`
	At          time.Time `json:"at"`
}
