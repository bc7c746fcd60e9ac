package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	logx "planner/pkg/logx"
)

// Store is the persistence API used by the scheduler.
type Store interface {
	RecordFire(ctx context.Context, r FireRecord) error
	// ListFires returns the most recent records of plan, newest first.
	ListFires(ctx context.Context, plan string, limit int) ([]FireRecord, error)
	FireCount(ctx context.Context, plan string) (int, error)

	GetAnchor(ctx context.Context, plan string) (Anchor, bool, error)
	PutAnchor(ctx context.Context, a Anchor) error
	DeleteAnchor(ctx context.Context, plan string) error

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.KeepFires <= 0 {
		cfg.KeepFires = DefaultKeepFires
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory", "mem":
		return NewMemory(cfg.KeepFires), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

func stampFire(r *FireRecord) {
	if r.FiredAt.IsZero() {
		r.FiredAt = time.Now()
	}
	if r.Outcome == "" {
		r.Outcome = OutcomeEnqueued
	}
}

// ctxErr reports a canceled ctx. A nil ctx is allowed.
func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
