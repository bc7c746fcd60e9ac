package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	logx "planner/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	keep int

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, keep: cfg.KeepFires, pruneEvery: 500}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) RecordFire(ctx context.Context, r FireRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	stampFire(&r)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO fires(id, plan, trigger_kind, seq, scheduled_at, fired_at, outcome, err)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.ID, r.Plan, r.Trigger, int64(r.Seq), fmtTime(r.ScheduledAt), fmtTime(r.FiredAt),
		string(r.Outcome), nullStr(r.Error),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO fire_counts(plan, n) VALUES(?, 1)
		 ON CONFLICT(plan) DO UPDATE SET n = n + 1`,
		r.Plan,
	); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if err := s.pruneFires(pctx); err != nil {
			s.log.Debug("fire prune failed", logx.Err(err))
		}
		cancel()
	}
	return nil
}

func (s *sqliteStore) ListFires(ctx context.Context, plan string, limit int) ([]FireRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 || limit > s.keep {
		limit = s.keep
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, plan, trigger_kind, seq, scheduled_at, fired_at, outcome, err
		 FROM fires WHERE plan = ? ORDER BY fired_at DESC, seq DESC LIMIT ?`,
		plan, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FireRecord
	for rows.Next() {
		var (
			r                FireRecord
			seq              int64
			scheduled, fired sql.NullString
			outcome          string
			errText          sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Plan, &r.Trigger, &seq, &scheduled, &fired, &outcome, &errText); err != nil {
			return nil, err
		}
		r.Seq = uint64(seq)
		r.ScheduledAt = parseTime(scheduled.String)
		r.FiredAt = parseTime(fired.String)
		r.Outcome = Outcome(outcome)
		r.Error = errText.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) FireCount(ctx context.Context, plan string) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT n FROM fire_counts WHERE plan = ?`, plan).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

func (s *sqliteStore) GetAnchor(ctx context.Context, plan string) (Anchor, bool, error) {
	if s == nil || s.db == nil {
		return Anchor{}, false, ErrDisabled
	}
	a := Anchor{Plan: plan}
	var at string
	err := s.db.QueryRowContext(ctx, `SELECT fingerprint, at FROM anchors WHERE plan = ?`, plan).Scan(&a.Fingerprint, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return Anchor{}, false, nil
	}
	if err != nil {
		return Anchor{}, false, err
	}
	a.At = parseTime(at)
	return a, true, nil
}

func (s *sqliteStore) PutAnchor(ctx context.Context, a Anchor) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(a.Plan) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO anchors(plan, fingerprint, at) VALUES(?,?,?)
		 ON CONFLICT(plan) DO UPDATE SET fingerprint=excluded.fingerprint, at=excluded.at`,
		strings.TrimSpace(a.Plan), a.Fingerprint, fmtTime(a.At),
	)
	return err
}

func (s *sqliteStore) DeleteAnchor(ctx context.Context, plan string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM anchors WHERE plan = ?`, plan)
	return err
}

// pruneFires keeps the newest keep rows per plan.
func (s *sqliteStore) pruneFires(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM fires WHERE id IN (
		   SELECT id FROM (
		     SELECT id, ROW_NUMBER() OVER (PARTITION BY plan ORDER BY fired_at DESC, seq DESC) AS rn
		     FROM fires
		   ) WHERE rn > ?
		 )`, s.keep)
	return err
}

// Fixed-width so lexical order matches time order.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(tsLayout)
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
