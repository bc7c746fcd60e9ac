package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	logx "planner/pkg/logx"
)

func nopLogger() logx.Logger { return logx.Nop() }

func openAll(t *testing.T) map[string]func() Store {
	t.Helper()
	dir := t.TempDir()
	return map[string]func() Store{
		"memory": func() Store { return NewMemory(3) },
		"file": func() Store {
			st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "file", "planner.db"), KeepFires: 3}, nopLogger())
			if err != nil {
				t.Fatal(err)
			}
			return st
		},
		"sqlite": func() Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "sqlite", "planner.db"), KeepFires: 3}, nopLogger())
			if err != nil {
				t.Fatal(err)
			}
			return st
		},
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, nopLogger())
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, nopLogger()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "file"}, nopLogger()); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestFireRecords(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	for name, open := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open()
			defer st.Close()

			for i := 1; i <= 5; i++ {
				r := FireRecord{
					ID:          fmt.Sprintf("f-%d", i),
					Plan:        "backup",
					Trigger:     "timing",
					Seq:         uint64(i),
					ScheduledAt: base.Add(time.Duration(i) * time.Minute),
					FiredAt:     base.Add(time.Duration(i)*time.Minute + time.Second),
				}
				if err := st.RecordFire(ctx, r); err != nil {
					t.Fatal(err)
				}
			}
			if err := st.RecordFire(ctx, FireRecord{ID: "o-1", Plan: "other", Trigger: "start"}); err != nil {
				t.Fatal(err)
			}

			n, err := st.FireCount(ctx, "backup")
			if err != nil || n != 5 {
				t.Fatalf("FireCount = %d, %v; want 5", n, err)
			}
			got, err := st.ListFires(ctx, "backup", 2)
			if err != nil {
				t.Fatal(err)
			}
			ids := make([]string, 0, len(got))
			for _, r := range got {
				ids = append(ids, r.ID)
			}
			if diff := cmp.Diff([]string{"f-5", "f-4"}, ids); diff != "" {
				t.Fatalf("ListFires ids (-want +got):\n%s", diff)
			}
			want := FireRecord{
				ID: "f-5", Plan: "backup", Trigger: "timing", Seq: 5,
				ScheduledAt: base.Add(5 * time.Minute),
				FiredAt:     base.Add(5*time.Minute + time.Second),
				Outcome:     OutcomeEnqueued,
			}
			if diff := cmp.Diff(want, got[0], cmpopts.EquateApproxTime(time.Millisecond)); diff != "" {
				t.Fatalf("newest record (-want +got):\n%s", diff)
			}

			if n, _ := st.FireCount(ctx, "missing"); n != 0 {
				t.Fatalf("FireCount(missing) = %d", n)
			}
		})
	}
}

func TestAnchors(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	for name, open := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open()
			defer st.Close()

			if _, ok, err := st.GetAnchor(ctx, "p"); ok || err != nil {
				t.Fatalf("GetAnchor(empty) = %v, %v", ok, err)
			}
			if err := st.PutAnchor(ctx, Anchor{Plan: "p", Fingerprint: "a", At: at}); err != nil {
				t.Fatal(err)
			}
			if err := st.PutAnchor(ctx, Anchor{Plan: "p", Fingerprint: "b", At: at.Add(time.Hour)}); err != nil {
				t.Fatal(err)
			}
			a, ok, err := st.GetAnchor(ctx, "p")
			if err != nil || !ok {
				t.Fatalf("GetAnchor = %v, %v", ok, err)
			}
			if a.Fingerprint != "b" || !a.At.Equal(at.Add(time.Hour)) {
				t.Fatalf("anchor = %+v", a)
			}
			if err := st.DeleteAnchor(ctx, "p"); err != nil {
				t.Fatal(err)
			}
			if _, ok, _ := st.GetAnchor(ctx, "p"); ok {
				t.Fatal("anchor should be gone")
			}
		})
	}
}

func TestFileStoreReplaysAfterReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state.db"), KeepFires: 10}
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	st, err := Open(cfg, nopLogger())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := st.RecordFire(ctx, FireRecord{ID: fmt.Sprint(i), Plan: "p", Seq: uint64(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.PutAnchor(ctx, Anchor{Plan: "p", Fingerprint: "fp", At: at}); err != nil {
		t.Fatal(err)
	}
	if err := st.PutAnchor(ctx, Anchor{Plan: "gone", Fingerprint: "fp", At: at}); err != nil {
		t.Fatal(err)
	}
	if err := st.DeleteAnchor(ctx, "gone"); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st, err = Open(cfg, nopLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if n, _ := st.FireCount(ctx, "p"); n != 3 {
		t.Fatalf("FireCount after reopen = %d, want 3", n)
	}
	a, ok, _ := st.GetAnchor(ctx, "p")
	if !ok || !a.At.Equal(at) || a.Fingerprint != "fp" {
		t.Fatalf("anchor after reopen = %+v, %v", a, ok)
	}
	if _, ok, _ := st.GetAnchor(ctx, "gone"); ok {
		t.Fatal("deleted anchor came back")
	}
}

func TestClosedStoreRejectsWrites(t *testing.T) {
	t.Parallel()
	st := NewMemory(0)
	_ = st.Close()
	if err := st.RecordFire(context.Background(), FireRecord{Plan: "p"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}
