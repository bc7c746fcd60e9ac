package systemdmanager

import (
	"context"
	"testing"
	"time"
)

func TestParseOp(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Op{"start": OpStart, " Restart ": OpRestart, "STOP": OpStop} {
		got, err := ParseOp(in)
		if err != nil || got != want {
			t.Errorf("ParseOp(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseOp("reload"); err == nil {
		t.Error("ParseOp(reload) should fail")
	}
}

func TestUnitName(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"nginx":         "nginx.service",
		" nginx ":       "nginx.service",
		"backup.timer":  "backup.timer",
		"nginx.service": "nginx.service",
		"":              "",
	}
	for in, want := range tests {
		if got := UnitName(in); got != want {
			t.Errorf("UnitName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestJobErrorMessage(t *testing.T) {
	t.Parallel()
	err := &JobError{Op: OpRestart, Unit: "nginx.service", Result: "failed"}
	if got := err.Error(); got != "systemd: restart nginx.service: job failed" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := parseTimestamp(uint64(at.UnixMicro())); !got.Equal(at) {
		t.Fatalf("parseTimestamp = %v", got)
	}
	if !parseTimestamp("x").IsZero() || !parseTimestamp(uint64(0)).IsZero() {
		t.Fatal("invalid timestamps should be zero")
	}
}

func TestNotifierOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")
	n := NewNotifier()
	if sent, err := n.Ready(); sent || err != nil {
		t.Fatalf("Ready = %v, %v", sent, err)
	}
	if d := n.WatchdogInterval(); d != 0 {
		t.Fatalf("WatchdogInterval = %v", d)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := n.Watchdog(ctx, time.Millisecond); err != nil {
		t.Fatal(err)
	}
}
