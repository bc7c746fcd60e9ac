// Package systemdmanager drives systemd units over D-Bus and reports
// readiness to the service manager.
package systemdmanager

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnsupported = errors.New("systemd: not supported on this platform")
	ErrClosed      = errors.New("systemd: connection is closed")
)

// Op is a unit job.
type Op string

const (
	OpStart   Op = "start"
	OpStop    Op = "stop"
	OpRestart Op = "restart"
)

func ParseOp(s string) (Op, error) {
	switch op := Op(strings.ToLower(strings.TrimSpace(s))); op {
	case OpStart, OpStop, OpRestart:
		return op, nil
	default:
		return "", fmt.Errorf("systemd: unknown op %q", s)
	}
}

// UnitName appends ".service" to names without a unit suffix.
func UnitName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, ".") {
		return name
	}
	return name + ".service"
}

// Status is the current state of a unit.
type Status struct {
	Unit        string
	LoadState   string // loaded, not-found, ...
	ActiveState string // active, inactive, failed, ...
	SubState    string // running, dead, ...
	Since       time.Time
}

func (s Status) Active() bool { return s.ActiveState == "active" }

// JobError is returned when systemd finishes a job with a result other
// than "done".
type JobError struct {
	Op     Op
	Unit   string
	Result string // canceled, timeout, failed, dependency, skipped
}

func (e *JobError) Error() string {
	return fmt.Sprintf("systemd: %s %s: job %s", e.Op, e.Unit, e.Result)
}

func parseTimestamp(v any) time.Time {
	// systemd timestamps are microseconds since the Unix epoch.
	if us, ok := v.(uint64); ok && us > 0 {
		return time.UnixMicro(int64(us))
	}
	return time.Time{}
}
