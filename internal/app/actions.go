package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"planner/internal/config"
	"planner/internal/task/engine"
	"planner/internal/task/scheduler"
	logx "planner/pkg/logx"
	"planner/pkg/systemdmanager"
)

const maxExecOutput = 4 << 10

// actions builds the jobs config plans run.
type actions struct {
	log logx.Logger

	unitsMu sync.Mutex
	units   *systemdmanager.Manager
}

func newActions(log logx.Logger) *actions {
	return &actions{log: log.With(logx.String("comp", "actions"))}
}

func (a *actions) job(name string, ac config.ActionConfig) (scheduler.Job, error) {
	switch strings.ToLower(strings.TrimSpace(ac.Type)) {
	case config.ActionLog:
		return a.logJob(name, ac), nil
	case config.ActionExec:
		if strings.TrimSpace(ac.Command) == "" {
			return nil, errors.New("exec action requires a command")
		}
		return a.execJob(name, ac), nil
	case config.ActionSystemd:
		op, err := systemdmanager.ParseOp(ac.Op)
		if err != nil {
			return nil, err
		}
		unit := systemdmanager.UnitName(ac.Unit)
		if unit == "" {
			return nil, errors.New("systemd action requires a unit")
		}
		return a.systemdJob(name, op, unit), nil
	default:
		return nil, fmt.Errorf("unknown action type %q", ac.Type)
	}
}

func (a *actions) logJob(name string, ac config.ActionConfig) scheduler.Job {
	msg := ac.Message
	if strings.TrimSpace(msg) == "" {
		msg = "plan fired"
	}
	level := strings.ToLower(strings.TrimSpace(ac.Level))
	return func(context.Context) error {
		f := logx.String("plan", name)
		switch level {
		case "debug":
			a.log.Debug(msg, f)
		case "warn", "warning":
			a.log.Warn(msg, f)
		case "error":
			a.log.Error(msg, f)
		default:
			a.log.Info(msg, f)
		}
		return nil
	}
}

func (a *actions) execJob(name string, ac config.ActionConfig) scheduler.Job {
	command := strings.TrimSpace(ac.Command)
	args := append([]string(nil), ac.Args...)
	env := append([]string(nil), ac.Env...)
	return func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, command, args...)
		cmd.Dir = ac.Dir
		if len(env) > 0 {
			cmd.Env = append(os.Environ(), env...)
		}
		cmd.WaitDelay = 5 * time.Second
		var out bytes.Buffer
		cmd.Stdout = &limitedWriter{w: &out, n: maxExecOutput}
		cmd.Stderr = cmd.Stdout

		start := time.Now()
		err := cmd.Run()
		fields := []logx.Field{
			logx.String("plan", name),
			logx.String("command", command),
			logx.Duration("took", time.Since(start)),
		}
		if s := strings.TrimSpace(out.String()); s != "" {
			fields = append(fields, logx.String("output", s))
		}

		var exitErr *exec.ExitError
		switch {
		case err == nil:
			a.log.Debug("exec action finished", fields...)
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.As(err, &exitErr):
			a.log.Warn("exec action failed", append(fields, logx.Int("exit_code", exitErr.ExitCode()))...)
			return fmt.Errorf("%s: exit status %d", command, exitErr.ExitCode())
		default:
			// The command could not be started; retrying will not help.
			return engine.NoRetry(fmt.Errorf("%s: %w", command, err))
		}
	}
}

func (a *actions) systemdJob(name string, op systemdmanager.Op, unit string) scheduler.Job {
	return func(ctx context.Context) error {
		m, err := a.unitManager(ctx)
		if err != nil {
			return engine.NoRetry(err)
		}
		if err := m.Run(ctx, op, unit); err != nil {
			return err
		}
		a.log.Info("unit job done", logx.String("plan", name), logx.String("unit", unit), logx.String("op", string(op)))
		return nil
	}
}

func (a *actions) unitManager(ctx context.Context) (*systemdmanager.Manager, error) {
	a.unitsMu.Lock()
	defer a.unitsMu.Unlock()
	if a.units != nil {
		return a.units, nil
	}
	m, err := systemdmanager.New(ctx)
	if err != nil {
		return nil, err
	}
	a.units = m
	return m, nil
}

func (a *actions) Close() error {
	a.unitsMu.Lock()
	defer a.unitsMu.Unlock()
	if a.units == nil {
		return nil
	}
	err := a.units.Close()
	a.units = nil
	return err
}

// limitedWriter keeps the first n bytes and discards the rest.
type limitedWriter struct {
	w *bytes.Buffer
	n int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if room := l.n - l.w.Len(); room > 0 {
		if len(p) > room {
			l.w.Write(p[:room])
		} else {
			l.w.Write(p)
		}
	}
	return len(p), nil
}
