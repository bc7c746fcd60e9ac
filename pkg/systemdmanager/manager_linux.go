//go:build linux

package systemdmanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Manager runs unit jobs on the system bus.
type Manager struct {
	mu   sync.RWMutex
	conn *dbus.Conn
}

func New(ctx context.Context) (*Manager, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &Manager{conn: conn}, nil
}

// Run queues op for unit and waits for the job to finish or ctx to end.
func (m *Manager) Run(ctx context.Context, op Op, unit string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil {
		return ErrClosed
	}

	name := UnitName(unit)
	done := make(chan string, 1)
	var err error
	switch op {
	case OpStart:
		_, err = m.conn.StartUnitContext(ctx, name, "replace", done)
	case OpStop:
		_, err = m.conn.StopUnitContext(ctx, name, "replace", done)
	case OpRestart:
		_, err = m.conn.RestartUnitContext(ctx, name, "replace", done)
	default:
		return fmt.Errorf("systemd: unknown op %q", op)
	}
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", op, name, err)
	}

	select {
	case res := <-done:
		if res != "done" {
			return &JobError{Op: op, Unit: name, Result: res}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) Status(ctx context.Context, unit string) (Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil {
		return Status{}, ErrClosed
	}

	name := UnitName(unit)
	props, err := m.conn.GetUnitPropertiesContext(ctx, name)
	if err != nil {
		return Status{}, fmt.Errorf("failed to read %s: %w", name, err)
	}
	st := Status{Unit: name}
	st.LoadState, _ = props["LoadState"].(string)
	st.ActiveState, _ = props["ActiveState"].(string)
	st.SubState, _ = props["SubState"].(string)
	st.Since = parseTimestamp(props["StateChangeTimestamp"])
	return st, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	return nil
}
