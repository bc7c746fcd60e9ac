//go:build !linux

package systemdmanager

import "context"

type Manager struct{}

func New(context.Context) (*Manager, error) { return nil, ErrUnsupported }

func (*Manager) Run(context.Context, Op, string) error { return ErrUnsupported }

func (*Manager) Status(context.Context, string) (Status, error) { return Status{}, ErrUnsupported }

func (*Manager) Close() error { return nil }
