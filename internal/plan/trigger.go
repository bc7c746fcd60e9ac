package plan

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRepeat  = errors.New("repeat count must be >= 1")
	ErrAnchorRequired = errors.New("a bounded repeat count requires an anchor")
	ErrNilRule        = errors.New("rule is required")
	ErrInvalidSpec    = errors.New("invalid schedule")
	ErrUnknownKind    = errors.New("unknown trigger kind")
)

// Kind discriminates trigger variants.
type Kind int

const (
	KindTiming Kind = iota + 1
	KindStart
)

func (k Kind) String() string {
	switch k {
	case KindTiming:
		return "timing"
	case KindStart:
		return "start"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind maps a config string to a Kind. Empty means timing.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "timing":
		return KindTiming, nil
	case "start":
		return KindStart, nil
	default:
		return 0, fmt.Errorf("%w %q (want timing or start)", ErrUnknownKind, s)
	}
}

// Trigger is implemented only by Timing and Start.
type Trigger interface {
	Kind() Kind
	isTrigger()
}

// Start fires once, at host start.
type Start struct{}

func (Start) Kind() Kind     { return KindStart }
func (Start) isTrigger()     {}
func (Start) String() string { return "start" }

// KindOf returns the kind of tr, or 0 for nil.
func KindOf(tr Trigger) Kind {
	if tr == nil {
		return 0
	}
	return tr.Kind()
}
