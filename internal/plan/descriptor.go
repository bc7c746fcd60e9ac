package plan

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// Descriptor is the serializable form of a Trigger.
type Descriptor struct {
	Kind     string    `json:"kind,omitempty"`
	Schedule string    `json:"schedule,omitempty"`
	Repeat   *int      `json:"repeat,omitempty"`
	Anchor   time.Time `json:"anchor,omitzero"`
}

// Build validates d and returns the trigger it describes.
// loc is the timezone timing rules are evaluated in (nil means Local).
func (d Descriptor) Build(loc *time.Location) (Trigger, error) {
	kind, err := ParseKind(d.Kind)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindStart:
		if d.Schedule != "" || d.Repeat != nil || !d.Anchor.IsZero() {
			return nil, fmt.Errorf("start trigger takes no schedule, repeat or anchor")
		}
		return Start{}, nil
	default:
		opts := []TimingOption{WithAnchor(d.Anchor), WithLocation(loc)}
		if d.Repeat != nil {
			opts = append(opts, WithRepeat(*d.Repeat))
		}
		tm, err := ParseTiming(d.Schedule, opts...)
		if err != nil {
			return nil, err
		}
		return tm, nil
	}
}

// Bounded reports whether d declares a repeat count. Bounded timing
// descriptors need an anchor before Build succeeds.
func (d Descriptor) Bounded() bool {
	k, _ := ParseKind(d.Kind)
	return k == KindTiming && d.Repeat != nil
}

// DefaultAnchor is the anchor a bounded descriptor without one gets when it
// is first scheduled at now. Interval schedules start one interval out, like
// their unanchored form; everything else counts from now.
func (d Descriptor) DefaultAnchor(now time.Time) (time.Time, error) {
	ps, err := ParseSpec(d.Schedule)
	if err != nil {
		return time.Time{}, err
	}
	if ps.Kind == SpecInterval {
		return now.Add(ps.Every), nil
	}
	return now, nil
}

// Fingerprint identifies the parts of d that define its occurrence
// sequence. A persisted anchor is reusable only under the same fingerprint.
func (d Descriptor) Fingerprint() string {
	h := fnv.New64a()
	repeat := 0
	if d.Repeat != nil {
		repeat = *d.Repeat
	}
	kind, _ := ParseKind(strings.ToLower(strings.TrimSpace(d.Kind)))
	fmt.Fprintf(h, "%d|%s|%d", kind, strings.TrimSpace(d.Schedule), repeat)
	return fmt.Sprintf("%016x", h.Sum64())
}

// Describe returns the descriptor of tr. Timing triggers built from a raw
// Rule have an empty Schedule.
func Describe(tr Trigger) Descriptor {
	switch v := tr.(type) {
	case Start:
		return Descriptor{Kind: KindStart.String()}
	case Timing:
		d := Descriptor{Kind: KindTiming.String(), Schedule: v.spec, Anchor: v.anchor}
		if v.repeat > 0 {
			n := v.repeat
			d.Repeat = &n
		}
		return d
	default:
		return Descriptor{}
	}
}
