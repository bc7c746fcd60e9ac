package plan

import (
	"fmt"
	"strings"
	"time"

	"planner/pkg/timer"
)

// MinInstant is the earliest reference NextDate understands. The zero
// time.Time is treated as "no reference" and means the same thing.
var MinInstant = time.Time{}

// Timing fires on a recurrence rule.
//
// A repeat count of 0 means unbounded. Bounded triggers count occurrences from
// the anchor, so NextDate stays a pure function of its argument.
type Timing struct {
	rule   Rule
	spec   string
	repeat int
	anchor time.Time
	loc    *time.Location
}

type TimingOption func(*timingOpts)

type timingOpts struct {
	repeat    int
	repeatSet bool
	anchor    time.Time
	loc       *time.Location
}

// WithRepeat bounds the trigger to n firings. n must be >= 1.
func WithRepeat(n int) TimingOption {
	return func(o *timingOpts) { o.repeat, o.repeatSet = n, true }
}

// WithAnchor sets the instant occurrences are counted (and aligned) from.
func WithAnchor(t time.Time) TimingOption { return func(o *timingOpts) { o.anchor = t } }

// WithLocation evaluates the rule in loc (cron fields are wall-clock fields).
func WithLocation(loc *time.Location) TimingOption { return func(o *timingOpts) { o.loc = loc } }

func buildOpts(opts []TimingOption) (timingOpts, error) {
	var o timingOpts
	for _, fn := range opts {
		fn(&o)
	}
	if o.repeatSet && o.repeat < 1 {
		return o, fmt.Errorf("%w (got %d)", ErrInvalidRepeat, o.repeat)
	}
	if o.repeat > 0 && o.anchor.IsZero() {
		return o, ErrAnchorRequired
	}
	return o, nil
}

// NewTiming validates opts and returns a timing trigger over rule.
func NewTiming(rule Rule, opts ...TimingOption) (Timing, error) {
	if rule == nil {
		return Timing{}, ErrNilRule
	}
	o, err := buildOpts(opts)
	if err != nil {
		return Timing{}, err
	}
	return Timing{rule: rule, repeat: o.repeat, anchor: o.anchor, loc: o.loc}, nil
}

// Once returns a timing trigger that fires exactly once, at at.
func Once(at time.Time) (Timing, error) {
	if at.IsZero() {
		return Timing{}, ErrAnchorRequired
	}
	return NewTiming(onceRule{at: at}, WithRepeat(1), WithAnchor(at))
}

type onceRule struct{ at time.Time }

func (r onceRule) Next(t time.Time) time.Time {
	if t.Before(r.at) {
		return r.at.In(t.Location())
	}
	return time.Time{}
}

// ParseTiming parses spec (see ParseSpec) and returns a timing trigger.
func ParseTiming(spec string, opts ...TimingOption) (Timing, error) {
	o, err := buildOpts(opts)
	if err != nil {
		return Timing{}, err
	}
	rule, err := ParseRule(spec, o.anchor)
	if err != nil {
		return Timing{}, err
	}
	return Timing{rule: rule, spec: strings.TrimSpace(spec), repeat: o.repeat, anchor: o.anchor, loc: o.loc}, nil
}

func (Timing) Kind() Kind { return KindTiming }
func (Timing) isTrigger() {}

// Repeat returns the repeat count and whether it is bounded.
func (t Timing) Repeat() (int, bool) { return t.repeat, t.repeat > 0 }

func (t Timing) Anchor() time.Time { return t.anchor }

// Spec returns the schedule string the trigger was parsed from ("" for raw rules).
func (t Timing) Spec() string { return t.spec }

func (t Timing) Location() *time.Location {
	if t.loc == nil {
		return time.Local
	}
	return t.loc
}

// WithLocation returns a copy of t evaluated in loc.
func (t Timing) WithLocation(loc *time.Location) Timing {
	t.loc = loc
	return t
}

// WithAnchor returns a copy of t anchored at anchor. Interval rules parsed from
// a spec are rebuilt so they align to the new anchor.
func (t Timing) WithAnchor(anchor time.Time) (Timing, error) {
	if t.repeat > 0 && anchor.IsZero() {
		return Timing{}, ErrAnchorRequired
	}
	t.anchor = anchor
	if t.spec != "" {
		rule, err := ParseRule(t.spec, anchor)
		if err != nil {
			return Timing{}, err
		}
		t.rule = rule
	}
	return t, nil
}

func (t Timing) String() string {
	var b strings.Builder
	b.WriteString("timing(")
	if t.spec != "" {
		b.WriteString(t.spec)
	} else {
		b.WriteString("custom")
	}
	if t.repeat > 0 {
		fmt.Fprintf(&b, ", repeat=%d", t.repeat)
	}
	if !t.anchor.IsZero() {
		b.WriteString(", anchor=")
		b.WriteString(t.anchor.Format(time.RFC3339))
	}
	b.WriteString(")")
	return b.String()
}

// NextDate returns the first firing at or after ref, or false once the repeat
// count is exhausted (or the rule has no further activation).
//
// The zero ref behaves exactly like MinInstant.
func (t Timing) NextDate(ref time.Time) (time.Time, bool) {
	if t.rule == nil {
		return time.Time{}, false
	}
	if ref.IsZero() {
		ref = MinInstant
	}
	if !t.anchor.IsZero() && ref.Before(t.anchor) {
		ref = t.anchor
	}
	ref = ref.In(t.Location())

	if t.repeat <= 0 {
		at := t.rule.Next(ref.Add(-time.Nanosecond))
		return at, !at.IsZero()
	}

	if ir, ok := t.rule.(*intervalRule); ok && ir.anchor.Equal(t.anchor) {
		k := ir.index(ref)
		if k >= int64(t.repeat) {
			return time.Time{}, false
		}
		at := ir.nth(k)
		return at.In(ref.Location()), !at.IsZero()
	}

	occ := t.rule.Next(t.anchor.In(ref.Location()).Add(-time.Nanosecond))
	for k := 0; k < t.repeat && !occ.IsZero(); k++ {
		if !occ.Before(ref) {
			return occ, true
		}
		occ = t.rule.Next(occ)
	}
	return time.Time{}, false
}

// Upcoming returns up to n successive firings at or after from.
func (t Timing) Upcoming(from time.Time, n int) []time.Time {
	out := make([]time.Time, 0, max(n, 0))
	ref := from
	for len(out) < n {
		at, ok := t.NextDate(ref)
		if !ok {
			break
		}
		out = append(out, at)
		ref = at.Add(time.Nanosecond)
	}
	return out
}

// AsSource adapts t to a timer source: each instant is the next firing
// strictly after the previous one.
func AsSource(t Timing) timer.Source {
	return timer.SourceFunc(func(after time.Time) (time.Time, bool) {
		return t.NextDate(after.Add(time.Nanosecond))
	})
}
