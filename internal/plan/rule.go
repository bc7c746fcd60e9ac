package plan

import (
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Rule yields the first activation strictly after a given time, or the zero
// time when there is none. Every cron.Schedule is a Rule.
type Rule = cron.Schedule

// SpecKind describes the normalized kind of a schedule string.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec represents a parsed schedule string.
//
// Supported forms:
//   - Cron: "*/5 * * * *", "0 30 9 * * 1-5" (seconds optional), "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//
// Optional prefixes:
//   - "cron:" forces cron parsing
//   - "interval:" or "every:" forces interval parsing
type ParsedSpec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	Source string // "cron" | "duration" | "hhmm"
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSpec parses a schedule string into either a cron expression or an interval.
func ParseSpec(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("%w: schedule required", ErrInvalidSpec)
	}

	low := strings.ToLower(s)
	if strings.HasPrefix(low, "cron:") {
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return ParsedSpec{}, fmt.Errorf("%w: cron expression required after 'cron:'", ErrInvalidSpec)
		}
		return ParsedSpec{Kind: SpecCron, Cron: expr, Source: "cron"}, nil
	}
	for _, p := range []string{"interval:", "every:"} {
		if strings.HasPrefix(low, p) {
			d, src, err := parseInterval(s[len(p):])
			if err != nil {
				return ParsedSpec{}, err
			}
			return ParsedSpec{Kind: SpecInterval, Every: d, Source: src}, nil
		}
	}

	// "@every 5m" is an interval too; keep it on the interval path so an
	// anchor can align it.
	if strings.HasPrefix(low, "@every") {
		d, src, err := parseInterval(s[len("@every"):])
		if err != nil {
			return ParsedSpec{}, err
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: src}, nil
	}

	// Any whitespace or leading '@' means cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return ParsedSpec{Kind: SpecCron, Cron: s, Source: "cron"}, nil
	}

	if reHHMM.MatchString(s) {
		d, _, err := parseHHMMDuration(s)
		if err != nil {
			return ParsedSpec{}, err
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: "hhmm"}, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		if d <= 0 {
			return ParsedSpec{}, fmt.Errorf("%w: interval must be > 0", ErrInvalidSpec)
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: "duration"}, nil
	}

	return ParsedSpec{}, fmt.Errorf(
		"%w %q (use cron like '*/5 * * * *', HH:MM like '02:30', or duration like '55m')",
		ErrInvalidSpec, raw,
	)
}

// ParseRule parses raw into a Rule. Interval rules with a non-zero anchor fire
// on the grid anchor + k*every; without an anchor each activation is the
// previous one plus the interval.
func ParseRule(raw string, anchor time.Time) (Rule, error) {
	ps, err := ParseSpec(raw)
	if err != nil {
		return nil, err
	}
	switch ps.Kind {
	case SpecCron:
		sched, err := parser.Parse(ps.Cron)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidSpec, ps.Cron, err)
		}
		return sched, nil
	case SpecInterval:
		if ps.Every < time.Second {
			return nil, fmt.Errorf("%w: interval %s is below one second", ErrInvalidSpec, ps.Every)
		}
		if anchor.IsZero() {
			return cron.Every(ps.Every), nil
		}
		return &intervalRule{every: ps.Every, anchor: anchor}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported kind", ErrInvalidSpec)
	}
}

// intervalRule fires at anchor, anchor+every, anchor+2*every, ...
type intervalRule struct {
	every  time.Duration
	anchor time.Time
}

func (r *intervalRule) Next(t time.Time) time.Time {
	if t.Before(r.anchor) {
		return r.anchor.In(t.Location())
	}
	q, _ := new(big.Int).QuoRem(r.offset(t), big.NewInt(int64(r.every)), new(big.Int))
	q.Add(q, big.NewInt(1))
	if !q.IsInt64() {
		return time.Time{}
	}
	return r.nth(q.Int64()).In(t.Location())
}

// nth is anchor + k*every, or the zero time when that is not representable.
func (r *intervalRule) nth(k int64) time.Time {
	total := new(big.Int).Mul(big.NewInt(k), big.NewInt(int64(r.every)))
	sec, nsec := new(big.Int).QuoRem(total, nanosPerSecond, new(big.Int))
	base := r.anchor.Unix()
	if !sec.IsInt64() || sec.Int64() > math.MaxInt64-base {
		return time.Time{}
	}
	return time.Unix(base+sec.Int64(), int64(r.anchor.Nanosecond())+nsec.Int64()).In(r.anchor.Location())
}

// index returns the first k with nth(k) >= t.
func (r *intervalRule) index(t time.Time) int64 {
	if !t.After(r.anchor) {
		return 0
	}
	q, m := new(big.Int).QuoRem(r.offset(t), big.NewInt(int64(r.every)), new(big.Int))
	if m.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	if !q.IsInt64() {
		return math.MaxInt64
	}
	return q.Int64()
}

// offset is t - anchor in nanoseconds. time.Sub saturates after ~292 years.
func (r *intervalRule) offset(t time.Time) *big.Int {
	d := big.NewInt(t.Unix() - r.anchor.Unix())
	d.Mul(d, nanosPerSecond)
	return d.Add(d, big.NewInt(int64(t.Nanosecond()-r.anchor.Nanosecond())))
}

var nanosPerSecond = big.NewInt(int64(time.Second))

func parseInterval(v string) (time.Duration, string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, "", fmt.Errorf("%w: interval required", ErrInvalidSpec)
	}
	if reHHMM.MatchString(v) {
		return parseHHMMDuration(v)
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, "", fmt.Errorf("%w: invalid interval %q (use HH:MM or Go duration like '55m'/'2h30m')", ErrInvalidSpec, v)
	}
	if d <= 0 {
		return 0, "", fmt.Errorf("%w: interval must be > 0", ErrInvalidSpec)
	}
	return d, "duration", nil
}

func parseHHMMDuration(v string) (time.Duration, string, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, "", fmt.Errorf("%w: invalid HH:MM %q", ErrInvalidSpec, v)
	}
	// hours up to 999, minutes 0..59
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if mm > 59 {
		return 0, "", fmt.Errorf("%w: invalid minutes in %q", ErrInvalidSpec, v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, "", fmt.Errorf("%w: interval must be > 0", ErrInvalidSpec)
	}
	return d, "hhmm", nil
}
